package featurekit

import (
	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

// Wire payload for the event endpoint.

type EventBatch struct {
	AccountID       string         `json:"account_id"`
	ProjectID       string         `json:"project_id"`
	Revision        string         `json:"revision"`
	ClientName      string         `json:"client_name"`
	ClientVersion   string         `json:"client_version"`
	AnonymizeIP     bool           `json:"anonymize_ip"`
	EnrichDecisions bool           `json:"enrich_decisions"`
	Visitors        []Visitor      `json:"visitors"`
}

type Visitor struct {
	VisitorID  string             `json:"visitor_id"`
	Attributes []VisitorAttribute `json:"attributes"`
	Snapshots  []Snapshot         `json:"snapshots"`
}

type Snapshot struct {
	Decisions []SnapshotDecision `json:"decisions,omitempty"`
	Events    []SnapshotEvent    `json:"events"`
}

type SnapshotDecision struct {
	CampaignID   string           `json:"campaign_id"`
	ExperimentID string           `json:"experiment_id"`
	VariationID  string           `json:"variation_id"`
	Metadata     DecisionMetadata `json:"metadata"`
}

type DecisionMetadata struct {
	FlagKey      string `json:"flag_key"`
	RuleKey      string `json:"rule_key"`
	RuleType     string `json:"rule_type"`
	VariationKey string `json:"variation_key"`
	Enabled      bool   `json:"enabled"`
}

type SnapshotEvent struct {
	EntityID  string                 `json:"entity_id"`
	Timestamp int64                  `json:"timestamp"`
	UUID      string                 `json:"uuid"`
	Key       string                 `json:"key"`
	Type      string                 `json:"type"`
	Tags      map[string]interface{} `json:"tags,omitempty"`
	Revenue   *int64                 `json:"revenue,omitempty"`
	Value     *float64               `json:"value,omitempty"`
}

// LogEvent is a fully-built POST for the dispatcher.
type LogEvent struct {
	EndPoint string
	Event    EventBatch
}

const activateEventKey = "campaign_activated"

// newImpressionEvent builds the user event for one flag or experiment
// decision.
func newImpressionEvent(
	config *datafile.ProjectConfig,
	decision decisionengine.FeatureDecision,
	flagKey string,
	userID string,
	attributes map[string]interface{},
) UserEvent {
	event := newUserEvent(config, userID, attributes)

	details := ImpressionDetails{
		FlagKey:  flagKey,
		RuleKey:  decision.RuleKey(),
		RuleType: string(decision.Source),
	}
	if decision.Experiment != nil {
		details.LayerID = decision.Experiment.LayerID
		details.ExperimentID = decision.Experiment.ID
	}
	if decision.Holdout != nil {
		details.ExperimentID = decision.Holdout.ID
	}
	if decision.Variation != nil {
		details.VariationID = decision.Variation.ID
		details.VariationKey = decision.Variation.Key
		details.Enabled = decision.Variation.FeatureEnabled
	}
	event.Impression = &details
	return event
}

// newConversionEvent builds the user event for one tracked conversion.
func newConversionEvent(
	config *datafile.ProjectConfig,
	eventDefinition *datafile.EventDefinition,
	userID string,
	attributes map[string]interface{},
	eventTags map[string]interface{},
) UserEvent {
	event := newUserEvent(config, userID, attributes)
	event.Conversion = &ConversionDetails{
		EventID:   eventDefinition.ID,
		EventKey:  eventDefinition.Key,
		EventTags: eventTags,
	}
	return event
}

// createLogEvent folds a homogeneous batch of user events into one wire
// payload.
func createLogEvent(events []UserEvent, endpoint string) (LogEvent, bool) {
	if len(events) == 0 {
		return LogEvent{}, false
	}

	context := events[0].Context
	batch := EventBatch{
		AccountID:       context.AccountID,
		ProjectID:       context.ProjectID,
		Revision:        context.Revision,
		ClientName:      context.ClientName,
		ClientVersion:   context.ClientVersion,
		AnonymizeIP:     context.AnonymizeIP,
		EnrichDecisions: true,
		Visitors:        make([]Visitor, 0, len(events)),
	}
	for _, event := range events {
		if visitor, ok := createVisitor(event); ok {
			batch.Visitors = append(batch.Visitors, visitor)
		}
	}
	if len(batch.Visitors) == 0 {
		return LogEvent{}, false
	}
	return LogEvent{EndPoint: endpoint, Event: batch}, true
}

func createVisitor(event UserEvent) (Visitor, bool) {
	var snapshot Snapshot
	switch {
	case event.Impression != nil:
		impression := event.Impression
		snapshot.Decisions = []SnapshotDecision{{
			CampaignID:   impression.LayerID,
			ExperimentID: impression.ExperimentID,
			VariationID:  impression.VariationID,
			Metadata: DecisionMetadata{
				FlagKey:      impression.FlagKey,
				RuleKey:      impression.RuleKey,
				RuleType:     impression.RuleType,
				VariationKey: impression.VariationKey,
				Enabled:      impression.Enabled,
			},
		}}
		snapshot.Events = []SnapshotEvent{{
			EntityID:  impression.LayerID,
			Timestamp: event.Timestamp,
			UUID:      event.UUID,
			Key:       activateEventKey,
			Type:      activateEventKey,
		}}
	case event.Conversion != nil:
		conversion := event.Conversion
		snapshot.Events = []SnapshotEvent{{
			EntityID:  conversion.EventID,
			Timestamp: event.Timestamp,
			UUID:      event.UUID,
			Key:       conversion.EventKey,
			Type:      conversion.EventKey,
			Tags:      conversion.EventTags,
			Revenue:   revenueValue(conversion.EventTags),
			Value:     numericValue(conversion.EventTags),
		}}
	default:
		return Visitor{}, false
	}

	return Visitor{
		VisitorID:  event.UserID,
		Attributes: event.Attributes,
		Snapshots:  []Snapshot{snapshot},
	}, true
}
