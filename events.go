package featurekit

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

// botFilteringAttribute is the synthetic attribute appended to every event
// when the datafile sets a bot-filtering flag.
const botFilteringAttribute = "$opt_bot_filtering"

// Reserved event tags lifted to first-class payload fields.
const (
	revenueTag = "revenue"
	valueTag   = "value"
)

// EventContext pins an event to the datafile revision and project it was
// produced under; a batch only holds events with an identical context.
type EventContext struct {
	AccountID     string
	ProjectID     string
	Revision      string
	ClientName    string
	ClientVersion string
	AnonymizeIP   bool
}

// VisitorAttribute is one attribute snapshot entry on the wire.
type VisitorAttribute struct {
	EntityID string      `json:"entity_id"`
	Key      string      `json:"key"`
	Type     string      `json:"type"`
	Value    interface{} `json:"value"`
}

// ImpressionDetails carries the decision an impression reports.
type ImpressionDetails struct {
	LayerID      string
	ExperimentID string
	VariationID  string
	FlagKey      string
	RuleKey      string
	RuleType     string
	VariationKey string
	Enabled      bool
}

// ConversionDetails carries the tracked event and its tags.
type ConversionDetails struct {
	EventID   string
	EventKey  string
	EventTags map[string]interface{}
}

// UserEvent is an impression or conversion waiting to be batched. Exactly
// one of Impression and Conversion is set.
type UserEvent struct {
	Context    EventContext
	UserID     string
	Attributes []VisitorAttribute
	Timestamp  int64
	UUID       string
	Impression *ImpressionDetails
	Conversion *ConversionDetails
}

func newEventContext(config *datafile.ProjectConfig) EventContext {
	return EventContext{
		AccountID:     config.AccountID(),
		ProjectID:     config.ProjectID(),
		Revision:      config.Revision(),
		ClientName:    ClientName,
		ClientVersion: ClientVersion,
		AnonymizeIP:   config.AnonymizeIP(),
	}
}

func newUserEvent(config *datafile.ProjectConfig, userID string, attributes map[string]interface{}) UserEvent {
	return UserEvent{
		Context:    newEventContext(config),
		UserID:     userID,
		Attributes: buildAttributeList(config, attributes),
		Timestamp:  time.Now().UnixMilli(),
		UUID:       uuid.New().String(),
	}
}

// buildAttributeList converts the attribute snapshot to wire form. Values
// keep their type as long as the endpoint supports it (string, bool, finite
// number); attributes unknown to the datafile are forwarded under their own
// key. The bot-filtering flag rides along as a synthetic attribute.
func buildAttributeList(config *datafile.ProjectConfig, attributes map[string]interface{}) []VisitorAttribute {
	list := make([]VisitorAttribute, 0, len(attributes)+1)
	for key, value := range attributes {
		if key == botFilteringAttribute {
			continue
		}
		if !isValidAttributeValue(value) {
			continue
		}
		entityID := key
		if attr := config.AttributeByKey(key); attr != nil {
			entityID = attr.ID
		}
		list = append(list, VisitorAttribute{
			EntityID: entityID,
			Key:      key,
			Type:     "custom",
			Value:    value,
		})
	}
	if botFiltering := config.BotFiltering(); botFiltering != nil {
		list = append(list, VisitorAttribute{
			EntityID: botFilteringAttribute,
			Key:      botFilteringAttribute,
			Type:     "custom",
			Value:    *botFiltering,
		})
	}
	return list
}

func isValidAttributeValue(value interface{}) bool {
	switch v := value.(type) {
	case string, bool:
		return true
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := toFloat64(v)
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return false
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// revenueValue extracts the integral revenue tag, if present and integral.
func revenueValue(tags map[string]interface{}) *int64 {
	raw, ok := tags[revenueTag]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case int:
		r := int64(v)
		return &r
	case int32:
		r := int64(v)
		return &r
	case int64:
		return &v
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			r := int64(v)
			return &r
		}
	}
	return nil
}

// numericValue extracts the finite numeric value tag, if present.
func numericValue(tags map[string]interface{}) *float64 {
	raw, ok := tags[valueTag]
	if !ok {
		return nil
	}
	f, ok := toFloat64(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
