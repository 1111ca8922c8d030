package featurekit

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
	"github.com/featurekit/featurekit-go-client/fixtures"
)

var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func testProjectConfig(t *testing.T) *datafile.ProjectConfig {
	t.Helper()
	config, err := datafile.NewProjectConfig([]byte(fixtures.DatafileV4))
	require.NoError(t, err)
	return config
}

func featureTestDecision(t *testing.T, config *datafile.ProjectConfig, variationKey string) decisionengine.FeatureDecision {
	t.Helper()
	experiment := config.ExperimentByKey("exp_1")
	require.NotNil(t, experiment)
	variation := experiment.VariationByKey(variationKey)
	require.NotNil(t, variation)
	return decisionengine.FeatureDecision{
		Experiment: experiment,
		Variation:  variation,
		Source:     decisionengine.SourceFeatureTest,
	}
}

func TestImpressionEventShape(t *testing.T) {
	config := testProjectConfig(t)
	decision := featureTestDecision(t, config, "a")

	event := newImpressionEvent(config, decision, "feature_1", "u1", map[string]interface{}{"age": 30})

	assert.Equal(t, "12001", event.Context.AccountID)
	assert.Equal(t, "111001", event.Context.ProjectID)
	assert.Equal(t, "42", event.Context.Revision)
	assert.Equal(t, ClientName, event.Context.ClientName)
	assert.True(t, event.Context.AnonymizeIP)
	assert.Regexp(t, uuidV4Pattern, event.UUID)
	assert.InDelta(t, time.Now().UnixMilli(), event.Timestamp, 5000)

	require.NotNil(t, event.Impression)
	assert.Equal(t, "9300000003766", event.Impression.LayerID)
	assert.Equal(t, "10390977673", event.Impression.ExperimentID)
	assert.Equal(t, "10389729780", event.Impression.VariationID)
	assert.Equal(t, "feature_1", event.Impression.FlagKey)
	assert.Equal(t, "exp_1", event.Impression.RuleKey)
	assert.Equal(t, "feature-test", event.Impression.RuleType)
	assert.True(t, event.Impression.Enabled)
}

func TestImpressionAttributeList(t *testing.T) {
	config := testProjectConfig(t)
	decision := featureTestDecision(t, config, "a")

	event := newImpressionEvent(config, decision, "feature_1", "u1", map[string]interface{}{
		"age":       30,
		"freeform":  "forwarded",
		"bad_value": []string{"unsupported"},
	})

	byKey := map[string]VisitorAttribute{}
	for _, attr := range event.Attributes {
		byKey[attr.Key] = attr
	}

	// Known attributes map to their datafile entity id.
	require.Contains(t, byKey, "age")
	assert.Equal(t, "111094", byKey["age"].EntityID)
	assert.Equal(t, "custom", byKey["age"].Type)

	// Unknown attributes are forwarded under their own key.
	require.Contains(t, byKey, "freeform")
	assert.Equal(t, "freeform", byKey["freeform"].EntityID)

	// Unsupported value types are omitted.
	assert.NotContains(t, byKey, "bad_value")

	// The bot-filtering flag rides along as a synthetic attribute.
	require.Contains(t, byKey, botFilteringAttribute)
	assert.Equal(t, true, byKey[botFilteringAttribute].Value)
}

func TestConversionEventTags(t *testing.T) {
	config := testProjectConfig(t)
	eventDefinition := config.EventByKey("purchase")

	event := newConversionEvent(config, eventDefinition, "u1", map[string]interface{}{"age": 30},
		map[string]interface{}{"revenue": 1200, "value": 3.5, "category": "upgrade"})

	logEvent, ok := createLogEvent([]UserEvent{event}, DefaultEventEndpoint)
	require.True(t, ok)
	require.Len(t, logEvent.Event.Visitors, 1)

	visitor := logEvent.Event.Visitors[0]
	assert.Equal(t, "u1", visitor.VisitorID)
	require.Len(t, visitor.Snapshots, 1)
	require.Len(t, visitor.Snapshots[0].Events, 1)
	snapshotEvent := visitor.Snapshots[0].Events[0]

	assert.Equal(t, "111097", snapshotEvent.EntityID)
	assert.Equal(t, "purchase", snapshotEvent.Key)
	assert.Equal(t, "purchase", snapshotEvent.Type)
	require.NotNil(t, snapshotEvent.Revenue)
	assert.Equal(t, int64(1200), *snapshotEvent.Revenue)
	require.NotNil(t, snapshotEvent.Value)
	assert.Equal(t, 3.5, *snapshotEvent.Value)
	assert.Equal(t, "upgrade", snapshotEvent.Tags["category"])
}

func TestConversionTagCoercion(t *testing.T) {
	cases := []struct {
		name    string
		tags    map[string]interface{}
		revenue *int64
		value   *float64
	}{
		{"whole float revenue", map[string]interface{}{"revenue": 1200.0}, int64Ptr(1200), nil},
		{"fractional revenue dropped", map[string]interface{}{"revenue": 12.5}, nil, nil},
		{"string revenue dropped", map[string]interface{}{"revenue": "1200"}, nil, nil},
		{"integer value accepted", map[string]interface{}{"value": 3}, nil, float64Ptr(3)},
		{"no tags", nil, nil, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.revenue, revenueValue(c.tags))
			assert.Equal(t, c.value, numericValue(c.tags))
		})
	}
}

func TestImpressionPayloadDecision(t *testing.T) {
	config := testProjectConfig(t)
	decision := featureTestDecision(t, config, "b")

	event := newImpressionEvent(config, decision, "feature_1", "u2", nil)
	logEvent, ok := createLogEvent([]UserEvent{event}, DefaultEventEndpoint)
	require.True(t, ok)

	batch := logEvent.Event
	assert.Equal(t, "12001", batch.AccountID)
	assert.True(t, batch.EnrichDecisions)

	require.Len(t, batch.Visitors, 1)
	snapshot := batch.Visitors[0].Snapshots[0]
	require.Len(t, snapshot.Decisions, 1)
	wireDecision := snapshot.Decisions[0]
	assert.Equal(t, "9300000003766", wireDecision.CampaignID)
	assert.Equal(t, "10390977673", wireDecision.ExperimentID)
	assert.Equal(t, "10416523121", wireDecision.VariationID)
	assert.Equal(t, DecisionMetadata{
		FlagKey:      "feature_1",
		RuleKey:      "exp_1",
		RuleType:     "feature-test",
		VariationKey: "b",
		Enabled:      false,
	}, wireDecision.Metadata)

	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, activateEventKey, snapshot.Events[0].Key)
	assert.Equal(t, "9300000003766", snapshot.Events[0].EntityID)
}

func TestCreateLogEventEmptyBatch(t *testing.T) {
	_, ok := createLogEvent(nil, DefaultEventEndpoint)
	assert.False(t, ok)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func float64Ptr(v float64) *float64 {
	return &v
}
