package datafile

import (
	"encoding/json"

	"github.com/featurekit/featurekit-go-client/decisionengine/conditions"
)

// Datafile versions with engine support.
const (
	VersionV2 = "2"
	VersionV3 = "3"
	VersionV4 = "4"
)

// Experiment statuses.
const (
	StatusRunning    = "Running"
	StatusLaunched   = "Launched"
	StatusNotStarted = "Not started"
	StatusPaused     = "Paused"
	StatusArchived   = "Archived"
)

// GroupPolicyRandom marks mutually-exclusive groups; members are bucketed
// against the group allocation before their own.
const GroupPolicyRandom = "random"

// Feature variable types.
const (
	VariableTypeString  = "string"
	VariableTypeInteger = "integer"
	VariableTypeDouble  = "double"
	VariableTypeBoolean = "boolean"
	VariableTypeJSON    = "json"
)

type Datafile struct {
	Version           string             `json:"version"`
	AccountID         string             `json:"accountId"`
	ProjectID         string             `json:"projectId"`
	Revision          string             `json:"revision"`
	SDKKey            string             `json:"sdkKey"`
	EnvironmentKey    string             `json:"environmentKey"`
	AnonymizeIP       bool               `json:"anonymizeIP"`
	BotFiltering      *bool              `json:"botFiltering"`
	SendFlagDecisions bool               `json:"sendFlagDecisions"`
	Experiments       []*Experiment      `json:"experiments"`
	Groups            []*Group           `json:"groups"`
	Events            []*EventDefinition `json:"events"`
	Audiences         []*Audience        `json:"audiences"`
	TypedAudiences    []*Audience        `json:"typedAudiences"`
	Attributes        []*Attribute       `json:"attributes"`
	FeatureFlags      []*FeatureFlag     `json:"featureFlags"`
	Rollouts          []*Rollout         `json:"rollouts"`
	Holdouts          []*Holdout         `json:"holdouts"`
	Integrations      []*Integration     `json:"integrations"`
}

type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type EventDefinition struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

type Audience struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`

	conditionTree *conditions.TreeNode
}

// ConditionTree returns the audience's parsed condition tree.
func (a *Audience) ConditionTree() *conditions.TreeNode {
	return a.conditionTree
}

type TrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

type VariationVariable struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type Variation struct {
	ID             string              `json:"id"`
	Key            string              `json:"key"`
	FeatureEnabled bool                `json:"featureEnabled"`
	Variables      []VariationVariable `json:"variables"`

	variableValueMap map[string]string
}

// VariableValueByID returns the variation's override for a feature variable
// id, if any.
func (v *Variation) VariableValueByID(id string) (string, bool) {
	value, ok := v.variableValueMap[id]
	return value, ok
}

// Cmab marks an experiment whose variation assignment is delegated to the
// contextual-bandit service; TrafficAllocation is the share of traffic (out
// of 10000) the experiment receives at all.
type Cmab struct {
	AttributeIDs      []string `json:"attributeIds"`
	TrafficAllocation int      `json:"trafficAllocation"`
}

type Experiment struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             string              `json:"status"`
	LayerID            string              `json:"layerId"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	Variations         []*Variation        `json:"variations"`
	ForcedVariations   map[string]string   `json:"forcedVariations"`
	Cmab               *Cmab               `json:"cmab"`

	// Populated during index construction.
	GroupID     string
	GroupPolicy string

	audienceConditionTree *conditions.TreeNode
	variationKeyMap       map[string]*Variation
	variationIDMap        map[string]*Variation
}

// IsRunning reports whether the experiment accepts traffic.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// AudienceConditionTree returns the explicit audienceConditions tree when
// present, else the implicit OR over the audience id list, else nil.
func (e *Experiment) AudienceConditionTree() *conditions.TreeNode {
	return e.audienceConditionTree
}

// VariationByKey returns the experiment's variation with the given key.
func (e *Experiment) VariationByKey(key string) *Variation {
	return e.variationKeyMap[key]
}

// VariationByID returns the experiment's variation with the given id.
func (e *Experiment) VariationByID(id string) *Variation {
	return e.variationIDMap[id]
}

type Group struct {
	ID                string              `json:"id"`
	Policy            string              `json:"policy"`
	TrafficAllocation []TrafficAllocation `json:"trafficAllocation"`
	Experiments       []*Experiment       `json:"experiments"`
}

type FeatureVariable struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Type         string `json:"type"`
	SubType      string `json:"subType"`
	DefaultValue string `json:"defaultValue"`
}

// EffectiveType folds the legacy string+json subtype encoding into a single
// variable type tag.
func (v *FeatureVariable) EffectiveType() string {
	if v.Type == VariableTypeString && v.SubType == VariableTypeJSON {
		return VariableTypeJSON
	}
	return v.Type
}

type FeatureFlag struct {
	ID            string             `json:"id"`
	Key           string             `json:"key"`
	RolloutID     string             `json:"rolloutId"`
	ExperimentIDs []string           `json:"experimentIds"`
	Variables     []*FeatureVariable `json:"variables"`

	variableKeyMap map[string]*FeatureVariable
}

// VariableByKey returns the flag's variable definition with the given key.
func (f *FeatureFlag) VariableByKey(key string) *FeatureVariable {
	return f.variableKeyMap[key]
}

type Rollout struct {
	ID          string        `json:"id"`
	Experiments []*Experiment `json:"experiments"`
}

// Holdout is a v4 population set aside from all feature-test traffic.
// Without IncludedFlags it is global and applies to every flag not in
// ExcludedFlags.
type Holdout struct {
	ID                 string              `json:"id"`
	Key                string              `json:"key"`
	Status             string              `json:"status"`
	AudienceIDs        []string            `json:"audienceIds"`
	AudienceConditions json.RawMessage     `json:"audienceConditions"`
	TrafficAllocation  []TrafficAllocation `json:"trafficAllocation"`
	Variations         []*Variation        `json:"variations"`
	IncludedFlags      []string            `json:"includedFlags"`
	ExcludedFlags      []string            `json:"excludedFlags"`

	audienceConditionTree *conditions.TreeNode
	variationIDMap        map[string]*Variation
}

func (h *Holdout) IsRunning() bool {
	return h.Status == StatusRunning
}

func (h *Holdout) AudienceConditionTree() *conditions.TreeNode {
	return h.audienceConditionTree
}

func (h *Holdout) VariationByID(id string) *Variation {
	return h.variationIDMap[id]
}

// Integration carries third-party wiring from the datafile; key "odp"
// configures the audience-segment platform.
type Integration struct {
	Key       string `json:"key"`
	Host      string `json:"host"`
	PublicKey string `json:"publicKey"`
}
