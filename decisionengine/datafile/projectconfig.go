package datafile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/featurekit/featurekit-go-client/decisionengine/conditions"
)

var (
	// ErrMalformedDatafile is returned when the datafile is not valid JSON
	// or a condition tree inside it cannot be decoded.
	ErrMalformedDatafile = errors.New("malformed datafile")

	// ErrUnsupportedVersion is returned when the datafile version is missing
	// or not one of the supported versions.
	ErrUnsupportedVersion = errors.New("unsupported datafile version")

	// ErrInvalidDatafile is returned when schema validation is enabled and
	// the datafile does not conform.
	ErrInvalidDatafile = errors.New("invalid datafile")
)

// ProjectConfig is an immutable, indexed view of one datafile revision.
// All lookups are O(1) after construction; updates are handled by building
// a whole new ProjectConfig and swapping it in.
type ProjectConfig struct {
	datafile *Datafile

	experimentKeyMap map[string]*Experiment
	experimentIDMap  map[string]*Experiment
	groupIDMap       map[string]*Group
	audienceIDMap    map[string]*Audience
	attributeKeyMap  map[string]*Attribute
	attributeIDMap   map[string]*Attribute
	eventKeyMap      map[string]*EventDefinition
	featureKeyMap    map[string]*FeatureFlag
	rolloutIDMap     map[string]*Rollout
	holdoutIDMap     map[string]*Holdout
	flagHoldoutsMap  map[string][]*Holdout
	flagVariationMap map[string]map[string]*Variation
	segmentsToCheck  []string
}

// Option toggles optional behaviour of datafile parsing.
type Option func(*parseSettings)

type parseSettings struct {
	validateSchema bool
}

// WithSchemaValidation enables JSON-schema validation of the raw datafile
// before the model is built.
func WithSchemaValidation() Option {
	return func(s *parseSettings) {
		s.validateSchema = true
	}
}

// NewProjectConfig parses a raw datafile and builds the lookup index.
func NewProjectConfig(raw []byte, opts ...Option) (*ProjectConfig, error) {
	var settings parseSettings
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.validateSchema {
		if err := validateSchema(raw); err != nil {
			return nil, err
		}
	}

	var df Datafile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDatafile, err)
	}
	return NewProjectConfigFromModel(&df)
}

// NewProjectConfigFromModel indexes an already-decoded datafile model.
func NewProjectConfigFromModel(df *Datafile) (*ProjectConfig, error) {
	switch df.Version {
	case VersionV2, VersionV3, VersionV4:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, df.Version)
	}

	pc := &ProjectConfig{
		datafile:         df,
		experimentKeyMap: make(map[string]*Experiment),
		experimentIDMap:  make(map[string]*Experiment),
		groupIDMap:       make(map[string]*Group),
		audienceIDMap:    make(map[string]*Audience),
		attributeKeyMap:  make(map[string]*Attribute),
		attributeIDMap:   make(map[string]*Attribute),
		eventKeyMap:      make(map[string]*EventDefinition),
		featureKeyMap:    make(map[string]*FeatureFlag),
		rolloutIDMap:     make(map[string]*Rollout),
		holdoutIDMap:     make(map[string]*Holdout),
		flagHoldoutsMap:  make(map[string][]*Holdout),
		flagVariationMap: make(map[string]map[string]*Variation),
	}
	if err := pc.buildIndex(); err != nil {
		return nil, err
	}
	return pc, nil
}

func (pc *ProjectConfig) buildIndex() error {
	df := pc.datafile

	for _, a := range df.Audiences {
		pc.audienceIDMap[a.ID] = a
	}
	// Typed audiences take precedence by id.
	for _, a := range df.TypedAudiences {
		pc.audienceIDMap[a.ID] = a
	}
	seenSegments := make(map[string]bool)
	for _, a := range pc.audienceIDMap {
		tree, err := conditions.Parse(a.Conditions)
		if err != nil {
			return fmt.Errorf("%w: audience %s: %v", ErrMalformedDatafile, a.ID, err)
		}
		a.conditionTree = tree
		for _, segment := range conditions.QualifiedSegments(tree) {
			if !seenSegments[segment] {
				seenSegments[segment] = true
				pc.segmentsToCheck = append(pc.segmentsToCheck, segment)
			}
		}
	}

	for _, attr := range df.Attributes {
		pc.attributeKeyMap[attr.Key] = attr
		pc.attributeIDMap[attr.ID] = attr
	}
	for _, ev := range df.Events {
		pc.eventKeyMap[ev.Key] = ev
	}

	for _, g := range df.Groups {
		pc.groupIDMap[g.ID] = g
		for _, exp := range g.Experiments {
			exp.GroupID = g.ID
			exp.GroupPolicy = g.Policy
			if err := pc.indexExperiment(exp); err != nil {
				return err
			}
		}
	}
	for _, exp := range df.Experiments {
		if err := pc.indexExperiment(exp); err != nil {
			return err
		}
	}
	for _, r := range df.Rollouts {
		pc.rolloutIDMap[r.ID] = r
		for _, rule := range r.Experiments {
			if err := initExperiment(rule); err != nil {
				return err
			}
		}
	}

	for _, h := range df.Holdouts {
		pc.holdoutIDMap[h.ID] = h
		h.variationIDMap = make(map[string]*Variation, len(h.Variations))
		for _, v := range h.Variations {
			h.variationIDMap[v.ID] = v
		}
		tree, err := conditions.Parse(h.AudienceConditions)
		if err != nil {
			return fmt.Errorf("%w: holdout %s: %v", ErrMalformedDatafile, h.ID, err)
		}
		if tree == nil {
			tree = conditions.AudienceIDTree(h.AudienceIDs)
		}
		h.audienceConditionTree = tree
	}

	for _, f := range df.FeatureFlags {
		pc.featureKeyMap[f.Key] = f
		f.variableKeyMap = make(map[string]*FeatureVariable, len(f.Variables))
		for _, v := range f.Variables {
			f.variableKeyMap[v.Key] = v
		}
		pc.flagHoldoutsMap[f.Key] = holdoutsForFlag(df.Holdouts, f.Key)
		pc.flagVariationMap[f.Key] = pc.collectFlagVariations(f)
	}

	return nil
}

func (pc *ProjectConfig) indexExperiment(exp *Experiment) error {
	if err := initExperiment(exp); err != nil {
		return err
	}
	pc.experimentKeyMap[exp.Key] = exp
	pc.experimentIDMap[exp.ID] = exp
	return nil
}

func initExperiment(exp *Experiment) error {
	exp.variationKeyMap = make(map[string]*Variation, len(exp.Variations))
	exp.variationIDMap = make(map[string]*Variation, len(exp.Variations))
	for _, v := range exp.Variations {
		exp.variationKeyMap[v.Key] = v
		exp.variationIDMap[v.ID] = v
		v.variableValueMap = make(map[string]string, len(v.Variables))
		for _, vv := range v.Variables {
			v.variableValueMap[vv.ID] = vv.Value
		}
	}
	tree, err := conditions.Parse(exp.AudienceConditions)
	if err != nil {
		return fmt.Errorf("%w: experiment %s: %v", ErrMalformedDatafile, exp.Key, err)
	}
	if tree == nil {
		tree = conditions.AudienceIDTree(exp.AudienceIDs)
	}
	exp.audienceConditionTree = tree
	return nil
}

// holdoutsForFlag resolves the holdouts applicable to one flag: global
// holdouts (no includedFlags) that do not exclude it, then holdouts that
// include it explicitly, in datafile order.
func holdoutsForFlag(holdouts []*Holdout, flagKey string) []*Holdout {
	var applicable []*Holdout
	for _, h := range holdouts {
		if len(h.IncludedFlags) == 0 {
			excluded := false
			for _, key := range h.ExcludedFlags {
				if key == flagKey {
					excluded = true
					break
				}
			}
			if !excluded {
				applicable = append(applicable, h)
			}
		}
	}
	for _, h := range holdouts {
		for _, key := range h.IncludedFlags {
			if key == flagKey {
				applicable = append(applicable, h)
				break
			}
		}
	}
	return applicable
}

// collectFlagVariations gathers every variation reachable from the flag's
// feature tests and rollout rules, for forced-decision lookup by key.
func (pc *ProjectConfig) collectFlagVariations(f *FeatureFlag) map[string]*Variation {
	seen := make(map[string]*Variation)
	add := func(vars []*Variation) {
		for _, v := range vars {
			if _, ok := seen[v.Key]; !ok {
				seen[v.Key] = v
			}
		}
	}
	for _, id := range f.ExperimentIDs {
		if exp := pc.experimentIDMap[id]; exp != nil {
			add(exp.Variations)
		}
	}
	if rollout := pc.rolloutIDMap[f.RolloutID]; rollout != nil {
		for _, rule := range rollout.Experiments {
			add(rule.Variations)
		}
	}
	return seen
}

func (pc *ProjectConfig) Version() string        { return pc.datafile.Version }
func (pc *ProjectConfig) AccountID() string      { return pc.datafile.AccountID }
func (pc *ProjectConfig) ProjectID() string      { return pc.datafile.ProjectID }
func (pc *ProjectConfig) Revision() string       { return pc.datafile.Revision }
func (pc *ProjectConfig) SDKKey() string         { return pc.datafile.SDKKey }
func (pc *ProjectConfig) EnvironmentKey() string { return pc.datafile.EnvironmentKey }
func (pc *ProjectConfig) AnonymizeIP() bool      { return pc.datafile.AnonymizeIP }
func (pc *ProjectConfig) BotFiltering() *bool    { return pc.datafile.BotFiltering }

// SendFlagDecisions reports whether rollout and holdout decisions emit
// impressions too.
func (pc *ProjectConfig) SendFlagDecisions() bool { return pc.datafile.SendFlagDecisions }

func (pc *ProjectConfig) ExperimentByKey(key string) *Experiment {
	return pc.experimentKeyMap[key]
}

func (pc *ProjectConfig) ExperimentByID(id string) *Experiment {
	return pc.experimentIDMap[id]
}

func (pc *ProjectConfig) GroupByID(id string) *Group {
	return pc.groupIDMap[id]
}

func (pc *ProjectConfig) AudienceByID(id string) *Audience {
	return pc.audienceIDMap[id]
}

func (pc *ProjectConfig) AttributeByKey(key string) *Attribute {
	return pc.attributeKeyMap[key]
}

// AttributeKeyByID maps an attribute id back to its key; used when
// filtering attributes for the contextual-bandit service.
func (pc *ProjectConfig) AttributeKeyByID(id string) (string, bool) {
	attr, ok := pc.attributeIDMap[id]
	if !ok {
		return "", false
	}
	return attr.Key, true
}

func (pc *ProjectConfig) EventByKey(key string) *EventDefinition {
	return pc.eventKeyMap[key]
}

func (pc *ProjectConfig) FeatureByKey(key string) *FeatureFlag {
	return pc.featureKeyMap[key]
}

// Features lists the feature flags in datafile order.
func (pc *ProjectConfig) Features() []*FeatureFlag {
	return pc.datafile.FeatureFlags
}

func (pc *ProjectConfig) RolloutByID(id string) *Rollout {
	return pc.rolloutIDMap[id]
}

// HoldoutsForFlag lists the holdouts applicable to a flag, global holdouts
// first, in datafile order.
func (pc *ProjectConfig) HoldoutsForFlag(flagKey string) []*Holdout {
	return pc.flagHoldoutsMap[flagKey]
}

// FlagVariationByKey finds a variation by key among all rules attached to
// the flag; used to validate forced decisions.
func (pc *ProjectConfig) FlagVariationByKey(flagKey, variationKey string) *Variation {
	return pc.flagVariationMap[flagKey][variationKey]
}

// SegmentsToCheck lists every segment name referenced by a qualified match
// across all audiences; the segment manager fetches exactly this subset.
func (pc *ProjectConfig) SegmentsToCheck() []string {
	return pc.segmentsToCheck
}

// OdpIntegration returns the ODP host and public key when the datafile
// carries an "odp" integration entry.
func (pc *ProjectConfig) OdpIntegration() (host, publicKey string, ok bool) {
	for _, in := range pc.datafile.Integrations {
		if in.Key == "odp" {
			return in.Host, in.PublicKey, true
		}
	}
	return "", "", false
}
