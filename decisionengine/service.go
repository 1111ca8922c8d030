// Package decisionengine layers forced decisions, whitelists, sticky
// profiles, audience gating, bucketing and rollout traversal into a single
// deterministic decision pipeline.
package decisionengine

import (
	"fmt"
	"log/slog"

	"github.com/featurekit/featurekit-go-client/decisionengine/bucketing"
	"github.com/featurekit/featurekit-go-client/decisionengine/conditions"
	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

// Source tags where a decision came from; it is carried verbatim into
// impression metadata as the rule type.
type Source string

const (
	SourceExperiment  Source = "experiment"
	SourceFeatureTest Source = "feature-test"
	SourceRollout     Source = "rollout"
	SourceHoldout     Source = "holdout"
)

// Options tune a single decision call.
type Options struct {
	IgnoreUserProfileService bool
	IncludeReasons           bool
	IgnoreCmabCache          bool
	ResetCmabCache           bool
	InvalidateUserCmabCache  bool
}

// CmabDecision is a variation assignment produced by the contextual-bandit
// service.
type CmabDecision struct {
	VariationID string
	CmabUUID    string
}

// CmabService hands variation assignment for bandit experiments to an
// external predictor. Implementations must degrade silently: an error means
// no decision, never a crash.
type CmabService interface {
	GetDecision(config *datafile.ProjectConfig, user UserContext, ruleID string, options Options) (CmabDecision, error)
}

// FeatureDecision is the resolved outcome of a flag decision. Variation is
// nil when the user matched nothing; Holdout is set instead of Experiment
// for holdout decisions.
type FeatureDecision struct {
	Experiment *datafile.Experiment
	Holdout    *datafile.Holdout
	Variation  *datafile.Variation
	Source     Source
	CmabUUID   string
}

// RuleKey names the rule that produced the decision, for impression
// metadata.
func (d FeatureDecision) RuleKey() string {
	switch {
	case d.Holdout != nil:
		return d.Holdout.Key
	case d.Experiment != nil:
		return d.Experiment.Key
	default:
		return ""
	}
}

// Service is the decision service. It is stateless apart from its
// collaborators and safe for concurrent use.
type Service struct {
	bucketer       *bucketing.Bucketer
	profileService UserProfileService
	cmabService    CmabService
	logger         *slog.Logger
}

// ServiceOption configures optional collaborators of a Service.
type ServiceOption func(*Service)

// WithUserProfileService enables sticky bucketing through the given store.
func WithUserProfileService(ups UserProfileService) ServiceOption {
	return func(s *Service) {
		s.profileService = ups
	}
}

// WithCmabService routes bandit experiments through the given decision
// source.
func WithCmabService(cmab CmabService) ServiceOption {
	return func(s *Service) {
		s.cmabService = cmab
	}
}

func NewService(logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		bucketer: bucketing.New(logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetVariation runs the experiment decision pipeline for a directly
// activated A/B experiment (no flag context).
func (s *Service) GetVariation(
	config *datafile.ProjectConfig,
	experiment *datafile.Experiment,
	user UserContext,
	options Options,
) (*datafile.Variation, []string) {
	decision, reasons := s.decideExperiment(config, experiment, user, options)
	return decision.Variation, reasons
}

// GetVariationForFeature resolves a flag decision: holdouts first, then
// feature tests in priority order, then the rollout.
func (s *Service) GetVariationForFeature(
	config *datafile.ProjectConfig,
	flag *datafile.FeatureFlag,
	user UserContext,
	options Options,
) (FeatureDecision, []string) {
	var reasons []string

	// A forced decision scoped to the flag alone wins over every rule.
	variation, forcedReasons := s.findForcedDecision(config, flag.Key, "", user)
	reasons = append(reasons, forcedReasons...)
	if variation != nil {
		return FeatureDecision{Variation: variation, Source: SourceFeatureTest}, reasons
	}

	for _, holdout := range config.HoldoutsForFlag(flag.Key) {
		decision, holdoutReasons := s.decideHoldout(config, holdout, user)
		reasons = append(reasons, holdoutReasons...)
		if decision.Variation != nil {
			return decision, reasons
		}
	}

	for _, experimentID := range flag.ExperimentIDs {
		experiment := config.ExperimentByID(experimentID)
		if experiment == nil {
			continue
		}
		decision, experimentReasons := s.decideExperimentRule(config, flag.Key, experiment, user, options)
		reasons = append(reasons, experimentReasons...)
		if decision.Variation != nil {
			return decision, reasons
		}
	}

	decision, rolloutReasons := s.decideRollout(config, flag, user, options)
	return decision, append(reasons, rolloutReasons...)
}

// decideExperimentRule is the feature-test entry: a forced decision on the
// user context wins over everything inside the experiment.
func (s *Service) decideExperimentRule(
	config *datafile.ProjectConfig,
	flagKey string,
	experiment *datafile.Experiment,
	user UserContext,
	options Options,
) (FeatureDecision, []string) {
	variation, reasons := s.findForcedDecision(config, flagKey, experiment.Key, user)
	if variation != nil {
		decision := FeatureDecision{Experiment: experiment, Variation: variation, Source: SourceFeatureTest}
		return decision, reasons
	}

	decision, experimentReasons := s.decideExperiment(config, experiment, user, options)
	decision.Source = SourceFeatureTest
	return decision, append(reasons, experimentReasons...)
}

// decideExperiment runs the ordered pipeline: running check, whitelist,
// sticky profile, audience gate, bucketing (or CMAB), profile persist.
func (s *Service) decideExperiment(
	config *datafile.ProjectConfig,
	experiment *datafile.Experiment,
	user UserContext,
	options Options,
) (FeatureDecision, []string) {
	decision := FeatureDecision{Experiment: experiment, Source: SourceExperiment}
	var reasons []string
	if experiment == nil {
		return FeatureDecision{Source: SourceExperiment}, reasons
	}

	if !experiment.IsRunning() {
		message := fmt.Sprintf("Experiment %q is not running.", experiment.Key)
		s.logger.Info(message)
		return decision, append(reasons, message)
	}

	if variation := s.whitelistedVariation(experiment, user.ID); variation != nil {
		message := fmt.Sprintf("User %q is forced in variation %q.", user.ID, variation.Key)
		s.logger.Info(message)
		decision.Variation = variation
		return decision, append(reasons, message)
	}

	useProfile := s.profileService != nil && !options.IgnoreUserProfileService && experiment.Cmab == nil
	var profile *UserProfile
	if useProfile {
		stored, err := s.profileService.Lookup(user.ID)
		if err != nil {
			message := fmt.Sprintf("Unable to retrieve user profile for user %q as lookup failed.", user.ID)
			s.logger.Error(message, "error", err)
			reasons = append(reasons, message)
		} else {
			profile = stored
		}
		if variation := s.storedVariation(experiment, profile); variation != nil {
			message := fmt.Sprintf("Found a stored decision. User %q is in variation %q of experiment %q.",
				user.ID, variation.Key, experiment.Key)
			s.logger.Info(message)
			decision.Variation = variation
			return decision, append(reasons, message)
		}
	}

	matches, audienceReasons := s.audiencePasses(config, experiment.AudienceConditionTree(), "experiment", experiment.Key, user)
	reasons = append(reasons, audienceReasons...)
	if !matches {
		message := fmt.Sprintf("User %q does not meet conditions to be in experiment %q.", user.ID, experiment.Key)
		s.logger.Info(message)
		return decision, append(reasons, message)
	}

	bucketingID := user.BucketingID()

	if experiment.Cmab != nil {
		return s.decideCmabExperiment(config, experiment, user, bucketingID, options, decision, reasons)
	}

	variation, bucketReasons := s.bucketer.Bucket(config, experiment, user.ID, bucketingID)
	reasons = append(reasons, bucketReasons...)
	if variation == nil {
		return decision, reasons
	}
	decision.Variation = variation

	if useProfile {
		s.saveProfile(profile, user.ID, experiment.ID, variation.ID)
	}
	return decision, reasons
}

func (s *Service) decideCmabExperiment(
	config *datafile.ProjectConfig,
	experiment *datafile.Experiment,
	user UserContext,
	bucketingID string,
	options Options,
	decision FeatureDecision,
	reasons []string,
) (FeatureDecision, []string) {
	gate := []datafile.TrafficAllocation{{EntityID: experiment.ID, EndOfRange: experiment.Cmab.TrafficAllocation}}
	if s.bucketer.FindBucket(bucketingID, experiment.ID, gate) == "" {
		message := fmt.Sprintf("User %q not in CMAB experiment %q due to traffic allocation.", user.ID, experiment.Key)
		s.logger.Info(message)
		return decision, append(reasons, message)
	}

	if s.cmabService == nil {
		message := fmt.Sprintf("No CMAB service configured for experiment %q.", experiment.Key)
		s.logger.Warn(message)
		return decision, append(reasons, message)
	}

	cmabDecision, err := s.cmabService.GetDecision(config, user, experiment.ID, options)
	if err != nil {
		message := fmt.Sprintf("Failed to fetch CMAB decision for experiment %q.", experiment.Key)
		s.logger.Warn(message, "error", err)
		return decision, append(reasons, message)
	}
	decision.Variation = experiment.VariationByID(cmabDecision.VariationID)
	decision.CmabUUID = cmabDecision.CmabUUID
	return decision, reasons
}

// decideRollout walks the ordered delivery rules. A targeted rule whose
// audience fails advances to the next rule; a targeted rule whose bucket
// misses skips straight to the everyone-else rule.
func (s *Service) decideRollout(
	config *datafile.ProjectConfig,
	flag *datafile.FeatureFlag,
	user UserContext,
	options Options,
) (FeatureDecision, []string) {
	decision := FeatureDecision{Source: SourceRollout}
	var reasons []string

	if flag.RolloutID == "" {
		return decision, reasons
	}
	rollout := config.RolloutByID(flag.RolloutID)
	if rollout == nil || len(rollout.Experiments) == 0 {
		return decision, reasons
	}

	rules := rollout.Experiments
	for index := 0; index < len(rules); {
		rule := rules[index]
		everyoneElse := index == len(rules)-1

		variation, forcedReasons := s.findForcedDecision(config, flag.Key, rule.Key, user)
		reasons = append(reasons, forcedReasons...)
		if variation != nil {
			return FeatureDecision{Experiment: rule, Variation: variation, Source: SourceRollout}, reasons
		}

		matches, audienceReasons := s.audiencePasses(config, rule.AudienceConditionTree(), "rollout rule", rule.Key, user)
		reasons = append(reasons, audienceReasons...)
		if !matches {
			message := fmt.Sprintf("User %q does not meet conditions for targeting rule %q.", user.ID, rule.Key)
			s.logger.Debug(message)
			reasons = append(reasons, message)
			index++
			continue
		}

		bucketingID := user.BucketingID()
		variationID := s.bucketer.FindBucket(bucketingID, rule.ID, rule.TrafficAllocation)
		if variationID != "" {
			if variation := rule.VariationByID(variationID); variation != nil {
				message := fmt.Sprintf("User %q is in the traffic group of targeting rule %q.", user.ID, rule.Key)
				s.logger.Debug(message)
				reasons = append(reasons, message)
				decision.Experiment = rule
				decision.Variation = variation
				return decision, reasons
			}
		}
		if everyoneElse {
			break
		}
		// Out of the targeted rule's allocation: only the last rule remains.
		message := fmt.Sprintf("User %q is not in the traffic group for targeting rule %q. Checking \"Everyone Else\" rule now.", user.ID, rule.Key)
		s.logger.Debug(message)
		reasons = append(reasons, message)
		index = len(rules) - 1
	}
	return decision, reasons
}

func (s *Service) decideHoldout(
	config *datafile.ProjectConfig,
	holdout *datafile.Holdout,
	user UserContext,
) (FeatureDecision, []string) {
	decision := FeatureDecision{Holdout: holdout, Source: SourceHoldout}
	var reasons []string

	if !holdout.IsRunning() {
		return decision, reasons
	}

	matches, audienceReasons := s.audiencePasses(config, holdout.AudienceConditionTree(), "holdout", holdout.Key, user)
	reasons = append(reasons, audienceReasons...)
	if !matches {
		message := fmt.Sprintf("User %q does not meet conditions for holdout %q.", user.ID, holdout.Key)
		s.logger.Debug(message)
		return decision, append(reasons, message)
	}

	bucketingID := user.BucketingID()
	variationID := s.bucketer.FindBucket(bucketingID, holdout.ID, holdout.TrafficAllocation)
	if variationID == "" {
		message := fmt.Sprintf("User %q is not in holdout %q.", user.ID, holdout.Key)
		s.logger.Debug(message)
		return decision, append(reasons, message)
	}
	if variation := holdout.VariationByID(variationID); variation != nil {
		message := fmt.Sprintf("User %q is in variation %q of holdout %q.", user.ID, variation.Key, holdout.Key)
		s.logger.Info(message)
		reasons = append(reasons, message)
		decision.Variation = variation
	}
	return decision, reasons
}

// findForcedDecision validates a forced decision from the user context
// against the variations reachable from the flag.
func (s *Service) findForcedDecision(
	config *datafile.ProjectConfig,
	flagKey, ruleKey string,
	user UserContext,
) (*datafile.Variation, []string) {
	var reasons []string
	variationKey, ok := user.ForcedVariation(DecisionContext{FlagKey: flagKey, RuleKey: ruleKey})
	if !ok {
		return nil, reasons
	}

	variation := config.FlagVariationByKey(flagKey, variationKey)
	if variation == nil {
		message := fmt.Sprintf("Invalid variation is mapped to flag %q and user %q in the forced decision map.", flagKey, user.ID)
		s.logger.Info(message)
		return nil, append(reasons, message)
	}
	message := fmt.Sprintf("Variation %q is mapped to flag %q and user %q in the forced decision map.", variationKey, flagKey, user.ID)
	s.logger.Info(message)
	return variation, append(reasons, message)
}

func (s *Service) whitelistedVariation(experiment *datafile.Experiment, userID string) *datafile.Variation {
	variationKey, ok := experiment.ForcedVariations[userID]
	if !ok {
		return nil
	}
	return experiment.VariationByKey(variationKey)
}

func (s *Service) storedVariation(experiment *datafile.Experiment, profile *UserProfile) *datafile.Variation {
	if profile == nil {
		return nil
	}
	variationID, ok := profile.VariationForExperiment(experiment.ID)
	if !ok || variationID == "" {
		return nil
	}
	return experiment.VariationByID(variationID)
}

func (s *Service) saveProfile(profile *UserProfile, userID, experimentID, variationID string) {
	if profile == nil {
		profile = &UserProfile{UserID: userID}
	}
	if profile.ExperimentBucketMap == nil {
		profile.ExperimentBucketMap = make(map[string]string)
	}
	profile.ExperimentBucketMap[experimentID] = variationID
	if err := s.profileService.Save(profile); err != nil {
		s.logger.Error(fmt.Sprintf("Unable to save user profile for user %q.", userID), "error", err)
	}
}

// audiencePasses gates an experiment, rule or holdout on its audience tree.
// An unknown result gates as false.
func (s *Service) audiencePasses(
	config *datafile.ProjectConfig,
	tree *conditions.TreeNode,
	kind, key string,
	user UserContext,
) (bool, []string) {
	var reasons []string
	if tree == nil {
		message := fmt.Sprintf("Audiences for %s %q collectively evaluated to TRUE.", kind, key)
		s.logger.Debug(message)
		return true, append(reasons, message)
	}

	result := conditions.Evaluate(tree, s.audienceLeafFunc(config, user))
	passed := result != nil && *result
	message := fmt.Sprintf("Audiences for %s %q collectively evaluated to %s.", kind, key, triString(result))
	s.logger.Debug(message)
	return passed, append(reasons, message)
}

// audienceLeafFunc resolves audience id references through the config and
// plain condition leaves against the user snapshot.
func (s *Service) audienceLeafFunc(config *datafile.ProjectConfig, user UserContext) conditions.LeafFunc {
	var leafFn conditions.LeafFunc
	leafFn = func(node *conditions.TreeNode) *bool {
		if node.AudienceID != "" {
			audience := config.AudienceByID(node.AudienceID)
			if audience == nil {
				return nil
			}
			return conditions.Evaluate(audience.ConditionTree(), leafFn)
		}
		if node.Leaf != nil {
			return conditions.EvaluateCustomAttribute(node.Leaf, user.Attributes, user.QualifiedSegments)
		}
		return nil
	}
	return leafFn
}

func triString(result *bool) string {
	switch {
	case result == nil:
		return "UNKNOWN"
	case *result:
		return "TRUE"
	default:
		return "FALSE"
	}
}
