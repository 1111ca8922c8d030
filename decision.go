package featurekit

import (
	"golang.org/x/exp/slices"

	"github.com/featurekit/featurekit-go-client/decisionengine"
)

// DecideOption tunes a single Decide call; defaults can be installed on the
// client with WithDefaultDecideOptions.
type DecideOption string

const (
	// DisableDecisionEvent suppresses the impression for this decision.
	DisableDecisionEvent DecideOption = "DISABLE_DECISION_EVENT"
	// EnabledFlagsOnly drops disabled flags from DecideAll / DecideForKeys
	// results.
	EnabledFlagsOnly DecideOption = "ENABLED_FLAGS_ONLY"
	// IgnoreUserProfileService skips sticky-bucketing lookup and save.
	IgnoreUserProfileService DecideOption = "IGNORE_USER_PROFILE_SERVICE"
	// IncludeReasons surfaces the decision log in Decision.Reasons.
	IncludeReasons DecideOption = "INCLUDE_REASONS"
	// ExcludeVariables leaves Decision.Variables empty.
	ExcludeVariables DecideOption = "EXCLUDE_VARIABLES"

	// CMAB cache controls, used with bandit experiments.
	IgnoreCmabCache         DecideOption = "IGNORE_CMAB_CACHE"
	ResetCmabCache          DecideOption = "RESET_CMAB_CACHE"
	InvalidateUserCmabCache DecideOption = "INVALIDATE_USER_CMAB_CACHE"
)

// DecisionContext addresses a forced decision: a flag key plus an optional
// rule key.
type DecisionContext = decisionengine.DecisionContext

// Decision is the outcome of a Decide call for one flag.
type Decision struct {
	FlagKey      string
	RuleKey      string
	VariationKey string
	Enabled      bool
	Variables    map[string]interface{}
	Reasons      []string
}

type decideOptions struct {
	disableDecisionEvent bool
	enabledFlagsOnly     bool
	includeReasons       bool
	excludeVariables     bool
	engine               decisionengine.Options
}

func resolveDecideOptions(defaults, opts []DecideOption) decideOptions {
	all := make([]DecideOption, 0, len(defaults)+len(opts))
	all = append(all, defaults...)
	all = append(all, opts...)

	resolved := decideOptions{
		disableDecisionEvent: slices.Contains(all, DisableDecisionEvent),
		enabledFlagsOnly:     slices.Contains(all, EnabledFlagsOnly),
		includeReasons:       slices.Contains(all, IncludeReasons),
		excludeVariables:     slices.Contains(all, ExcludeVariables),
	}
	resolved.engine = decisionengine.Options{
		IgnoreUserProfileService: slices.Contains(all, IgnoreUserProfileService),
		IncludeReasons:           resolved.includeReasons,
		IgnoreCmabCache:          slices.Contains(all, IgnoreCmabCache),
		ResetCmabCache:           slices.Contains(all, ResetCmabCache),
		InvalidateUserCmabCache:  slices.Contains(all, InvalidateUserCmabCache),
	}
	return resolved
}
