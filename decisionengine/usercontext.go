package decisionengine

// BucketingIDAttribute is the reserved attribute that overrides the user id
// as bucketing input.
const BucketingIDAttribute = "$opt_bucketing_id"

// DecisionContext addresses a forced decision: a flag, optionally narrowed
// to one rule of that flag.
type DecisionContext struct {
	FlagKey string
	RuleKey string
}

// UserContext is the immutable per-call snapshot of a user the engine
// decides for.
type UserContext struct {
	ID                string
	Attributes        map[string]interface{}
	QualifiedSegments []string
	ForcedDecisions   map[DecisionContext]string
}

// BucketingID returns the hash input for this user: the $opt_bucketing_id
// attribute when it is a string, else the user id.
func (u UserContext) BucketingID() string {
	if raw, ok := u.Attributes[BucketingIDAttribute]; ok {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return u.ID
}

// ForcedVariation returns the forced variation key for a decision context,
// if one is set on the user.
func (u UserContext) ForcedVariation(ctx DecisionContext) (string, bool) {
	key, ok := u.ForcedDecisions[ctx]
	return key, ok
}
