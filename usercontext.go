package featurekit

import (
	"context"
	"sync"

	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/odp"
)

// UserContext is a mutable holder of one user's attributes, forced
// decisions and qualified segments. Every Decide call works on an immutable
// snapshot of its state against the datafile snapshot current at that
// moment; contexts never share mutation.
type UserContext struct {
	client *Client
	userID string

	mu                sync.Mutex
	attributes        map[string]interface{}
	forcedDecisions   map[DecisionContext]string
	qualifiedSegments []string
}

// CreateUserContext builds a user context bound to this client.
func (c *Client) CreateUserContext(userID string, attributes map[string]interface{}) *UserContext {
	copied := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	return &UserContext{
		client:     c,
		userID:     userID,
		attributes: copied,
	}
}

func (u *UserContext) UserID() string {
	return u.userID
}

// GetAttributes returns a copy of the current attributes.
func (u *UserContext) GetAttributes() map[string]interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	copied := make(map[string]interface{}, len(u.attributes))
	for k, v := range u.attributes {
		copied[k] = v
	}
	return copied
}

func (u *UserContext) SetAttribute(key string, value interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attributes[key] = value
}

// snapshot freezes the context for one decision.
func (u *UserContext) snapshot() decisionengine.UserContext {
	u.mu.Lock()
	defer u.mu.Unlock()

	attributes := make(map[string]interface{}, len(u.attributes))
	for k, v := range u.attributes {
		attributes[k] = v
	}
	var forced map[decisionengine.DecisionContext]string
	if len(u.forcedDecisions) > 0 {
		forced = make(map[decisionengine.DecisionContext]string, len(u.forcedDecisions))
		for k, v := range u.forcedDecisions {
			forced[k] = v
		}
	}
	segments := make([]string, len(u.qualifiedSegments))
	copy(segments, u.qualifiedSegments)

	return decisionengine.UserContext{
		ID:                u.userID,
		Attributes:        attributes,
		QualifiedSegments: segments,
		ForcedDecisions:   forced,
	}
}

// Decide resolves one flag for this user.
func (u *UserContext) Decide(flagKey string, opts ...DecideOption) Decision {
	return u.client.decide(u.snapshot(), flagKey, opts)
}

// DecideForKeys resolves the given flags; with EnabledFlagsOnly, disabled
// flags are omitted from the result.
func (u *UserContext) DecideForKeys(flagKeys []string, opts ...DecideOption) map[string]Decision {
	return u.client.decideForKeys(u.snapshot(), flagKeys, opts)
}

// DecideAll resolves every flag in the datafile.
func (u *UserContext) DecideAll(opts ...DecideOption) map[string]Decision {
	return u.client.decideAll(u.snapshot(), opts)
}

// TrackEvent reports a conversion for this user.
func (u *UserContext) TrackEvent(eventKey string, eventTags map[string]interface{}) error {
	return u.client.Track(eventKey, u.userID, u.GetAttributes(), eventTags)
}

// SetForcedDecision pins the variation for a decision context.
func (u *UserContext) SetForcedDecision(ctx DecisionContext, variationKey string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.forcedDecisions == nil {
		u.forcedDecisions = make(map[DecisionContext]string)
	}
	u.forcedDecisions[ctx] = variationKey
	return true
}

// GetForcedDecision returns the pinned variation key for a decision
// context, if any.
func (u *UserContext) GetForcedDecision(ctx DecisionContext) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key, ok := u.forcedDecisions[ctx]
	return key, ok
}

func (u *UserContext) RemoveForcedDecision(ctx DecisionContext) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.forcedDecisions[ctx]; ok {
		delete(u.forcedDecisions, ctx)
		return true
	}
	return false
}

func (u *UserContext) RemoveAllForcedDecisions() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forcedDecisions = nil
	return true
}

// GetQualifiedSegments returns a copy of the segments this user currently
// qualifies for.
func (u *UserContext) GetQualifiedSegments() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	segments := make([]string, len(u.qualifiedSegments))
	copy(segments, u.qualifiedSegments)
	return segments
}

// SetQualifiedSegments overrides the qualified segments, for callers that
// resolve them elsewhere.
func (u *UserContext) SetQualifiedSegments(segments []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.qualifiedSegments = make([]string, len(segments))
	copy(u.qualifiedSegments, segments)
}

// FetchQualifiedSegments resolves the user's segments from the audience
// platform and stores them on the context. A fetch failure leaves the
// context without qualified segments.
func (u *UserContext) FetchQualifiedSegments(ctx context.Context, options odp.SegmentOptions) error {
	segments, err := u.client.fetchQualifiedSegments(ctx, u.userID, options)
	if err != nil {
		u.SetQualifiedSegments(nil)
		return err
	}
	u.SetQualifiedSegments(segments)
	return nil
}

// SendOdpEvent forwards a behavioural event to the audience platform,
// adding this user's identifier.
func (u *UserContext) SendOdpEvent(action string, eventType string, identifiers map[string]string, data map[string]interface{}) error {
	merged := map[string]string{"fs_user_id": u.userID}
	for k, v := range identifiers {
		merged[k] = v
	}
	return u.client.sendOdpEvent(odp.Event{
		Type:        eventType,
		Action:      action,
		Identifiers: merged,
		Data:        data,
	})
}
