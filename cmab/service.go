package cmab

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

const (
	DefaultCacheSize    = 1000
	DefaultCacheTimeout = 30 * time.Minute
)

type cacheValue struct {
	attributesHash string
	variationID    string
	cmabUUID       string
}

// Service implements decisionengine.CmabService: predictions are cached per
// (user, rule) and invalidated when the relevant attribute subset changes.
type Service struct {
	client *Client
	cache  *expirable.LRU[string, cacheValue]
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceSettings)

type serviceSettings struct {
	cacheSize    int
	cacheTimeout time.Duration
}

func WithCacheSize(size int) ServiceOption {
	return func(s *serviceSettings) {
		s.cacheSize = size
	}
}

func WithCacheTimeout(timeout time.Duration) ServiceOption {
	return func(s *serviceSettings) {
		s.cacheTimeout = timeout
	}
}

func NewService(client *Client, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = NewClient(logger)
	}
	settings := serviceSettings{cacheSize: DefaultCacheSize, cacheTimeout: DefaultCacheTimeout}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Service{
		client: client,
		cache:  expirable.NewLRU[string, cacheValue](settings.cacheSize, nil, settings.cacheTimeout),
		logger: logger,
	}
}

// GetDecision returns the bandit's variation for the user and rule, using
// the cache unless the options opt out.
func (s *Service) GetDecision(
	config *datafile.ProjectConfig,
	user decisionengine.UserContext,
	ruleID string,
	options decisionengine.Options,
) (decisionengine.CmabDecision, error) {
	attributes := s.filterAttributes(config, user, ruleID)

	if options.IgnoreCmabCache {
		return s.fetch(ruleID, user.ID, attributes)
	}
	if options.ResetCmabCache {
		s.cache.Purge()
	}

	cacheKey := cacheKey(user.ID, ruleID)
	if options.InvalidateUserCmabCache {
		s.cache.Remove(cacheKey)
	}

	attributesHash := hashAttributes(attributes)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if cached.attributesHash == attributesHash {
			return decisionengine.CmabDecision{VariationID: cached.variationID, CmabUUID: cached.cmabUUID}, nil
		}
		s.cache.Remove(cacheKey)
	}

	decision, err := s.fetch(ruleID, user.ID, attributes)
	if err != nil {
		return decision, err
	}
	s.cache.Add(cacheKey, cacheValue{
		attributesHash: attributesHash,
		variationID:    decision.VariationID,
		cmabUUID:       decision.CmabUUID,
	})
	return decision, nil
}

func (s *Service) fetch(ruleID, userID string, attributes []Attribute) (decisionengine.CmabDecision, error) {
	cmabUUID := uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	variationID, err := s.client.FetchDecision(ctx, ruleID, userID, attributes, cmabUUID)
	if err != nil {
		return decisionengine.CmabDecision{}, err
	}
	return decisionengine.CmabDecision{VariationID: variationID, CmabUUID: cmabUUID}, nil
}

// filterAttributes keeps only the attributes the experiment declares
// relevant for its bandit.
func (s *Service) filterAttributes(config *datafile.ProjectConfig, user decisionengine.UserContext, ruleID string) []Attribute {
	experiment := config.ExperimentByID(ruleID)
	if experiment == nil || experiment.Cmab == nil {
		return nil
	}

	var filtered []Attribute
	for _, attributeID := range experiment.Cmab.AttributeIDs {
		key, ok := config.AttributeKeyByID(attributeID)
		if !ok {
			continue
		}
		if value, ok := user.Attributes[key]; ok {
			filtered = append(filtered, Attribute{ID: key, Value: value, Type: "custom_attribute"})
		}
	}
	return filtered
}

func cacheKey(userID, ruleID string) string {
	return fmt.Sprintf("%d-%s-%s", len(userID), userID, ruleID)
}

// hashAttributes fingerprints the filtered attribute set so a change in any
// relevant attribute invalidates the cached prediction.
func hashAttributes(attributes []Attribute) string {
	sorted := make([]Attribute, len(attributes))
	copy(sorted, attributes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	raw, err := json.Marshal(sorted)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", md5.Sum(raw))
}
