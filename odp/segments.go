package odp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config points at the segment platform for one datafile revision.
type Config struct {
	APIHost         string
	APIKey          string
	SegmentsToCheck []string
}

// Integrated reports whether the datafile carried ODP wiring.
func (c Config) Integrated() bool {
	return c.APIHost != "" && c.APIKey != ""
}

const userKey = "fs_user_id"

var ErrNotIntegrated = errors.New("odp is not integrated")

// SegmentOptions tune one fetch call.
type SegmentOptions struct {
	IgnoreCache bool
	ResetCache  bool
}

// SegmentAPIManager runs the GraphQL audience query against the segment
// platform.
type SegmentAPIManager struct {
	client *resty.Client
	logger *slog.Logger
}

func NewSegmentAPIManager(logger *slog.Logger, timeout time.Duration) *SegmentAPIManager {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SegmentAPIManager{
		client: resty.New().SetTimeout(timeout),
		logger: logger,
	}
}

type graphQLResponse struct {
	Data struct {
		Customer struct {
			Audiences struct {
				Edges []struct {
					Node struct {
						Name  string `json:"name"`
						State string `json:"state"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"audiences"`
		} `json:"customer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchSegments returns the subset of segmentsToCheck the user currently
// qualifies for.
func (m *SegmentAPIManager) FetchSegments(ctx context.Context, config Config, userID string, segmentsToCheck []string) ([]string, error) {
	query := fmt.Sprintf(
		`query {customer(%s: %q) {audiences(subset: [%s]) {edges {node {name state}}}}}`,
		userKey, userID, quoteList(segmentsToCheck),
	)

	var parsed graphQLResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", config.APIKey).
		SetBody(map[string]string{"query": query}).
		SetResult(&parsed).
		Post(strings.TrimSuffix(config.APIHost, "/") + "/v3/graphql")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("segment fetch received error response %d", resp.StatusCode())
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("segment fetch failed: %s", parsed.Errors[0].Message)
	}

	var qualified []string
	for _, edge := range parsed.Data.Customer.Audiences.Edges {
		if edge.Node.State == "qualified" {
			qualified = append(qualified, edge.Node.Name)
		}
	}
	return qualified, nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}

// SegmentManager caches qualified-segment fetches per user.
type SegmentManager struct {
	cache  Cache
	api    *SegmentAPIManager
	logger *slog.Logger
}

func NewSegmentManager(cache Cache, api *SegmentAPIManager, logger *slog.Logger) *SegmentManager {
	if cache == nil {
		cache = NewLRUCache(DefaultCacheSize, DefaultCacheTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if api == nil {
		api = NewSegmentAPIManager(logger, 0)
	}
	return &SegmentManager{cache: cache, api: api, logger: logger}
}

// FetchQualifiedSegments resolves the user's qualified segments, serving
// from the cache unless the options opt out.
func (m *SegmentManager) FetchQualifiedSegments(ctx context.Context, config Config, userID string, options SegmentOptions) ([]string, error) {
	if !config.Integrated() {
		return nil, ErrNotIntegrated
	}
	if len(config.SegmentsToCheck) == 0 {
		m.logger.Debug("no segments are used in the project, returning empty list")
		return []string{}, nil
	}

	cacheKey := makeCacheKey(userID)
	if options.ResetCache {
		m.cache.Reset()
	}
	if !options.IgnoreCache && !options.ResetCache {
		if segments, ok := m.cache.Lookup(cacheKey); ok {
			m.logger.Debug("returning qualified segments from cache", "userID", userID)
			return segments, nil
		}
	}

	segments, err := m.api.FetchSegments(ctx, config, userID, config.SegmentsToCheck)
	if err != nil {
		return nil, err
	}
	if !options.IgnoreCache {
		m.cache.Save(cacheKey, segments)
	}
	return segments, nil
}

func makeCacheKey(userID string) string {
	return userKey + "-$-" + userID
}
