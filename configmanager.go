package featurekit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itlightning/dateparse"

	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

// ConfigManager supplies the active project config to the client.
type ConfigManager interface {
	// GetConfig returns the current config snapshot, or an error when no
	// datafile is available yet.
	GetConfig() (*datafile.ProjectConfig, error)
}

// StaticConfigManager serves a single datafile handed in at construction.
type StaticConfigManager struct {
	store *configStore
}

func NewStaticConfigManager(datafileJSON []byte, opts ...datafile.Option) (*StaticConfigManager, error) {
	config, err := datafile.NewProjectConfig(datafileJSON, opts...)
	if err != nil {
		return nil, err
	}
	store := newConfigStore()
	store.set(config)
	return &StaticConfigManager{store: store}, nil
}

func (m *StaticConfigManager) GetConfig() (*datafile.ProjectConfig, error) {
	config := m.store.get()
	if config == nil {
		return nil, ErrClientNotReady
	}
	return config, nil
}

// PollingConfigManager fetches the datafile from the CDN on an interval and
// publishes new revisions atomically. Conditional requests (ETag and
// Last-Modified) keep unchanged polls cheap; failed polls back off
// exponentially without disturbing the active config.
type PollingConfigManager struct {
	url            string
	client         *resty.Client
	interval       time.Duration
	store          *configStore
	logger         *slog.Logger
	backoff        *pollBackoff
	onUpdate       func(revision string)
	datafileOpts   []datafile.Option
	lastETag       string
	lastModified   time.Time
	lastModifiedOK bool
}

type pollingOption func(*PollingConfigManager)

// withDatafileAccessToken switches to the authenticated datafile host.
func withDatafileAccessToken(sdkKey, token string) pollingOption {
	return func(m *PollingConfigManager) {
		m.url = fmt.Sprintf(DefaultAuthDatafileURLTemplate, sdkKey)
		m.client.SetAuthToken(token)
	}
}

// withDatafileURL overrides the datafile location outright; used by tests
// and proxy setups.
func withDatafileURL(url string) pollingOption {
	return func(m *PollingConfigManager) {
		m.url = url
	}
}

func withPollingInterval(interval time.Duration) pollingOption {
	return func(m *PollingConfigManager) {
		m.interval = interval
	}
}

func withConfigUpdateHook(fn func(revision string)) pollingOption {
	return func(m *PollingConfigManager) {
		m.onUpdate = fn
	}
}

func withDatafileOptions(opts ...datafile.Option) pollingOption {
	return func(m *PollingConfigManager) {
		m.datafileOpts = opts
	}
}

// NewPollingConfigManager builds a manager for the given SDK key and starts
// polling until ctx is cancelled.
func NewPollingConfigManager(ctx context.Context, sdkKey string, logger *slog.Logger, opts ...pollingOption) *PollingConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(DefaultRequestTimeout).
		SetHeader("User-Agent", userAgent())
	client.OnAfterResponse(newHTTPLogMiddleware(logger, "datafile-fetch"))

	m := &PollingConfigManager{
		url:      fmt.Sprintf(DefaultDatafileURLTemplate, sdkKey),
		client:   client,
		interval: DefaultPollingInterval,
		store:    newConfigStore(),
		logger:   logger,
		backoff:  &pollBackoff{},
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.run(ctx)
	return m
}

func (m *PollingConfigManager) GetConfig() (*datafile.ProjectConfig, error) {
	config := m.store.get()
	if config == nil {
		return nil, ErrClientNotReady
	}
	return config, nil
}

// WaitUntilReady blocks until the first datafile arrived, bounded by
// timeout.
func (m *PollingConfigManager) WaitUntilReady(timeout time.Duration) bool {
	return m.store.waitReady(timeout)
}

func (m *PollingConfigManager) run(ctx context.Context) {
	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// retryAfterFailure records the failed fetch and holds the poll loop for
// the backed-off delay, keeping the failure streak visible in the logs.
func (m *PollingConfigManager) retryAfterFailure(ctx context.Context, err error) {
	delay := m.backoff.fail()
	m.logger.Warn("datafile fetch failed, backing off",
		"error", err,
		slog.Int("consecutiveFailures", m.backoff.consecutiveFailures()),
		slog.Duration("retryIn", delay),
	)
	m.backoff.sleep(ctx, delay)
}

func (m *PollingConfigManager) poll(ctx context.Context) {
	req := m.client.R().SetContext(ctx)
	if m.lastETag != "" {
		req.SetHeader("If-None-Match", m.lastETag)
	}
	if m.lastModifiedOK {
		req.SetHeader("If-Modified-Since", m.lastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := req.Get(m.url)
	if err != nil {
		m.retryAfterFailure(ctx, err)
		return
	}
	if resp.StatusCode() == http.StatusNotModified {
		m.backoff.reset()
		return
	}
	if resp.IsError() {
		m.retryAfterFailure(ctx, fmt.Errorf("datafile fetch returned status %d", resp.StatusCode()))
		return
	}
	m.backoff.reset()

	if etag := resp.Header().Get("ETag"); etag != "" {
		m.lastETag = etag
	}
	if lastModified := resp.Header().Get("Last-Modified"); lastModified != "" {
		if t, err := dateparse.ParseAny(lastModified); err == nil {
			m.lastModified = t
			m.lastModifiedOK = true
		}
	}

	config, err := datafile.NewProjectConfig(resp.Body(), m.datafileOpts...)
	if err != nil {
		// The previous config stays active.
		m.logger.Error("rejecting fetched datafile", "error", err)
		return
	}

	previous := m.store.get()
	if previous != nil && previous.Revision() == config.Revision() {
		return
	}
	m.store.set(config)
	m.logger.Info("datafile updated", "revision", config.Revision())
	if m.onUpdate != nil {
		m.onUpdate(config.Revision())
	}
}
