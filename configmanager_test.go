package featurekit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurekit/featurekit-go-client/fixtures"
)

func TestStaticConfigManager(t *testing.T) {
	manager, err := NewStaticConfigManager([]byte(fixtures.DatafileV4))
	require.NoError(t, err)

	config, err := manager.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "42", config.Revision())
}

func TestStaticConfigManagerRejectsBadDatafile(t *testing.T) {
	_, err := NewStaticConfigManager([]byte(`{"version": "99"}`))
	assert.Error(t, err)
}

type datafileServer struct {
	mu       sync.Mutex
	body     string
	etag     string
	requests []*http.Request
}

func (s *datafileServer) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, req.Clone(context.Background()))

		if s.etag != "" && req.Header.Get("If-None-Match") == s.etag {
			rw.WriteHeader(http.StatusNotModified)
			return
		}
		if s.etag != "" {
			rw.Header().Set("ETag", s.etag)
		}
		rw.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		_, _ = rw.Write([]byte(s.body))
	}
}

func (s *datafileServer) set(body, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.etag = etag
}

func (s *datafileServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newPollingManager(t *testing.T, url string, interval time.Duration, onUpdate func(string)) *PollingConfigManager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := []pollingOption{withPollingInterval(interval), withDatafileURL(url)}
	if onUpdate != nil {
		opts = append(opts, withConfigUpdateHook(onUpdate))
	}
	return NewPollingConfigManager(ctx, "sdk-key-1", nil, opts...)
}

func TestPollingConfigManagerFetchesDatafile(t *testing.T) {
	server := &datafileServer{}
	server.set(fixtures.DatafileV4, `"etag-1"`)
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	manager := newPollingManager(t, ts.URL, time.Hour, nil)
	require.True(t, manager.WaitUntilReady(2*time.Second))

	config, err := manager.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "42", config.Revision())
}

func TestPollingConfigManagerSendsConditionalHeaders(t *testing.T) {
	server := &datafileServer{}
	server.set(fixtures.DatafileV4, `"etag-1"`)
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	manager := newPollingManager(t, ts.URL, 30*time.Millisecond, nil)
	require.True(t, manager.WaitUntilReady(2*time.Second))

	require.Eventually(t, func() bool { return server.requestCount() >= 3 }, 2*time.Second, 10*time.Millisecond)

	server.mu.Lock()
	later := server.requests[len(server.requests)-1]
	server.mu.Unlock()
	assert.Equal(t, `"etag-1"`, later.Header.Get("If-None-Match"))
	assert.NotEmpty(t, later.Header.Get("If-Modified-Since"))
}

func TestPollingConfigManagerPublishesNewRevision(t *testing.T) {
	server := &datafileServer{}
	server.set(fixtures.DatafileV4, "")
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	manager := newPollingManager(t, ts.URL, 30*time.Millisecond, nil)
	require.True(t, manager.WaitUntilReady(2*time.Second))

	updated := strings.Replace(fixtures.DatafileV4, `"revision": "42"`, `"revision": "43"`, 1)
	server.set(updated, "")

	require.Eventually(t, func() bool {
		config, err := manager.GetConfig()
		return err == nil && config.Revision() == "43"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollingConfigManagerKeepsActiveConfigOnBadFetch(t *testing.T) {
	server := &datafileServer{}
	server.set(fixtures.DatafileV4, "")
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	manager := newPollingManager(t, ts.URL, 30*time.Millisecond, nil)
	require.True(t, manager.WaitUntilReady(2*time.Second))

	server.set(`{"version": "99"}`, "")
	initialCount := server.requestCount()
	require.Eventually(t, func() bool { return server.requestCount() > initialCount }, 2*time.Second, 10*time.Millisecond)

	config, err := manager.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "42", config.Revision())
}

func TestClientBlocksForFirstDatafile(t *testing.T) {
	server := &datafileServer{}
	server.set(fixtures.DatafileV4, "")
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	manager := newPollingManager(t, ts.URL, time.Hour, nil)
	client, err := New("sdk-key-1",
		WithConfigManager(manager),
		WithEventDispatcher(&captureDispatcher{}),
		WithBlockTimeout(2*time.Second),
	)
	require.NoError(t, err)
	defer client.Close()

	enabled, err := client.IsFeatureEnabled("feature_1", "u1", map[string]interface{}{"age": 30})
	require.NoError(t, err)
	_ = enabled
}
