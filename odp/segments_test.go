package odp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const segmentResponse = `{
  "data": {
    "customer": {
      "audiences": {
        "edges": [
          {"node": {"name": "segment-a", "state": "qualified"}},
          {"node": {"name": "segment-b", "state": "not_qualified"}}
        ]
      }
    }
  }
}`

func segmentServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v3/graphql", req.URL.Path)
		assert.Equal(t, "public-key", req.Header.Get("x-api-key"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Contains(t, payload["query"], `fs_user_id: "u1"`)
		assert.Contains(t, payload["query"], `"segment-a"`)

		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(segmentResponse))
	}))
}

func testConfig(host string) Config {
	return Config{
		APIHost:         host,
		APIKey:          "public-key",
		SegmentsToCheck: []string{"segment-a", "segment-b"},
	}
}

func TestFetchQualifiedSegments(t *testing.T) {
	var calls atomic.Int32
	ts := segmentServer(t, &calls)
	defer ts.Close()

	manager := NewSegmentManager(nil, nil, nil)
	segments, err := manager.FetchQualifiedSegments(context.Background(), testConfig(ts.URL), "u1", SegmentOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"segment-a"}, segments)
}

func TestFetchQualifiedSegmentsCaches(t *testing.T) {
	var calls atomic.Int32
	ts := segmentServer(t, &calls)
	defer ts.Close()

	manager := NewSegmentManager(nil, nil, nil)
	config := testConfig(ts.URL)

	for i := 0; i < 3; i++ {
		_, err := manager.FetchQualifiedSegments(context.Background(), config, "u1", SegmentOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	// IgnoreCache forces a fresh fetch.
	_, err := manager.FetchQualifiedSegments(context.Background(), config, "u1", SegmentOptions{IgnoreCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchQualifiedSegmentsResetCache(t *testing.T) {
	var calls atomic.Int32
	ts := segmentServer(t, &calls)
	defer ts.Close()

	manager := NewSegmentManager(nil, nil, nil)
	config := testConfig(ts.URL)

	_, err := manager.FetchQualifiedSegments(context.Background(), config, "u1", SegmentOptions{})
	require.NoError(t, err)
	_, err = manager.FetchQualifiedSegments(context.Background(), config, "u1", SegmentOptions{ResetCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchQualifiedSegmentsNotIntegrated(t *testing.T) {
	manager := NewSegmentManager(nil, nil, nil)
	_, err := manager.FetchQualifiedSegments(context.Background(), Config{}, "u1", SegmentOptions{})
	assert.ErrorIs(t, err, ErrNotIntegrated)
}

func TestFetchQualifiedSegmentsNoSegmentsToCheck(t *testing.T) {
	manager := NewSegmentManager(nil, nil, nil)
	segments, err := manager.FetchQualifiedSegments(context.Background(),
		Config{APIHost: "https://api.example.com", APIKey: "k"}, "u1", SegmentOptions{})
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestLRUCacheExpiry(t *testing.T) {
	cache := NewLRUCache(2, 20*time.Millisecond)
	cache.Save("a", []string{"s1"})

	segments, ok := cache.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []string{"s1"}, segments)

	time.Sleep(30 * time.Millisecond)
	_, ok = cache.Lookup("a")
	assert.False(t, ok)
}

func TestEventManagerBatchesAndSends(t *testing.T) {
	var received atomic.Int32
	var mu sync.Mutex
	var lastBatch []Event
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v3/events", req.URL.Path)
		body, _ := io.ReadAll(req.Body)
		var batch []Event
		_ = json.Unmarshal(body, &batch)
		mu.Lock()
		lastBatch = batch
		mu.Unlock()
		received.Add(int32(len(batch)))
	}))
	defer ts.Close()

	manager := NewEventManager(nil, "go-sdk", "2.1.0")
	config := Config{APIHost: ts.URL, APIKey: "public-key", SegmentsToCheck: []string{"s"}}

	require.NoError(t, manager.Identify(config, "u1"))
	require.NoError(t, manager.Send(config, Event{Action: "purchase", Data: map[string]interface{}{"total": 10}}))
	manager.Stop()

	assert.Equal(t, int32(2), received.Load())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lastBatch)
	first := lastBatch[0]
	assert.Equal(t, "fullstack", first.Type)
	assert.Equal(t, "identified", first.Action)
	assert.Equal(t, "u1", first.Identifiers["fs_user_id"])
	assert.NotEmpty(t, first.Data["idempotence_id"])
	assert.Equal(t, "go-sdk", first.Data["data_source"])
}

func TestEventManagerNotIntegrated(t *testing.T) {
	manager := NewEventManager(nil, "go-sdk", "2.1.0")
	err := manager.Send(Config{}, Event{Action: "x"})
	assert.ErrorIs(t, err, ErrNotIntegrated)
}
