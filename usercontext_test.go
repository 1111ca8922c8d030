package featurekit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurekit/featurekit-go-client/fixtures"
	"github.com/featurekit/featurekit-go-client/odp"
)

func TestFetchQualifiedSegmentsWithoutProjectSegments(t *testing.T) {
	// The fixture references no qualified segments, so the fetch resolves
	// to an empty set without calling the platform.
	client, _ := newTestClient(t)
	user := client.CreateUserContext("u1", nil)

	require.NoError(t, user.FetchQualifiedSegments(context.Background(), odp.SegmentOptions{}))
	assert.Empty(t, user.GetQualifiedSegments())
}

func TestSetQualifiedSegments(t *testing.T) {
	client, _ := newTestClient(t)
	user := client.CreateUserContext("u1", nil)

	user.SetQualifiedSegments([]string{"segment-a"})
	assert.Equal(t, []string{"segment-a"}, user.GetQualifiedSegments())

	snapshot := user.snapshot()
	assert.Equal(t, []string{"segment-a"}, snapshot.QualifiedSegments)
}

func TestSendOdpEvent(t *testing.T) {
	var mu sync.Mutex
	var batches [][]odp.Event
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v3/events", req.URL.Path)
		assert.Equal(t, "odp-public-key", req.Header.Get("x-api-key"))
		body, _ := io.ReadAll(req.Body)
		var batch []odp.Event
		_ = json.Unmarshal(body, &batch)
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	}))
	defer ts.Close()

	datafileJSON := strings.Replace(fixtures.DatafileV4, "https://api.zaius.com", ts.URL, 1)
	dispatcher := &captureDispatcher{}
	client, err := New("sdk-key-1",
		WithDatafile([]byte(datafileJSON)),
		WithEventDispatcher(dispatcher),
	)
	require.NoError(t, err)

	user := client.CreateUserContext("u1", nil)
	require.NoError(t, user.SendOdpEvent("purchase", "", map[string]string{"email": "u1@example.com"}, map[string]interface{}{"total": 12}))
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	event := batches[0][0]
	assert.Equal(t, "fullstack", event.Type)
	assert.Equal(t, "purchase", event.Action)
	assert.Equal(t, "u1", event.Identifiers["fs_user_id"])
	assert.Equal(t, "u1@example.com", event.Identifiers["email"])
	assert.Equal(t, ClientName, event.Data["data_source"])
}

func TestForcedDecisionHelpers(t *testing.T) {
	client, _ := newTestClient(t)
	user := client.CreateUserContext("u1", nil)

	_, ok := user.GetForcedDecision(DecisionContext{FlagKey: "feature_1"})
	assert.False(t, ok)
	assert.False(t, user.RemoveForcedDecision(DecisionContext{FlagKey: "feature_1"}))

	user.SetForcedDecision(DecisionContext{FlagKey: "feature_1"}, "b")
	user.SetForcedDecision(DecisionContext{FlagKey: "feature_1", RuleKey: "exp_1"}, "a")
	assert.True(t, user.RemoveAllForcedDecisions())
	_, ok = user.GetForcedDecision(DecisionContext{FlagKey: "feature_1"})
	assert.False(t, ok)
}

func TestUserContextSnapshotIsolation(t *testing.T) {
	client, _ := newTestClient(t)
	user := client.CreateUserContext("u1", map[string]interface{}{"age": 30})

	snapshot := user.snapshot()
	user.SetAttribute("age", 12)

	assert.Equal(t, 30, snapshot.Attributes["age"])
	assert.Equal(t, 12, user.GetAttributes()["age"])
}
