package featurekit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

// configStore publishes the currently-active project config. Readers take a
// snapshot through an atomic pointer load; an update swaps the whole
// immutable config in one release-store.
type configStore struct {
	current atomic.Pointer[datafile.ProjectConfig]

	readyOnce sync.Once
	ready     chan struct{}
}

func newConfigStore() *configStore {
	return &configStore{ready: make(chan struct{})}
}

// get returns the active config snapshot, or nil before the first set.
func (s *configStore) get() *datafile.ProjectConfig {
	return s.current.Load()
}

func (s *configStore) set(config *datafile.ProjectConfig) {
	s.current.Store(config)
	s.readyOnce.Do(func() { close(s.ready) })
}

// waitReady blocks until a first config was published, bounded by timeout.
func (s *configStore) waitReady(timeout time.Duration) bool {
	select {
	case <-s.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}
