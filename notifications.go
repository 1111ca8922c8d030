package featurekit

import (
	"sync"
)

// Notification topics. Activate is kept for API compatibility; activation
// is reported through Decision notifications.
const (
	TopicActivate     = "ACTIVATE"
	TopicTrack        = "TRACK"
	TopicDecision     = "DECISION"
	TopicConfigUpdate = "OPTIMIZELY_CONFIG_UPDATE"
	TopicLogEvent     = "LOG_EVENT"
)

// Decision notification types.
const (
	DecisionTypeABTest      = "ab-test"
	DecisionTypeFeature     = "feature"
	DecisionTypeFeatureTest = "feature-test"
	DecisionTypeFlag        = "flag"
)

// DecisionNotification describes one decision taken for a user.
type DecisionNotification struct {
	Type         string
	UserID       string
	Attributes   map[string]interface{}
	FlagKey      string
	RuleKey      string
	VariationKey string
	Enabled      bool
	Source       string
	Reasons      []string
}

// TrackNotification describes one conversion reported for a user.
type TrackNotification struct {
	EventKey   string
	UserID     string
	Attributes map[string]interface{}
	EventTags  map[string]interface{}
}

// LogEventNotification fires just before a batch is handed to the
// dispatcher.
type LogEventNotification struct {
	Event LogEvent
}

// ConfigUpdateNotification fires when a new datafile revision becomes
// active.
type ConfigUpdateNotification struct {
	Revision string
}

// NotificationCenter fans out SDK events to registered listeners. Topics are
// strongly typed; listeners are registered per topic and removed by the id
// returned at registration.
type NotificationCenter struct {
	mu     sync.RWMutex
	nextID int

	decisionListeners     map[int]func(DecisionNotification)
	trackListeners        map[int]func(TrackNotification)
	logEventListeners     map[int]func(LogEventNotification)
	configUpdateListeners map[int]func(ConfigUpdateNotification)
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{
		decisionListeners:     make(map[int]func(DecisionNotification)),
		trackListeners:        make(map[int]func(TrackNotification)),
		logEventListeners:     make(map[int]func(LogEventNotification)),
		configUpdateListeners: make(map[int]func(ConfigUpdateNotification)),
	}
}

func (nc *NotificationCenter) AddDecisionListener(fn func(DecisionNotification)) int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.nextID++
	nc.decisionListeners[nc.nextID] = fn
	return nc.nextID
}

func (nc *NotificationCenter) AddTrackListener(fn func(TrackNotification)) int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.nextID++
	nc.trackListeners[nc.nextID] = fn
	return nc.nextID
}

func (nc *NotificationCenter) AddLogEventListener(fn func(LogEventNotification)) int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.nextID++
	nc.logEventListeners[nc.nextID] = fn
	return nc.nextID
}

func (nc *NotificationCenter) AddConfigUpdateListener(fn func(ConfigUpdateNotification)) int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.nextID++
	nc.configUpdateListeners[nc.nextID] = fn
	return nc.nextID
}

// RemoveListener drops the listener with the given id from whichever topic
// it was registered on.
func (nc *NotificationCenter) RemoveListener(id int) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	for _, listeners := range []interface{ remove(int) bool }{
		mapRemover[DecisionNotification]{nc.decisionListeners},
		mapRemover[TrackNotification]{nc.trackListeners},
		mapRemover[LogEventNotification]{nc.logEventListeners},
		mapRemover[ConfigUpdateNotification]{nc.configUpdateListeners},
	} {
		if listeners.remove(id) {
			return true
		}
	}
	return false
}

type mapRemover[T any] struct {
	listeners map[int]func(T)
}

func (m mapRemover[T]) remove(id int) bool {
	if _, ok := m.listeners[id]; ok {
		delete(m.listeners, id)
		return true
	}
	return false
}

func (nc *NotificationCenter) sendDecision(n DecisionNotification) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	for _, fn := range nc.decisionListeners {
		fn(n)
	}
}

func (nc *NotificationCenter) sendTrack(n TrackNotification) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	for _, fn := range nc.trackListeners {
		fn(n)
	}
}

func (nc *NotificationCenter) sendLogEvent(n LogEventNotification) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	for _, fn := range nc.logEventListeners {
		fn(n)
	}
}

func (nc *NotificationCenter) sendConfigUpdate(n ConfigUpdateNotification) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	for _, fn := range nc.configUpdateListeners {
		fn(n)
	}
}
