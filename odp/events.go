package odp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Event is one behavioural event sent to the segment platform.
type Event struct {
	Type        string                 `json:"type"`
	Action      string                 `json:"action"`
	Identifiers map[string]string      `json:"identifiers"`
	Data        map[string]interface{} `json:"data"`
}

const (
	defaultEventType   = "fullstack"
	eventBatchSize     = 10
	eventFlushInterval = time.Second
	identifyAction     = "identified"
)

// EventManager batches events to the segment platform on a background
// goroutine; sends never block the caller.
type EventManager struct {
	client *resty.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending []pendingEvent
	started bool
	cancel  context.CancelFunc

	clientName    string
	clientVersion string
}

type pendingEvent struct {
	config Config
	event  Event
}

func NewEventManager(logger *slog.Logger, clientName, clientVersion string) *EventManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventManager{
		client:        resty.New().SetTimeout(10 * time.Second),
		logger:        logger,
		clientName:    clientName,
		clientVersion: clientVersion,
	}
}

// Start launches the flusher; it runs until ctx is cancelled.
func (m *EventManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop flushes pending events and halts the flusher.
func (m *EventManager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.flush()
}

// Send enqueues one event, filling in the identity and data defaults the
// platform expects.
func (m *EventManager) Send(config Config, event Event) error {
	if !config.Integrated() {
		return ErrNotIntegrated
	}
	if event.Type == "" {
		event.Type = defaultEventType
	}
	if event.Identifiers == nil {
		event.Identifiers = map[string]string{}
	}
	data := map[string]interface{}{
		"idempotence_id":      uuid.New().String(),
		"data_source_type":    "sdk",
		"data_source":         m.clientName,
		"data_source_version": m.clientVersion,
	}
	for k, v := range event.Data {
		data[k] = v
	}
	event.Data = data

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, pendingEvent{config: config, event: event})
	return nil
}

// Identify reports a user id to the platform, establishing the identifier
// used for segment qualification.
func (m *EventManager) Identify(config Config, userID string) error {
	return m.Send(config, Event{
		Type:        defaultEventType,
		Action:      identifyAction,
		Identifiers: map[string]string{userKey: userID},
	})
}

func (m *EventManager) run(ctx context.Context) {
	ticker := time.NewTicker(eventFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.flush()
		case <-ctx.Done():
			return
		}
	}
}

func (m *EventManager) flush() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	// Group by destination so one flush can span a datafile update.
	for len(pending) > 0 {
		config := pending[0].config
		var batch []Event
		var rest []pendingEvent
		for _, pe := range pending {
			if pe.config.APIHost == config.APIHost && pe.config.APIKey == config.APIKey && len(batch) < eventBatchSize {
				batch = append(batch, pe.event)
			} else {
				rest = append(rest, pe)
			}
		}
		pending = rest
		m.dispatch(config, batch)
	}
}

func (m *EventManager) dispatch(config Config, batch []Event) {
	resp, err := m.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", config.APIKey).
		SetBody(batch).
		Post(strings.TrimSuffix(config.APIHost, "/") + "/v3/events")
	if err != nil {
		m.logger.Warn("odp event dispatch failed", "error", err)
		return
	}
	if resp.IsError() {
		m.logger.Warn(fmt.Sprintf("odp event dispatch received error response %d", resp.StatusCode()))
	}
}
