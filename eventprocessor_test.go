package featurekit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []LogEvent
	err    error
}

func (d *captureDispatcher) DispatchEvent(_ context.Context, event LogEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *captureDispatcher) batches() []LogEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LogEvent(nil), d.events...)
}

func (d *captureDispatcher) visitorCount() int {
	total := 0
	for _, event := range d.batches() {
		total += len(event.Event.Visitors)
	}
	return total
}

func impression(context EventContext, userID string) UserEvent {
	return UserEvent{
		Context:   context,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
		UUID:      "00000000-0000-4000-8000-000000000000",
		Impression: &ImpressionDetails{
			LayerID:  "layer-1",
			RuleType: "feature-test",
		},
	}
}

var testContext = EventContext{
	AccountID:     "12001",
	ProjectID:     "111001",
	Revision:      "42",
	ClientName:    ClientName,
	ClientVersion: ClientVersion,
}

func TestProcessorFlushesOnBatchSize(t *testing.T) {
	dispatcher := &captureDispatcher{}
	processor := NewBatchEventProcessor(dispatcher, slog.Default(), WithBatchSize(2), WithFlushInterval(time.Hour))
	defer processor.Stop()

	processor.Process(impression(testContext, "u1"))
	processor.Process(impression(testContext, "u2"))

	require.Eventually(t, func() bool { return dispatcher.visitorCount() == 2 }, time.Second, 10*time.Millisecond)
	batches := dispatcher.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "12001", batches[0].Event.AccountID)
	assert.Equal(t, DefaultEventEndpoint, batches[0].EndPoint)
}

func TestProcessorFlushesOnInterval(t *testing.T) {
	dispatcher := &captureDispatcher{}
	processor := NewBatchEventProcessor(dispatcher, slog.Default(), WithFlushInterval(30*time.Millisecond))
	defer processor.Stop()

	processor.Process(impression(testContext, "u1"))
	require.Eventually(t, func() bool { return dispatcher.visitorCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProcessorFlushSignal(t *testing.T) {
	dispatcher := &captureDispatcher{}
	processor := NewBatchEventProcessor(dispatcher, slog.Default(), WithFlushInterval(time.Hour))
	defer processor.Stop()

	processor.Process(impression(testContext, "u1"))
	processor.Flush()
	require.Eventually(t, func() bool { return dispatcher.visitorCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProcessorSplitsBatchOnContextChange(t *testing.T) {
	dispatcher := &captureDispatcher{}
	processor := NewBatchEventProcessor(dispatcher, slog.Default(), WithBatchSize(10), WithFlushInterval(time.Hour))

	newRevision := testContext
	newRevision.Revision = "43"

	processor.Process(impression(testContext, "u1"))
	processor.Process(impression(testContext, "u2"))
	processor.Process(impression(newRevision, "u3"))
	processor.Stop()

	batches := dispatcher.batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "42", batches[0].Event.Revision)
	assert.Len(t, batches[0].Event.Visitors, 2)
	assert.Equal(t, "43", batches[1].Event.Revision)
	assert.Len(t, batches[1].Event.Visitors, 1)
}

func TestProcessorShutdownFlushesPendingEvents(t *testing.T) {
	dispatcher := &captureDispatcher{}
	processor := NewBatchEventProcessor(dispatcher, slog.Default(), WithBatchSize(100), WithFlushInterval(time.Hour))

	for i := 0; i < 7; i++ {
		processor.Process(impression(testContext, "user"))
	}
	processor.Stop()

	assert.Equal(t, 7, dispatcher.visitorCount())
}

func TestProcessorDropsOnFullQueue(t *testing.T) {
	var dropped []error
	dispatcher := &captureDispatcher{}

	processor := NewBatchEventProcessor(dispatcher, slog.Default(),
		WithQueueSize(1),
		WithBatchSize(100),
		WithFlushInterval(time.Hour),
		withProcessorErrorHandler(func(err error) { dropped = append(dropped, err) }),
	)

	// With the consumer stopped, the queue fills up and overflow is
	// dropped instead of blocking the producer.
	processor.Stop()
	processor.Process(impression(testContext, "u1"))
	processor.Process(impression(testContext, "u2"))

	require.Len(t, dropped, 1)
	assert.ErrorIs(t, dropped[0], ErrEventQueueFull)
}

func TestProcessorDispatchFailureIsSwallowed(t *testing.T) {
	dispatcher := &captureDispatcher{err: assert.AnError}
	var handled []error
	processor := NewBatchEventProcessor(dispatcher, slog.Default(),
		WithBatchSize(1),
		withProcessorErrorHandler(func(err error) { handled = append(handled, err) }),
	)

	processor.Process(impression(testContext, "u1"))
	processor.Stop()

	require.Eventually(t, func() bool { return dispatcher.visitorCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, handled)
}
