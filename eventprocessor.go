package featurekit

import (
	"context"
	"log/slog"
	"time"
)

// EventProcessor accepts user events from decision and tracking calls.
type EventProcessor interface {
	Process(event UserEvent)
}

type processorSignal int

const (
	flushSignal processorSignal = iota
	shutdownSignal
)

// BatchEventProcessor accumulates user events on a single consumer
// goroutine and flushes them to the dispatcher when the batch is full, the
// flush interval since the batch's first event elapses, a flush is requested
// or the processor shuts down. Producers never block: when the queue is full
// the event is dropped and reported through the error handler.
type BatchEventProcessor struct {
	events  chan UserEvent
	signals chan processorSignal
	done    chan struct{}

	batchSize       int
	flushInterval   time.Duration
	shutdownTimeout time.Duration
	endpoint        string

	dispatcher   EventDispatcher
	logger       *slog.Logger
	errorHandler ErrorHandler
	onLogEvent   func(LogEvent)

	batch []UserEvent
}

// ProcessorOption configures a BatchEventProcessor.
type ProcessorOption func(*BatchEventProcessor)

func WithQueueSize(size int) ProcessorOption {
	return func(p *BatchEventProcessor) {
		if size > 0 {
			p.events = make(chan UserEvent, size)
		}
	}
}

func WithBatchSize(size int) ProcessorOption {
	return func(p *BatchEventProcessor) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

func WithFlushInterval(interval time.Duration) ProcessorOption {
	return func(p *BatchEventProcessor) {
		if interval > 0 {
			p.flushInterval = interval
		}
	}
}

func WithShutdownTimeout(timeout time.Duration) ProcessorOption {
	return func(p *BatchEventProcessor) {
		if timeout > 0 {
			p.shutdownTimeout = timeout
		}
	}
}

func WithEventEndpoint(endpoint string) ProcessorOption {
	return func(p *BatchEventProcessor) {
		p.endpoint = endpoint
	}
}

func withProcessorErrorHandler(handler ErrorHandler) ProcessorOption {
	return func(p *BatchEventProcessor) {
		p.errorHandler = handler
	}
}

func withLogEventHook(fn func(LogEvent)) ProcessorOption {
	return func(p *BatchEventProcessor) {
		p.onLogEvent = fn
	}
}

// NewBatchEventProcessor builds the processor and starts its consumer
// goroutine.
func NewBatchEventProcessor(dispatcher EventDispatcher, logger *slog.Logger, opts ...ProcessorOption) *BatchEventProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &BatchEventProcessor{
		events:          make(chan UserEvent, DefaultEventQueueSize),
		signals:         make(chan processorSignal, 2),
		done:            make(chan struct{}),
		batchSize:       DefaultEventBatchSize,
		flushInterval:   DefaultEventFlushInterval,
		shutdownTimeout: DefaultShutdownTimeout,
		endpoint:        DefaultEventEndpoint,
		dispatcher:      dispatcher,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()
	return p
}

// Process enqueues one event without blocking; on a full queue the event is
// dropped and reported.
func (p *BatchEventProcessor) Process(event UserEvent) {
	select {
	case p.events <- event:
	default:
		p.logger.Warn("event queue full, dropping event", "uuid", event.UUID)
		if p.errorHandler != nil {
			p.errorHandler(ErrEventQueueFull)
		}
	}
}

// Flush asks the consumer to dispatch the current batch.
func (p *BatchEventProcessor) Flush() {
	select {
	case p.signals <- flushSignal:
	default:
	}
}

// Stop drains the queue, flushes pending events and joins the consumer,
// bounded by the shutdown timeout.
func (p *BatchEventProcessor) Stop() {
	select {
	case p.signals <- shutdownSignal:
	case <-p.done:
		return
	}
	select {
	case <-p.done:
	case <-time.After(p.shutdownTimeout):
		p.logger.Error("timeout exceeded while stopping event processor", "timeout", p.shutdownTimeout)
	}
}

func (p *BatchEventProcessor) run() {
	defer close(p.done)

	// The timer only runs while a batch is open; it is armed when the first
	// event of a batch arrives.
	timer := time.NewTimer(p.flushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event := <-p.events:
			p.addToBatch(event, timer)
		case sig := <-p.signals:
			// Events already queued belong to the batch being flushed.
			p.drain()
			p.flushBatch()
			if sig == shutdownSignal {
				p.logger.Debug("event processor stopped")
				return
			}
		case <-timer.C:
			p.logger.Debug("flush interval deadline reached")
			p.flushBatch()
		}
	}
}

// drain moves whatever is still queued into the batch before a flush or
// shutdown.
func (p *BatchEventProcessor) drain() {
	for {
		select {
		case event := <-p.events:
			p.addToBatch(event, nil)
		default:
			return
		}
	}
}

// addToBatch appends an event, splitting the batch first when its context
// differs, and flushes once the batch is full. The flush timer runs from the
// first event of each batch.
func (p *BatchEventProcessor) addToBatch(event UserEvent, timer *time.Timer) {
	if len(p.batch) > 0 && p.batch[len(p.batch)-1].Context != event.Context {
		p.logger.Debug("event context changed, flushing current batch")
		p.flushBatch()
	}

	if len(p.batch) == 0 && timer != nil {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.flushInterval)
	}

	p.batch = append(p.batch, event)
	if len(p.batch) >= p.batchSize {
		p.flushBatch()
	}
}

func (p *BatchEventProcessor) flushBatch() {
	if len(p.batch) == 0 {
		return
	}
	events := p.batch
	p.batch = nil

	logEvent, ok := createLogEvent(events, p.endpoint)
	if !ok {
		return
	}
	if p.onLogEvent != nil {
		p.onLogEvent(logEvent)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	if err := p.dispatcher.DispatchEvent(ctx, logEvent); err != nil {
		// No retry: the SDK is stateless across restarts.
		p.logger.Error("error dispatching event batch", "error", err)
		if p.errorHandler != nil {
			p.errorHandler(err)
		}
	}
}
