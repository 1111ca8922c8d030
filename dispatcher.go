package featurekit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

// EventDispatcher delivers a fully-built event payload to the collector.
// Implementations must not retry forever: a failed dispatch is logged and
// the batch is dropped.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, event LogEvent) error
}

// HTTPEventDispatcher POSTs event batches with a shared resty client.
type HTTPEventDispatcher struct {
	client *resty.Client
	logger *slog.Logger
}

func NewHTTPEventDispatcher(logger *slog.Logger) *HTTPEventDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(DefaultRequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", userAgent())
	client.OnAfterResponse(newHTTPLogMiddleware(logger, "event-dispatch"))
	return &HTTPEventDispatcher{client: client, logger: logger}
}

func (d *HTTPEventDispatcher) DispatchEvent(ctx context.Context, event LogEvent) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(event.Event).
		Post(event.EndPoint)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("event dispatch received error response %d %s", resp.StatusCode(), resp.Status())
	}
	return nil
}
