package featurekit

import (
	"log/slog"

	"github.com/go-resty/resty/v2"
)

// newHTTPLogMiddleware returns a resty response hook that logs every
// request this SDK makes under a component tag (datafile fetch, event
// dispatch), using resty's own request timing. Error responses are logged
// at warning; the callers decide whether they are fatal to the operation.
func newHTTPLogMiddleware(logger *slog.Logger, component string) resty.ResponseMiddleware {
	return func(_ *resty.Client, resp *resty.Response) error {
		reqLogger := logger.With(
			slog.String("component", component),
			slog.String("method", resp.Request.Method),
			slog.String("url", resp.Request.URL),
			slog.Int("status", resp.StatusCode()),
			slog.Duration("duration", resp.Time()),
			slog.Int64("content_length", resp.Size()),
		)
		if resp.IsError() {
			reqLogger.Warn("request returned error response")
		} else {
			reqLogger.Debug("request completed")
		}
		return nil
	}
}
