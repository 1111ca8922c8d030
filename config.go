package featurekit

import (
	"time"
)

const (
	// Number of seconds to wait for a request to
	// complete before terminating the request.
	DefaultRequestTimeout = 10 * time.Second

	// Default endpoint event batches are POSTed to.
	DefaultEventEndpoint = "https://logx.optimizely.com/v1/events"

	// Default datafile locations; the authenticated variant requires a
	// datafile access token.
	DefaultDatafileURLTemplate     = "https://cdn.optimizely.com/datafiles/%s.json"
	DefaultAuthDatafileURLTemplate = "https://config.optimizely.com/datafiles/auth/%s.json"

	// Datafile polling defaults.
	DefaultPollingInterval = 5 * time.Minute
	DefaultBlockTimeout    = 10 * time.Second

	// Event batching defaults.
	DefaultEventQueueSize     = 1000
	DefaultEventBatchSize     = 10
	DefaultEventFlushInterval = 30 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
)
