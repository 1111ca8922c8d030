package featurekit

import (
	"log/slog"
	"time"

	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/odp"
)

// Option configures a Client at construction time.
type Option func(*clientSettings)

type clientSettings struct {
	datafile             []byte
	pollingInterval      time.Duration
	datafileAccessToken  string
	schemaValidation     bool
	blockTimeout         time.Duration
	configManager        ConfigManager
	dispatcher           EventDispatcher
	processorOpts        []ProcessorOption
	userProfileService   decisionengine.UserProfileService
	cmabService          decisionengine.CmabService
	segmentsCache        odp.Cache
	logger               *slog.Logger
	errorHandler         ErrorHandler
	defaultDecideOptions []DecideOption
}

// WithDatafile initialises the client from a datafile literal instead of
// polling the CDN.
func WithDatafile(datafileJSON []byte) Option {
	return func(s *clientSettings) {
		s.datafile = datafileJSON
	}
}

// WithPollingInterval overrides the datafile poll interval.
func WithPollingInterval(interval time.Duration) Option {
	return func(s *clientSettings) {
		s.pollingInterval = interval
	}
}

// WithDatafileAccessToken fetches the datafile from the authenticated host.
func WithDatafileAccessToken(token string) Option {
	return func(s *clientSettings) {
		s.datafileAccessToken = token
	}
}

// WithSchemaValidation checks fetched datafiles against the JSON schema
// before accepting them.
func WithSchemaValidation() Option {
	return func(s *clientSettings) {
		s.schemaValidation = true
	}
}

// WithBlockTimeout bounds how long the first decision call waits for the
// initial datafile.
func WithBlockTimeout(timeout time.Duration) Option {
	return func(s *clientSettings) {
		s.blockTimeout = timeout
	}
}

// WithConfigManager installs a custom config source.
func WithConfigManager(manager ConfigManager) Option {
	return func(s *clientSettings) {
		s.configManager = manager
	}
}

// WithEventDispatcher installs a custom event sink.
func WithEventDispatcher(dispatcher EventDispatcher) Option {
	return func(s *clientSettings) {
		s.dispatcher = dispatcher
	}
}

// WithEventProcessorOptions tunes the batch event processor.
func WithEventProcessorOptions(opts ...ProcessorOption) Option {
	return func(s *clientSettings) {
		s.processorOpts = append(s.processorOpts, opts...)
	}
}

// WithUserProfileService enables sticky bucketing.
func WithUserProfileService(ups decisionengine.UserProfileService) Option {
	return func(s *clientSettings) {
		s.userProfileService = ups
	}
}

// WithCmabService routes bandit experiments through a custom decision
// source.
func WithCmabService(service decisionengine.CmabService) Option {
	return func(s *clientSettings) {
		s.cmabService = service
	}
}

// WithSegmentsCache replaces the default in-process LRU used for qualified
// segment fetches.
func WithSegmentsCache(cache odp.Cache) Option {
	return func(s *clientSettings) {
		s.segmentsCache = cache
	}
}

// WithLogger routes SDK logs to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *clientSettings) {
		s.logger = logger
	}
}

// WithErrorHandler receives swallowed non-fatal errors.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(s *clientSettings) {
		s.errorHandler = handler
	}
}

// WithDefaultDecideOptions applies the given options to every Decide call.
func WithDefaultDecideOptions(opts ...DecideOption) Option {
	return func(s *clientSettings) {
		s.defaultDecideOptions = append(s.defaultDecideOptions, opts...)
	}
}
