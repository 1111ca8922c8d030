package featurekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/featurekit/featurekit-go-client/cmab"
	"github.com/featurekit/featurekit-go-client/decisionengine"
	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
	"github.com/featurekit/featurekit-go-client/odp"
)

// Client is the SDK façade. All methods are safe for concurrent use; every
// decision executes against a single immutable datafile snapshot.
type Client struct {
	configManager   ConfigManager
	decisionService *decisionengine.Service
	eventProcessor  EventProcessor
	notifications   *NotificationCenter
	segmentManager  *odp.SegmentManager
	odpEvents       *odp.EventManager
	logger          *slog.Logger
	errorHandler    ErrorHandler

	defaultDecideOptions []DecideOption
	blockTimeout         time.Duration

	cancel context.CancelFunc
}

// New builds a client for the given SDK key. Without WithDatafile, the
// datafile is polled from the CDN in the background; the first decision
// call blocks until it arrives, bounded by the block timeout.
func New(sdkKey string, options ...Option) (*Client, error) {
	settings := clientSettings{
		blockTimeout: DefaultBlockTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(&settings)
	}

	logger := settings.logger
	notifications := NewNotificationCenter()
	ctx, cancel := context.WithCancel(context.Background())

	var datafileOpts []datafile.Option
	if settings.schemaValidation {
		datafileOpts = append(datafileOpts, datafile.WithSchemaValidation())
	}

	configManager := settings.configManager
	if configManager == nil {
		if settings.datafile != nil {
			static, err := NewStaticConfigManager(settings.datafile, datafileOpts...)
			if err != nil {
				cancel()
				return nil, err
			}
			configManager = static
		} else {
			pollingOpts := []pollingOption{
				withConfigUpdateHook(func(revision string) {
					notifications.sendConfigUpdate(ConfigUpdateNotification{Revision: revision})
				}),
				withDatafileOptions(datafileOpts...),
			}
			if settings.pollingInterval > 0 {
				pollingOpts = append(pollingOpts, withPollingInterval(settings.pollingInterval))
			}
			if settings.datafileAccessToken != "" {
				pollingOpts = append(pollingOpts, withDatafileAccessToken(sdkKey, settings.datafileAccessToken))
			}
			configManager = NewPollingConfigManager(ctx, sdkKey, logger, pollingOpts...)
		}
	}

	dispatcher := settings.dispatcher
	if dispatcher == nil {
		dispatcher = NewHTTPEventDispatcher(logger)
	}
	processorOpts := append([]ProcessorOption{
		withProcessorErrorHandler(settings.errorHandler),
		withLogEventHook(func(event LogEvent) {
			notifications.sendLogEvent(LogEventNotification{Event: event})
		}),
	}, settings.processorOpts...)
	eventProcessor := NewBatchEventProcessor(dispatcher, logger, processorOpts...)

	cmabService := settings.cmabService
	if cmabService == nil {
		cmabService = cmab.NewService(nil, logger)
	}
	serviceOpts := []decisionengine.ServiceOption{decisionengine.WithCmabService(cmabService)}
	if settings.userProfileService != nil {
		serviceOpts = append(serviceOpts, decisionengine.WithUserProfileService(settings.userProfileService))
	}

	odpEvents := odp.NewEventManager(logger, ClientName, ClientVersion)
	odpEvents.Start(ctx)

	client := &Client{
		configManager:        configManager,
		decisionService:      decisionengine.NewService(logger, serviceOpts...),
		eventProcessor:       eventProcessor,
		notifications:        notifications,
		segmentManager:       odp.NewSegmentManager(settings.segmentsCache, nil, logger),
		odpEvents:            odpEvents,
		logger:               logger,
		errorHandler:         settings.errorHandler,
		defaultDecideOptions: settings.defaultDecideOptions,
		blockTimeout:         settings.blockTimeout,
		cancel:               cancel,
	}
	return client, nil
}

// NotificationCenter exposes listener registration.
func (c *Client) NotificationCenter() *NotificationCenter {
	return c.notifications
}

// Close stops background work and flushes pending events, bounded by the
// processor's shutdown timeout.
func (c *Client) Close() {
	c.cancel()
	c.odpEvents.Stop()
	if processor, ok := c.eventProcessor.(*BatchEventProcessor); ok {
		processor.Stop()
	}
}

// getConfig returns the active snapshot, waiting for the first datafile
// when the config manager is still loading.
func (c *Client) getConfig() (*datafile.ProjectConfig, error) {
	config, err := c.configManager.GetConfig()
	if err == nil {
		return config, nil
	}
	if waiter, ok := c.configManager.(interface{ WaitUntilReady(time.Duration) bool }); ok {
		if waiter.WaitUntilReady(c.blockTimeout) {
			return c.configManager.GetConfig()
		}
	}
	return nil, err
}

// Activate buckets the user into the experiment, sends an impression for a
// successful decision, and returns the variation key.
func (c *Client) Activate(experimentKey, userID string, attributes map[string]interface{}) (string, error) {
	variationKey, config, experiment, err := c.getVariation(experimentKey, userID, attributes)
	if err != nil || variationKey == "" {
		return variationKey, err
	}

	variation := experiment.VariationByKey(variationKey)
	decision := decisionengine.FeatureDecision{
		Experiment: experiment,
		Variation:  variation,
		Source:     decisionengine.SourceExperiment,
	}
	c.eventProcessor.Process(newImpressionEvent(config, decision, "", userID, attributes))
	c.notifications.sendDecision(DecisionNotification{
		Type:         DecisionTypeABTest,
		UserID:       userID,
		Attributes:   attributes,
		RuleKey:      experimentKey,
		VariationKey: variationKey,
		Source:       string(decisionengine.SourceExperiment),
	})
	return variationKey, nil
}

// GetVariation behaves like Activate without sending an impression.
func (c *Client) GetVariation(experimentKey, userID string, attributes map[string]interface{}) (string, error) {
	variationKey, _, _, err := c.getVariation(experimentKey, userID, attributes)
	return variationKey, err
}

func (c *Client) getVariation(experimentKey, userID string, attributes map[string]interface{}) (string, *datafile.ProjectConfig, *datafile.Experiment, error) {
	if userID == "" {
		return "", nil, nil, fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	config, err := c.getConfig()
	if err != nil {
		return "", nil, nil, err
	}
	experiment := config.ExperimentByKey(experimentKey)
	if experiment == nil {
		return "", nil, nil, fmt.Errorf("%w: experiment %q not found", ErrInvalidInput, experimentKey)
	}

	user := decisionengine.UserContext{ID: userID, Attributes: attributes}
	variation, _ := c.decisionService.GetVariation(config, experiment, user, decisionengine.Options{})
	if variation == nil {
		return "", config, experiment, nil
	}
	return variation.Key, config, experiment, nil
}

// Track reports a conversion for the event key.
func (c *Client) Track(eventKey, userID string, attributes map[string]interface{}, eventTags map[string]interface{}) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	config, err := c.getConfig()
	if err != nil {
		return err
	}
	eventDefinition := config.EventByKey(eventKey)
	if eventDefinition == nil {
		c.logger.Warn("not tracking user: event key not found in datafile", "eventKey", eventKey, "userID", userID)
		return fmt.Errorf("%w: event %q not found", ErrInvalidInput, eventKey)
	}

	c.eventProcessor.Process(newConversionEvent(config, eventDefinition, userID, attributes, eventTags))
	c.notifications.sendTrack(TrackNotification{
		EventKey:   eventKey,
		UserID:     userID,
		Attributes: attributes,
		EventTags:  eventTags,
	})
	return nil
}

// IsFeatureEnabled reports whether the flag is on for the user, sending an
// impression under the same rules as Decide.
func (c *Client) IsFeatureEnabled(flagKey, userID string, attributes map[string]interface{}) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	config, err := c.getConfig()
	if err != nil {
		return false, err
	}
	if config.FeatureByKey(flagKey) == nil {
		return false, fmt.Errorf("%w: feature flag %q not found", ErrInvalidInput, flagKey)
	}

	user := decisionengine.UserContext{ID: userID, Attributes: attributes}
	decision := c.decide(user, flagKey, []DecideOption{ExcludeVariables})
	return decision.Enabled, nil
}

// GetEnabledFeatures lists the flag keys enabled for the user.
func (c *Client) GetEnabledFeatures(userID string, attributes map[string]interface{}) ([]string, error) {
	config, err := c.getConfig()
	if err != nil {
		return nil, err
	}

	user := decisionengine.UserContext{ID: userID, Attributes: attributes}
	var enabled []string
	for _, flag := range config.Features() {
		if decision := c.decide(user, flag.Key, []DecideOption{ExcludeVariables, DisableDecisionEvent}); decision.Enabled {
			enabled = append(enabled, flag.Key)
		}
	}
	return enabled, nil
}

func (c *Client) GetFeatureVariableString(flagKey, variableKey, userID string, attributes map[string]interface{}) (string, error) {
	value, err := c.getFeatureVariable(flagKey, variableKey, userID, attributes, datafile.VariableTypeString)
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (c *Client) GetFeatureVariableBoolean(flagKey, variableKey, userID string, attributes map[string]interface{}) (bool, error) {
	value, err := c.getFeatureVariable(flagKey, variableKey, userID, attributes, datafile.VariableTypeBoolean)
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

func (c *Client) GetFeatureVariableInteger(flagKey, variableKey, userID string, attributes map[string]interface{}) (int, error) {
	value, err := c.getFeatureVariable(flagKey, variableKey, userID, attributes, datafile.VariableTypeInteger)
	if err != nil {
		return 0, err
	}
	return value.(int), nil
}

func (c *Client) GetFeatureVariableDouble(flagKey, variableKey, userID string, attributes map[string]interface{}) (float64, error) {
	value, err := c.getFeatureVariable(flagKey, variableKey, userID, attributes, datafile.VariableTypeDouble)
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

func (c *Client) GetFeatureVariableJSON(flagKey, variableKey, userID string, attributes map[string]interface{}) (map[string]interface{}, error) {
	value, err := c.getFeatureVariable(flagKey, variableKey, userID, attributes, datafile.VariableTypeJSON)
	if err != nil {
		return nil, err
	}
	return value.(map[string]interface{}), nil
}

func (c *Client) getFeatureVariable(flagKey, variableKey, userID string, attributes map[string]interface{}, expectedType string) (interface{}, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	config, err := c.getConfig()
	if err != nil {
		return nil, err
	}
	flag := config.FeatureByKey(flagKey)
	if flag == nil {
		return nil, fmt.Errorf("%w: feature flag %q not found", ErrInvalidInput, flagKey)
	}
	variable := flag.VariableByKey(variableKey)
	if variable == nil {
		return nil, fmt.Errorf("%w: variable %q not found in flag %q", ErrInvalidInput, variableKey, flagKey)
	}
	if variable.EffectiveType() != expectedType {
		c.logger.Warn("variable requested with the wrong type",
			"variableKey", variableKey, "declared", variable.EffectiveType(), "requested", expectedType)
		return nil, fmt.Errorf("%w: variable %q is of type %s", ErrVariableTypeMismatch, variableKey, variable.EffectiveType())
	}

	user := decisionengine.UserContext{ID: userID, Attributes: attributes}
	decision, _ := c.decisionService.GetVariationForFeature(config, flag, user, decisionengine.Options{})
	return resolveVariableValue(variable, decision), nil
}

// GetAllFeatureVariables resolves every variable of the flag for the user,
// each coerced to its declared type.
func (c *Client) GetAllFeatureVariables(flagKey, userID string, attributes map[string]interface{}) (map[string]interface{}, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is empty", ErrInvalidInput)
	}
	config, err := c.getConfig()
	if err != nil {
		return nil, err
	}
	flag := config.FeatureByKey(flagKey)
	if flag == nil {
		return nil, fmt.Errorf("%w: feature flag %q not found", ErrInvalidInput, flagKey)
	}

	user := decisionengine.UserContext{ID: userID, Attributes: attributes}
	decision, _ := c.decisionService.GetVariationForFeature(config, flag, user, decisionengine.Options{})
	return resolveAllVariables(flag, decision), nil
}

// decide is the core flag decision used by user contexts.
func (c *Client) decide(user decisionengine.UserContext, flagKey string, opts []DecideOption) Decision {
	options := resolveDecideOptions(c.defaultDecideOptions, opts)
	decision := Decision{FlagKey: flagKey}

	config, err := c.getConfig()
	if err != nil {
		decision.Reasons = []string{err.Error()}
		return decision
	}
	flag := config.FeatureByKey(flagKey)
	if flag == nil {
		message := fmt.Sprintf("No flag was found for key %q.", flagKey)
		c.logger.Warn(message)
		decision.Reasons = []string{message}
		return decision
	}

	featureDecision, reasons := c.decisionService.GetVariationForFeature(config, flag, user, options.engine)
	decision.RuleKey = featureDecision.RuleKey()
	if featureDecision.Variation != nil {
		decision.VariationKey = featureDecision.Variation.Key
		decision.Enabled = featureDecision.Variation.FeatureEnabled
	}
	if !options.excludeVariables {
		decision.Variables = resolveAllVariables(flag, featureDecision)
	}
	if options.includeReasons {
		decision.Reasons = reasons
	}

	if !options.disableDecisionEvent && shouldSendImpression(config, featureDecision) {
		c.eventProcessor.Process(newImpressionEvent(config, featureDecision, flagKey, user.ID, user.Attributes))
	}
	c.notifications.sendDecision(DecisionNotification{
		Type:         DecisionTypeFlag,
		UserID:       user.ID,
		Attributes:   user.Attributes,
		FlagKey:      flagKey,
		RuleKey:      decision.RuleKey,
		VariationKey: decision.VariationKey,
		Enabled:      decision.Enabled,
		Source:       string(featureDecision.Source),
		Reasons:      decision.Reasons,
	})
	return decision
}

func (c *Client) decideForKeys(user decisionengine.UserContext, flagKeys []string, opts []DecideOption) map[string]Decision {
	options := resolveDecideOptions(c.defaultDecideOptions, opts)
	decisions := make(map[string]Decision, len(flagKeys))
	for _, flagKey := range flagKeys {
		decision := c.decide(user, flagKey, opts)
		if options.enabledFlagsOnly && !decision.Enabled {
			continue
		}
		decisions[flagKey] = decision
	}
	return decisions
}

func (c *Client) decideAll(user decisionengine.UserContext, opts []DecideOption) map[string]Decision {
	config, err := c.getConfig()
	if err != nil {
		c.logger.Warn("decide all skipped: no config available", "error", err)
		return map[string]Decision{}
	}
	flagKeys := make([]string, 0, len(config.Features()))
	for _, flag := range config.Features() {
		flagKeys = append(flagKeys, flag.Key)
	}
	return c.decideForKeys(user, flagKeys, opts)
}

// shouldSendImpression: feature tests and direct experiments always emit;
// rollouts and holdouts only when the datafile opts in.
func shouldSendImpression(config *datafile.ProjectConfig, decision decisionengine.FeatureDecision) bool {
	switch decision.Source {
	case decisionengine.SourceFeatureTest, decisionengine.SourceExperiment:
		return decision.Variation != nil
	default:
		return config.SendFlagDecisions()
	}
}

func (c *Client) fetchQualifiedSegments(ctx context.Context, userID string, options odp.SegmentOptions) ([]string, error) {
	config, err := c.getConfig()
	if err != nil {
		return nil, err
	}
	return c.segmentManager.FetchQualifiedSegments(ctx, c.odpConfig(config), userID, options)
}

func (c *Client) sendOdpEvent(event odp.Event) error {
	config, err := c.getConfig()
	if err != nil {
		return err
	}
	return c.odpEvents.Send(c.odpConfig(config), event)
}

func (c *Client) odpConfig(config *datafile.ProjectConfig) odp.Config {
	host, publicKey, _ := config.OdpIntegration()
	return odp.Config{
		APIHost:         host,
		APIKey:          publicKey,
		SegmentsToCheck: config.SegmentsToCheck(),
	}
}

// resolveVariableValue applies the variation's override when the decision
// enables the feature, else the flag default, coerced to the declared type.
func resolveVariableValue(variable *datafile.FeatureVariable, decision decisionengine.FeatureDecision) interface{} {
	raw := variable.DefaultValue
	if decision.Variation != nil && decision.Variation.FeatureEnabled {
		if override, ok := decision.Variation.VariableValueByID(variable.ID); ok {
			raw = override
		}
	}
	return convertVariableValue(raw, variable.EffectiveType())
}

func resolveAllVariables(flag *datafile.FeatureFlag, decision decisionengine.FeatureDecision) map[string]interface{} {
	variables := make(map[string]interface{}, len(flag.Variables))
	for _, variable := range flag.Variables {
		variables[variable.Key] = resolveVariableValue(variable, decision)
	}
	return variables
}

// convertVariableValue coerces the string form stored in the datafile to
// the variable's declared type. Unparseable values fall back to zero values
// rather than failing the decision.
func convertVariableValue(raw, variableType string) interface{} {
	switch variableType {
	case datafile.VariableTypeInteger:
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0
		}
		return value
	case datafile.VariableTypeDouble:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return float64(0)
		}
		return value
	case datafile.VariableTypeBoolean:
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return false
		}
		return value
	case datafile.VariableTypeJSON:
		var value map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return map[string]interface{}{}
		}
		return value
	default:
		return raw
	}
}
