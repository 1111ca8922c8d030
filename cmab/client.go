// Package cmab calls the contextual-bandit prediction service that assigns
// variations for bandit experiments.
package cmab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultPredictionEndpoint is the prediction URL template, keyed by
	// rule id.
	DefaultPredictionEndpoint = "https://prediction.cmab.optimizely.com/predict/%s"

	defaultRequestTimeout = 10 * time.Second
	defaultRetryCount     = 3
	defaultRetryWait      = 100 * time.Millisecond
)

// Attribute is one attribute forwarded to the predictor.
type Attribute struct {
	ID    string      `json:"id"`
	Value interface{} `json:"value"`
	Type  string      `json:"type"`
}

type predictionRequest struct {
	Instances []instance `json:"instances"`
}

type instance struct {
	VisitorID    string      `json:"visitorId"`
	ExperimentID string      `json:"experimentId"`
	Attributes   []Attribute `json:"attributes"`
	CmabUUID     string      `json:"cmabUUID"`
}

type predictionResponse struct {
	Predictions []struct {
		VariationID string `json:"variation_id"`
	} `json:"predictions"`
}

// Client fetches predictions over HTTP with bounded retries.
type Client struct {
	client   *resty.Client
	endpoint string
	logger   *slog.Logger
}

// ClientOption configures a prediction Client.
type ClientOption func(*Client)

func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func WithRetries(count int, waitTime time.Duration) ClientOption {
	return func(c *Client) {
		c.client.SetRetryCount(count)
		c.client.SetRetryWaitTime(waitTime)
	}
}

func NewClient(logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client: resty.New().
			SetTimeout(defaultRequestTimeout).
			SetRetryCount(defaultRetryCount).
			SetRetryWaitTime(defaultRetryWait),
		endpoint: DefaultPredictionEndpoint,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDecision asks the predictor for a variation id.
func (c *Client) FetchDecision(ctx context.Context, ruleID, userID string, attributes []Attribute, cmabUUID string) (string, error) {
	body := predictionRequest{
		Instances: []instance{{
			VisitorID:    userID,
			ExperimentID: ruleID,
			Attributes:   attributes,
			CmabUUID:     cmabUUID,
		}},
	}

	var parsed predictionResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		Post(fmt.Sprintf(c.endpoint, ruleID))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("cmab prediction received error response %d", resp.StatusCode())
	}
	if len(parsed.Predictions) == 0 || parsed.Predictions[0].VariationID == "" {
		return "", fmt.Errorf("cmab prediction response contained no variation")
	}
	return parsed.Predictions[0].VariationID, nil
}
