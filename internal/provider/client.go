package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/go4it/marketplace/internal/metrics"
)

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the number of tries per call and the backoff between them.
func WithRetry(maxTries uint, newBackOff func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.maxTries = maxTries
		c.newBackOff = newBackOff
	}
}

// NewClient creates a provider client limited to ratePerSec sustained
// requests with a burst of twice that.
func NewClient(baseURL, apiKey string, ratePerSec float64, logger zerolog.Logger, opts ...ClientOption) *Client {
	burst := int(ratePerSec * 2)
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		maxTries: 4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: logger.With().Str("component", "provider-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Provider = (*Client)(nil)

func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	var res DeployResult
	if err := c.doJSON(ctx, "deploy", http.MethodPost, "/v1/apps/"+url.PathEscape(req.Name)+"/deploys", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeployDraft(ctx context.Context, req DraftRequest) (*DeployResult, error) {
	var res DeployResult
	if err := c.doJSON(ctx, "deploy_draft", http.MethodPost, "/v1/drafts", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Instance(ctx context.Context, instanceID string) (*Instance, error) {
	var inst Instance
	if err := c.doJSON(ctx, "instance", http.MethodGet, "/v1/instances/"+url.PathEscape(instanceID), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *Client) Destroy(ctx context.Context, instanceID string) error {
	err := c.doJSON(ctx, "destroy", http.MethodDelete, "/v1/instances/"+url.PathEscape(instanceID), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) Fork(ctx context.Context, generatedAppID, orgID string) (string, error) {
	var res struct {
		GeneratedAppID string `json:"generated_app_id"`
	}
	body := map[string]string{"org_id": orgID}
	if err := c.doJSON(ctx, "fork", http.MethodPost, "/v1/generated-apps/"+url.PathEscape(generatedAppID)+"/fork", body, &res); err != nil {
		return "", err
	}
	if res.GeneratedAppID == "" {
		return "", fmt.Errorf("provider fork %s: empty generated app id in response", generatedAppID)
	}
	return res.GeneratedAppID, nil
}

// doJSON sends one logical request, retrying transport errors, 429 and 5xx
// responses with exponential backoff. Every try waits on the rate limiter.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("provider %s: %w", op, err))
		}
		err := c.once(ctx, op, method, path, payload, result)
		var apiErr *APIError
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrNotFound):
			return struct{}{}, backoff.Permanent(err)
		case errors.As(err, &apiErr) && !apiErr.Retryable():
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger.Warn().Err(err).Str("operation", op).Msg("provider request failed, retrying")
		return struct{}{}, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, outcome).Inc()
	return err
}

func (c *Client) once(ctx context.Context, op, method, path string, payload []byte, result any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("provider %s %s: %w", op, path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: e.Error}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}
