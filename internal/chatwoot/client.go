// Package chatwoot posts internal notes and public replies to Chatwoot conversations.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

const defaultUserAgent = "support-hitl/0.1"

// Config controls how the Chatwoot client behaves.
type Config struct {
	BaseURL    string
	AccountID  string
	APIToken   string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Chatwoot message endpoints.
type Client struct {
	baseURL    string
	accountID  string
	apiToken   string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("chatwoot: status %d", e.StatusCode)
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("chatwoot: status %d: %s", e.StatusCode, body)
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatwoot: base url is required")
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errors.New("chatwoot: account id is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("chatwoot: api token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    baseURL,
		accountID:  strings.TrimSpace(cfg.AccountID),
		apiToken:   cfg.APIToken,
		httpClient: httpClient,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    backoff,
		logger:     logger,
	}, nil
}

type messageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

type messageResponse struct {
	ID json.Number `json:"id"`
}

// retryPolicy decides which failures a request may be repeated after.
type retryPolicy int

const (
	// retryTransient repeats on transport errors, 429 and 5xx.
	retryTransient retryPolicy = iota
	// retryRejected repeats only on 429, where the server refused the request
	// without processing it. A 5xx or dropped connection may still have
	// delivered the message.
	retryRejected
)

// PostPrivateNote adds an agent-only note and returns the new message id.
func (c *Client) PostPrivateNote(ctx context.Context, conversationID, content string) (string, error) {
	return c.postMessage(ctx, conversationID, messageRequest{Content: content, MessageType: "outgoing", Private: true}, retryTransient)
}

// SendPublicReply sends a customer-visible message and returns its id. It is
// never repeated after an ambiguous failure, so a customer sees it at most once.
func (c *Client) SendPublicReply(ctx context.Context, conversationID, content string) (string, error) {
	return c.postMessage(ctx, conversationID, messageRequest{Content: content, MessageType: "outgoing"}, retryRejected)
}

func (c *Client) postMessage(ctx context.Context, conversationID string, msg messageRequest, policy retryPolicy) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("chatwoot: conversation id required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return "", errors.New("chatwoot: content required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("chatwoot: marshal message: %w", err)
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/messages", c.accountID, conversationID)
	data, err := c.invoke(ctx, http.MethodPost, path, body, policy)
	if err != nil {
		return "", err
	}
	var resp messageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("chatwoot: decode message response: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("chatwoot: response missing message id")
	}
	return resp.ID.String(), nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte, policy retryPolicy) ([]byte, error) {
	fullURL := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("chatwoot: build request: %w", err)
		}
		req.Header.Set("api_access_token", c.apiToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", defaultUserAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == c.maxRetries || policy == retryRejected {
				return nil, fmt.Errorf("chatwoot: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("chatwoot: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if attempt < c.maxRetries && policy.retries(resp.StatusCode) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("chatwoot: request failed without response")
}

func (p retryPolicy) retries(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return p == retryTransient && status >= 500
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt, status int, err error) {
	c.logger.Warn("chatwoot request failed, retrying",
		"path", path,
		"attempt", strconv.Itoa(attempt+1),
		"status", status,
		"error", err,
	)
}
