package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devimpact/devimpact-cli/internal/models"
	validation "github.com/go-ozzo/ozzo-validation"
)

// RunIDHeader carries the sync run id so the backend can correlate batches
const RunIDHeader = "X-DevImpact-Run-Id"

// ErrUnauthorized is returned when the backend rejects the CLI token
var ErrUnauthorized = errors.New("cli token rejected by backend")

// StatusError is returned for any other non-2xx backend response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// LinkRequest links a CLI token to a GitHub login
type LinkRequest struct {
	Token       string `json:"token"`
	GitHubLogin string `json:"githubLogin"`
}

// LinkResponse is the backend's answer to a link request
type LinkResponse struct {
	OK       bool   `json:"ok"`
	TenantID string `json:"tenantId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Client talks to the DevImpact backend
type Client struct {
	baseURL    string
	token      string
	runID      string
	httpClient *http.Client
}

// New creates a backend client. token may be empty for unauthenticated calls such as Link.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithRunID returns a copy of the client that tags requests with runID
func (c *Client) WithRunID(runID string) *Client {
	cp := *c
	cp.runID = runID
	return &cp
}

// Link registers this machine with the account that issued token
func (c *Client) Link(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	var resp LinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/cli/link", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to link cli: %w", err)
	}
	return &resp, nil
}

// Status fetches the onboarding state and the recommended sync start
func (c *Client) Status(ctx context.Context) (*models.CliStatus, error) {
	var envelope struct {
		Data *models.CliStatus `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/cli/status", nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to get cli status: %w", err)
	}
	if envelope.Data == nil {
		return nil, errors.New("failed to get cli status: response has no data")
	}
	if err := validateStatus(envelope.Data); err != nil {
		return nil, fmt.Errorf("invalid cli status: %w", err)
	}
	return envelope.Data, nil
}

// PushSync uploads one batch of hydrated pull requests
func (c *Client) PushSync(ctx context.Context, payload *models.SyncPayload) error {
	if err := c.do(ctx, http.MethodPost, "/api/cli/sync", payload, nil); err != nil {
		return fmt.Errorf("failed to push sync batch: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.runID != "" {
		req.Header.Set(RunIDHeader, c.runID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(text))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func validateStatus(s *models.CliStatus) error {
	return validation.ValidateStruct(s,
		validation.Field(&s.OnboardingState, validation.Required, validation.In(
			models.OnboardingAccountCreated,
			models.OnboardingCLIPending,
			models.OnboardingCLILinked,
			models.OnboardingSyncing,
			models.OnboardingSynced,
		)),
	)
}
