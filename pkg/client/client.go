// Package client is a Go client for the InfraGate REST API.
//
// Agents use it to submit action proposals and read-only queries; the
// human-facing layer uses it to forward confirmation signals.
//
//	// Set INFRAGATE_URL and INFRAGATE_API_KEY, then:
//	c := client.New()
//
//	res, err := c.Propose(ctx, client.Proposal{
//	    Action:    "restart_deployment",
//	    Arguments: map[string]any{"name": "payment-service"},
//	    SessionID: "chat-42",
//	})
//	if err == nil && res.Status == client.StatusPending {
//	    fmt.Println("waiting for confirmation of", res.ContentHash)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to one gateway instance. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. Configuration is read from INFRAGATE_URL,
// INFRAGATE_API_KEY and INFRAGATE_TIMEOUT; options override it.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: envOrDefault("INFRAGATE_URL", "http://127.0.0.1:8080"),
		apiKey:  os.Getenv("INFRAGATE_API_KEY"),
		timeout: parseDurationEnv("INFRAGATE_TIMEOUT", 30*time.Second),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Propose submits an action proposal. Blocked and pending outcomes are
// returned as results, not errors; only transport and server failures
// produce an error.
func (c *Client) Propose(ctx context.Context, p Proposal) (*Result, error) {
	var res Result
	err := c.doRequest(ctx, http.MethodPost, "/v1/proposals", p, &res)
	if err != nil {
		var apiErr *APIError
		// 503 and 500 carry a result body describing what happened.
		if errors.As(err, &apiErr) && len(apiErr.body) > 0 && json.Unmarshal(apiErr.body, &res) == nil && res.Status != "" {
			return &res, err
		}
		return nil, err
	}
	if res.Status == StatusPending {
		c.logger.Debug("proposal awaiting confirmation",
			"action", p.Action,
			"session_id", p.SessionID,
			"content_hash", res.ContentHash,
		)
	}
	return &res, nil
}

// Confirm forwards a human confirmation signal. It reports whether the
// signal confirmed a pending proposal.
func (c *Client) Confirm(ctx context.Context, sig Confirmation) (bool, error) {
	var out struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/confirmations", sig, &out); err != nil {
		return false, err
	}
	return out.Confirmed, nil
}

// Query runs a read-only statement. Statements the gateway refuses to
// classify as reads return a *QueryRejectedError.
func (c *Client) Query(ctx context.Context, sessionID, statement string) (*QueryResult, error) {
	body := map[string]string{"session_id": sessionID, "statement": statement}
	var res QueryResult
	err := c.doRequest(ctx, http.MethodPost, "/v1/queries", body, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			rej := &QueryRejectedError{}
			if json.Unmarshal(apiErr.body, rej) == nil {
				return nil, rej
			}
		}
		return nil, err
	}
	return &res, nil
}

// RecordMessage appends a human message to a session transcript.
func (c *Client) RecordMessage(ctx context.Context, sessionID, text string) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	return c.doRequest(ctx, http.MethodPost, path, map[string]string{"text": text}, nil)
}

// EndSession drops all gateway state held for a session.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Audit lists audit records matching f.
func (c *Client) Audit(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	var out struct {
		Records []AuditRecord `json:"records"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/audit?"+f.values().Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Actions lists the actions the gateway mediates.
func (c *Client) Actions(ctx context.Context) ([]Action, error) {
	var out []Action
	if err := c.doRequest(ctx, http.MethodGet, "/v1/actions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doRequest performs one API call, decoding a 2xx body into result.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &UnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return newAPIError(httpResp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDurationEnv accepts whole seconds or a Go duration string.
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
