// Package client talks to a running cohost API. It is the transport the
// offline message queue replays through.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/cohost/internal/queue"
)

// Client calls the cohost HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cohost api: %d: %s", e.Status, e.Message)
}

type messageRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	TsMs    int64  `json:"tsMs"`
	RawJSON string `json:"rawJson,omitempty"`
}

type messageResponse struct {
	SessionID string `json:"sessionId"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	TsMs      int64  `json:"tsMs"`
}

// Send posts one transcript message.
func (c *Client) Send(ctx context.Context, e queue.Entry) error {
	body, err := json.Marshal(messageRequest{Speaker: e.Speaker, Text: e.Text, TsMs: e.TsMs, RawJSON: e.RawJSON})
	if err != nil {
		return fmt.Errorf("client: encode message: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.messagesPath(e.SessionID), body, nil)
}

// Existing lists the messages the server already stores for a session.
func (c *Client) Existing(ctx context.Context, sessionID string) ([]queue.Entry, error) {
	var msgs []messageResponse
	if err := c.do(ctx, http.MethodGet, c.messagesPath(sessionID), nil, &msgs); err != nil {
		return nil, err
	}
	out := make([]queue.Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, queue.Entry{SessionID: sessionID, Speaker: m.Speaker, Text: m.Text, TsMs: m.TsMs})
	}
	return out, nil
}

func (c *Client) messagesPath(sessionID string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}
