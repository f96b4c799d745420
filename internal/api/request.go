package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/matcha-chat/realtime/internal/wire"
)

// Error represents a rejected command: the server answered with a
// non-2xx status. The message is surfaced so callers can display it;
// client state is otherwise unchanged.
type Error struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// do performs an HTTP request. The body is snake_cased through the wire
// codec on the way out; the response is camelized on the way in.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := wire.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if tok := c.creds.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		} else if pid := c.creds.GuestPID(); pid != "" {
			req.Header.Set("X-USER-PID", pid)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody, resp.StatusCode),
			Body:       respBody,
		}
	}

	if result != nil {
		if err := wire.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the server-provided message from an error body,
// falling back to the status text.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Err     string `json:"error"`
	}
	if err := wire.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Err != "" {
			return payload.Err
		}
	}
	return http.StatusText(status)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}
