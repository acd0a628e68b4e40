// Package backend is the HTTP client for the interview service REST API.
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
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rbright/intervue/internal/version"
)

const (
	apiPrefix       = "/api/interview"
	maxResponseBody = 32 << 20
	defaultTimeout  = 30 * time.Second
)

// Client calls the interview service. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	runID   string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRunID tags every request with the process run id.
func WithRunID(runID string) Option {
	return func(c *Client) {
		c.runID = runID
	}
}

// New builds a client rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) StartInterview(ctx context.Context, req StartRequest) (StartResponse, error) {
	var out StartResponse
	if err := c.post(ctx, "start-interview", req, &out); err != nil {
		return StartResponse{}, err
	}
	if strings.TrimSpace(out.ResponseID) == "" {
		return StartResponse{}, &Error{Op: "start-interview", Message: "response_id missing from reply"}
	}
	return out, nil
}

func (c *Client) CurrentQuestion(ctx context.Context, responseID string, voiceID string) (QuestionResponse, error) {
	body := map[string]string{"response_id": responseID}
	if strings.TrimSpace(voiceID) != "" {
		body["voice_id"] = voiceID
	}
	var out QuestionResponse
	if err := c.post(ctx, "get-current-question", body, &out); err != nil {
		return QuestionResponse{}, err
	}
	return out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	if err := c.post(ctx, "submit-answer", req, &out); err != nil {
		return SubmitResponse{}, err
	}
	return out, nil
}

func (c *Client) EndInterview(ctx context.Context, responseID string, reason string) (EndResponse, error) {
	body := map[string]string{"response_id": responseID}
	if strings.TrimSpace(reason) != "" {
		body["reason"] = reason
	}
	var out EndResponse
	if err := c.post(ctx, "end-interview", body, &out); err != nil {
		return EndResponse{}, err
	}
	return out, nil
}

func (c *Client) ResponseDetail(ctx context.Context, responseID string) (ResponseDetail, error) {
	var out ResponseDetail
	if err := c.post(ctx, "get-response", map[string]string{"response_id": responseID}, &out); err != nil {
		return ResponseDetail{}, err
	}
	return out, nil
}

// Health probes the service liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "health", nil)
	if err != nil {
		return &Error{Op: "health", Err: err}
	}
	return c.do(req, "health", nil)
}

func (c *Client) post(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := c.newRequest(ctx, http.MethodPost, op, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method string, op string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+"/"+op, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "intervue/"+version.Version)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.runID != "" {
		req.Header.Set("X-Run-ID", c.runID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return &Error{Op: op, Err: ctxErr}
		}
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, Status: resp.StatusCode, Message: errorDetail(data)}
	}

	var envelope struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", err)}
		}
	}
	if envelope.OK != nil && !*envelope.OK {
		message := strings.TrimSpace(envelope.Error)
		if message == "" {
			message = "request was not accepted"
		}
		return &Error{Op: op, Status: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return nil
}

// errorDetail pulls a readable message out of the service's error bodies:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"error": "..."} or {"message": "..."}.
func errorDetail(data []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(truncate(string(data), 200))
	}

	if len(body.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(body.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
