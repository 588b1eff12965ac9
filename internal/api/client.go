// Package api is the HTTP client for the engine backend.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marko-dashboard/internal/auth"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/logging"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Config holds client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     auth.TokenProvider
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the engine's HTTP surface.
type Client struct {
	baseURL string
	tokens  auth.TokenProvider
	http    *http.Client
	logger  zerolog.Logger
}

// New creates a client. A nil token provider sends no Authorization header.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		tokens:  cfg.Tokens,
		http:    hc,
		logger:  logging.WithComponent(cfg.Logger, "api"),
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrap(err, "encoding request body")
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The token is read per request so a renewed token takes effect immediately.
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	reqID := logging.RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)
	return req, nil
}

// doRaw executes req and returns the body of a 2xx response.
func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	start := time.Now()
	endpoint := req.URL.Path

	resp, err := c.http.Do(req)
	if err != nil {
		logging.LogAPICall(c.logger, req.Method, endpoint, 0, time.Since(start), err)
		return nil, apperrors.NewTransportError(req.Method, endpoint, 0, "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logging.LogAPICall(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start), err)
		return nil, apperrors.NewTransportError(req.Method, endpoint, resp.StatusCode, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorText(b)
		terr := apperrors.NewTransportError(req.Method, endpoint, resp.StatusCode, msg, nil)
		logging.LogAPICall(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start), terr)
		return nil, terr
	}

	logging.LogAPICall(c.logger, req.Method, endpoint, resp.StatusCode, time.Since(start), nil)
	return b, nil
}

// do executes a JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	b, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return apperrors.NewShapeError(path, err)
	}
	return nil
}

// getRaw fetches path and returns the undecoded body.
func (c *Client) getRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

// errorText extracts a readable message from an error body.
func errorText(b []byte) string {
	var er struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &er); err == nil {
		for _, s := range []string{er.Error, er.Detail, er.Message} {
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	text := strings.TrimSpace(string(b))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// actionResponse is the {success, message} body of control and admin endpoints.
type actionResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// result converts a response into an error when the backend refused the action.
func (r actionResponse) result(operation, instanceID string) (string, error) {
	if r.Success != nil && !*r.Success {
		msg := r.Message
		if msg == "" {
			msg = r.Error
		}
		if msg == "" {
			msg = r.Detail
		}
		if msg == "" {
			msg = fmt.Sprintf("%s refused", operation)
		}
		return "", apperrors.NewRejectionError(operation, instanceID, msg)
	}
	return r.Message, nil
}

func escape(id string) string { return url.PathEscape(id) }
