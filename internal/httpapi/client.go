package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Reason string
	Body   string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("arena api error: status=%d reason=%s", e.Status, e.Reason)
	}
	return fmt.Sprintf("arena api error: status=%d body=%s", e.Status, truncate(e.Body, 512))
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithHTTPClient replaces the transport, e.g. with one dialing an in-memory listener.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil, true)
}

func (c *Client) CreateGame(ctx context.Context, req arenadto.CreateGameRequest) (*arenadto.CreateGameResponse, error) {
	var out arenadto.CreateGameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Game(ctx context.Context, id string) (*arenadto.SessionState, error) {
	var out arenadto.SessionState
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(id), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UserGames(ctx context.Context, identity string) (*arenadto.UserGames, error) {
	var out arenadto.UserGames
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/users/"+url.PathEscape(identity)+"/games", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PGN(ctx context.Context, id string) (string, error) {
	var pgn string
	err := c.do(ctx, fasthttp.MethodGet, "/games/"+url.PathEscape(id)+"/pgn", nil, true, func(body []byte) error {
		pgn = string(body)
		return nil
	})
	return pgn, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	return c.do(ctx, method, path, payload, retry, func(body []byte) error {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// do retries transport errors and 5xx responses when retry is set. Non-idempotent
// calls pass retry=false.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, retry bool, onOK func([]byte) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			apiErr := &APIError{Status: status, Body: string(resp.Body())}
			var e arenadto.Error
			if json.Unmarshal(resp.Body(), &e) == nil {
				apiErr.Reason = e.Reason
			}
			if !shouldRetryStatus(status) {
				return apiErr
			}
			lastErr = apiErr
		} else {
			return onOK(resp.Body())
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
