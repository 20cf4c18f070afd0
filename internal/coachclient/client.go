package coachclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/baduk-coach/pkg/coachdto"
)

// Client talks to a running coach server.
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

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(h *fasthttp.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Minute, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 5 * time.Minute,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Start(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/game/start", nil, nil, true)
}

func (c *Client) Reset(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/game/reset", nil, nil, false)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/game/shutdown", nil, nil, false)
}

// PlayEval is never retried: a failure after the user move was committed
// would replay it out of turn.
func (c *Client) PlayEval(ctx context.Context, move string) (*coachdto.Evaluation, error) {
	var out coachdto.Evaluation
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game/play-eval", map[string]string{"move": move}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Config(ctx context.Context) (*coachdto.Config, error) {
	var out coachdto.Config
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/game/config", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ApplyConfig(ctx context.Context, patch coachdto.ConfigPatch) (*coachdto.Config, error) {
	var out coachdto.Config
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game/config/apply", patch, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Networks(ctx context.Context) (*coachdto.Networks, error) {
	var out coachdto.Networks
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/game/networks", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reviews(ctx context.Context, limit int) (*coachdto.Reviews, error) {
	var out coachdto.Reviews
	path := "/game/reviews"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends one request. Non-2xx responses come back as
// *coachdto.DomainError when the body carries one.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
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
			lastErr = decodeError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
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

func decodeError(status int, body []byte) error {
	var wrapped struct {
		Error *coachdto.DomainError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil {
		return wrapped.Error
	}
	return fmt.Errorf("coach api error: status=%d body=%s", status, truncate(string(body), 512))
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
	case 502, 503, 504:
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
