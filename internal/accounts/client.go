package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	// ErrUnauthorized is returned for 401 responses and rejected credentials.
	ErrUnauthorized = errors.New("accounts: unauthorized")
	// ErrRejected is returned when the API answers success=false.
	ErrRejected = errors.New("accounts: request rejected")
)

// retryPolicy says which failures a call may be replayed after.
type retryPolicy int

const (
	noRetry retryPolicy = iota
	// retryThrottled replays only 429, which the API answers before doing any work.
	// Non-idempotent calls use it: a timeout or 5xx may already have applied.
	retryThrottled
	// retryIdempotent also replays transport errors and 5xx.
	retryIdempotent
)

// Client talks to the accounts REST API (login, register, profile, wins, leaderboard).
// Bodies are form encoded, responses are JSON.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	token   string

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

// WithServiceToken sets the bearer used for server-initiated calls such as AddWin.
func WithServiceToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	var resp LoginResponse
	if err := c.do(ctx, fasthttp.MethodPost, "login", form, "", &resp, noRetry); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Message)
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (*RegisterResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	var resp RegisterResponse
	if err := c.do(ctx, fasthttp.MethodPost, "register", form, "", &resp, noRetry); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return &resp, nil
}

// UpdateProfile renames the account; an empty newPassword keeps the old one.
func (c *Client) UpdateProfile(ctx context.Context, token, newUsername, newPassword string) (*ProfileResponse, error) {
	form := url.Values{"username": {newUsername}}
	if newPassword != "" {
		form.Set("password", newPassword)
	}
	var resp ProfileResponse
	if err := c.do(ctx, fasthttp.MethodPost, "update-profile", form, token, &resp, noRetry); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return &resp, nil
}

func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	var resp StatusResponse
	if err := c.do(ctx, fasthttp.MethodPost, "delete-account", url.Values{}, token, &resp, noRetry); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return nil
}

// AddWin increments the persistent win counter of username. Only a throttled
// (429) attempt is replayed, so a win is never counted twice.
func (c *Client) AddWin(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty username", ErrRejected)
	}
	var resp StatusResponse
	if err := c.do(ctx, fasthttp.MethodPost, "add-win", url.Values{"username": {username}}, c.token, &resp, retryThrottled); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return nil
}

// Leaderboard returns accounts sorted by wins, highest first.
func (c *Client) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var resp LeaderboardResponse
	if err := c.do(ctx, fasthttp.MethodGet, "leaderboard", nil, "", &resp, retryIdempotent); err != nil {
		return nil, err
	}
	out := append([]LeaderboardEntry(nil), resp.Leaderboard...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Wins > out[j].Wins })
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, bearer string, out any, policy retryPolicy) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if form != nil && method != fasthttp.MethodGet {
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBodyString(form.Encode())
	}

	attempts := 1
	if policy != noRetry && c.retryMax > 0 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts || policy != retryIdempotent {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
			return ErrUnauthorized
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("accounts api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !policy.allows(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
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

func (p retryPolicy) allows(status int) bool {
	switch status {
	case fasthttp.StatusTooManyRequests:
		return p != noRetry
	case 500, 502, 503, 504:
		return p == retryIdempotent
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
