// Package api is a thin authenticated client for the deployment API.
//
// Every request carries a bearer token, a client user agent and a per-client
// request ID. The client holds no state beyond those and the base URL; one
// client is created per deployment run.
package api

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
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/retry"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

const (
	// DefaultTimeout bounds ordinary request/response calls.
	DefaultTimeout = 20 * time.Second

	// BuildLogIdleTimeout is the longest a build-log stream may go without
	// receiving data before the read fails.
	BuildLogIdleTimeout = 60 * time.Second

	// AppLogIdleTimeout applies to non-follow app-log reads.
	AppLogIdleTimeout = 30 * time.Second

	// AppLogFollowIdleTimeout applies to app-log reads in follow mode.
	AppLogFollowIdleTimeout = 120 * time.Second
)

// Client provides typed access to the deployment API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	requestID  string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option customises client instantiation.
type Option func(*Client)

// WithBaseTransport overrides the transport beneath the auth layer.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient.Transport.(*oauth2.Transport).Base = &headerTransport{
				base:      rt,
				userAgent: c.userAgent,
				requestID: c.requestID,
			}
		}
	}
}

// WithTimeout overrides DefaultTimeout for ordinary calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// UserAgent builds the client identifier sent with every request.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return "cloud-ship/" + version
}

// New constructs a Client for base authenticated by tokens.
func New(base string, tokens oauth2.TokenSource, version string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(trimmed, "/"),
		userAgent: UserAgent(version),
		requestID: uuid.NewString(),
		timeout:   DefaultTimeout,
		logger:    logging.GetLogger(),
	}
	c.httpClient = &http.Client{
		Transport: &oauth2.Transport{
			Source: tokens,
			Base: &headerTransport{
				base:      http.DefaultTransport,
				userAgent: c.userAgent,
				requestID: c.requestID,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestID is the X-Request-ID sent with every request of this client.
func (c *Client) RequestID() string {
	return c.requestID
}

// BaseURL returns the normalised API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	requestID string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	r.Header.Set("X-Request-ID", t.requestID)
	return t.base.RoundTrip(r)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	c.logger.Debug("api request", "method", method, "url", logging.SanitizeString(req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp)
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ErrIdleTimeout reports a stream that went silent for longer than its idle
// timeout. It is always wrapped as a transient failure.
var ErrIdleTimeout = errors.New("stream idle timeout")

// stream opens a long-lived GET. Reads from the returned body fail with a
// transient ErrIdleTimeout once idle elapses without any data arriving.
func (c *Client) stream(ctx context.Context, path string, query url.Values, idle time.Duration) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	r := &idleReader{idle: idle, cancel: cancel}
	r.watchdog = time.AfterFunc(idle, r.expire)

	c.logger.Debug("api stream", "url", logging.SanitizeString(req.URL.String()), "idle_timeout", idle)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		r.watchdog.Stop()
		cancel()
		return nil, r.wrap(fmt.Errorf("GET %s: %w", path, err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		r.watchdog.Stop()
		apiErr := newAPIError(resp)
		resp.Body.Close()
		cancel()
		return nil, apiErr
	}
	r.body = resp.Body
	return r, nil
}

type idleReader struct {
	body     io.ReadCloser
	watchdog *time.Timer
	idle     time.Duration
	cancel   context.CancelFunc
	expired  atomic.Bool
}

func (r *idleReader) expire() {
	r.expired.Store(true)
	r.cancel()
}

func (r *idleReader) wrap(err error) error {
	if err != nil && r.expired.Load() {
		return retry.MarkTransient(fmt.Errorf("%w after %s: %w", ErrIdleTimeout, r.idle, err))
	}
	return err
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.idle)
	}
	if err == io.EOF {
		return n, err
	}
	return n, r.wrap(err)
}

func (r *idleReader) Close() error {
	r.watchdog.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}

func pathf(format string, ids ...string) string {
	escaped := make([]any, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, escaped...)
}

// GetApp fetches an application by ID.
func (c *Client) GetApp(ctx context.Context, appID string) (types.App, error) {
	var app types.App
	if err := c.do(ctx, http.MethodGet, pathf("/apps/%s", appID), nil, nil, &app); err != nil {
		return types.App{}, err
	}
	return app, nil
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// ListTeams returns the teams visible to the token.
func (c *Client) ListTeams(ctx context.Context) ([]types.Team, error) {
	var resp listResponse[types.Team]
	if err := c.do(ctx, http.MethodGet, "/teams/", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListApps returns the applications of a team.
func (c *Client) ListApps(ctx context.Context, teamID string) ([]types.App, error) {
	query := url.Values{"team_id": {teamID}}
	var resp listResponse[types.App]
	if err := c.do(ctx, http.MethodGet, "/apps/", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateApp provisions a new application in a team.
func (c *Client) CreateApp(ctx context.Context, teamID, name string) (types.App, error) {
	body := map[string]string{"team_id": teamID, "name": name}
	var app types.App
	if err := c.do(ctx, http.MethodPost, "/apps/", nil, body, &app); err != nil {
		return types.App{}, err
	}
	return app, nil
}

// CreateDeployment creates a new deployment record for an application.
func (c *Client) CreateDeployment(ctx context.Context, appID string) (types.Deployment, error) {
	var d types.Deployment
	if err := c.do(ctx, http.MethodPost, pathf("/apps/%s/deployments/", appID), nil, nil, &d); err != nil {
		return types.Deployment{}, err
	}
	return d, nil
}

// GetDeployment fetches the current state of a deployment.
func (c *Client) GetDeployment(ctx context.Context, appID, deploymentID string) (types.Deployment, error) {
	var d types.Deployment
	if err := c.do(ctx, http.MethodGet, pathf("/apps/%s/deployments/%s", appID, deploymentID), nil, nil, &d); err != nil {
		return types.Deployment{}, err
	}
	return d, nil
}

// RequestUpload obtains a one-time upload target for the deployment archive.
func (c *Client) RequestUpload(ctx context.Context, deploymentID string) (types.UploadSession, error) {
	var s types.UploadSession
	if err := c.do(ctx, http.MethodPost, pathf("/deployments/%s/upload", deploymentID), nil, nil, &s); err != nil {
		return types.UploadSession{}, err
	}
	if s.URL == "" {
		return types.UploadSession{}, fmt.Errorf("upload target for deployment %s has no url", deploymentID)
	}
	return s, nil
}

// CompleteUpload tells the API the archive transfer finished.
func (c *Client) CompleteUpload(ctx context.Context, deploymentID string) error {
	return c.do(ctx, http.MethodPost, pathf("/deployments/%s/upload-complete", deploymentID), nil, nil, nil)
}

// CancelUpload tells the API the archive transfer was abandoned.
func (c *Client) CancelUpload(ctx context.Context, deploymentID string) error {
	return c.do(ctx, http.MethodPost, pathf("/deployments/%s/upload-cancelled", deploymentID), nil, nil, nil)
}

// StreamBuildLogs opens the build-log stream of a deployment, resuming after
// lastID when it is non-empty. The caller must close the returned body.
func (c *Client) StreamBuildLogs(ctx context.Context, deploymentID, lastID string) (io.ReadCloser, error) {
	var query url.Values
	if lastID != "" {
		query = url.Values{"last_id": {lastID}}
	}
	return c.stream(ctx, pathf("/deployments/%s/build-logs", deploymentID), query, BuildLogIdleTimeout)
}

// StreamAppLogs opens the runtime log stream of an application.
// The caller must close the returned body.
func (c *Client) StreamAppLogs(ctx context.Context, appID string, q types.AppLogQuery) (io.ReadCloser, error) {
	query := url.Values{"follow": {strconv.FormatBool(q.Follow)}}
	if q.Tail > 0 {
		query.Set("tail", strconv.Itoa(q.Tail))
	}
	if q.Since != "" {
		query.Set("since", q.Since)
	}
	idle := AppLogIdleTimeout
	if q.Follow {
		idle = AppLogFollowIdleTimeout
	}
	return c.stream(ctx, pathf("/apps/%s/logs/stream", appID), query, idle)
}
