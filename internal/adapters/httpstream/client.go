package httpstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/ports"
	"go.uber.org/zap"
)

const (
	maxErrorExcerptBytes = 4 << 10
	defaultTimeout       = 30 * time.Second
	ndjsonContentType    = "application/x-ndjson"
)

var ErrHeaderTimeout = errors.New("timed out waiting for response headers")

type API struct {
	BaseURL      string
	PipelinePath string
	RefinePath   string
	SavePath     string
}

// StatusError is returned when an endpoint answers outside the 2xx range.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Excerpt    string
}

func (e *StatusError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Excerpt)
}

// Client talks to the generation service. Stream bodies are handed back
// unread; RequestTimeout bounds only the wait for response headers there and
// the whole exchange for Publish.
type Client struct {
	API            API
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Secrets        ports.SecretStore
	TokenRef       string
	UserAgent      string
	Logger         *zap.Logger
}

var (
	_ ports.PipelineStreamer   = (*Client)(nil)
	_ ports.RefinementStreamer = (*Client)(nil)
	_ ports.RunPublisher       = (*Client)(nil)
)

func (c *Client) OpenPipeline(ctx context.Context, req ports.GenerateRequest) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	return c.openStream(ctx, "pipeline", c.API.PipelinePath, req)
}

func (c *Client) OpenRefinement(ctx context.Context, req ports.RefineRequest) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, errors.New("instruction is required")
	}
	if len(req.Artifacts) == 0 {
		return nil, domain.ErrNoArtifacts
	}
	return c.openStream(ctx, "refine", c.API.RefinePath, req)
}

// Publish sends a finished run to the save endpoint.
func (c *Client) Publish(ctx context.Context, run domain.RunRecord) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("publish run %s: run is still %s", run.ID, run.Status)
	}

	endpoint, err := buildAPIURL(c.API.BaseURL, c.API.SavePath)
	if err != nil {
		return err
	}

	body, err := json.Marshal(newRunPayload(run))
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError("save", resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorExcerptBytes))
	return nil
}

func (c *Client) openStream(ctx context.Context, name string, path string, payload any) (io.ReadCloser, error) {
	endpoint, err := buildAPIURL(c.API.BaseURL, path)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", name, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ndjsonContentType)
	if err := c.authorize(ctx, req); err != nil {
		cancel()
		return nil, err
	}

	headerTimer := time.AfterFunc(c.timeout(), cancel)
	resp, err := c.httpClient().Do(req)
	timedOut := !headerTimer.Stop()
	if err != nil {
		cancel()
		if timedOut && ctx.Err() == nil {
			return nil, fmt.Errorf("open %s stream: %w", name, ErrHeaderTimeout)
		}
		return nil, fmt.Errorf("open %s stream: %w", name, err)
	}

	if timedOut {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open %s stream: %w", name, ErrHeaderTimeout)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError(name, resp)
	}

	c.logger().Debug("stream opened",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
	)
	return &streamBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// authorize adds the bearer token when one is stored. A missing token is not
// an error; the service decides whether it needs one.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Secrets == nil || c.TokenRef == "" {
		return nil
	}

	token, err := c.Secrets.Get(ctx, c.TokenRef)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return nil
		}
		return fmt.Errorf("load api token: %w", err)
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return defaultTimeout
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout())
}

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// streamBody releases the request context once the caller closes the body.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func statusError(endpoint string, resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerptBytes))
	return &StatusError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Excerpt:    strings.TrimSpace(string(excerpt)),
	}
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}
	if path == "" {
		return "", errors.New("api path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
