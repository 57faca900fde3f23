// Package netclient talks to the upstream resource API. It performs
// conditional GETs with If-None-Match, surfaces ETag and Cache-Control
// freshness hints, and classifies failures into the engine's error
// taxonomy. Retry policy lives in the callers; this client attempts
// each request exactly once, behind a circuit breaker.
package netclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"eventwish-sync/internal/domain/resource"
	apperrors "eventwish-sync/internal/errors"
)

// routes maps resource types to their API path segments.
var routes = map[resource.Type]string{
	resource.TypeTemplate:     "templates",
	resource.TypeCategory:     "categories",
	resource.TypeIcon:         "icons",
	resource.TypeCategoryIcon: "categoryIcons",
}

// Result is the outcome of a single fetch.
type Result struct {
	// NotModified is true when the server answered 304 to a
	// conditional request. Body is empty in that case.
	NotModified bool
	Body        json.RawMessage
	ETag        string
	// MaxAge is the Cache-Control freshness window, or zero when the
	// server sent none.
	MaxAge time.Duration
}

// ListQuery parameterizes a paginated list fetch.
type ListQuery struct {
	Page     int
	PageSize int
	Category string
}

// Client fetches resources over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "resource-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		tracer:     otel.Tracer("eventwish-sync/netclient"),
		logger:     logger,
	}
}

// Fetch performs a GET for one resource. A non-empty etag makes the
// request conditional; cacheControl, when set, is forwarded as a
// request hint derived from current connectivity.
func (c *Client) Fetch(ctx context.Context, t resource.Type, key, etag, cacheControl string) (Result, error) {
	route, ok := routes[t]
	if !ok {
		return Result{}, apperrors.UnsupportedType(string(t))
	}
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, route, url.PathEscape(key))
	return c.do(ctx, endpoint, etag, cacheControl, resource.Ref(t, key))
}

// FetchList performs a paginated GET for a resource type. A non-empty
// category filters the listing.
func (c *Client) FetchList(ctx context.Context, t resource.Type, q ListQuery, etag, cacheControl string) (Result, error) {
	route, ok := routes[t]
	if !ok {
		return Result{}, apperrors.UnsupportedType(string(t))
	}
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("limit", strconv.Itoa(q.PageSize))
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, route)
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return c.do(ctx, endpoint, etag, cacheControl, string(t))
}

func (c *Client) do(ctx context.Context, endpoint, etag, cacheControl, ref string) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "netclient.fetch",
		trace.WithAttributes(
			attribute.String("resource.ref", ref),
			attribute.Bool("conditional", etag != ""),
		))
	defer span.End()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.execute(ctx, endpoint, etag, cacheControl, ref)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, apperrors.New(apperrors.TypeTransientNetwork, "resource api unavailable").
				WithOperation("fetch").
				WithResource(ref).
				WithCause(err).
				Retryable(30 * time.Second).
				Build()
		}
		return Result{}, err
	}
	return out.(Result), nil
}

func (c *Client) execute(ctx context.Context, endpoint, etag, cacheControl, ref string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, apperrors.New(apperrors.TypeInternal, "build request").
			WithResource(ref).WithCause(err).Build()
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if cacheControl != "" {
		req.Header.Set("Cache-Control", cacheControl)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(err, ref)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{
			NotModified: true,
			ETag:        resp.Header.Get("ETag"),
			MaxAge:      parseMaxAge(resp.Header.Get("Cache-Control")),
		}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, apperrors.Transient("read response body", err)
		}
		return Result{
			Body:   body,
			ETag:   resp.Header.Get("ETag"),
			MaxAge: parseMaxAge(resp.Header.Get("Cache-Control")),
		}, nil

	default:
		message := extractErrorMessage(resp.Body)
		c.logger.Debug("resource api error",
			zap.String("resource", ref),
			zap.Int("status", resp.StatusCode),
			zap.String("message", message))
		return Result{}, apperrors.Server(resp.StatusCode, message)
	}
}

// classifyTransportError distinguishes unreachable-network failures
// from transient ones like timeouts.
func classifyTransportError(err error, ref string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.New(apperrors.TypeTransientNetwork, "request timed out").
			WithOperation("fetch").
			WithResource(ref).
			WithCause(err).
			Retryable(0).
			Build()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return apperrors.Offline(ref)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Transient("fetch", err)
}

// parseMaxAge extracts max-age from a Cache-Control header. no-store
// and no-cache read as zero.
func parseMaxAge(header string) time.Duration {
	if header == "" {
		return 0
	}
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if directive == "no-store" || directive == "no-cache" {
			return 0
		}
		if rest, ok := strings.CutPrefix(directive, "max-age="); ok {
			seconds, err := strconv.Atoi(rest)
			if err != nil || seconds < 0 {
				return 0
			}
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// extractErrorMessage pulls a human-readable message out of an error
// response body. Falls back to empty when the body is not the
// expected JSON shape.
func extractErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
