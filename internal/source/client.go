// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/dubhq/dubsync/internal/metrics"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// httpClient is the shared transport layer under every vendor client:
// a rate limiter gating request dispatch, header-based authentication, and
// status-code classification into the source error taxonomy.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	headers map[string]string
}

func newHTTPClient(name, baseURL string, rps float64, burst int, headers map[string]string) *httpClient {
	return &httpClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		headers: headers,
	}
}

// apiRequest accumulates query parameters for one API call.
type apiRequest struct {
	path   string
	params url.Values
}

func newAPIRequest(path string) *apiRequest {
	return &apiRequest{path: path, params: url.Values{}}
}

// addParam adds a parameter when value is non-empty.
func (r *apiRequest) addParam(key, value string) *apiRequest {
	if value != "" {
		r.params.Set(key, value)
	}
	return r
}

// addIntParam adds an integer parameter when value > 0.
func (r *apiRequest) addIntParam(key string, value int) *apiRequest {
	if value > 0 {
		r.params.Set(key, fmt.Sprintf("%d", value))
	}
	return r
}

// addTimeParam adds an RFC 3339 timestamp parameter when value is non-zero.
func (r *apiRequest) addTimeParam(key string, value time.Time) *apiRequest {
	if !value.IsZero() {
		r.params.Set(key, value.UTC().Format(time.RFC3339))
	}
	return r
}

func (r *apiRequest) buildURL(baseURL string) string {
	if len(r.params) == 0 {
		return baseURL + r.path
	}
	return fmt.Sprintf("%s%s?%s", baseURL, r.path, r.params.Encode())
}

// execute dispatches the request and returns the response body. Callers own
// closing the body. Status codes are classified: 429 wraps ErrRateLimited,
// 401/403/400 wrap ErrPermanent, everything else non-200 is transient.
func (c *httpClient) execute(ctx context.Context, req *apiRequest) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.buildURL(c.baseURL), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	metrics.SourceRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceErrors.WithLabelValues(c.name, "transient").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		defer resp.Body.Close()
		metrics.RateLimitHits.WithLabelValues(c.name).Inc()
		metrics.SourceErrors.WithLabelValues(c.name, "rate_limited").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		defer resp.Body.Close()
		metrics.SourceErrors.WithLabelValues(c.name, "permanent").Inc()
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, readBodyForError(resp.Body))
	default:
		defer resp.Body.Close()
		metrics.SourceErrors.WithLabelValues(c.name, "transient").Inc()
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readBodyForError(resp.Body))
	}
}

// decodeJSON decodes the response body into result and closes the body.
func decodeJSON[T any](body io.ReadCloser, result *T) error {
	defer body.Close()
	if err := json.NewDecoder(body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// fetchJSON executes the request and decodes the JSON response in one step.
func fetchJSON[T any](ctx context.Context, c *httpClient, req *apiRequest) (*T, error) {
	body, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	var result T
	if err := decodeJSON(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
