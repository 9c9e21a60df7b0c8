package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"botflow/internal/llm"
)

// HTTPLimits are the process-wide guardrails on sandboxed outbound HTTP.
// They are not user-configurable from node code.
type HTTPLimits struct {
	MaxRequests      int
	MaxRequestBytes  int64
	MaxResponseBytes int64
	MinTimeout       time.Duration
	MaxTimeout       time.Duration
}

func DefaultHTTPLimits() HTTPLimits {
	return HTTPLimits{
		MaxRequests:      20,
		MaxRequestBytes:  1 << 20,
		MaxResponseBytes: 4 << 20,
		MinTimeout:       1 * time.Second,
		MaxTimeout:       30 * time.Second,
	}
}

// AuthProvider resolves named credentials into request headers. It is an
// external collaborator; the sandbox only consumes it.
type AuthProvider interface {
	Headers(name string) (map[string]string, error)
}

// StaticAuth is an AuthProvider backed by a fixed map.
type StaticAuth map[string]map[string]string

func (a StaticAuth) Headers(name string) (map[string]string, error) {
	h, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("unknown credential %q", name)
	}
	return h, nil
}

// HTTPClient is the capped client exposed to sandboxed code. One client is
// created per run so the request-count ceiling is per run.
type HTTPClient struct {
	rc     *resty.Client
	limits HTTPLimits
	auth   AuthProvider
	used   atomic.Int64
}

func NewHTTPClient(limits HTTPLimits, auth AuthProvider) *HTTPClient {
	// Bodies are consumed through a limited reader so an oversized response
	// is cut off while streaming, not after it is fully buffered. The client
	// is never mutated after construction; timeouts are per-request contexts.
	return &HTTPClient{
		rc:     resty.New().SetDoNotParseResponse(true),
		limits: limits,
		auth:   auth,
	}
}

// HTTPResponse is what sandboxed code gets back from http_request.
type HTTPResponse struct {
	Status int
	Body   string
}

// Do performs one outbound request within the run's ceilings. credential
// names a stored credential whose headers are injected; it may be empty.
// The clamped timeout is applied as a per-request context deadline so
// concurrent callers never affect each other.
func (c *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body string, credential string, timeout time.Duration) (*HTTPResponse, error) {
	if c.used.Add(1) > int64(c.limits.MaxRequests) {
		return nil, fmt.Errorf("http request limit of %d per run exceeded", c.limits.MaxRequests)
	}
	if int64(len(body)) > c.limits.MaxRequestBytes {
		return nil, fmt.Errorf("request body of %d bytes exceeds limit of %d", len(body), c.limits.MaxRequestBytes)
	}

	if timeout < c.limits.MinTimeout {
		timeout = c.limits.MinTimeout
	}
	if timeout > c.limits.MaxTimeout {
		timeout = c.limits.MaxTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.rc.R().SetContext(reqCtx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	if credential != "" {
		if c.auth == nil {
			return nil, fmt.Errorf("no auth provider configured for credential %q", credential)
		}
		authHeaders, err := c.auth.Headers(credential)
		if err != nil {
			return nil, err
		}
		for k, v := range authHeaders {
			req.SetHeader(k, v)
		}
	}
	if body != "" {
		req.SetBody(body)
	}

	resp, err := req.Execute(strings.ToUpper(method), url)
	if err != nil {
		return nil, &llm.TransientError{Err: fmt.Errorf("http %s %s: %w", method, url, err)}
	}
	raw := resp.RawBody()
	defer raw.Close()

	data, err := io.ReadAll(io.LimitReader(raw, c.limits.MaxResponseBytes+1))
	if err != nil {
		return nil, &llm.TransientError{Err: fmt.Errorf("http %s %s: read body: %w", method, url, err)}
	}
	if int64(len(data)) > c.limits.MaxResponseBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.limits.MaxResponseBytes)
	}

	return &HTTPResponse{Status: resp.StatusCode(), Body: string(data)}, nil
}
