package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botflow/internal/llm"
)

func testLimits() HTTPLimits {
	return HTTPLimits{
		MaxRequests:      3,
		MaxRequestBytes:  64,
		MaxResponseBytes: 128,
		MinTimeout:       100 * time.Millisecond,
		MaxTimeout:       2 * time.Second,
	}
}

func TestHTTPClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "v", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	c := NewHTTPClient(testLimits(), nil)
	resp, err := c.Do(context.Background(), "post", srv.URL, map[string]string{"X-Custom": "v"}, "payload", "", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "created", resp.Body)
}

func TestHTTPClient_RequestCountCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewHTTPClient(testLimits(), nil)
	for i := 0; i < 3; i++ {
		_, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "", 0)
		require.NoError(t, err)
	}

	_, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request limit")
}

func TestHTTPClient_RequestBodyCeiling(t *testing.T) {
	c := NewHTTPClient(testLimits(), nil)
	_, err := c.Do(context.Background(), "POST", "http://unused.invalid", nil, strings.Repeat("x", 65), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestHTTPClient_ResponseBodyCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("y", 200)))
	}))
	defer srv.Close()

	c := NewHTTPClient(testLimits(), nil)
	_, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response body")
}

func TestHTTPClient_CredentialHeadersInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	auth := StaticAuth{"crm": {"Authorization": "Bearer tok"}}
	c := NewHTTPClient(testLimits(), auth)
	_, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "crm", 0)
	require.NoError(t, err)
}

func TestHTTPClient_UnknownCredential(t *testing.T) {
	c := NewHTTPClient(testLimits(), StaticAuth{})
	_, err := c.Do(context.Background(), "GET", "http://unused.invalid", nil, "", "ghost", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown credential")
}

func TestHTTPClient_ConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limits := testLimits()
	limits.MaxRequests = 16
	c := NewHTTPClient(limits, nil)

	// Parallel code nodes in a fan-out share the run's client; each request
	// carries its own deadline and must not see its neighbours'.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		timeout := time.Duration(i%3+1) * 500 * time.Millisecond
		go func() {
			defer wg.Done()
			resp, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "", timeout)
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, "ok", resp.Body)
			}
		}()
	}
	wg.Wait()
}

func TestHTTPClient_TimeoutClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	limits := testLimits()
	limits.MaxTimeout = 100 * time.Millisecond
	c := NewHTTPClient(limits, nil)

	// A requested timeout above the ceiling is clamped down to it.
	_, err := c.Do(context.Background(), "GET", srv.URL, nil, "", "", 10*time.Second)
	require.Error(t, err)
	var transient *llm.TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestHTTPClient_TransportFailureIsTransient(t *testing.T) {
	c := NewHTTPClient(testLimits(), nil)
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := c.Do(context.Background(), "GET", url, nil, "", "", 0)
	require.Error(t, err)
	var transient *llm.TransientError
	assert.ErrorAs(t, err, &transient)
}
