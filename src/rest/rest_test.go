package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRESTSetsMandatoryHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/json; charset=UTF-8", r.Header.Get("Content-Type"))
		require.Equal(t, "klaxon", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewREST("test-token", nil)
	res, err := r.Get(context.Background(), srv.URL, nil, &RESTOptions{
		Headers: map[string]string{"X-Custom": "klaxon"},
	})
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRESTReplaysRateLimitedRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewREST("test-token", nil)
	start := time.Now()
	res, err := r.Post(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, int32(2), calls.Load())
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRESTWaitsForExhaustedRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-After", "0.05")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewREST("test-token", nil)
	res, err := r.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	res.Body.Close()

	// The second request to the same route waits out the bucket.
	start := time.Now()
	res, err = r.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	res.Body.Close()
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
