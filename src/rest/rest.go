package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// REST is the request/response side of the API, distinct from the
// gateway stream. It honors the per-route rate limit headers the remote
// attaches to every response and waits out exhausted buckets rather than
// burning requests into 429s.
type REST struct {
	httpClient *http.Client
	botToken   string
	log        *slog.Logger

	mu          sync.Mutex
	routeResets map[string]time.Time
}

type RESTOptions struct {
	Headers map[string]string
}

func NewREST(botToken string, log *slog.Logger) *REST {
	if log == nil {
		log = slog.Default()
	}
	return &REST{
		httpClient:  http.DefaultClient,
		botToken:    botToken,
		log:         log,
		routeResets: make(map[string]time.Time),
	}
}

func (r *REST) applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func (r *REST) makeRequest(ctx context.Context, method string, url string, body io.Reader, options *RESTOptions) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	// Mandatory headers.
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Authorization", fmt.Sprintf("Bot %s", r.botToken))

	if options != nil {
		r.applyHeaders(req, options.Headers)
	}
	return req, nil
}

// waitForRoute blocks until the route's rate limit bucket has reset.
func (r *REST) waitForRoute(ctx context.Context, url string) error {
	r.mu.Lock()
	reset, ok := r.routeResets[url]
	if ok && !time.Now().Before(reset) {
		delete(r.routeResets, url)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	wait := time.Until(reset)
	if wait <= 0 {
		return nil
	}
	r.log.Debug("route rate limit exhausted, waiting", "url", url, "wait", wait.String())
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordRouteLimit remembers when an exhausted route bucket resets.
func (r *REST) recordRouteLimit(url string, res *http.Response) {
	remaining := res.Header.Get("X-RateLimit-Remaining")
	if remaining != "" && remaining != "0" {
		return
	}
	resetAfter := res.Header.Get("X-RateLimit-Reset-After")
	if resetAfter == "" {
		resetAfter = res.Header.Get("Retry-After")
	}
	if resetAfter == "" {
		return
	}
	secs, err := strconv.ParseFloat(resetAfter, 64)
	if err != nil || secs <= 0 {
		return
	}
	r.mu.Lock()
	r.routeResets[url] = time.Now().Add(time.Duration(secs * float64(time.Second)))
	r.mu.Unlock()
}

func (r *REST) do(ctx context.Context, method string, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	// Buffer the body so a rate-limited request can be replayed.
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	for {
		if err := r.waitForRoute(ctx, url); err != nil {
			return nil, err
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := r.makeRequest(ctx, method, url, reader, options)
		if err != nil {
			return nil, err
		}
		res, err := r.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		r.recordRouteLimit(url, res)
		if res.StatusCode != http.StatusTooManyRequests {
			return res, nil
		}
		res.Body.Close()
		r.mu.Lock()
		if _, ok := r.routeResets[url]; !ok {
			// 429 without usable headers, back off a beat before replaying
			r.routeResets[url] = time.Now().Add(time.Second)
		}
		r.mu.Unlock()
	}
}

func (r *REST) Get(ctx context.Context, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	return r.do(ctx, http.MethodGet, url, body, options)
}

func (r *REST) Post(ctx context.Context, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	return r.do(ctx, http.MethodPost, url, body, options)
}

func (r *REST) Put(ctx context.Context, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	return r.do(ctx, http.MethodPut, url, body, options)
}

func (r *REST) Patch(ctx context.Context, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	return r.do(ctx, http.MethodPatch, url, body, options)
}

func (r *REST) Delete(ctx context.Context, url string, body io.Reader, options *RESTOptions) (*http.Response, error) {
	return r.do(ctx, http.MethodDelete, url, body, options)
}
