// Package exchange implements the signed REST and streaming clients the
// engine uses to talk to the venue, plus the HMAC request signing and
// rate-limited request queue those clients share.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantapoint/liqengine/internal/domain"
)

const (
	// rateLimitDelay is the floor between consecutive signed requests. The
	// venue's published weight limit leaves comfortable headroom below this,
	// so a flat delay is simpler than token-bucket accounting and still
	// keeps the engine well under the hard limit.
	rateLimitDelay   = 150 * time.Millisecond
	requestQueueSize = 256
	recvWindowMs     = 5000
)

// requestJob is one signed or public REST call waiting on the rate limiter.
type requestJob struct {
	ctx      context.Context
	method   string
	path     string
	params   url.Values
	signed   bool
	resultCh chan requestResult
}

type requestResult struct {
	body []byte
	err  error
}

// Client is the signed REST client for the venue's perpetual futures API.
// Every request is funneled through a single worker goroutine so the engine
// never bursts past the venue's rate limit.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	queue      chan requestJob
	stopChan   chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// Config configures the signed REST client.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

// NewClient builds a Client and starts its rate-limiting worker.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "exchange-client").Logger(),
		queue:      make(chan requestJob, requestQueueSize),
		stopChan:   make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go c.worker()
	return c
}

// Close drains the request queue and stops the rate-limiting worker.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}

func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequest time.Time
	first := true

	run := func(job requestJob) {
		if !first {
			if elapsed := time.Since(lastRequest); elapsed < rateLimitDelay {
				time.Sleep(rateLimitDelay - elapsed)
			}
		}
		first = false
		body, err := c.doRequest(job.ctx, job.method, job.path, job.params, job.signed)
		lastRequest = time.Now()
		job.resultCh <- requestResult{body: body, err: err}
	}

	for {
		select {
		case <-c.stopChan:
			for {
				select {
				case job := <-c.queue:
					run(job)
				default:
					return
				}
			}
		case job := <-c.queue:
			run(job)
		}
	}
}

// call enqueues a REST request and blocks for its result.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	resultCh := make(chan requestResult, 1)
	job := requestJob{ctx: ctx, method: method, path: path, params: params, signed: signed, resultCh: resultCh}

	select {
	case c.queue <- job:
	case <-c.stopChan:
		return nil, fmt.Errorf("exchange client is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-resultCh:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doRequest performs one HTTP call, signing it first if required.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(recvWindowMs))
		params.Set("signature", sign(c.apiSecret, sortedQueryString(params)))
	}

	reqURL := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		reqURL += "?" + sortedQueryString(params)
	default:
		body = bytes.NewReader([]byte(sortedQueryString(params)))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed || c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", truncate(string(respBody), 500)).
			Msg("venue returned non-200 status")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// APIError wraps a non-200 venue response so callers can branch on status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue returned status %d: %s", e.StatusCode, truncate(e.Body, 300))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// sign computes the HMAC-SHA256 signature the venue expects over the
// sorted, URL-encoded query string — the same query-parameter-signing
// scheme used by every major perpetual-futures REST API.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// sortedQueryString renders params in alphabetical key order, required
// because the signature is computed over a canonical ordering.
func sortedQueryString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

func unmarshalInto(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse venue response: %w", err)
	}
	return nil
}

var _ domain.ExchangeClient = (*Client)(nil)
