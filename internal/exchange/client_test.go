package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestClient_SignedRequest_IncludesSignatureAndTimestamp(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: server.URL}, testLogger())
	defer client.Close()

	_, err := client.call(context.Background(), http.MethodGet, "/ping", url.Values{"symbol": {"BTCUSDT"}}, true)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", gotQuery.Get("symbol"))
	assert.NotEmpty(t, gotQuery.Get("timestamp"))
	assert.NotEmpty(t, gotQuery.Get("signature"))
}

func TestClient_UnsignedRequest_OmitsSignature(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())
	defer client.Close()

	_, err := client.call(context.Background(), http.MethodGet, "/fapi/v1/depth", url.Values{"symbol": {"BTCUSDT"}}, false)
	require.NoError(t, err)

	assert.Empty(t, gotQuery.Get("signature"))
}

func TestClient_RateLimitsSequentialRequests(t *testing.T) {
	var mu sync.Mutex
	times := make([]time.Time, 0, 3)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: server.URL}, testLogger())
	defer client.Close()

	for i := 0; i < 3; i++ {
		_, err := client.call(context.Background(), http.MethodGet, "/ping", nil, true)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), rateLimitDelay)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), rateLimitDelay)
}

func TestClient_NonOKStatus_ReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1000,"msg":"bad request"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())
	defer client.Close()

	_, err := client.call(context.Background(), http.MethodGet, "/fapi/v1/depth", nil, false)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad request")
}

func TestClient_CloseDrainsPendingRequests(t *testing.T) {
	var mu sync.Mutex
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.call(context.Background(), http.MethodGet, "/ping", nil, false)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	client.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestClient_CallAfterClose_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, testLogger())
	client.Close()

	_, err := client.call(context.Background(), http.MethodGet, "/ping", nil, false)
	require.Error(t, err)
}

func TestSortedQueryString_OrdersKeysAlphabetically(t *testing.T) {
	params := url.Values{"timestamp": {"100"}, "symbol": {"BTCUSDT"}, "signature": {"ignored"}}
	delete(params, "signature")
	qs := sortedQueryString(params)
	assert.Equal(t, "symbol=BTCUSDT&timestamp=100", qs)
}

func TestSign_IsDeterministicAndKeyDependent(t *testing.T) {
	a := sign("secret-1", "symbol=BTCUSDT")
	b := sign("secret-1", "symbol=BTCUSDT")
	c := sign("secret-2", "symbol=BTCUSDT")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
