package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-mm/order"
)

type countingRecorder struct {
	mu       sync.Mutex
	requests map[string]int
	errors   map[string]int
	observed int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{requests: map[string]int{}, errors: map[string]int{}}
}

func (r *countingRecorder) RecordRESTRequest(a string) { r.mu.Lock(); r.requests[a]++; r.mu.Unlock() }
func (r *countingRecorder) RecordRESTError(a string)   { r.mu.Lock(); r.errors[a]++; r.mu.Unlock() }
func (r *countingRecorder) RecordRESTLatency(string, float64) {
	r.mu.Lock()
	r.observed++
	r.mu.Unlock()
}

func newTestClient(ts *httptest.Server, rec RESTRecorder) *OracleRESTClient {
	return &OracleRESTClient{
		BaseURL:    ts.URL + "/",
		APIKey:     "key-1",
		Account:    "NAF",
		HTTPClient: ts.Client(),
		Limiter:    NewTokenBucketLimiter(1000, 10),
		Recorder:   rec,
	}
}

func TestOracleRESTPlace(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/exchanges/add_order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"status":"Ack","msg":"ok","orderId":991}`)
	}))
	defer ts.Close()

	rec := newCountingRecorder()
	cli := newTestClient(ts, rec)
	ack, err := cli.Place(context.Background(), order.PlaceRequest{
		Symbol: "LOAN", Side: order.Buy, Price: 51, Size: 100000,
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.Equal(t, "991", ack.OrderID)

	assert.Equal(t, map[string]interface{}{
		"apiKey": "key-1", "account": "NAF", "symbol": "LOAN",
		"price": 51.0, "size": 100000.0, "side": "Buy", "tif": "Day",
	}, got)
	assert.Equal(t, 1, rec.requests["add_order"])
	assert.Equal(t, 1, rec.observed)
	assert.Zero(t, rec.errors["add_order"])
}

func TestOracleRESTPlaceRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"Error","msg":"insufficient margin"}`)
	}))
	defer ts.Close()

	ack, err := newTestClient(ts, nil).Place(context.Background(), order.PlaceRequest{Symbol: "LOAN", Side: order.Sell, Price: 54, Size: 1})
	require.NoError(t, err, "venue rejection is not a transport error")
	assert.False(t, ack.Accepted())
	assert.Equal(t, "insufficient margin", ack.Reason)
}

func TestOracleRESTPlaceBadResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	}))
	defer ts.Close()

	rec := newCountingRecorder()
	_, err := newTestClient(ts, rec).Place(context.Background(), order.PlaceRequest{Symbol: "LOAN", Side: order.Buy, Price: 1, Size: 1})
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, 1, rec.errors["add_order"])
}

func TestOracleRESTCancel(t *testing.T) {
	var got cancelOrderReq
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exchanges/cancel_order", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, newTestClient(ts, nil).Cancel(context.Background(), "a1"))
	assert.Equal(t, cancelOrderReq{APIKey: "key-1", Account: "NAF", OrderID: "a1"}, got)
}

func TestOracleRESTHTTPErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	rec := newCountingRecorder()
	err := newTestClient(ts, rec).Cancel(context.Background(), "a1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, 1, rec.errors["cancel_order"])
}

func TestOracleRESTOpenOrders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "key-1", q.Get("apiKey"))
		assert.Equal(t, "NAF", q.Get("account"))
		assert.Equal(t, "LOAN", q.Get("symbol"))
		_, _ = io.WriteString(w, `[{"id":"a","side":"buy","price":50,"size":10},{"id":"b","side":"sell","price":55,"size":20}]`)
	}))
	defer ts.Close()

	orders, err := newTestClient(ts, nil).OpenOrders(context.Background(), "LOAN")
	require.NoError(t, err)
	assert.Equal(t, []order.OpenOrder{
		{ID: "a", Side: order.Buy, Price: 50, Size: 10},
		{ID: "b", Side: order.Sell, Price: 55, Size: 20},
	}, orders)
}

func TestOracleRESTHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(ts, nil).Place(ctx, order.PlaceRequest{Symbol: "LOAN", Side: order.Buy, Price: 1, Size: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOracleRESTRequiresHTTPClient(t *testing.T) {
	cli := &OracleRESTClient{BaseURL: "http://127.0.0.1:1"}
	err := cli.Cancel(context.Background(), "x")
	assert.Error(t, err)
}
