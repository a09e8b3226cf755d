package gateway

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

	"oracle-mm/order"
)

var ErrBadResponse = errors.New("unexpected exchange response")

// RESTRecorder REST 调用指标，由 monitor.Monitor 实现。
type RESTRecorder interface {
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
}

// OracleRESTClient 交易所 REST 网关；每次调用都附带 apiKey/account。HTTPClient 可注入 httptest。
type OracleRESTClient struct {
	BaseURL    string
	APIKey     string
	Account    string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Recorder   RESTRecorder
}

type addOrderReq struct {
	APIKey  string     `json:"apiKey"`
	Account string     `json:"account"`
	Symbol  string     `json:"symbol"`
	Price   int64      `json:"price"`
	Size    int64      `json:"size"`
	Side    order.Side `json:"side"`
	TIF     string     `json:"tif"`
}

type cancelOrderReq struct {
	APIKey  string `json:"apiKey"`
	Account string `json:"account"`
	OrderID string `json:"orderId"`
}

type ackResp struct {
	Status  string `json:"status"`
	Msg     string `json:"msg"`
	ID      flexID `json:"id"`
	OrderID flexID `json:"orderId"`
}

// Place 调用 /exchanges/add_order 下限价单。
// 非 Ack 回执通过 Ack.Status/Reason 返回，不算作 error。
func (c *OracleRESTClient) Place(ctx context.Context, req order.PlaceRequest) (order.Ack, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = "Day"
	}
	body := addOrderReq{
		APIKey:  c.APIKey,
		Account: c.Account,
		Symbol:  req.Symbol,
		Price:   req.Price,
		Size:    req.Size,
		Side:    req.Side,
		TIF:     tif,
	}
	raw, err := c.do(ctx, "add_order", http.MethodPost, "/exchanges/add_order", nil, body)
	if err != nil {
		return order.Ack{}, err
	}
	var ar ackResp
	if err := json.Unmarshal(raw, &ar); err != nil {
		c.recordError("add_order")
		return order.Ack{}, fmt.Errorf("%w: add_order: %v", ErrBadResponse, err)
	}
	ack := order.Ack{Status: order.AckStatus(ar.Status), Reason: ar.Msg, OrderID: string(ar.OrderID)}
	if ack.OrderID == "" {
		ack.OrderID = string(ar.ID)
	}
	if ack.Status == "" {
		ack.Status = order.StatusRejected
	}
	return ack, nil
}

// Cancel 调用 /exchanges/cancel_order；只检查 HTTP 状态，撤单结果以推送为准。
func (c *OracleRESTClient) Cancel(ctx context.Context, orderID string) error {
	body := cancelOrderReq{APIKey: c.APIKey, Account: c.Account, OrderID: orderID}
	_, err := c.do(ctx, "cancel_order", http.MethodPost, "/exchanges/cancel_order", nil, body)
	return err
}

// OpenOrders 调用 /exchanges/open_orders 查询指定交易对的挂单快照。
func (c *OracleRESTClient) OpenOrders(ctx context.Context, symbol string) ([]order.OpenOrder, error) {
	q := url.Values{}
	q.Set("apiKey", c.APIKey)
	q.Set("account", c.Account)
	q.Set("symbol", symbol)
	raw, err := c.do(ctx, "open_orders", http.MethodGet, "/exchanges/open_orders", q, nil)
	if err != nil {
		return nil, err
	}
	orders, err := ParseOrderList(raw, symbol)
	if err != nil {
		c.recordError("open_orders")
		return nil, err
	}
	return orders, nil
}

func (c *OracleRESTClient) do(ctx context.Context, action, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit: %w", action, err)
		}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", action, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Recorder != nil {
		c.Recorder.RecordRESTRequest(action)
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if c.Recorder != nil {
		c.Recorder.RecordRESTLatency(action, time.Since(start).Seconds())
	}
	if err != nil {
		c.recordError(action)
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordError(action)
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode >= 300 {
		c.recordError(action)
		return nil, fmt.Errorf("%w: %s status %d: %s", ErrBadResponse, action, resp.StatusCode, bytes.TrimSpace(raw))
	}
	return raw, nil
}

func (c *OracleRESTClient) recordError(action string) {
	if c.Recorder != nil {
		c.Recorder.RecordRESTError(action)
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
