package broker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/pkg/ratelimit"
	"algopilot/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dhan REST endpoints
const (
	DhanBaseURL        = "https://api.dhan.co"
	DhanSandboxBaseURL = "https://sandbox.dhan.co"

	dhanName = "dhan"

	dhanPathToken     = "/oauth/token"
	dhanPathOrders    = "/orders"
	dhanPathPositions = "/positions"
	dhanPathFunds     = "/funds"

	maxResponseSize = 1 << 20
)

// статусы Dhan -> models.OrderStatus, неизвестный статус считается pending
var dhanStatusMap = map[string]models.OrderStatus{
	"PENDING":            models.OrderStatusPending,
	"TRANSIT":            models.OrderStatusPending,
	"OPEN":               models.OrderStatusOpen,
	"EXECUTED":           models.OrderStatusFilled,
	"TRADED":             models.OrderStatusFilled,
	"PARTIALLY_EXECUTED": models.OrderStatusPartiallyFilled,
	"PART_TRADED":        models.OrderStatusPartiallyFilled,
	"CANCELLED":          models.OrderStatusCancelled,
	"REJECTED":           models.OrderStatusRejected,
	"EXPIRED":            models.OrderStatusExpired,
}

// MapDhanStatus переводит статус Dhan в статус ордера
func MapDhanStatus(status string) models.OrderStatus {
	if s, ok := dhanStatusMap[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return s
	}
	return models.OrderStatusPending
}

// DhanConfig - параметры адаптера
type DhanConfig struct {
	BaseURL string

	// лимиты запросов в секунду
	OrderRate float64
	DataRate  float64

	// повторы для идемпотентных GET
	Retry retry.Config

	HTTP   *HTTPClient
	Logger *zap.Logger
}

// DhanAdapter - адаптер REST API Dhan
type DhanAdapter struct {
	baseURL  string
	apiKey   string
	clientID string

	mu          sync.RWMutex
	accessToken string

	http     *HTTPClient
	limiter  *ratelimit.MultiLimiter
	retryCfg retry.Config
	logger   *zap.Logger
}

var _ Adapter = (*DhanAdapter)(nil)

// NewDhanAdapter создаёт адаптер. Пустые поля конфигурации берут значения по умолчанию.
func NewDhanAdapter(apiKey, accessToken, clientID string, cfg DhanConfig) *DhanAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DhanBaseURL
	}
	if cfg.OrderRate <= 0 {
		cfg.OrderRate = 10
	}
	if cfg.DataRate <= 0 {
		cfg.DataRate = 20
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &DhanAdapter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      apiKey,
		clientID:    clientID,
		accessToken: accessToken,
		http:        cfg.HTTP,
		limiter: ratelimit.NewMultiLimiter().
			Add(ratelimit.CategoryOrder, cfg.OrderRate, cfg.OrderRate).
			Add(ratelimit.CategoryData, cfg.DataRate, cfg.DataRate),
		retryCfg: cfg.Retry,
		logger:   cfg.Logger.With(zap.String("broker", dhanName)),
	}
}

// Name возвращает имя брокера
func (d *DhanAdapter) Name() string { return dhanName }

// ============================================================
// Wire-форматы Dhan
// ============================================================

type dhanTokenRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type dhanTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type dhanOrderRequest struct {
	DhanClientID    string   `json:"dhanClientId,omitempty"`
	SecurityID      string   `json:"securityId"`
	ExchangeSegment string   `json:"exchangeSegment"`
	TransactionType string   `json:"transactionType"`
	Quantity        int      `json:"quantity"`
	ProductType     string   `json:"productType"`
	OrderType       string   `json:"orderType"`
	Price           *float64 `json:"price,omitempty"`
	TriggerPrice    *float64 `json:"triggerPrice,omitempty"`
}

type dhanOrderRecord struct {
	OrderID      string              `json:"orderId"`
	DhanOrderID  string              `json:"dhanOrderId"`
	Status       string              `json:"status"`
	OrderStatus  string              `json:"orderStatus"`
	FilledQty    int                 `json:"filledQty"`
	AveragePrice decimal.NullDecimal `json:"averagePrice"`
	Message      string              `json:"message"`
}

type dhanPositionRecord struct {
	Symbol       string              `json:"symbol"`
	Exchange     string              `json:"exchange"`
	Quantity     int                 `json:"quantity"`
	AveragePrice decimal.Decimal     `json:"averagePrice"`
	LastPrice    decimal.NullDecimal `json:"lastPrice"`
	ProductType  string              `json:"productType"`
}

type dhanListResponse[T any] struct {
	Data []T `json:"data"`
}

type dhanFundsResponse struct {
	AvailableBalance decimal.NullDecimal `json:"availableBalance"`
	AvailabelBalance decimal.NullDecimal `json:"availabelBalance"` // так пишет API Dhan
	UtilizedAmount   decimal.Decimal     `json:"utilizedAmount"`
	SodLimit         decimal.Decimal     `json:"sodLimit"`
	CollateralAmount decimal.Decimal     `json:"collateralAmount"`
}

type dhanErrorResponse struct {
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
	ErrorCode    string `json:"errorCode"`
}

// ============================================================
// Операции
// ============================================================

// Authenticate получает access token и запоминает его для следующих запросов
func (d *DhanAdapter) Authenticate(ctx context.Context, apiKey, apiSecret string) (string, error) {
	const op = "authenticate"

	var resp dhanTokenResponse
	raw, err := d.do(ctx, ratelimit.CategoryData, op, http.MethodPost, dhanPathToken, nil,
		dhanTokenRequest{APIKey: apiKey, APISecret: apiSecret}, ErrAuthentication)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", d.decodeError(op, ErrAuthentication, err)
	}
	if resp.AccessToken == "" {
		return "", newError(dhanName, op, ErrAuthentication, "no access token in response")
	}

	d.mu.Lock()
	d.accessToken = resp.AccessToken
	d.mu.Unlock()
	return resp.AccessToken, nil
}

// PlaceOrder размещает заявку, одна попытка
func (d *DhanAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*PlaceOrderResult, error) {
	const op = "place_order"

	raw, err := d.do(ctx, ratelimit.CategoryOrder, op, http.MethodPost, dhanPathOrders, nil,
		d.mapOrderRequest(req), ErrOrder)
	if err != nil {
		return nil, err
	}

	var rec dhanOrderRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, d.decodeError(op, ErrOrder, err)
	}
	id := rec.OrderID
	if id == "" {
		id = rec.DhanOrderID
	}
	if id == "" {
		return nil, newError(dhanName, op, ErrOrder, "no order ID in Dhan response")
	}

	status := PlaceStatusPending
	if strings.EqualFold(rec.Status, "SUCCESS") {
		status = PlaceStatusSuccess
	}

	return &PlaceOrderResult{
		BrokerOrderID: id,
		Status:        status,
		Message:       rec.Message,
		Raw:           rawMap(raw),
	}, nil
}

// CancelOrder отменяет заявку, одна попытка
func (d *DhanAdapter) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	_, err := d.do(ctx, ratelimit.CategoryOrder, "cancel_order", http.MethodDelete,
		dhanPathOrders+"/"+url.PathEscape(brokerOrderID), nil, nil, ErrOrder)
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOrderStatus запрашивает статус заявки
func (d *DhanAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderStatusRecord, error) {
	const op = "order_status"

	raw, err := d.get(ctx, op, dhanPathOrders+"/"+url.PathEscape(brokerOrderID), nil, ErrOrder)
	if err != nil {
		return nil, err
	}

	var rec dhanOrderRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, d.decodeError(op, ErrOrder, err)
	}
	out := d.mapOrderRecord(rec, rawMap(raw))
	out.BrokerOrderID = brokerOrderID
	return &out, nil
}

// FetchPositions возвращает позиции, биржа по умолчанию NSE
func (d *DhanAdapter) FetchPositions(ctx context.Context) ([]PositionRecord, error) {
	const op = "fetch_positions"

	raw, err := d.get(ctx, op, dhanPathPositions, nil, ErrTransport)
	if err != nil {
		return nil, err
	}

	var resp dhanListResponse[dhanPositionRecord]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, d.decodeError(op, ErrTransport, err)
	}

	positions := make([]PositionRecord, 0, len(resp.Data))
	for _, p := range resp.Data {
		exchange := p.Exchange
		if exchange == "" {
			exchange = "NSE"
		}
		product := models.ProductType(p.ProductType)
		if product == "" {
			product = models.ProductIntraday
		}
		positions = append(positions, PositionRecord{
			Symbol:       p.Symbol,
			Exchange:     exchange,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			ProductType:  product,
		})
	}
	return positions, nil
}

// FetchOrders возвращает список заявок
func (d *DhanAdapter) FetchOrders(ctx context.Context, query OrderQuery) ([]OrderStatusRecord, error) {
	const op = "fetch_orders"

	params := url.Values{}
	if query.Status != "" {
		params.Set("status", query.Status)
	}
	if query.Symbol != "" {
		params.Set("symbol", query.Symbol)
	}

	raw, err := d.get(ctx, op, dhanPathOrders, params, ErrTransport)
	if err != nil {
		return nil, err
	}

	var resp dhanListResponse[jsoniter.RawMessage]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, d.decodeError(op, ErrTransport, err)
	}

	orders := make([]OrderStatusRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		var rec dhanOrderRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, d.decodeError(op, ErrTransport, err)
		}
		orders = append(orders, d.mapOrderRecord(rec, rawMap(item)))
	}
	return orders, nil
}

// GetAccountBalance возвращает средства счёта
func (d *DhanAdapter) GetAccountBalance(ctx context.Context) (*Balance, error) {
	const op = "account_balance"

	raw, err := d.get(ctx, op, dhanPathFunds, nil, ErrTransport)
	if err != nil {
		return nil, err
	}

	var resp dhanFundsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, d.decodeError(op, ErrTransport, err)
	}

	available := resp.AvailableBalance
	if !available.Valid {
		available = resp.AvailabelBalance
	}
	return &Balance{
		AvailableBalance: available.Decimal,
		UsedMargin:       resp.UtilizedAmount,
		TotalMargin:      resp.SodLimit,
		Collateral:       resp.CollateralAmount,
	}, nil
}

// ============================================================
// Маппинг
// ============================================================

func (d *DhanAdapter) mapOrderRequest(req OrderRequest) dhanOrderRequest {
	out := dhanOrderRequest{
		DhanClientID:    d.clientID,
		SecurityID:      req.Symbol,
		ExchangeSegment: req.Exchange,
		TransactionType: string(req.Side),
		Quantity:        req.Quantity,
		ProductType:     string(req.ProductType),
		OrderType:       string(req.OrderType),
	}
	if req.Price.Valid {
		p := req.Price.Decimal.InexactFloat64()
		out.Price = &p
	}
	if req.TriggerPrice.Valid {
		p := req.TriggerPrice.Decimal.InexactFloat64()
		out.TriggerPrice = &p
	}
	return out
}

func (d *DhanAdapter) mapOrderRecord(rec dhanOrderRecord, raw models.JSONMap) OrderStatusRecord {
	avg := rec.AveragePrice
	if avg.Valid && avg.Decimal.IsZero() {
		avg = decimal.NullDecimal{}
	}
	return OrderStatusRecord{
		BrokerOrderID:  rec.OrderID,
		Status:         MapDhanStatus(rec.OrderStatus),
		FilledQuantity: rec.FilledQty,
		AveragePrice:   avg,
		Message:        rec.Message,
		Raw:            raw,
	}
}

func rawMap(raw []byte) models.JSONMap {
	m := models.JSONMap{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.JSONMap{"raw": string(raw)}
	}
	return m
}

// ============================================================
// HTTP
// ============================================================

// get - идемпотентный GET с повторами
func (d *DhanAdapter) get(ctx context.Context, op, path string, params url.Values, kind error) ([]byte, error) {
	cfg := d.retryCfg
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.logger.Warn("retrying broker request",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return d.do(ctx, ratelimit.CategoryData, op, http.MethodGet, path, params, nil, kind)
	}, cfg)
}

func (d *DhanAdapter) do(ctx context.Context, category, op, method, path string, params url.Values, body interface{}, kind error) ([]byte, error) {
	if err := d.limiter.Wait(ctx, category); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &BrokerError{Broker: dhanName, Op: op, Message: "encode request", Kind: kind, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := d.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &BrokerError{Broker: dhanName, Op: op, Message: "build request", Kind: kind, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", d.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	d.mu.RLock()
	if d.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
	}
	d.mu.RUnlock()

	start := time.Now()
	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &BrokerError{Broker: dhanName, Op: op, Message: "request failed", Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &BrokerError{Broker: dhanName, Op: op, Message: "read response", Kind: ErrTransport, Err: err}
	}

	d.logger.Debug("broker request",
		zap.String("op", op),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &BrokerError{
			Broker:  dhanName,
			Op:      op,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: errorMessage(raw, resp.Status),
			Kind:    kindForStatus(resp.StatusCode, kind),
		}
	}
	return raw, nil
}

func (d *DhanAdapter) decodeError(op string, kind, err error) error {
	return &BrokerError{Broker: dhanName, Op: op, Message: "decode response", Kind: kind, Err: err}
}

func errorMessage(raw []byte, fallback string) string {
	var e dhanErrorResponse
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.ErrorMessage != "" {
			return e.ErrorMessage
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return fallback
}
