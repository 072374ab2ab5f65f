package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
	"algopilot/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestDhan(t *testing.T, handler http.HandlerFunc) (*DhanAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d := NewDhanAdapter("key-1", "token-1", "1100001", DhanConfig{
		BaseURL:   srv.URL,
		OrderRate: 1000,
		DataRate:  1000,
		Retry:     fastRetry(),
	})
	return d, srv
}

func TestDhan_PlaceOrder(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "key-1" {
			t.Errorf("X-API-KEY = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
			return
		}
		if body["securityId"] != "TCS" || body["transactionType"] != "BUY" || body["dhanClientId"] != "1100001" {
			t.Errorf("unexpected body: %v", body)
		}
		if body["quantity"] != float64(10) {
			t.Errorf("quantity = %v", body["quantity"])
		}
		if _, ok := body["price"]; ok {
			t.Error("market order must not carry price")
		}
		w.Write([]byte(`{"orderId":"112233","status":"SUCCESS","message":"ok"}`))
	})

	res, err := d.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "TCS",
		Exchange:    "NSE",
		Side:        models.SideBuy,
		Quantity:    10,
		OrderType:   models.OrderTypeMarket,
		ProductType: models.ProductIntraday,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if res.BrokerOrderID != "112233" || res.Status != PlaceStatusSuccess || res.Message != "ok" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Raw["orderId"] != "112233" {
		t.Errorf("raw response not kept: %v", res.Raw)
	}
}

func TestDhan_PlaceOrder_Responses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantID     string
		wantStatus string
		wantKind   error
	}{
		{"dhan order id fallback", 200, `{"dhanOrderId":"77","status":"TRANSIT"}`, "77", PlaceStatusPending, nil},
		{"no order id", 200, `{"status":"SUCCESS"}`, "", "", ErrOrder},
		{"server error", 500, `{"errorMessage":"internal"}`, "", "", ErrOrder},
		{"unauthorized", 401, `{"errorMessage":"token expired"}`, "", "", ErrAuthentication},
		{"bad json", 200, `not json`, "", "", ErrOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			price := decimal.NewNullDecimal(decimal.RequireFromString("3500"))
			res, err := d.PlaceOrder(context.Background(), OrderRequest{
				Symbol: "TCS", Exchange: "NSE", Side: models.SideBuy, Quantity: 1,
				OrderType: models.OrderTypeLimit, ProductType: models.ProductIntraday, Price: price,
			})

			if atomic.LoadInt32(&calls) != 1 {
				t.Errorf("placement must be a single attempt, got %d calls", calls)
			}
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("error = %v, want kind %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlaceOrder() error: %v", err)
			}
			if res.BrokerOrderID != tt.wantID || res.Status != tt.wantStatus {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestDhan_GetOrderStatus(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/orders/555" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"orderStatus":"PARTIALLY_EXECUTED","filledQty":4,"averagePrice":3500.5}`))
	})

	rec, err := d.GetOrderStatus(context.Background(), "555")
	if err != nil {
		t.Fatalf("GetOrderStatus() error: %v", err)
	}
	if rec.BrokerOrderID != "555" || rec.Status != models.OrderStatusPartiallyFilled || rec.FilledQuantity != 4 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.AveragePrice.Valid || !rec.AveragePrice.Decimal.Equal(decimal.RequireFromString("3500.5")) {
		t.Errorf("average price = %v", rec.AveragePrice)
	}
}

func TestDhan_GetOrderStatus_RetriesServerErrors(t *testing.T) {
	var calls int32
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"orderStatus":"EXECUTED","filledQty":10,"averagePrice":0}`))
	})

	rec, err := d.GetOrderStatus(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetOrderStatus() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if rec.Status != models.OrderStatusFilled {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.AveragePrice.Valid {
		t.Error("zero average price must be treated as absent")
	}
}

func TestDhan_GetOrderStatus_NoRetryOnClientError(t *testing.T) {
	var calls int32
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := d.GetOrderStatus(context.Background(), "1")
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
	var be *BrokerError
	if !errors.As(err, &be) || be.Code != "403" {
		t.Errorf("expected BrokerError with code 403, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDhan_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDhanAdapter("k", "t", "c", DhanConfig{BaseURL: url, Retry: fastRetry()})
	_, err := d.FetchPositions(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestDhan_CancelOrder(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/orders/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"orderStatus":"CANCELLED"}`))
	})

	ok, err := d.CancelOrder(context.Background(), "42")
	if err != nil || !ok {
		t.Errorf("CancelOrder() = %v, %v", ok, err)
	}
}

func TestDhan_FetchPositions(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"symbol":"TCS","quantity":5,"averagePrice":3500,"lastPrice":3510,"productType":"INTRADAY"},
			{"symbol":"INFY","exchange":"BSE","quantity":-2,"averagePrice":"1500.25"}
		]}`))
	})

	positions, err := d.FetchPositions(context.Background())
	if err != nil {
		t.Fatalf("FetchPositions() error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len = %d, want 2", len(positions))
	}
	if positions[0].Exchange != "NSE" {
		t.Errorf("default exchange = %q, want NSE", positions[0].Exchange)
	}
	if !positions[0].LastPrice.Valid {
		t.Error("last price must be set")
	}
	if positions[1].Quantity != -2 || positions[1].ProductType != models.ProductIntraday {
		t.Errorf("unexpected second position: %+v", positions[1])
	}
	if !positions[1].AveragePrice.Equal(decimal.RequireFromString("1500.25")) {
		t.Errorf("average price = %s", positions[1].AveragePrice)
	}
}

func TestDhan_FetchOrders_Query(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "OPEN" || q.Get("symbol") != "TCS" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[{"orderId":"1","orderStatus":"OPEN"},{"orderId":"2","orderStatus":"EXPIRED"}]}`))
	})

	orders, err := d.FetchOrders(context.Background(), OrderQuery{Status: "OPEN", Symbol: "TCS"})
	if err != nil {
		t.Fatalf("FetchOrders() error: %v", err)
	}
	if len(orders) != 2 || orders[0].BrokerOrderID != "1" || orders[1].Status != models.OrderStatusExpired {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestDhan_GetAccountBalance(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/funds" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"availabelBalance":98000.5,"utilizedAmount":2000,"sodLimit":100000,"collateralAmount":0}`))
	})

	bal, err := d.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("GetAccountBalance() error: %v", err)
	}
	if !bal.AvailableBalance.Equal(decimal.RequireFromString("98000.5")) {
		t.Errorf("available = %s", bal.AvailableBalance)
	}
	if !bal.UsedMargin.Equal(decimal.NewFromInt(2000)) || !bal.TotalMargin.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("unexpected balance: %+v", bal)
	}
}

func TestDhan_Authenticate(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Write([]byte(`{"access_token":"fresh"}`))
		case "/funds":
			if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
				t.Errorf("Authorization = %q, want new token", got)
			}
			w.Write([]byte(`{"availableBalance":1}`))
		}
	})

	token, err := d.Authenticate(context.Background(), "key", "secret")
	if err != nil || token != "fresh" {
		t.Fatalf("Authenticate() = %q, %v", token, err)
	}
	if _, err := d.GetAccountBalance(context.Background()); err != nil {
		t.Fatalf("GetAccountBalance() error: %v", err)
	}
}

func TestDhan_Authenticate_NoToken(t *testing.T) {
	d, _ := newTestDhan(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := d.Authenticate(context.Background(), "key", "secret"); !errors.Is(err, ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

func TestMapDhanStatus(t *testing.T) {
	tests := map[string]models.OrderStatus{
		"PENDING":            models.OrderStatusPending,
		"open":               models.OrderStatusOpen,
		"EXECUTED":           models.OrderStatusFilled,
		"PARTIALLY_EXECUTED": models.OrderStatusPartiallyFilled,
		"CANCELLED":          models.OrderStatusCancelled,
		"REJECTED":           models.OrderStatusRejected,
		"EXPIRED":            models.OrderStatusExpired,
		"SOMETHING_NEW":      models.OrderStatusPending,
		"":                   models.OrderStatusPending,
	}
	for in, want := range tests {
		if got := MapDhanStatus(in); got != want {
			t.Errorf("MapDhanStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
