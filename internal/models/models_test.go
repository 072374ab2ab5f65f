package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBrokerAccount_JSONHidesSecrets(t *testing.T) {
	account := BrokerAccount{
		ID:          1,
		BrokerName:  "dhan",
		AccountID:   "1100012345",
		APIKey:      "secret_api_key",
		APISecret:   "secret_api_secret",
		AccessToken: "secret_token",
		IsActive:    true,
		CreatedAt:   time.Now(),
	}

	data, err := json.Marshal(account)
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	for _, secret := range []string{"secret_api_key", "secret_api_secret", "secret_token"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("секретное поле %q не должно быть в JSON", secret)
		}
	}
	if !strings.Contains(string(data), `"broker_name":"dhan"`) {
		t.Errorf("broker_name missing: %s", data)
	}
}

func TestJSONMap_ValueScan(t *testing.T) {
	m := JSONMap{"fast_period": 10, "note": "x"}

	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var out JSONMap
	if err := out.Scan([]byte(v.(string))); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if out.Int("fast_period", 0) != 10 {
		t.Errorf("fast_period = %v, want 10", out["fast_period"])
	}
	if out["note"] != "x" {
		t.Errorf("note = %v, want x", out["note"])
	}
}

func TestJSONMap_NilAndEmpty(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	if err != nil || v != "{}" {
		t.Errorf("nil Value() = %v, %v; want {}", v, err)
	}

	out := JSONMap{"a": 1}
	if err := out.Scan(nil); err != nil || out != nil {
		t.Errorf("Scan(nil) = %v, map %v", err, out)
	}
	if err := out.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestJSONMap_Accessors(t *testing.T) {
	m := JSONMap{"i": float64(3), "f": 2.5}

	if m.Int("i", 0) != 3 {
		t.Error("Int(i) != 3")
	}
	if m.Int("missing", 7) != 7 {
		t.Error("Int default not used")
	}
	if m.Float("f", 0) != 2.5 {
		t.Error("Float(f) != 2.5")
	}

	c := m.Clone()
	c["i"] = float64(99)
	if m.Int("i", 0) != 3 {
		t.Error("Clone must not share storage")
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusPending, false},
		{OrderStatusSubmitted, false},
		{OrderStatusOpen, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCancelled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", !tt.terminal, tt.terminal)
			}
			if !tt.status.Valid() {
				t.Error("Valid() = false")
			}
		})
	}

	if OrderStatus("unknown").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestEnumValidation(t *testing.T) {
	if !TradingModePaper.Valid() || !TradingModeLive.Valid() || TradingMode("demo").Valid() {
		t.Error("TradingMode.Valid mismatch")
	}
	if !SideBuy.Valid() || !SideSell.Valid() || Side("buy").Valid() {
		t.Error("Side.Valid mismatch")
	}
	if !OrderTypeStopLossMkt.Valid() || OrderType("ICEBERG").Valid() {
		t.Error("OrderType.Valid mismatch")
	}
	if !ProductIntraday.Valid() || ProductType("FUT").Valid() {
		t.Error("ProductType.Valid mismatch")
	}
}

func TestStrategyRun_IsTerminal(t *testing.T) {
	for status, want := range map[RunStatus]bool{
		RunStatusPending: false,
		RunStatusRunning: false,
		RunStatusPaused:  false,
		RunStatusStopped: true,
		RunStatusError:   true,
	} {
		r := &StrategyRun{Status: status}
		if r.IsTerminal() != want {
			t.Errorf("%s: IsTerminal() = %v, want %v", status, !want, want)
		}
	}
}

func TestOrder_DecimalJSON(t *testing.T) {
	o := Order{
		Symbol:   "TCS",
		Side:     SideBuy,
		Quantity: 10,
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("3550.25")),
		Status:   OrderStatusPending,
	}

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"price":"3550.25"`) {
		t.Errorf("price not serialized as decimal string: %s", s)
	}
	if !strings.Contains(s, `"trigger_price":null`) {
		t.Errorf("empty trigger_price should be null: %s", s)
	}
	if !strings.Contains(s, `"transaction_type":"BUY"`) {
		t.Errorf("side not serialized: %s", s)
	}
}
