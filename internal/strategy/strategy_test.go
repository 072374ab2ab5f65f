package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
)

func TestTradeIntent_Validate(t *testing.T) {
	valid := TradeIntent{
		Symbol: "TCS", Exchange: "NSE", Side: models.SideBuy, Quantity: 10,
		ProductType: models.ProductIntraday, OrderType: models.OrderTypeMarket,
	}

	tests := []struct {
		name    string
		mutate  func(i *TradeIntent)
		wantErr bool
	}{
		{"valid", func(i *TradeIntent) {}, false},
		{"bad symbol", func(i *TradeIntent) { i.Symbol = "" }, true},
		{"bad exchange", func(i *TradeIntent) { i.Exchange = "NYSE" }, true},
		{"zero quantity", func(i *TradeIntent) { i.Quantity = 0 }, true},
		{"bad side", func(i *TradeIntent) { i.Side = "HOLD" }, true},
		{"negative price", func(i *TradeIntent) { i.IntendedPrice = decimal.NewNullDecimal(decimal.NewFromInt(-1)) }, true},
		{"limit without price", func(i *TradeIntent) { i.OrderType = models.OrderTypeLimit }, true},
		{"unknown product", func(i *TradeIntent) { i.ProductType = "SWAP" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			if err := in.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTradeIntent_WithDefaults(t *testing.T) {
	in := TradeIntent{Symbol: " tcs ", Exchange: "nse", Side: models.SideBuy, Quantity: 1}.WithDefaults()
	if in.Symbol != "TCS" || in.Exchange != "NSE" || in.OrderType != models.OrderTypeMarket || in.ProductType != models.ProductIntraday {
		t.Errorf("WithDefaults() = %+v", in)
	}

	priced := TradeIntent{IntendedPrice: decimal.NewNullDecimal(decimal.NewFromInt(100))}.WithDefaults()
	if priced.OrderType != models.OrderTypeLimit {
		t.Errorf("priced intent order type = %s, want LIMIT", priced.OrderType)
	}
}

func TestState_ApplyIntent(t *testing.T) {
	st := NewState(models.JSONMap{"quantity": float64(2)})
	st.ApplyIntent(TradeIntent{Symbol: "TCS", Side: models.SideBuy, Quantity: 10})
	st.ApplyIntent(TradeIntent{Symbol: "TCS", Side: models.SideSell, Quantity: 4})
	if st.Positions["TCS"] != 6 {
		t.Errorf("position = %d, want 6", st.Positions["TCS"])
	}

	st.ApplyIntent(TradeIntent{Symbol: "TCS", Side: models.SideSell, Quantity: 6})
	if _, ok := st.Positions["TCS"]; ok {
		t.Error("flat position must be removed")
	}
	if st.Config.Int("quantity", 0) != 2 {
		t.Error("config must be copied into state")
	}
}

func TestState_RecordSignalsBounded(t *testing.T) {
	st := NewState(nil)
	for i := 0; i < maxLastSignals+5; i++ {
		st.RecordSignals([]TradeIntent{{Symbol: "TCS", Quantity: i + 1}})
	}
	if len(st.LastSignals) != maxLastSignals {
		t.Fatalf("len = %d, want %d", len(st.LastSignals), maxLastSignals)
	}
	if st.LastSignals[len(st.LastSignals)-1].Quantity != maxLastSignals+5 {
		t.Error("newest signal must be kept last")
	}
	st.RecordSignals(nil)
	if len(st.LastSignals) != maxLastSignals {
		t.Error("empty batch must not change signals")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	if !r.Has(SMACrossoverCode) || !r.Has("ma_crossover") || r.Has("rsi_mean_reversion") {
		t.Error("unexpected registry contents")
	}

	s, err := r.New(SMACrossoverCode, nil)
	if err != nil || s.Name() != SMACrossoverCode {
		t.Fatalf("New() = %v, %v", s, err)
	}

	if _, err := r.New("rsi_mean_reversion", nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("unknown code error = %v", err)
	}
	if err := r.Validate(SMACrossoverCode, models.JSONMap{"fast_period": float64(30)}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("invalid config error = %v", err)
	}

	codes := r.Codes()
	if len(codes) != 4 || codes[0] != "ma_crossover" {
		t.Errorf("Codes() = %v", codes)
	}
}

func TestNewRegistry_IsClosed(t *testing.T) {
	factories := map[string]Factory{"a": NewSMACrossover}
	r := NewRegistry(factories)
	factories["b"] = NewSMACrossover

	if r.Has("b") {
		t.Error("registry must not see later changes to the source map")
	}
}
