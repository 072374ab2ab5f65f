package strategy

import (
	"errors"
	"testing"

	"algopilot/internal/models"
)

func newSMA(t *testing.T, cfg models.JSONMap) Strategy {
	t.Helper()
	s, err := NewSMACrossover(cfg)
	if err != nil {
		t.Fatalf("NewSMACrossover() error: %v", err)
	}
	return s
}

func smaState(fast, slow, prevFast, prevSlow float64, position int) *State {
	st := NewState(nil)
	st.MergeIndicators(map[string]float64{
		"sma_10":      fast,
		"sma_20":      slow,
		"prev_sma_10": prevFast,
		"prev_sma_20": prevSlow,
	})
	if position != 0 {
		st.Positions["TCS"] = position
	}
	return st
}

func TestSMACrossover_OnCandleClose(t *testing.T) {
	md := MarketData{Symbol: "TCS", Exchange: "NSE"}

	tests := []struct {
		name     string
		state    *State
		wantSide models.Side
		wantQty  int
	}{
		{"golden cross flat", smaState(101, 100, 99, 100, 0), models.SideBuy, 1},
		{"golden cross short", smaState(101, 100, 99, 100, -3), models.SideBuy, 1},
		{"golden cross already long", smaState(101, 100, 99, 100, 2), "", 0},
		{"death cross long", smaState(99, 100, 101, 100, 5), models.SideSell, 5},
		{"death cross flat", smaState(99, 100, 101, 100, 0), "", 0},
		{"no cross", smaState(105, 100, 104, 100, 0), "", 0},
		{"missing indicators", NewState(nil), "", 0},
	}

	s := newSMA(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intents := s.OnCandleClose(md, tt.state)
			if tt.wantSide == "" {
				if len(intents) != 0 {
					t.Errorf("expected no intents, got %+v", intents)
				}
				return
			}
			if len(intents) != 1 {
				t.Fatalf("intents = %d, want 1", len(intents))
			}
			in := intents[0]
			if in.Side != tt.wantSide || in.Quantity != tt.wantQty {
				t.Errorf("intent = %+v", in)
			}
			if in.OrderType != models.OrderTypeMarket || in.ProductType != models.ProductIntraday || in.IntendedPrice.Valid {
				t.Errorf("intent must be an intraday market order: %+v", in)
			}
			if err := in.Validate(); err != nil {
				t.Errorf("produced intent is invalid: %v", err)
			}
		})
	}
}

func TestSMACrossover_CustomPeriods(t *testing.T) {
	s := newSMA(t, models.JSONMap{"fast_period": float64(5), "slow_period": float64(50), "quantity": float64(7)})

	req := s.RequiredIndicators()
	if len(req) != 2 || req[0] != "sma_5" || req[1] != "sma_50" {
		t.Errorf("RequiredIndicators() = %v", req)
	}

	st := NewState(nil)
	st.MergeIndicators(map[string]float64{"sma_5": 11, "sma_50": 10, "prev_sma_5": 9, "prev_sma_50": 10})
	intents := s.OnCandleClose(MarketData{Symbol: "INFY", Exchange: "NSE"}, st)
	if len(intents) != 1 || intents[0].Quantity != 7 {
		t.Errorf("intents = %+v", intents)
	}
}

func TestNewSMACrossover_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.JSONMap
	}{
		{"fast not less than slow", models.JSONMap{"fast_period": float64(20), "slow_period": float64(20)}},
		{"zero period", models.JSONMap{"fast_period": float64(0)}},
		{"negative quantity", models.JSONMap{"quantity": float64(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSMACrossover(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSMACrossover_IndicatorSignalIgnored(t *testing.T) {
	s := newSMA(t, nil)
	if got := s.OnIndicatorSignal(Signal{Name: "rsi"}, NewState(nil)); len(got) != 0 {
		t.Errorf("OnIndicatorSignal() = %v", got)
	}
}
