package strategy

import (
	"fmt"

	"algopilot/internal/models"
)

// SMACrossoverCode - код SMA crossover в реестре
const SMACrossoverCode = "sma_crossover"

// SMACrossover покупает при пересечении быстрой SMA снизу вверх медленной
// и закрывает лонг при обратном пересечении. Значения SMA приходят
// в индикаторах как sma_<N> и prev_sma_<N>.
type SMACrossover struct {
	fastPeriod int
	slowPeriod int
	quantity   int
}

// NewSMACrossover читает fast_period (10), slow_period (20), quantity (1)
func NewSMACrossover(config models.JSONMap) (Strategy, error) {
	s := &SMACrossover{
		fastPeriod: config.Int("fast_period", 10),
		slowPeriod: config.Int("slow_period", 20),
		quantity:   config.Int("quantity", 1),
	}
	switch {
	case s.fastPeriod <= 0 || s.slowPeriod <= 0:
		return nil, fmt.Errorf("%w: periods must be positive", ErrInvalidConfig)
	case s.fastPeriod >= s.slowPeriod:
		return nil, fmt.Errorf("%w: fast_period must be less than slow_period", ErrInvalidConfig)
	case s.quantity <= 0:
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidConfig)
	}
	return s, nil
}

func (s *SMACrossover) Name() string { return SMACrossoverCode }

func (s *SMACrossover) fastKey() string { return fmt.Sprintf("sma_%d", s.fastPeriod) }
func (s *SMACrossover) slowKey() string { return fmt.Sprintf("sma_%d", s.slowPeriod) }

// RequiredIndicators возвращает sma_<fast>, sma_<slow>
func (s *SMACrossover) RequiredIndicators() []string {
	return []string{s.fastKey(), s.slowKey()}
}

// OnCandleClose сравнивает текущие и предыдущие значения SMA
func (s *SMACrossover) OnCandleClose(md MarketData, state *State) []TradeIntent {
	fast, ok1 := state.Indicators[s.fastKey()]
	slow, ok2 := state.Indicators[s.slowKey()]
	prevFast, ok3 := state.Indicators["prev_"+s.fastKey()]
	prevSlow, ok4 := state.Indicators["prev_"+s.slowKey()]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}

	position := state.Positions[md.Symbol]

	switch {
	case prevFast <= prevSlow && fast > slow:
		if position <= 0 {
			return []TradeIntent{s.intent(md, models.SideBuy, s.quantity, "Fast MA crossed above slow MA")}
		}
	case prevFast >= prevSlow && fast < slow:
		if position > 0 {
			return []TradeIntent{s.intent(md, models.SideSell, position, "Fast MA crossed below slow MA")}
		}
	}
	return nil
}

// OnIndicatorSignal не используется
func (s *SMACrossover) OnIndicatorSignal(_ Signal, _ *State) []TradeIntent {
	return nil
}

func (s *SMACrossover) intent(md MarketData, side models.Side, qty int, reason string) TradeIntent {
	return TradeIntent{
		Symbol:      md.Symbol,
		Exchange:    md.Exchange,
		Side:        side,
		Quantity:    qty,
		ProductType: models.ProductIntraday,
		OrderType:   models.OrderTypeMarket,
		Reason:      reason,
	}
}
