package service

import (
	"context"
	"time"

	"algopilot/internal/models"
	"algopilot/internal/risk"
	"algopilot/pkg/utils"
)

// RiskService - журнал риск-событий и действующие лимиты.
// Сами проверки выполняет risk.Engine внутри обработчика намерений.
type RiskService struct {
	events RiskEventRepositoryInterface
	limits risk.Limits
	rules  []string
	now    func() time.Time
}

// NewRiskService создает сервис. rules - имена правил в порядке проверки.
func NewRiskService(events RiskEventRepositoryInterface, limits risk.Limits, rules []string) *RiskService {
	return &RiskService{events: events, limits: limits, rules: rules, now: time.Now}
}

// ListEvents возвращает события, новые первыми
func (s *RiskService) ListEvents(ctx context.Context, f models.RiskEventFilter) ([]*models.RiskEvent, error) {
	return s.events.List(ctx, f)
}

// TodayStats возвращает агрегаты журнала с начала UTC-дня
func (s *RiskService) TodayStats(ctx context.Context) (*models.RiskStats, error) {
	return s.events.StatsSince(ctx, utils.GetDayStartFrom(s.now()))
}

// Limits возвращает действующие лимиты
func (s *RiskService) Limits() risk.Limits {
	return s.limits
}

// Rules возвращает имена правил в порядке проверки
func (s *RiskService) Rules() []string {
	return append([]string(nil), s.rules...)
}
