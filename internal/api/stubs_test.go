package api

import (
	"context"

	"algopilot/internal/models"
	"algopilot/internal/risk"
)

type stubRisk struct{}

func (stubRisk) ListEvents(context.Context, models.RiskEventFilter) ([]*models.RiskEvent, error) {
	return nil, nil
}

func (stubRisk) TodayStats(context.Context) (*models.RiskStats, error) {
	return &models.RiskStats{}, nil
}

func (stubRisk) Limits() risk.Limits { return risk.DefaultLimits() }

func (stubRisk) Rules() []string { return nil }
