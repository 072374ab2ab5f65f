package service

import (
	"context"

	"algopilot/internal/models"
)

// OrderService - чтение и отмена ордеров
type OrderService struct {
	orders    OrderRepositoryInterface
	canceller OrderCanceller
}

// NewOrderService создает сервис ордеров
func NewOrderService(orders OrderRepositoryInterface, canceller OrderCanceller) *OrderService {
	return &OrderService{orders: orders, canceller: canceller}
}

// ListOrders возвращает ордера по фильтру (новые первыми)
func (s *OrderService) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	return s.orders.List(ctx, f)
}

// GetOrder возвращает ордер по ID
func (s *OrderService) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// CancelOrder отменяет открытый ордер у брокера
func (s *OrderService) CancelOrder(ctx context.Context, id int) (*models.Order, error) {
	return s.canceller.CancelOrder(ctx, id)
}
