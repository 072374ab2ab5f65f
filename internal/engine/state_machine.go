package engine

import "algopilot/internal/models"

// RunTransitions определяет допустимые переходы статуса запуска стратегии.
// paused зарезервирован: переходов в него и из него нет.
var RunTransitions = map[models.RunStatus][]models.RunStatus{
	models.RunStatusPending: {models.RunStatusRunning},
	models.RunStatusRunning: {models.RunStatusStopped, models.RunStatusError},
}

// OrderTransitions определяет допустимые переходы статуса ордера.
// Конечные статусы (filled, cancelled, rejected, expired) переходов не имеют.
var OrderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {models.OrderStatusSubmitted, models.OrderStatusRejected},
	models.OrderStatusSubmitted: {
		models.OrderStatusOpen,
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
		models.OrderStatusExpired,
	},
	models.OrderStatusOpen: {
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusRejected,
		models.OrderStatusExpired,
	},
	// повторный partially_filled - рост исполненного объёма
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFilled,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
}

// CanTransitionRun проверяет допустимость перехода запуска
func CanTransitionRun(from, to models.RunStatus) bool {
	return contains(RunTransitions[from], to)
}

// CanTransitionOrder проверяет допустимость перехода ордера
func CanTransitionOrder(from, to models.OrderStatus) bool {
	return contains(OrderTransitions[from], to)
}

// IsActiveRun возвращает true если запуск принимает рыночные данные
func IsActiveRun(s models.RunStatus) bool {
	return s == models.RunStatusRunning
}

func contains[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
