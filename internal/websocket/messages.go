package websocket

import (
	"time"

	"algopilot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

const (
	// MessageTypeOrderUpdate - ордер создан, отправлен или сменил статус
	MessageTypeOrderUpdate MessageType = "order_update"

	// MessageTypeRunUpdate - запуск стратегии сменил статус
	MessageTypeRunUpdate MessageType = "run_update"

	// MessageTypeRiskEvent - намерение запрещено риск-правилом
	MessageTypeRiskEvent MessageType = "risk_event"
)

// Message - конверт всех сообщений потока
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage собирает конверт с текущим временем UTC
func NewMessage(t MessageType, data interface{}) *Message {
	return &Message{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// RunUpdateData - данные run_update
type RunUpdateData struct {
	StrategyRunID int              `json:"strategy_run_id"`
	Status        models.RunStatus `json:"status"`
	Message       string           `json:"message,omitempty"`
}
