package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"algopilot/internal/engine"
	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBufferSize - очередь hub; при переполнении сообщения отбрасываются
const broadcastBufferSize = 256

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Рассылает события исполнения (ордера, запуски, риск-события) всем
// подключенным клиентам. Broadcast никогда не блокирует вызывающего:
// торговый цикл важнее медленного клиента.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Передать hub в обработчик намерений и супервизор как engine.Notifier
// 4. При остановке: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Очередь сообщений для рассылки
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	// Число сообщений, отброшенных из-за переполнения очереди
	dropped atomic.Int64

	logger *zap.Logger
	mu     sync.RWMutex
}

var _ engine.Notifier = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.With(utils.Component("ws_hub")),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("removed slow clients",
					zap.Int("removed", len(toRemove)),
					zap.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast сериализует сообщение и ставит его в очередь без блокировки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)

	select {
	case h.broadcast <- msgCopy:
	default:
		h.dropped.Add(1)
	}
}

// ============ engine.Notifier ============

// BroadcastOrderUpdate отправляет текущее состояние ордера
func (h *Hub) BroadcastOrderUpdate(order *models.Order) {
	if order == nil {
		return
	}
	h.Broadcast(NewMessage(MessageTypeOrderUpdate, order))
}

// BroadcastRunUpdate отправляет смену статуса запуска
func (h *Hub) BroadcastRunUpdate(runID int, status models.RunStatus, message string) {
	h.Broadcast(NewMessage(MessageTypeRunUpdate, &RunUpdateData{
		StrategyRunID: runID,
		Status:        status,
		Message:       message,
	}))
}

// BroadcastRiskEvent отправляет запрет риск-движка
func (h *Hub) BroadcastRiskEvent(event *models.RiskEvent) {
	if event == nil {
		return
	}
	h.Broadcast(NewMessage(MessageTypeRiskEvent, event))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
