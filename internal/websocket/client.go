package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Поток только исходящий; от клиента ждём лишь control-фреймы
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 256
)

// OriginChecker проверяет Origin с O(1) lookup через map.
// Потокобезопасен для чтения после инициализации.
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker строит проверку из списка origin.
// Пустой список или "*" разрешают всё (режим разработки).
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			checker.allowAll = true
		default:
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузер: curl, API-клиенты
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение.
//
// Каждый клиент имеет две горутины:
// 1. readPump - читает control-фреймы и следит за живостью
// 2. writePump - пишет сообщения из send и шлёт ping
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Буферизованный канал исходящих сообщений; закрывает hub
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// сообщения, накопившиеся за время записи, уходят одним фреймом через '\n'
		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler возвращает HTTP handler для /ws/stream
func (h *Hub) Handler(origins *OriginChecker) http.HandlerFunc {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origins.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			conn: conn,
			hub:  h,
			send: make(chan []byte, clientSendBufferSize),
		}
		select {
		case h.register <- client:
		case <-h.stop:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
