package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SigRelay/internal/domain/models"
	xlogger "SigRelay/pkg/logger"
)

// FeedHub streams cycle reports to connected WebSocket clients. A slow
// client is dropped rather than allowed to stall the dispatcher.
type FeedHub struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewFeedHub(logger *xlogger.Logger) *FeedHub {
	return &FeedHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Serve upgrades the connection and streams reports until the client
// disconnects.
func (h *FeedHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	out := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = out
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("feed client connected", xlogger.Int("clients", n))

	go h.writeLoop(conn, out)
	h.readLoop(conn)
	return nil
}

func (h *FeedHub) writeLoop(conn *websocket.Conn, out chan []byte) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(conn)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(conn)
				return
			}
		}
	}
}

func (h *FeedHub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *FeedHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	out, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(out)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// PublishReport fans the report out to every connected client. Clients
// whose buffers are full are dropped.
func (h *FeedHub) PublishReport(_ context.Context, report *models.CycleReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}

	h.mu.Lock()
	var stale []*websocket.Conn
	for conn, out := range h.clients {
		select {
		case out <- payload:
		default:
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.logger.Warn("dropping slow feed client")
		h.drop(conn)
	}
	return nil
}

// Close disconnects all clients.
func (h *FeedHub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.drop(conn)
	}
}
