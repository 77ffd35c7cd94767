package observer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"realmforge/internal/domain"
)

const defaultWriteTimeout = 5 * time.Second

// WebSocket streams events to one connected client as JSON text frames.
// The first failed write marks it closed; the bus then detaches it.
type WebSocket struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration
	closed  atomic.Bool
}

// NewWebSocket wraps an accepted connection.
func NewWebSocket(id string, conn *websocket.Conn, writeTimeout time.Duration) *WebSocket {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocket{id: id, conn: conn, timeout: writeTimeout}
}

// ID implements domain.Observer.
func (w *WebSocket) ID() string { return w.id }

// Notify implements domain.Observer.
func (w *WebSocket) Notify(ctx context.Context, ev domain.TelemetryEvent) error {
	if w.closed.Load() {
		return fmt.Errorf("websocket %s: connection closed", w.id)
	}
	// Only the write timeout bounds the write, not the broadcaster's ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, w.conn, ev); err != nil {
		w.closed.Store(true)
		return fmt.Errorf("websocket %s: %w", w.id, err)
	}
	return nil
}

// Close ends the connection with the given status.
func (w *WebSocket) Close(code websocket.StatusCode, reason string) error {
	w.closed.Store(true)
	return w.conn.Close(code, reason)
}

var _ domain.Observer = (*WebSocket)(nil)
