// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package websocket pushes the display state to WebSocket clients and accepts toggle actions
// from them.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/publish"
)

const (
	clientBuffer      = 16
	writeTimeout      = time.Second * 5
	readHeaderTimeout = time.Second * 5
	shutdownTimeout   = time.Second * 5
	Path              = "/ws"
)

// Command is a message sent by a client.
type Command struct {
	Action string `json:"action"`
}

type response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Hub struct {
	ctrl     publish.Controller
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(ctrl publish.Controller, log *logger.Logger) *Hub {
	return &Hub{
		ctrl: ctrl,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// Serve listens on addr until ctx is canceled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.serve(ctx, listener)
}

func (h *Hub) serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	stop := context.AfterFunc(ctx, func() {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
		h.closeAll()
	})
	defer stop()

	h.log.Debug("websocket server listening", slog.String("addr", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Publish sends the payload to all connected clients. Clients that do not keep up miss the
// message. New clients receive the last payload on connect.
func (h *Hub) Publish(_ context.Context, payload publish.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode websocket payload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("websocket client too slow, dropping message", slog.String("remote", c.conn.RemoteAddr().String()))
		}
	}
	return nil
}

// ServeHTTP upgrades the request and handles the connection until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", logger.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)
	defer h.unregister(c)

	go c.writeLoop()
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("websocket read failed", logger.Err(err))
			}
			return
		}
		if !publish.Dispatch(h.ctrl, cmd.Action) {
			h.reply(c, response{Type: "error", Message: "unknown action: " + cmd.Action})
			continue
		}
		h.log.Debug("received websocket command", slog.String("action", cmd.Action))
	}
}

func (h *Hub) reply(c *client, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
