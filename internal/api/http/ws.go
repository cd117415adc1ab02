package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"playlistsync/internal/bus"
	"playlistsync/internal/domain"
	"playlistsync/internal/metrics"
)

// wsMessage is the envelope for every frame pushed to stream clients.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var wsPongFrame, _ = json.Marshal(wsMessage{Type: domain.EventTypePong})

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient bridges one bus subscription onto one websocket connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	sub    *bus.Subscription
	send   chan []byte
	pongs  chan struct{}
	logger *slog.Logger
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "event stream is not configured")
		return
	}

	filter, err := bus.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		sub:    s.events.Subscribe(filter, 256),
		send:   make(chan []byte, 256),
		pongs:  make(chan struct{}, 1),
		logger: s.logger,
	}
	s.addClient(client)

	go client.relay()
	go client.writePump()
	go client.readPump()
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()

	metrics.WSClients.Inc()
	s.logger.Debug("ws client connected",
		slog.Int("total", total),
		slog.String("filter", c.sub.Filter().String()),
	)
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	_, known := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	if !known {
		return
	}
	metrics.WSClients.Dec()
	s.logger.Debug("ws client disconnected",
		slog.Int("total", total),
		slog.Uint64("dropped", c.sub.Dropped()),
	)
}

// relay marshals subscribed events into the send queue. A full queue drops
// the frame rather than ever stalling the publisher side.
func (c *wsClient) relay() {
	for event := range c.sub.Events() {
		payload, err := json.Marshal(wsMessage{Type: event.EventType(), Data: event})
		if err != nil {
			c.logger.Error("ws marshal failed", slog.String("error", err.Error()))
			continue
		}
		select {
		case c.send <- payload:
		default:
			metrics.EventsDroppedTotal.Inc()
		}
	}
	close(c.send)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.pongs:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, wsPongFrame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames. A text frame "ping" queues an
// application-level pong so browser clients can probe liveness without
// protocol pings.
func (c *wsClient) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		c.server.removeClient(c)
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if msgType == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

// shutdown disconnects the client from the server side.
func (c *wsClient) shutdown() {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(2*time.Second),
	)
	c.sub.Close()
}
