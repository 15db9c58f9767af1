package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// WSHub broadcasts committed events to websocket clients. A client may
// subscribe to one asset with ?asset=; events without an asset reach
// every client.
type WSHub struct {
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	asset string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

func NewWSHub(inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *WSHub {
	return &WSHub{
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}
}

// Run fans processor outputs out to clients until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-h.inputChan:
			if !ok {
				return nil
			}
			for _, env := range out.Events {
				evt, err := ingestion.NewPublishableEvent(out.Sequence, env)
				if err != nil {
					h.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("ws encode failed")
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				h.broadcast(env.Asset, data)
			}
		}
	}
}

func (h *WSHub) broadcast(asset *string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.asset != "" && asset != nil && *asset != c.asset {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow client: drop rather than stall the fan-out.
			if h.metrics != nil {
				h.metrics.StreamDrops.Inc()
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades GET /v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		asset: r.URL.Query().Get("asset"),
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *WSHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	h.logger.Debug().Int("total", n).Str("asset", c.asset).Msg("ws client connected")
}

func (h *WSHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(0)
	}
}

// readPump keeps the connection alive and detects disconnects. Clients
// never send anything meaningful.
func (h *WSHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
