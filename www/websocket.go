package www

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/icodeforyou/elpris-go/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Client struct {
	logger *slog.Logger
	hub    *Hub
	conn   *ws.Conn
	send   chan []byte
	name   string
}

func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, name string) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		logger: hub.logger.With(slog.String("client", name)),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		name:   name,
	}, nil
}

// ReadPump only drains control frames so that a closed peer is noticed.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				c.logger.Debug("web socket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(ws.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("web socket close message failed", slog.Any("error", err))
				}
				return
			}

			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				c.logger.Warn("web socket write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("web socket set write deadline failed", slog.Any("error", err))
				return
			}
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				c.logger.Debug("web socket ping message failed", slog.Any("error", err))
				return
			}
		}
	}
}

type PriceMessage struct {
	StartTime  string `json:"start_time"`
	SpotPrice  string `json:"spot_price"`
	TotalPrice string `json:"total_price"`
	Category   string `json:"category"`
}

type PricesEvent struct {
	Type   string         `json:"type"`
	Prices []PriceMessage `json:"prices"`
}

func newPricesEvent(records []types.PriceRecord) PricesEvent {
	prices := make([]PriceMessage, len(records))
	for i, r := range records {
		prices[i] = PriceMessage{
			StartTime:  r.When.IsoString(),
			SpotPrice:  r.SpotPrice.String(),
			TotalPrice: r.TotalPrice.String(),
			Category:   string(r.Category),
		}
	}
	return PricesEvent{Type: "prices", Prices: prices}
}

// Hub maintains the set of active clients and broadcasts messages to clients
type Hub struct {
	Broadcast chan []byte
	clients   map[*Client]bool
	mutex     sync.Mutex
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Broadcast: make(chan []byte, 16),
		clients:   make(map[*Client]bool),
		logger:    logger.With(slog.String("module", "websocket")),
	}
}

func (h *Hub) register(c *Client) {
	h.logger.Debug("registering client", slog.String("clientName", c.name))
	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		h.logger.Debug("unregistering client", slog.String("clientName", c.name))
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Run fans out broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case message := <-h.Broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default: // Client's channel is full, drop the message
					h.logger.Warn("client send buffer full, dropping message", slog.String("clientName", client.name))
				}
			}
			h.mutex.Unlock()
		}
	}
}

// PricesUpdated pushes a stored batch to every connected client.
func (h *Hub) PricesUpdated(ctx context.Context, records []types.PriceRecord) {
	buf, err := json.Marshal(newPricesEvent(records))
	if err != nil {
		h.logger.Error("encoding prices event failed", slog.Any("error", err))
		return
	}

	select {
	case h.Broadcast <- buf:
	case <-ctx.Done():
		h.logger.Warn("prices event dropped", slog.Any("error", ctx.Err()))
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	client, err := NewClient(h, w, r, r.Header.Get("User-Agent"))
	if err != nil {
		h.logger.Error("new websocket client failed", slog.Any("error", err))
		return
	}
	h.register(client)
	go client.WritePump()
	go client.ReadPump()
}
