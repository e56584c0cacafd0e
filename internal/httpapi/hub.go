package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
	"github.com/vittahq/bridge/internal/status"
	"github.com/vittahq/bridge/internal/wa"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 64
	busBuffer      = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP layer already enforces CORS; the daemon binds locally.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the push channel's wire format. Every frame carries a
// unique ID and its emit time so clients can detect gaps and ordering.
type envelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	EmittedAt int64  `json:"emitted_at"`
	Data      any    `json:"data"`
}

// Hub fans bus events out to WebSocket subscribers. A subscriber that
// cannot keep up is dropped rather than allowed to stall the rest.
type Hub struct {
	ctl    Control
	bus    *bus.Bus
	logger *zap.Logger

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	events <-chan bus.Event
	unsub  func()
	quit   chan struct{}
	done   chan struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub subscribes to the session and message namespaces. Start
// begins fan-out.
func NewHub(ctl Control, b *bus.Bus, logger *zap.Logger) *Hub {
	events, unsub := b.Subscribe("", busBuffer)
	return &Hub{
		ctl:        ctl,
		bus:        b,
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, busBuffer),
		events:     events,
		unsub:      unsub,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the hub loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop disconnects all subscribers and halts the loop.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
	h.unsub()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.greet(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case frame := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		case evt := <-h.events:
			if frame, ok := h.translate(evt); ok {
				for c := range h.clients {
					select {
					case c.send <- frame:
					default:
						delete(h.clients, c)
						close(c.send)
					}
				}
			}
		case <-h.quit:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// greet sends a fresh subscriber the current status, and the pairing
// token when one is outstanding, so it does not have to poll first.
func (h *Hub) greet(c *client) {
	st := h.ctl.Status()
	frames := [][]byte{marshalEnvelope("status", statusData(st))}
	if st.PairingToken != "" {
		frames = append(frames, marshalEnvelope("qr", map[string]string{"token": st.PairingToken}))
	}
	for _, frame := range frames {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// translate maps a bus event to a push frame. Events without a client
// representation are skipped.
func (h *Hub) translate(evt bus.Event) ([]byte, bool) {
	switch payload := evt.Payload.(type) {
	case status.StatusChange:
		return marshalEnvelope("status", map[string]any{
			"state":     string(payload.To),
			"connected": payload.To == status.Connected,
		}), true
	case *wa.ParsedMessage:
		if evt.Kind != "message.new" {
			return nil, false
		}
		return marshalEnvelope("new_message", map[string]any{
			"conversation_id": payload.ConversationID,
			"message_id":      payload.MsgID,
			"sender":          payload.Sender,
			"body":            payload.Body,
			"from_me":         payload.FromMe,
			"timestamp":       payload.Timestamp,
		}), true
	case string:
		switch evt.Kind {
		case "session.pairing_token":
			return marshalEnvelope("qr", map[string]string{"token": payload}), true
		case "session.logged_out":
			return marshalEnvelope("logged_out", map[string]string{"reason": payload}), true
		case "session.paired":
			return marshalEnvelope("paired", map[string]string{"jid": payload}), true
		}
	}
	return nil, false
}

func statusData(st wa.SessionStatus) map[string]any {
	return map[string]any{
		"state":     string(st.State),
		"connected": st.Connected,
	}
}

func marshalEnvelope(event string, data any) []byte {
	frame, _ := json.Marshal(envelope{
		ID:        uuid.NewString(),
		Event:     event,
		EmittedAt: time.Now().Unix(),
		Data:      data,
	})
	return frame
}

// ServeWS upgrades the request and registers the subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; the push channel is one-way. It
// exists to notice closes and answer pings.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
