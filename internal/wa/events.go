package wa

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
)

// ConnectionEvents is the lifecycle slice of the connection manager
// the event handler drives. Split out so handler tests can observe
// classification decisions without a real manager.
type ConnectionEvents interface {
	HandleConnected()
	HandleDisconnected()
	HandleLoggedOut(reason string)
	HandlePaired(jid, pushName string)
}

// EventHandler is the single typed dispatch point for provider events.
// Lifecycle events drive the connection manager; data events are
// parsed and published on the bus for the ingestion pipeline. It never
// does indexing work itself, so the connection's event loop is never
// delayed by it.
type EventHandler struct {
	bus    *bus.Bus
	conn   ConnectionEvents
	logger *zap.Logger
}

// NewEventHandler creates the provider event handler.
func NewEventHandler(b *bus.Bus, conn ConnectionEvents, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:    b,
		conn:   conn,
		logger: logger,
	}
}

// Handle is registered as the whatsmeow event handler.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.bus.Publish(bus.Event{
			Kind:      "wa.message",
			Timestamp: time.Now(),
			Payload:   ParseLiveMessage(evt),
		})
	case *events.HistorySync:
		snap := ParseHistorySync(evt)
		if len(snap.Conversations) == 0 && len(snap.Messages) == 0 {
			return
		}
		h.logger.Info("history snapshot received",
			zap.Int("conversations", len(snap.Conversations)),
			zap.Int("messages", len(snap.Messages)))
		h.bus.Publish(bus.Event{
			Kind:      "wa.history",
			Timestamp: time.Now(),
			Payload:   snap,
		})
	case *events.GroupInfo:
		if evt.Name == nil {
			return
		}
		h.bus.Publish(bus.Event{
			Kind:      "wa.chat",
			Timestamp: time.Now(),
			Payload: &ChatUpdate{
				ID:   evt.JID.String(),
				Name: evt.Name.Name,
			},
		})
	case *events.PairSuccess:
		h.conn.HandlePaired(evt.ID.ToNonAD().String(), evt.BusinessName)
	case *events.Connected:
		h.conn.HandleConnected()
	case *events.Disconnected:
		h.conn.HandleDisconnected()
	case *events.LoggedOut:
		h.conn.HandleLoggedOut(evt.Reason.String())
	}
}
