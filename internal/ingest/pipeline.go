// Package ingest drains normalized provider events off the bus and
// applies them to the conversation index, decoupling indexing from the
// provider's event loop.
package ingest

import (
	"time"

	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
	"github.com/vittahq/bridge/internal/index"
	"github.com/vittahq/bridge/internal/wa"
)

// eventBuffer absorbs history-sync bursts without dropping live
// messages.
const eventBuffer = 256

// Pipeline consumes wa.* events and mutates the index. Messages that
// actually land (not duplicates) are re-published as message.new for
// the push channel.
type Pipeline struct {
	bus    *bus.Bus
	idx    *index.Index
	logger *zap.Logger

	events <-chan bus.Event
	unsub  func()
	quit   chan struct{}
	done   chan struct{}
}

// NewPipeline subscribes to the provider event namespace. Start begins
// draining.
func NewPipeline(b *bus.Bus, idx *index.Index, logger *zap.Logger) *Pipeline {
	events, unsub := b.Subscribe("wa.", eventBuffer)
	return &Pipeline{
		bus:    b,
		idx:    idx,
		logger: logger,
		events: events,
		unsub:  unsub,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the drain loop.
func (p *Pipeline) Start() {
	go p.loop()
}

// Stop halts the loop and unsubscribes from the bus.
func (p *Pipeline) Stop() {
	close(p.quit)
	<-p.done
	p.unsub()
}

func (p *Pipeline) loop() {
	defer close(p.done)
	for {
		select {
		case evt := <-p.events:
			p.apply(evt)
		case <-p.quit:
			return
		}
	}
}

func (p *Pipeline) apply(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case *index.Snapshot:
		p.idx.LoadHistory(*payload)
		p.logger.Info("history snapshot applied",
			zap.Int("conversations", len(payload.Conversations)),
			zap.Int("messages", len(payload.Messages)))
	case *wa.ChatUpdate:
		p.idx.Upsert(payload.ID, index.Patch{Name: payload.Name, UnreadCount: -1})
	case *wa.ParsedMessage:
		appended := p.idx.Append(payload.ConversationID, index.Message{
			ID:        payload.MsgID,
			Sender:    payload.Sender,
			Body:      payload.Body,
			FromMe:    payload.FromMe,
			Timestamp: payload.Timestamp,
		})
		if !appended {
			return
		}
		p.bus.Publish(bus.Event{
			Kind:      "message.new",
			Timestamp: time.Now(),
			Payload:   payload,
		})
	default:
		p.logger.Debug("unhandled ingest payload", zap.String("kind", evt.Kind))
	}
}
