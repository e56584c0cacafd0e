package wa

import (
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/vittahq/bridge/internal/bus"
)

type fakeConn struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	loggedOut    []string
	paired       []string
	pairedNames  []string
}

func (f *fakeConn) HandleConnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected++
}

func (f *fakeConn) HandleDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
}

func (f *fakeConn) HandleLoggedOut(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, reason)
}

func (f *fakeConn) HandlePaired(jid, pushName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paired = append(f.paired, jid)
	f.pairedNames = append(f.pairedNames, pushName)
}

func newHandlerFixture() (*EventHandler, *fakeConn, *bus.Bus) {
	logger, _ := zap.NewDevelopment()
	b := bus.New()
	conn := &fakeConn{}
	return NewEventHandler(b, conn, logger), conn, b
}

func recv(t *testing.T, ch <-chan bus.Event, what string) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatalf("no %s event published", what)
		return bus.Event{}
	}
}

func TestHandleMessagePublishesParsed(t *testing.T) {
	h, _, b := newHandlerFixture()
	ch, unsub := b.Subscribe("wa.message", 10)
	defer unsub()

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			PushName:  "Bob",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "5511999999999", Server: "s.whatsapp.net"},
				Sender: types.JID{User: "5511999999999", Server: "s.whatsapp.net"},
			},
			ID: "M-7",
		},
		Message: &waE2E.Message{Conversation: proto.String("fala")},
	})

	evt := recv(t, ch, "wa.message")
	parsed, ok := evt.Payload.(*ParsedMessage)
	if !ok {
		t.Fatalf("payload type %T, want *ParsedMessage", evt.Payload)
	}
	if parsed.MsgID != "M-7" || parsed.Body != "fala" || parsed.Sender != "Bob" {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestHandleEmptyHistorySyncIsDropped(t *testing.T) {
	h, _, b := newHandlerFixture()
	ch, unsub := b.Subscribe("wa.history", 10)
	defer unsub()

	h.Handle(&events.HistorySync{})

	select {
	case evt := <-ch:
		t.Errorf("empty history sync published: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleGroupInfoRename(t *testing.T) {
	h, _, b := newHandlerFixture()
	ch, unsub := b.Subscribe("wa.chat", 10)
	defer unsub()

	h.Handle(&events.GroupInfo{
		JID:  types.JID{User: "12345", Server: "g.us"},
		Name: &types.GroupName{Name: "Projeto"},
	})

	evt := recv(t, ch, "wa.chat")
	upd := evt.Payload.(*ChatUpdate)
	if upd.ID != "12345@g.us" || upd.Name != "Projeto" {
		t.Errorf("chat update = %+v", upd)
	}

	// No name change, nothing to publish.
	h.Handle(&events.GroupInfo{JID: types.JID{User: "12345", Server: "g.us"}})
	select {
	case evt := <-ch:
		t.Errorf("nameless group event published: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleLifecycleDispatch(t *testing.T) {
	h, conn, _ := newHandlerFixture()

	h.Handle(&events.Connected{})
	h.Handle(&events.Disconnected{})
	h.Handle(&events.LoggedOut{OnConnect: true, Reason: events.ConnectFailureLoggedOut})
	h.Handle(&events.PairSuccess{
		ID:           types.JID{User: "5511999999999", Device: 3, Server: "s.whatsapp.net"},
		BusinessName: "Clinica",
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connected != 1 || conn.disconnected != 1 {
		t.Errorf("connected=%d disconnected=%d, want 1/1", conn.connected, conn.disconnected)
	}
	if len(conn.loggedOut) != 1 {
		t.Fatalf("loggedOut calls = %d, want 1", len(conn.loggedOut))
	}
	if len(conn.paired) != 1 || conn.paired[0] != "5511999999999@s.whatsapp.net" {
		t.Errorf("paired = %v, want non-AD JID", conn.paired)
	}
	if conn.pairedNames[0] != "Clinica" {
		t.Errorf("paired name = %q", conn.pairedNames[0])
	}
}

func TestHandleIgnoresUnknownEvents(t *testing.T) {
	h, conn, _ := newHandlerFixture()

	h.Handle(&events.KeepAliveTimeout{})
	h.Handle("not an event")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.connected != 0 || conn.disconnected != 0 || len(conn.loggedOut) != 0 {
		t.Error("unknown events reached the connection manager")
	}
}
