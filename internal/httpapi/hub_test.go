package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
	"github.com/vittahq/bridge/internal/status"
	"github.com/vittahq/bridge/internal/wa"
)

func dialHub(t *testing.T, ctl *fakeControl) (*websocket.Conn, *bus.Bus) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	b := bus.New()
	hub := NewHub(ctl, b, logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, b
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestHubGreetsWithStatus(t *testing.T) {
	ctl := &fakeControl{status: wa.SessionStatus{State: status.Connected, Connected: true}}
	conn, _ := dialHub(t, ctl)

	env := readEnvelope(t, conn)
	if env.Event != "status" {
		t.Fatalf("first frame event = %q, want status", env.Event)
	}
	data := env.Data.(map[string]any)
	if data["state"] != "CONNECTED" || data["connected"] != true {
		t.Errorf("status data = %v", data)
	}
	if env.ID == "" || env.EmittedAt == 0 {
		t.Errorf("envelope missing metadata: %+v", env)
	}
}

func TestHubGreetsWithPairingToken(t *testing.T) {
	ctl := &fakeControl{status: wa.SessionStatus{State: status.AwaitingPairing, PairingToken: "tok-1"}}
	conn, _ := dialHub(t, ctl)

	readEnvelope(t, conn) // status frame
	env := readEnvelope(t, conn)
	if env.Event != "qr" {
		t.Fatalf("second frame event = %q, want qr", env.Event)
	}
	if env.Data.(map[string]any)["token"] != "tok-1" {
		t.Errorf("qr data = %v", env.Data)
	}
}

func TestHubPushesNewMessages(t *testing.T) {
	ctl := &fakeControl{status: wa.SessionStatus{State: status.Connected, Connected: true}}
	conn, b := dialHub(t, ctl)
	readEnvelope(t, conn) // greeting

	b.Publish(bus.Event{
		Kind:      "message.new",
		Timestamp: time.Now(),
		Payload: &wa.ParsedMessage{
			ConversationID: "c@s.whatsapp.net",
			MsgID:          "M1",
			Sender:         "Ana",
			Body:           "oi",
			Timestamp:      100,
		},
	})

	env := readEnvelope(t, conn)
	if env.Event != "new_message" {
		t.Fatalf("event = %q, want new_message", env.Event)
	}
	data := env.Data.(map[string]any)
	if data["conversation_id"] != "c@s.whatsapp.net" || data["body"] != "oi" {
		t.Errorf("data = %v", data)
	}
}

func TestHubPushesStatusChanges(t *testing.T) {
	ctl := &fakeControl{}
	conn, b := dialHub(t, ctl)
	readEnvelope(t, conn) // greeting

	b.Publish(bus.Event{
		Kind:      "session.status_changed",
		Timestamp: time.Now(),
		Payload:   status.StatusChange{From: status.Disconnected, To: status.Connected},
	})

	env := readEnvelope(t, conn)
	if env.Event != "status" {
		t.Fatalf("event = %q, want status", env.Event)
	}
	if env.Data.(map[string]any)["state"] != "CONNECTED" {
		t.Errorf("data = %v", env.Data)
	}
}

func TestHubSkipsRawProviderEvents(t *testing.T) {
	ctl := &fakeControl{}
	conn, b := dialHub(t, ctl)
	readEnvelope(t, conn) // greeting

	// Raw provider traffic is for the ingestion pipeline, not clients.
	b.Publish(bus.Event{
		Kind:      "wa.message",
		Timestamp: time.Now(),
		Payload:   &wa.ParsedMessage{ConversationID: "c@s", MsgID: "M1"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, frame, err := conn.ReadMessage(); err == nil {
		t.Errorf("raw provider event leaked to client: %s", frame)
	}
}
