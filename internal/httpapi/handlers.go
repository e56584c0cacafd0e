// Package httpapi is the daemon's boundary: a JSON HTTP surface for
// queries and commands plus a WebSocket push channel for live updates.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/index"
	"github.com/vittahq/bridge/internal/session"
	"github.com/vittahq/bridge/internal/wa"
)

// Control is the slice of the connection manager the API exposes.
type Control interface {
	Status() wa.SessionStatus
	PairingToken() string
	Send(ctx context.Context, to, text string) (conversationID, messageID string, err error)
}

// API holds the request handlers and their dependencies.
type API struct {
	ctl    Control
	idx    *index.Index
	store  *session.Store
	logger *zap.Logger
}

// NewAPI wires the handlers.
func NewAPI(ctl Control, idx *index.Index, store *session.Store, logger *zap.Logger) *API {
	return &API{ctl: ctl, idx: idx, store: store, logger: logger}
}

type statusResponse struct {
	Connected   bool   `json:"connected"`
	State       string `json:"state"`
	RetryCount  int    `json:"retry_count"`
	NextRetryAt int64  `json:"next_retry_at,omitempty"`
}

type pairingResponse struct {
	Connected bool    `json:"connected"`
	Token     *string `json:"token"`
}

type conversationView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Preview        string `json:"preview"`
	LastActivityAt int64  `json:"last_activity_at"`
	UnreadCount    int    `json:"unread_count"`
}

type messageView struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp"`
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"state":     string(a.ctl.Status().State),
		"timestamp": time.Now().Unix(),
	})
}

// requireConnected gates the conversation-facing endpoints: while the
// session is down the index may be stale or empty, so reads are
// refused rather than served wrong.
func (a *API) requireConnected(w http.ResponseWriter) bool {
	if !a.ctl.Status().Connected {
		writeError(w, http.StatusServiceUnavailable, "session not connected")
		return false
	}
	return true
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.ctl.Status()
	resp := statusResponse{
		Connected:  st.Connected,
		State:      string(st.State),
		RetryCount: st.RetryCount,
	}
	if !st.NextRetryAt.IsZero() {
		resp.NextRetryAt = st.NextRetryAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePairing(w http.ResponseWriter, r *http.Request) {
	st := a.ctl.Status()
	resp := pairingResponse{Connected: st.Connected}
	if st.PairingToken != "" {
		resp.Token = &st.PairingToken
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePairingImage renders the outstanding pairing token as a PNG so
// a browser can show a scannable code without a client-side library.
func (a *API) handlePairingImage(w http.ResponseWriter, r *http.Request) {
	token := a.ctl.PairingToken()
	if token == "" {
		writeError(w, http.StatusNotFound, "no pairing token outstanding")
		return
	}
	png, err := qrcode.Encode(token, qrcode.Medium, 256)
	if err != nil {
		a.logger.Error("encoding pairing image", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	if !a.requireConnected(w) {
		return
	}
	convs := a.idx.Conversations()
	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationView{
			ID:             c.ID,
			Name:           c.Name,
			Preview:        c.Preview,
			LastActivityAt: c.LastActivityAt,
			UnreadCount:    c.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !a.requireConnected(w) {
		return
	}
	id := chi.URLParam(r, "id")
	msgs := a.idx.Messages(id)
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:        m.ID,
			Sender:    m.Sender,
			Body:      m.Body,
			FromMe:    m.FromMe,
			Timestamp: m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if !a.requireConnected(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if !a.idx.MarkRead(id) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "to and text are required")
		return
	}

	convID, msgID, err := a.ctl.Send(r.Context(), req.To, req.Text)
	switch {
	case errors.Is(err, wa.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "session not connected")
		return
	case errors.Is(err, wa.ErrBadRecipient):
		writeError(w, http.StatusBadRequest, "bad recipient")
		return
	case err != nil:
		a.logger.Warn("send rejected", zap.Error(err))
		writeError(w, http.StatusBadGateway, "send failed")
		return
	}

	// Reflect the accepted message locally so it shows up in the
	// conversation before any provider echo.
	sender := a.store.Load().PushName
	if sender == "" {
		sender = "me"
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	a.idx.Append(convID, index.Message{
		ID:        msgID,
		Sender:    sender,
		Body:      req.Text,
		FromMe:    true,
		Timestamp: time.Now().Unix(),
	})

	writeJSON(w, http.StatusOK, sendResponse{ConversationID: convID, MessageID: msgID})
}
