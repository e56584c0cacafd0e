package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vittahq/bridge/internal/bus"
	"github.com/vittahq/bridge/internal/index"
	"github.com/vittahq/bridge/internal/session"
	"github.com/vittahq/bridge/internal/status"
)

const (
	defaultSendTimeout = 15 * time.Second
	logoutRestartDelay = 2 * time.Second
	reconnectBase      = 2 * time.Second
	reconnectCap       = 60 * time.Second
)

var (
	// ErrNotConnected is returned for operations attempted while the
	// session is not established. Callers can retry later.
	ErrNotConnected = errors.New("session not connected")
	// ErrBadRecipient is returned when a send destination cannot be
	// normalized into a network address. The caller's request is wrong.
	ErrBadRecipient = errors.New("bad recipient")
	// ErrSendFailed is returned when the provider rejects or times out
	// a submitted message.
	ErrSendFailed = errors.New("send failed")
)

// Transport is the slice of the WhatsApp adapter the manager drives.
// Tests substitute a fake to exercise the lifecycle without a network.
type Transport interface {
	Connect() error
	Disconnect()
	LoggedIn() bool
	PairingCodes(ctx context.Context) (<-chan string, error)
	SendText(ctx context.Context, jid, text string) (string, error)
	Rebuild(ctx context.Context) error
}

// SessionStatus is a point-in-time snapshot of the connection for the
// status query and the push channel's initial emit.
type SessionStatus struct {
	State        status.State
	Connected    bool
	PairingToken string
	RetryCount   int
	NextRetryAt  time.Time
}

// Manager owns the connection lifecycle: pairing, disconnect
// classification, reconnection, and forced re-pairing on logout. There
// is exactly one live transport at a time; attempts are serialized and
// a new one starts only after the previous handle is torn down.
type Manager struct {
	transport    Transport
	machine      *status.Machine
	bus          *bus.Bus
	store        *session.Store
	idx          *index.Index
	logger       *zap.Logger
	backoff      *Backoff
	sendTimeout  time.Duration
	restartDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex // serializes connection attempts

	mu               sync.Mutex // guards the fields below
	token            string
	retryCount       int
	nextRetryAt      time.Time
	reconnectPending bool
}

// NewManager wires the connection manager. Run starts the first
// attempt.
func NewManager(transport Transport, machine *status.Machine, b *bus.Bus, store *session.Store, idx *index.Index, logger *zap.Logger) *Manager {
	return &Manager{
		transport:    transport,
		machine:      machine,
		bus:          b,
		store:        store,
		idx:          idx,
		logger:       logger,
		backoff:      NewBackoff(reconnectBase, reconnectCap),
		sendTimeout:  defaultSendTimeout,
		restartDelay: logoutRestartDelay,
	}
}

// Run starts the connection loop in the background.
func (m *Manager) Run(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.attempt()
}

// Stop cancels pending reconnects and tears down the transport.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.transport.Disconnect()
}

// attempt runs one connection attempt. connMu guarantees no two
// attempts overlap.
func (m *Manager) attempt() {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.ctx.Err() != nil {
		return
	}

	if !m.transport.LoggedIn() {
		codes, err := m.transport.PairingCodes(m.ctx)
		if err != nil {
			m.logger.Error("pairing channel unavailable", zap.Error(err))
		} else {
			go m.watchPairingCodes(codes)
		}
	}

	if err := m.transport.Connect(); err != nil {
		m.logger.Error("connection attempt failed", zap.Error(err))
		m.scheduleReconnect()
	}
}

func (m *Manager) watchPairingCodes(codes <-chan string) {
	for {
		select {
		case code, ok := <-codes:
			if !ok {
				return
			}
			m.mu.Lock()
			m.token = code
			m.mu.Unlock()
			if err := m.machine.Transition(status.AwaitingPairing); err != nil {
				m.logger.Warn("pairing token while not disconnected", zap.Error(err))
			}
			m.bus.Publish(bus.Event{
				Kind:      "session.pairing_token",
				Timestamp: time.Now(),
				Payload:   code,
			})
			m.logger.Info("new pairing token issued")
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) clearToken() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// HandleConnected processes the provider's connection-established
// signal.
func (m *Manager) HandleConnected() {
	m.clearToken()
	m.backoff.Reset()
	m.mu.Lock()
	m.retryCount = 0
	m.nextRetryAt = time.Time{}
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Warn("connected in unexpected state", zap.Error(err))
	}
	m.logger.Info("session connected")
}

// HandleDisconnected processes a transient connection loss: session
// material and conversation data are preserved and a reconnect is
// scheduled.
func (m *Manager) HandleDisconnected() {
	m.clearToken()
	_ = m.machine.Transition(status.Disconnected)
	m.logger.Warn("connection lost")
	m.scheduleReconnect()
}

// HandleLoggedOut processes an authoritative remote logout: the only
// path that discards durable state. Credentials and the conversation
// index are erased and the whole connection restarts from scratch,
// producing a fresh pairing token for a human to approve.
func (m *Manager) HandleLoggedOut(reason string) {
	m.logger.Warn("session logged out by remote", zap.String("reason", reason))
	m.clearToken()
	_ = m.machine.Transition(status.Disconnected)

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing session state", zap.Error(err))
	}
	m.idx.Reset()
	m.bus.Publish(bus.Event{
		Kind:      "session.logged_out",
		Timestamp: time.Now(),
		Payload:   reason,
	})

	go func() {
		select {
		case <-time.After(m.restartDelay):
		case <-m.ctx.Done():
			return
		}
		if err := m.transport.Rebuild(m.ctx); err != nil {
			m.logger.Error("rebuilding transport after logout", zap.Error(err))
			m.scheduleReconnect()
			return
		}
		m.attempt()
	}()
}

// HandlePaired records the paired account's identity once the phone
// approves the pairing token.
func (m *Manager) HandlePaired(jid, pushName string) {
	if err := m.store.Save(session.Info{JID: jid, PushName: pushName, PairedAt: time.Now()}); err != nil {
		m.logger.Error("saving session metadata", zap.Error(err))
	}
	m.bus.Publish(bus.Event{
		Kind:      "session.paired",
		Timestamp: time.Now(),
		Payload:   jid,
	})
	m.logger.Info("device paired", zap.String("jid", jid))
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.reconnectPending || m.ctx == nil || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = true
	delay := m.backoff.Next()
	m.retryCount++
	attempt := m.retryCount
	m.nextRetryAt = time.Now().Add(delay)
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", attempt))

	go func() {
		select {
		case <-time.After(delay):
		case <-m.ctx.Done():
			return
		}
		m.mu.Lock()
		m.reconnectPending = false
		m.nextRetryAt = time.Time{}
		m.mu.Unlock()

		// Release the previous handle before the new attempt.
		m.transport.Disconnect()
		m.attempt()
	}()
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() SessionStatus {
	state := m.machine.Current()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := SessionStatus{
		State:       state,
		Connected:   state == status.Connected,
		RetryCount:  m.retryCount,
		NextRetryAt: m.nextRetryAt,
	}
	if state == status.AwaitingPairing {
		s.PairingToken = m.token
	}
	return s
}

// PairingToken returns the current token, or empty when none is
// outstanding.
func (m *Manager) PairingToken() string {
	if m.machine.Current() != status.AwaitingPairing {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Send normalizes the destination and submits a text message with a
// bounded timeout. Returns the normalized conversation ID and the
// provider message ID. A timeout surfaces the same as a provider
// rejection: ErrSendFailed.
func (m *Manager) Send(ctx context.Context, to, text string) (conversationID, messageID string, err error) {
	if !m.machine.Connected() {
		return "", "", ErrNotConnected
	}
	jid, err := NormalizeRecipient(to)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadRecipient, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	id, err := m.transport.SendText(ctx, jid, text)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return jid, id, nil
}
