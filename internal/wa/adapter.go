package wa

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client behind the Transport interface
// the connection manager drives. It owns the SQLite credential
// container; key rotation is persisted by whatsmeow into that file
// whenever the protocol signals changed credentials.
type Adapter struct {
	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	dbPath    string
	handler   whatsmeow.EventHandler
	logger    *zap.Logger
}

// NewAdapter opens (or creates) the credential database at dbPath and
// builds a client for its first device. A fresh database yields an
// unpaired client. Automatic reconnection is disabled: the connection
// manager is the only reconnect authority.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown in the phone's linked devices list.
	wastore.SetOSInfo("Vitta Manager", [3]uint32{1, 0, 0})

	a := &Adapter{dbPath: dbPath, logger: logger}
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) open(ctx context.Context) error {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", a.dbPath),
		nil,
	)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(device, nil)
	client.EnableAutoReconnect = false
	if a.handler != nil {
		client.AddEventHandler(a.handler)
	}

	a.container = container
	a.client = client
	return nil
}

// SetEventHandler registers the single provider event handler. Must be
// called before Connect; the handler survives Rebuild.
func (a *Adapter) SetEventHandler(handler whatsmeow.EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = handler
	a.client.AddEventHandler(handler)
}

// LoggedIn reports whether stored credentials exist for this device.
func (a *Adapter) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect tears down the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client.Disconnect()
}

// Rebuild discards the current client and container and opens fresh
// ones from dbPath. Called after an authoritative logout wiped the
// credential files, so the next Connect starts a new pairing flow.
func (a *Adapter) Rebuild(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.client.Disconnect()
	if err := a.container.Close(); err != nil {
		a.logger.Warn("closing old credential store", zap.Error(err))
	}
	return a.open(ctx)
}

// PairingCodes returns a channel of pairing tokens for an unpaired
// client. The channel closes when pairing succeeds, times out, or
// fails; the connection lifecycle events cover what happened. Must be
// called before Connect.
func (a *Adapter) PairingCodes(ctx context.Context) (<-chan string, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client.Store.ID != nil {
		return nil, fmt.Errorf("already paired")
	}
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- item.Code
			case "success":
				return
			case "timeout":
				a.logger.Warn("pairing token expired before scan")
				return
			default:
				if item.Error != nil {
					a.logger.Warn("pairing failed", zap.Error(item.Error))
					return
				}
			}
		}
	}()
	return out, nil
}

// SendText sends a text message to the given JID and returns the
// provider-assigned message ID.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (string, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// SelfJID returns the paired account's JID, or empty when unpaired.
func (a *Adapter) SelfJID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.ToNonAD().String()
}

// NormalizeRecipient converts a caller-supplied destination into the
// network's native address form. A fully qualified identifier is
// validated as-is; a bare number is stripped to digits and given the
// default user domain suffix.
func NormalizeRecipient(to string) (string, error) {
	if strings.ContainsRune(to, '@') {
		jid, err := types.ParseJID(to)
		if err != nil {
			return "", fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid.String(), nil
	}

	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("invalid recipient %q: no digits", to)
	}
	return digits.String() + "@" + types.DefaultUserServer, nil
}
