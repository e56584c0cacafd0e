package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Info is the paired-account metadata persisted next to the whatsmeow
// credential database. It lets the daemon report who it is paired as
// without opening a connection. The cryptographic session material
// itself lives in session.db and is rotated by whatsmeow internally.
type Info struct {
	JID      string    `json:"jid"`
	PushName string    `json:"push_name,omitempty"`
	PairedAt time.Time `json:"paired_at"`
}

// Store persists and clears the durable session state inside one
// session directory. Clear is the only code path that destroys
// credentials; it runs exactly once per authoritative logout.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates a store rooted at the given session directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

func (s *Store) infoPath() string {
	return filepath.Join(s.dir, "session.json")
}

func (s *Store) credentialDBPath() string {
	return filepath.Join(s.dir, "session.db")
}

// Load reads the paired-account metadata. A missing file is a first
// run and yields a zero Info. A corrupt file is treated as logged out:
// it is discarded with a warning rather than failing the process.
func (s *Store) Load() Info {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return Info{}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		s.logger.Warn("discarding corrupt session metadata", zap.Error(err))
		_ = os.Remove(s.infoPath())
		return Info{}
	}
	return info
}

// Save writes the paired-account metadata atomically
// (write-temp-then-rename), so a crash mid-write never leaves an
// unreadable file behind.
func (s *Store) Save(info Info) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	path := s.infoPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session metadata: %w", err)
	}
	return nil
}

// Clear deletes all persisted session state: the metadata file and the
// whatsmeow credential database with its WAL/SHM siblings. The next
// connection attempt starts a fresh pairing flow.
func (s *Store) Clear() error {
	paths := []string{
		s.infoPath(),
		s.credentialDBPath(),
		s.credentialDBPath() + "-wal",
		s.credentialDBPath() + "-shm",
	}
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return firstErr
}

// Paired reports whether credential material exists on disk.
func (s *Store) Paired() bool {
	_, err := os.Stat(s.credentialDBPath())
	return err == nil
}
