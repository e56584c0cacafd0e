package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.vitta-bridge.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vitta-bridge")
}

// Dir returns the session-specific directory. It is the only durable
// state the daemon owns: the whatsmeow credential database, the paired
// account metadata, the lock file, and logs all live under it.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// CredentialDBPath returns the whatsmeow session.db path holding the
// device keys for the paired account.
func CredentialDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// InfoPath returns the paired-account metadata file path.
func InfoPath(name string) string {
	return filepath.Join(Dir(name), "session.json")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "bridged.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with owner-only
// permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
