package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewStore(t.TempDir(), logger)
}

func TestLoadFreshStore(t *testing.T) {
	s := testStore(t)
	info := s.Load()
	if info.JID != "" || !info.PairedAt.IsZero() {
		t.Errorf("fresh store Load() = %+v, want zero Info", info)
	}
	if s.Paired() {
		t.Error("Paired() = true for fresh store")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	want := Info{
		JID:      "5511999999999@s.whatsapp.net",
		PushName: "Vitta",
		PairedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}

	got := s.Load()
	if got.JID != want.JID || got.PushName != want.PushName || !got.PairedAt.Equal(want.PairedAt) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	s := testStore(t)
	if err := s.Save(Info{JID: "a@s.whatsapp.net", PairedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.infoPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
}

func TestLoadCorruptMetadata(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.infoPath(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	info := s.Load()
	if info.JID != "" {
		t.Errorf("corrupt Load() = %+v, want zero Info", info)
	}
	// Corrupt file must have been discarded.
	if _, err := os.Stat(s.infoPath()); !os.IsNotExist(err) {
		t.Error("corrupt metadata file not removed")
	}
}

func TestClearRemovesAllState(t *testing.T) {
	s := testStore(t)
	if err := s.Save(Info{JID: "a@s.whatsapp.net", PairedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"session.db", "session.db-wal", "session.db-shm"} {
		if err := os.WriteFile(filepath.Join(s.dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Paired() {
		t.Fatal("Paired() = false after writing credential db")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Paired() {
		t.Error("Paired() = true after Clear")
	}
	if got := s.Load(); got.JID != "" {
		t.Errorf("Load() after Clear = %+v, want zero Info", got)
	}
}

func TestClearOnEmptyDirIsNoError(t *testing.T) {
	s := testStore(t)
	if err := s.Clear(); err != nil {
		t.Errorf("Clear() on empty dir = %v, want nil", err)
	}
}
