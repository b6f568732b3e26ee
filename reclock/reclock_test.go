package reclock_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xu354cjo1008/ctdb/reclock"
)

func TestAcquireHeldRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.lock")
	l := reclock.New(path)

	if l.Held() {
		t.Fatal("lock should not be held before Acquire")
	}
	if err := l.Acquire(true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.Held() {
		t.Error("lock should be held after Acquire")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if l.Held() {
		t.Error("lock should not be held after Release")
	}
}

func TestAcquireNonBlockingFailsWhenAlreadyLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.lock")

	// Hold the flock from a second, independent file descriptor to
	// simulate a different process already holding it.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := flockExclusive(f); err != nil {
		t.Fatalf("prelock: %v", err)
	}

	l := reclock.New(path)
	if err := l.Acquire(false); err == nil {
		t.Fatal("expected non-blocking Acquire to fail against an already-locked file")
	}
}

func TestAcquireWithTimeoutGivesUpEventually(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := flockExclusive(f); err != nil {
		t.Fatalf("prelock: %v", err)
	}

	l := reclock.New(path)
	start := time.Now()
	if err := l.AcquireWithTimeout(200 * time.Millisecond); err == nil {
		t.Fatal("expected AcquireWithTimeout to fail while the file stays locked")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("AcquireWithTimeout returned too early after %v", elapsed)
	}
}
