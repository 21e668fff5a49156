package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.lock")
	l, err := Acquire(p)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != strconv.Itoa(os.Getpid())+"\n" {
		t.Fatalf("lock content = %q", b)
	}
	if _, err := Acquire(p); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire = %v, want ErrLocked", err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("lock file not removed")
	}
}

func TestAcquire_StaleLockReplaced(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.lock")
	// PIDs are capped well below this on Linux and macOS.
	if err := os.WriteFile(p, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(p)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer l.Release()
	if l.Path() != p {
		t.Fatalf("Path = %s", l.Path())
	}
}

func TestAcquire_CorruptLock(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.lock")
	if err := os.WriteFile(p, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Acquire(p); err == nil {
		t.Fatal("expected error for corrupt lock")
	}
}
