package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(dir, LockFileName)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	expected := fmt.Sprintf("pid=%d\n", os.Getpid())
	if string(content) != expected {
		t.Errorf("lock file content mismatch: expected %q, got %q", expected, string(content))
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir)
	if err == nil {
		lock2.Release()
		t.Fatal("second AcquireLock should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if !strings.Contains(err.Error(), "another ClauseFlow instance is already running") {
		t.Errorf("error should mention the running instance: %s", err.Error())
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should contain the lock path: %s", err.Error())
	}
	if !strings.Contains(lockErr.HolderInfo, fmt.Sprintf("PID %d", os.Getpid())) {
		t.Errorf("holder info should name the holding PID: %q", lockErr.HolderInfo)
	}
}

func TestLockRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file should exist before release: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after release")
	}

	// Releasing again is a no-op.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestLockReacquisition(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	lock1.Release()

	lock2, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	defer lock2.Release()
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"valid pid", "pid=12345", 12345},
		{"pid with extra content", "pid=67890\nother=info", 67890},
		{"no pid", "other=info", 0},
		{"empty content", "", 0},
		{"invalid pid", "pid=abc", 0},
		{"no equals", "pid12345", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePID(tt.content); got != tt.expected {
				t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestProcessRunning(t *testing.T) {
	if !processRunning(os.Getpid()) {
		t.Error("our own process should be detected as running")
	}
}

func TestAcquireLockCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock should create the state directory: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory should have been created: %v", err)
	}
}
