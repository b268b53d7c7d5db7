package runstate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func newTestState(runID string) *RunState {
	return New(runID, "default", []string{"frame", "build"})
}

func TestCreateAndRead(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	state, err := store.Read("run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if state.RunID != "run-1" || state.WorkflowID != "default" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.Version != 1 {
		t.Fatalf("fresh state version = %d, want 1", state.Version)
	}
	if state.Phases["frame"].Status != PhasePending {
		t.Fatalf("fresh phase should be pending: %+v", state.Phases["frame"])
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(newTestState("run-1")); !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
}

func TestReadMissingRun(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Read("ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestUpdateIncrementsVersion(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update("run-1", func(s *RunState) error {
		s.Status = StatusInProgress
		s.CurrentPhase = "frame"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}
	if updated.Status != StatusInProgress {
		t.Fatalf("status = %q", updated.Status)
	}

	// Backup must not linger after a successful update.
	if _, err := os.Stat(store.BackupPath("run-1")); !os.IsNotExist(err) {
		t.Fatalf("backup file left behind: %v", err)
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The first updater wins while the second mutates; the second's base
	// version is stale by the time it writes.
	_, err := store.Update("run-1", func(s *RunState) error {
		_, innerErr := store.Update("run-1", func(inner *RunState) error {
			inner.Status = StatusPaused
			return nil
		})
		if innerErr != nil {
			t.Fatalf("inner update: %v", innerErr)
		}
		s.Status = StatusAborted
		return nil
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The losing mutation must not be visible; the file stays valid JSON.
	state, err := store.Read("run-1")
	if err != nil {
		t.Fatalf("read after conflict: %v", err)
	}
	if state.Status != StatusPaused {
		t.Fatalf("status = %q, want paused (winning update)", state.Status)
	}
	if state.Version != 2 {
		t.Fatalf("version = %d, want 2", state.Version)
	}
}

func TestUpdateLockTimeout(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, WithLockTimeout(50*time.Millisecond))
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Hold the lock from outside the store.
	lockPath := filepath.Join(dir, "run-1", "state.json.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open lock: %v", err)
	}
	defer lockFile.Close()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		t.Fatalf("flock: %v", err)
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	}()

	_, err = store.Update("run-1", func(s *RunState) error {
		s.Status = StatusInProgress
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestUpdateMutatorErrorLeavesStateUntouched(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	_, err := store.Update("run-1", func(s *RunState) error {
		s.Status = StatusFailed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	state, err := store.Read("run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if state.Status != StatusPending || state.Version != 1 {
		t.Fatalf("state changed despite mutator error: %+v", state)
	}
}

func TestReadCorruptStateNamesBackup(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	statePath := filepath.Join(store.RunDir("run-1"), "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	_, err := store.Read("run-1")
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if want := store.BackupPath("run-1"); !strings.Contains(err.Error(), want) {
		t.Fatalf("error should name backup %s: %v", want, err)
	}
}

func TestStateFileIsValidJSONAfterUpdates(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Update("run-1", func(s *RunState) error {
			s.Phase("build").CurrentStepIndex = i
			return nil
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(store.RunDir("run-1"), "state.json"))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	var decoded RunState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if decoded.Version != 6 {
		t.Fatalf("version = %d, want 6", decoded.Version)
	}
}

func TestArchiveMovesRunDir(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Create(newTestState("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	dst, err := store.Archive("run-1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "state.json")); err != nil {
		t.Fatalf("archived state missing: %v", err)
	}
	if _, err := store.Read("run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("active run should be gone, got %v", err)
	}
}
