package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	stateFileName  = "state.json"
	backupSuffix   = ".backup"
	lockSuffix     = ".lock"
	lockPollEvery  = 10 * time.Millisecond
	defaultTimeout = 5 * time.Second

	// ArchiveDirName holds completed runs moved out of the active tree.
	// Runs are never deleted, only archived.
	ArchiveDirName = "archive"
)

// Store persists RunState files under BaseDir, one directory per run.
type Store struct {
	// BaseDir is the runs root, e.g. .orc/runs.
	BaseDir string

	// LockTimeout bounds how long an update waits for the exclusive lock
	// before failing with ErrLockTimeout.
	LockTimeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout overrides the default lock acquisition timeout.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.LockTimeout = d
		}
	}
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string, opts ...StoreOption) *Store {
	s := &Store{BaseDir: baseDir, LockTimeout: defaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunDir returns the directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.BaseDir, runID)
}

func (s *Store) statePath(runID string) string {
	return filepath.Join(s.RunDir(runID), stateFileName)
}

// BackupPath returns the transient backup file written during updates. It is
// the recovery hint surfaced when a state file turns out corrupt.
func (s *Store) BackupPath(runID string) string {
	return s.statePath(runID) + backupSuffix
}

// Create writes the initial state for a new run. It fails when the run
// already has a state file.
func (s *Store) Create(state *RunState) error {
	if state.RunID == "" {
		return fmt.Errorf("create run state: run_id is required")
	}
	path := s.statePath(state.RunID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrRunExists, state.RunID)
	}
	if err := os.MkdirAll(s.RunDir(state.RunID), 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	return s.writeState(path, state)
}

// Read loads the current state of a run.
func (s *Store) Read(runID string) (*RunState, error) {
	return s.readPath(runID, s.statePath(runID))
}

// Update applies mutate to the run's state under the store's concurrency
// discipline:
//
//  1. read the current state and snapshot its version
//  2. apply the mutation to a private copy
//  3. acquire the exclusive file lock (bounded timeout, fail fast)
//  4. write a backup of the on-disk file
//  5. re-read and compare the version; a concurrent writer that slipped in
//     since step 1 surfaces as ErrVersionConflict and nothing is written
//  6. bump the version, write atomically, drop the backup
//
// On any write failure the backup is restored so the file is never left in
// a partial state.
func (s *Store) Update(runID string, mutate func(*RunState) error) (*RunState, error) {
	base, err := s.Read(runID)
	if err != nil {
		return nil, err
	}
	baseVersion := base.Version

	if err := mutate(base); err != nil {
		return nil, err
	}

	unlock, err := s.lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := s.statePath(runID)
	backupPath := s.BackupPath(runID)

	current, err := s.readPath(runID, path)
	if err != nil {
		return nil, err
	}
	if current.Version != baseVersion {
		return nil, fmt.Errorf("%w: run %s version %d, update based on %d",
			ErrVersionConflict, runID, current.Version, baseVersion)
	}

	if err := copyFile(path, backupPath); err != nil {
		return nil, fmt.Errorf("write state backup: %w", err)
	}

	base.Version = baseVersion + 1
	base.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.writeState(path, base); err != nil {
		if restoreErr := os.Rename(backupPath, path); restoreErr != nil {
			return nil, fmt.Errorf("write state: %w (backup restore failed: %v, backup at %s)",
				err, restoreErr, backupPath)
		}
		return nil, fmt.Errorf("write state: %w (restored from backup)", err)
	}

	_ = os.Remove(backupPath)
	return base, nil
}

// Archive moves a run's directory under the archive subtree. The run's
// files are preserved verbatim.
func (s *Store) Archive(runID string) (string, error) {
	src := s.RunDir(runID)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return "", fmt.Errorf("stat run dir: %w", err)
	}
	archiveDir := filepath.Join(s.BaseDir, ArchiveDirName)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	dst := filepath.Join(archiveDir, runID)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("archive run %s: %w", runID, err)
	}
	return dst, nil
}

// lock acquires the exclusive per-run flock, polling until the timeout.
func (s *Store) lock(runID string) (func(), error) {
	path := s.statePath(runID) + lockSuffix
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open state lock: %w", err)
	}

	deadline := time.Now().Add(s.LockTimeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			_ = file.Close()
			return nil, fmt.Errorf("acquire state lock: %w", err)
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return nil, fmt.Errorf("%w: run %s after %s", ErrLockTimeout, runID, s.LockTimeout)
		}
		time.Sleep(lockPollEvery)
	}

	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}, nil
}

func (s *Store) readPath(runID, path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v (recover from %s)",
			ErrCorruptState, runID, err, s.BackupPath(runID))
	}
	return &state, nil
}

func (s *Store) writeState(path string, state *RunState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(path, data, 0644)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, data, 0644)
}

// writeFileAtomic writes via temp file + rename with fsync of both the file
// and its directory.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory for fsync: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}
