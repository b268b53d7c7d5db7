package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// IndexFileName is the registry file under the runs root.
const IndexFileName = "index.json"

// RegistryEntry summarizes one known run. The registry replaces a single
// mutable active-run pointer file: multiple runs can be active at once and
// each writer updates only its own entry under the registry lock.
type RegistryEntry struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Status     Status `json:"status"`
	UpdatedAt  string `json:"updated_at"`
}

// Registry is the index of runs under a runs root.
type Registry struct {
	path string
}

// NewRegistry creates a Registry stored inside baseDir.
func NewRegistry(baseDir string) *Registry {
	return &Registry{path: filepath.Join(baseDir, IndexFileName)}
}

// Put inserts or replaces the entry for a run.
func (r *Registry) Put(entry RegistryEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("registry put: run_id is required")
	}
	return r.mutate(func(entries map[string]RegistryEntry) error {
		entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		entries[entry.RunID] = entry
		return nil
	})
}

// SetStatus updates the status of an existing entry.
func (r *Registry) SetStatus(runID string, status Status) error {
	return r.mutate(func(entries map[string]RegistryEntry) error {
		entry, ok := entries[runID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		entry.Status = status
		entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		entries[runID] = entry
		return nil
	})
}

// Remove drops a run from the registry, e.g. after archival.
func (r *Registry) Remove(runID string) error {
	return r.mutate(func(entries map[string]RegistryEntry) error {
		delete(entries, runID)
		return nil
	})
}

// All returns every registered run sorted by run id.
func (r *Registry) All() ([]RegistryEntry, error) {
	entries, err := r.read()
	if err != nil {
		return nil, err
	}
	list := make([]RegistryEntry, 0, len(entries))
	for _, entry := range entries {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RunID < list[j].RunID })
	return list, nil
}

// Active returns runs that are neither terminal nor unknown.
func (r *Registry) Active() ([]RegistryEntry, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, entry := range all {
		if !entry.Status.Terminal() {
			active = append(active, entry)
		}
	}
	return active, nil
}

// Get returns the entry for a run.
func (r *Registry) Get(runID string) (RegistryEntry, error) {
	entries, err := r.read()
	if err != nil {
		return RegistryEntry{}, err
	}
	entry, ok := entries[runID]
	if !ok {
		return RegistryEntry{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return entry, nil
}

func (r *Registry) read() (map[string]RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return map[string]RegistryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	var entries map[string]RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	if entries == nil {
		entries = map[string]RegistryEntry{}
	}
	return entries, nil
}

func (r *Registry) mutate(fn func(map[string]RegistryEntry) error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}

	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open index lock: %w", err)
	}
	defer lockFile.Close()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock run index: %w", err)
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	}()

	entries, err := r.read()
	if err != nil {
		return err
	}
	if err := fn(entries); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run index: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(r.path, data, 0644)
}
