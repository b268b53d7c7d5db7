package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ContextFileDelay is how long a context file outlives the handler
// invocation. Deleting immediately races handlers that read the file late.
const ContextFileDelay = 2 * time.Second

// ContextFile is the transient per-step file carrying the failure context
// for one handler invocation. It lives under the run's recovery/ directory
// and is removed shortly after the handler returns.
type ContextFile struct {
	Path string
}

// WriteContext writes the failure context for req under runDir/recovery/.
func WriteContext(runDir string, req Request) (*ContextFile, error) {
	dir := filepath.Join(runDir, "recovery")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recovery dir: %w", err)
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode recovery context: %w", err)
	}
	path := filepath.Join(dir, req.Step+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write recovery context: %w", err)
	}
	return &ContextFile{Path: path}, nil
}

// Remove deletes the context file immediately.
func (f *ContextFile) Remove() error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove recovery context: %w", err)
	}
	return nil
}

// CleanupAfter schedules removal after the given delay without blocking
// the caller. A non-positive delay removes synchronously.
func (f *ContextFile) CleanupAfter(delay time.Duration) {
	if f == nil || f.Path == "" {
		return
	}
	if delay <= 0 {
		_ = f.Remove()
		return
	}
	time.AfterFunc(delay, func() { _ = f.Remove() })
}
