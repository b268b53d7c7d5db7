package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// EventsDirName is the per-run directory holding one file per event.
	EventsDirName = "events"

	// ConsolidatedFileName is the optional single-stream form written after
	// completion. Consolidation never removes the per-event files.
	ConsolidatedFileName = "events.jsonl"

	lockFileName = "events.lock"
)

// Log is the append-only event log for one run. Every event lands as
// {seq}-{type}.json inside the run's events directory, guarded by an
// exclusive flock so concurrent writers serialize.
type Log struct {
	dir string
}

// Open returns the Log rooted at runDir. The events directory is created
// lazily on first append.
func Open(runDir string) *Log {
	return &Log{dir: filepath.Join(runDir, EventsDirName)}
}

// Dir returns the events directory path.
func (l *Log) Dir() string {
	return l.dir
}

// Append assigns the next sequence number, chains the hashes, and writes the
// event durably. The returned event carries all assigned fields.
func (l *Log) Append(ev Event) (Event, error) {
	if strings.TrimSpace(ev.Type) == "" {
		return Event{}, fmt.Errorf("append event: type is required")
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return Event{}, fmt.Errorf("create events dir: %w", err)
	}

	unlock, err := acquireLock(filepath.Join(l.dir, lockFileName))
	if err != nil {
		return Event{}, err
	}
	defer unlock()

	last, err := l.lastLocked()
	if err != nil {
		return Event{}, err
	}

	ev.SchemaVersion = SchemaVersion
	ev.Seq = last.Seq + 1
	ev.EventID = newEventID()
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	ev.PrevHash = last.Hash

	normalized, err := normalizeData(ev.Data)
	if err != nil {
		return Event{}, err
	}
	ev.Data = normalized

	ev.PayloadHash, ev.Hash, err = computeHashes(ev)
	if err != nil {
		return Event{}, err
	}

	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return Event{}, fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(l.dir, eventFileName(ev.Seq, ev.Type))
	if err := writeFileDurable(path, data, 0644); err != nil {
		return Event{}, fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
	return ev, nil
}

// AppendTyped is shorthand for appending an event with message and optional
// structured data.
func (l *Log) AppendTyped(eventType, phase, step, status, message string, data any) (Event, error) {
	normalized, err := normalizeData(data)
	if err != nil {
		return Event{}, err
	}
	return l.Append(Event{
		Type:    eventType,
		Phase:   phase,
		Step:    step,
		Status:  status,
		Message: message,
		Data:    normalized,
	})
}

// Events returns every event in sequence order.
func (l *Log) Events() ([]Event, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read events dir: %w", err)
	}

	var events []Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, ok := parseSeq(entry.Name()); !ok {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read event %s: %w", entry.Name(), err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", entry.Name(), err)
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// Last returns the highest-sequence event, or a zero event when the log is
// empty.
func (l *Log) Last() (Event, error) {
	events, err := l.Events()
	if err != nil || len(events) == 0 {
		return Event{}, err
	}
	return events[len(events)-1], nil
}

// LastOfType returns the most recent event of the given type for a phase.
// An empty phase matches any phase. The second return reports whether one
// was found.
func (l *Log) LastOfType(eventType, phase string) (Event, bool, error) {
	events, err := l.Events()
	if err != nil {
		return Event{}, false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != eventType {
			continue
		}
		if phase != "" && events[i].Phase != phase {
			continue
		}
		return events[i], true, nil
	}
	return Event{}, false, nil
}

// VerifyResult is the machine-readable output of a chain verification.
type VerifyResult struct {
	Pass             bool   `json:"pass"`
	EventCount       int    `json:"event_count"`
	FirstBrokenSeq   int    `json:"first_broken_seq"`
	Message          string `json:"message,omitempty"`
	ConsolidatedPath string `json:"consolidated_path,omitempty"`
}

// Verify checks sequence continuity and the full hash chain. Chain breaks
// are reported in the result, not as errors; only I/O failures error.
func (l *Log) Verify() (VerifyResult, error) {
	events, err := l.Events()
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyResult{Pass: true, EventCount: len(events), FirstBrokenSeq: -1}

	prevHash := ""
	for i, ev := range events {
		fail := func(msg string) VerifyResult {
			result.Pass = false
			result.FirstBrokenSeq = ev.Seq
			result.Message = msg
			return result
		}
		if err := ev.Validate(); err != nil {
			return fail(err.Error()), nil
		}
		if ev.Seq != i+1 {
			return fail(fmt.Sprintf("sequence gap: got %d want %d", ev.Seq, i+1)), nil
		}
		if ev.PrevHash != prevHash {
			return fail(fmt.Sprintf("prev_hash mismatch: got %q want %q", ev.PrevHash, prevHash)), nil
		}
		payloadHash, hash, err := computeHashes(ev)
		if err != nil {
			return fail(err.Error()), nil
		}
		if ev.PayloadHash != payloadHash {
			return fail("payload_hash mismatch"), nil
		}
		if ev.Hash != hash {
			return fail("hash mismatch"), nil
		}
		prevHash = ev.Hash
	}
	return result, nil
}

// Consolidate writes all events as a single JSONL stream beside the events
// directory. The per-event files are left untouched; consolidation is purely
// additive. Verification runs first so a broken chain is never consolidated.
func (l *Log) Consolidate() (string, error) {
	result, err := l.Verify()
	if err != nil {
		return "", err
	}
	if !result.Pass {
		return "", fmt.Errorf("%w: seq %d: %s", ErrChainBroken, result.FirstBrokenSeq, result.Message)
	}

	events, err := l.Events()
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", fmt.Errorf("nothing to consolidate: event log is empty")
	}

	var buf strings.Builder
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("marshal event %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	path := filepath.Join(filepath.Dir(l.dir), ConsolidatedFileName)
	if err := writeFileDurable(path, []byte(buf.String()), 0644); err != nil {
		return "", fmt.Errorf("write consolidated log: %w", err)
	}
	return path, nil
}

func eventFileName(seq int, eventType string) string {
	return fmt.Sprintf("%06d-%s.json", seq, eventType)
}

func parseSeq(name string) (int, bool) {
	base := strings.TrimSuffix(name, ".json")
	idx := strings.Index(base, "-")
	if idx <= 0 {
		return 0, false
	}
	seq, err := strconv.Atoi(base[:idx])
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// lastLocked finds the current chain tail. Caller holds the append lock.
func (l *Log) lastLocked() (Event, error) {
	return l.Last()
}

// acquireLock takes an exclusive flock on path and returns the release
// function.
func acquireLock(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event lock: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock event log: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}, nil
}

// writeFileDurable writes via temp file + rename and fsyncs file and
// directory, so a crash never leaves a partial event on disk.
func writeFileDurable(path string, data []byte, mode os.FileMode) error {
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
