// Package executor invokes one step against its external collaborator and
// normalizes whatever comes back into the standard result envelope. The
// orchestration core depends on nothing else from the outside world.
package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope statuses. Anything else coming back from a collaborator is
// invalid and coerced to failure; an ambiguous result is never a success.
const (
	StatusSuccess      = "success"
	StatusWarning      = "warning"
	StatusFailure      = "failure"
	StatusPendingInput = "pending_input"
)

// ValidStatus reports whether s is one of the four envelope statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusFailure, StatusPendingInput:
		return true
	}
	return false
}

// Envelope is the normalized result of one step execution.
type Envelope struct {
	Status         string         `json:"status"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	ErrorAnalysis  string         `json:"error_analysis,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
}

// Failure builds a failure envelope with a formatted message.
func Failure(format string, args ...any) Envelope {
	return Envelope{Status: StatusFailure, Message: fmt.Sprintf(format, args...)}
}

// Normalize parses raw collaborator output into an Envelope. The output may
// carry log lines before the JSON document, so the whole output is tried
// first and then the last non-empty line. A missing or invalid status field
// coerces the result to failure with a synthesized message carrying the raw
// output for diagnosis.
func Normalize(raw []byte) Envelope {
	text := strings.TrimSpace(string(raw))

	if env, ok := tryDecode(text); ok {
		return env
	}
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if env, ok := tryDecode(line); ok {
			return env
		}
		break
	}

	env := Failure("non-conforming step response: missing or invalid status")
	if text != "" {
		env.Errors = []string{truncate(text, 2000)}
	}
	return env
}

func tryDecode(text string) (Envelope, bool) {
	if !strings.HasPrefix(text, "{") {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, false
	}
	if !ValidStatus(env.Status) {
		return Envelope{}, false
	}
	return env, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
