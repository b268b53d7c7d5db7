package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/boshu2/orc/internal/handler"
)

// TerminalPrompter asks decision questions on the terminal. Discouraged
// choices are shown in red and require an explicit selection.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTerminalPrompter builds a prompter reading stdin and writing stderr,
// keeping stdout clean for machine-readable output.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// Choose implements handler.Prompter.
func (p *TerminalPrompter) Choose(question string, choices []handler.Choice, defaultID string) (string, error) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	faint := color.New(color.FgHiBlack)

	fmt.Fprintln(p.out)
	bold.Fprintln(p.out, question)
	for i, c := range choices {
		label := c.Label
		if label == "" {
			label = c.ID
		}
		line := fmt.Sprintf("  %d) %s", i+1, label)
		switch {
		case c.Discouraged:
			red.Fprintf(p.out, "%s (not recommended)\n", line)
		case c.ID == defaultID:
			fmt.Fprintf(p.out, "%s %s\n", line, faint.Sprint("(default)"))
		default:
			fmt.Fprintln(p.out, line)
		}
	}

	scanner := bufio.NewScanner(p.in)
	for {
		fmt.Fprintf(p.out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read choice: %w", err)
			}
			// Input closed: take the safe default.
			return defaultID, nil
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			return defaultID, nil
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(choices) {
			return choices[n-1].ID, nil
		}
		for _, c := range choices {
			if strings.EqualFold(answer, c.ID) {
				return c.ID, nil
			}
		}
		fmt.Fprintf(p.out, "unrecognized choice %q\n", answer)
	}
}
