package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/template"
)

// RunReport is the markdown view of a single run: its cursor, per-phase
// progress, and the tail of its event trail.
type RunReport struct {
	RunID      string
	WorkflowID string
	WorkID     string
	Target     string
	Status     string
	Phase      string
	Recoveries int
	Sessions   int
	FailedAt   string
	NextAction string
	Phases     []PhaseLine
	Events     []EventLine
}

// PhaseLine is one row of the phase progress table.
type PhaseLine struct {
	Name   string
	Status string
	Steps  string
}

// EventLine is one row of the recent-events table.
type EventLine struct {
	Seq     int
	Type    string
	Phase   string
	Step    string
	Message string
}

const runReportTemplate = `# Run {{.RunID}}

- **Workflow**: {{.WorkflowID}}
{{- if .WorkID}}
- **Work item**: {{.WorkID}}
{{- end}}
{{- if .Target}}
- **Target**: {{.Target}}
{{- end}}
- **Status**: {{.Status}}{{if .Phase}} ({{.Phase}}){{end}}
- **Sessions**: {{.Sessions}}
{{- if gt .Recoveries 0}}
- **Recovery attempts**: {{.Recoveries}}
{{- end}}
{{- if .FailedAt}}
- **Failed at**: {{.FailedAt}}
{{- end}}
{{- if .NextAction}}
- **Next**: {{.NextAction}}
{{- end}}

## Phases

| Phase | Status | Steps |
|-------|--------|-------|
{{- range .Phases}}
| {{.Name}} | {{.Status}} | {{.Steps}} |
{{- end}}
{{- if .Events}}

## Recent events

| Seq | Type | Phase | Step | Message |
|-----|------|-------|------|---------|
{{- range .Events}}
| {{.Seq}} | {{.Type}} | {{.Phase}} | {{.Step}} | {{trim .Message}} |
{{- end}}
{{- end}}
`

// Render writes the report as markdown.
func (r *RunReport) Render(w io.Writer) error {
	tmpl, err := template.New("run").Funcs(template.FuncMap{
		"trim": func(s string) string {
			s = strings.ReplaceAll(s, "\n", " ")
			s = strings.ReplaceAll(s, "|", "\\|")
			return strings.TrimSpace(s)
		},
	}).Parse(runReportTemplate)
	if err != nil {
		return fmt.Errorf("parse report template: %w", err)
	}
	return tmpl.Execute(w, r)
}
