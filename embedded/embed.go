// Package embedded provides the workflow definitions and failure rules
// built into the orc binary. They serve as fallbacks when a project has no
// .orc/workflows directory of its own.
package embedded

import (
	"embed"
	"io/fs"
)

//go:embed workflows
var workflowsRaw embed.FS

// WorkflowsFS serves the built-in workflow definitions at its root, the
// layout the workflow loader expects for its fallback.
var WorkflowsFS fs.FS

// RulesYAML is the built-in failure categorization rule table.
//
//go:embed rules/rules.yaml
var RulesYAML []byte

func init() {
	sub, err := fs.Sub(workflowsRaw, "workflows")
	if err != nil {
		panic(err)
	}
	WorkflowsFS = sub
}
