package handler

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule maps an error-text pattern to a failure category. Rules are an
// ordered list, first match wins, so new categories are additive instead of
// growing inline conditionals.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`

	re *regexp.Regexp
}

// RuleTable is an ordered categorization table for failure text.
type RuleTable struct {
	rules []Rule
}

// UncategorizedCategory is returned when no rule matches.
const UncategorizedCategory = "uncategorized"

// DefaultRules returns the built-in categorization table. A project
// rules.yaml extends or replaces it.
func DefaultRules() *RuleTable {
	table, err := NewRuleTable([]Rule{
		{Pattern: `(?i)timed? ?out|deadline exceeded`, Category: "timeout"},
		{Pattern: `(?i)permission denied|unauthorized|forbidden|403`, Category: "permissions"},
		{Pattern: `(?i)connection refused|no such host|network|dns|502|503`, Category: "network"},
		{Pattern: `(?i)merge conflict|rebase|diverged`, Category: "merge-conflict"},
		{Pattern: `(?i)test(s)? fail|assertion|expected .* got`, Category: "test-failure"},
		{Pattern: `(?i)compil|syntax error|undefined:|cannot find`, Category: "build-failure"},
		{Pattern: `(?i)disk|no space|quota`, Category: "resources"},
	})
	if err != nil {
		// The built-in patterns are compile-time constants.
		panic(err)
	}
	return table
}

// NewRuleTable compiles an ordered rule list.
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		if rule.Pattern == "" || rule.Category == "" {
			return nil, fmt.Errorf("rule %d: pattern and category are required", i+1)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, rule.Category, err)
		}
		rule.re = re
		compiled = append(compiled, rule)
	}
	return &RuleTable{rules: compiled}, nil
}

// ParseRules loads a rule table from YAML. The file holds a top-level
// `rules:` list in declaration order.
func ParseRules(data []byte) (*RuleTable, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules declared")
	}
	return NewRuleTable(doc.Rules)
}

// Categorize returns the category of the first matching rule, in table
// order, or UncategorizedCategory.
func (t *RuleTable) Categorize(text string) string {
	if t == nil {
		return UncategorizedCategory
	}
	for _, rule := range t.rules {
		if rule.re.MatchString(text) {
			return rule.Category
		}
	}
	return UncategorizedCategory
}

// Len returns the number of rules in the table.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}
