package executor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches {name} substitutions in directives and
// arguments.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Context carries the placeholder substitutions available to a step:
// {run_id}, {work_id}, {target}, {phase}, {step}, and anything the workflow
// adds. A placeholder with no matching key is a hard validation failure
// before the step ever runs; it is never passed through literally.
type Context struct {
	Values map[string]string
}

// NewContext creates a Context over the given substitution values.
func NewContext(values map[string]string) Context {
	if values == nil {
		values = map[string]string{}
	}
	return Context{Values: values}
}

// With returns a copy of the context with one extra substitution.
func (c Context) With(key, value string) Context {
	next := make(map[string]string, len(c.Values)+1)
	for k, v := range c.Values {
		next[k] = v
	}
	next[key] = value
	return Context{Values: next}
}

// Resolve substitutes every placeholder in s. Unresolved placeholders fail
// with the full list of missing keys.
func (c Context) Resolve(s string) (string, error) {
	var missing []string
	resolved := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := c.Values[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s in %q", ErrUnresolvedPlaceholder, strings.Join(missing, ", "), s)
	}
	return resolved, nil
}

// ResolveArgs resolves every argument value, returning the first failure.
func (c Context) ResolveArgs(args map[string]string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	resolved := make(map[string]string, len(args))
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := c.Resolve(args[k])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", k, err)
		}
		resolved[k] = value
	}
	return resolved, nil
}
