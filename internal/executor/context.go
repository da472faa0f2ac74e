package executor

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// Context carries the resolved state an executor may read: execution
// identity, accumulated variables, the pre-resolved secret map and
// prior step outputs. Each execution owns exactly one Context; it is
// never shared across executions.
type Context struct {
	ExecutionID string
	RunbookID   string
	Environment types.Environment

	// Variables are parameter bindings plus accumulated step outputs.
	Variables map[string]any

	// Secrets is the plaintext map materialized once at execution
	// start. Values must never be logged.
	Secrets map[string]string

	// Outputs holds step outputs keyed by step ID. Guarded by mu:
	// children of a parallel step record outputs concurrently.
	mu      sync.RWMutex
	Outputs map[string]any
}

// NewContext builds a Context for one execution.
func NewContext(e *types.Execution, secrets map[string]string) *Context {
	vars := make(map[string]any, len(e.Variables))
	for k, v := range e.Variables {
		vars[k] = v
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	outputs := make(map[string]any)
	// Prior step outputs are persisted under the "steps" variable so a
	// resumed execution can still resolve steps.<id>.output templates.
	if prior, ok := vars["steps"].(map[string]any); ok {
		for k, v := range prior {
			outputs[k] = v
		}
	}
	return &Context{
		ExecutionID: e.ID,
		RunbookID:   e.RunbookID,
		Environment: e.Environment,
		Variables:   vars,
		Secrets:     secrets,
		Outputs:     outputs,
	}
}

// SetOutput records a step output, also exposing it to templates as
// steps.<id>.output.
func (c *Context) SetOutput(stepID string, output any) {
	if output == nil {
		return
	}
	c.mu.Lock()
	c.Outputs[stepID] = output
	c.mu.Unlock()
}

// OutputsSnapshot returns a copy of the recorded outputs, suitable for
// persisting into execution variables.
func (c *Context) OutputsSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.Outputs))
	for k, v := range c.Outputs {
		out[k] = v
	}
	return out
}

// varPattern matches {{variable.path}} patterns.
var varPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Substitute replaces all {{...}} patterns in the input string.
// Substitution recurses so variables may reference other variables,
// bounded to avoid runaway expansion.
func (c *Context) Substitute(input string) (string, error) {
	var lastErr error
	maxDepth := 10

	result := input
	for i := 0; i < maxDepth; i++ {
		newResult := varPattern.ReplaceAllStringFunc(result, func(match string) string {
			path := strings.TrimSpace(match[2 : len(match)-2])
			value, err := c.resolve(path)
			if err != nil {
				lastErr = err
				return match
			}
			return StringifyValue(value)
		})
		if newResult == result {
			break
		}
		result = newResult
	}

	return result, lastErr
}

// SubstituteMap substitutes templates in every value of a string map.
func (c *Context) SubstituteMap(in map[string]string) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		sub, err := c.Substitute(v)
		if err != nil {
			return nil, err
		}
		out[k] = sub
	}
	return out, nil
}

// resolve looks up a variable path and returns its value.
func (c *Context) resolve(path string) (any, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty variable path")
	}

	switch parts[0] {
	case "secrets":
		if len(parts) < 2 {
			return nil, fmt.Errorf("secret reference requires a name")
		}
		name := strings.Join(parts[1:], ".")
		val, ok := c.Secrets[name]
		if !ok {
			return nil, fmt.Errorf("undefined secret: %s", name)
		}
		return val, nil

	case "steps":
		// steps.<id>.output or steps.<id>.output.<field>
		if len(parts) < 3 || parts[2] != "output" {
			return nil, fmt.Errorf("invalid step output reference: %s", path)
		}
		c.mu.RLock()
		out, ok := c.Outputs[parts[1]]
		c.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no output recorded for step %s", parts[1])
		}
		return resolvePath(out, parts[3:])

	case "execution_id":
		return c.ExecutionID, nil
	case "runbook_id":
		return c.RunbookID, nil
	case "environment":
		return string(c.Environment), nil
	case "timestamp":
		return time.Now().UTC().Format(time.RFC3339), nil
	case "date":
		return time.Now().UTC().Format("2006-01-02"), nil
	}

	if val, ok := c.Variables[parts[0]]; ok {
		return resolvePath(val, parts[1:])
	}
	return nil, fmt.Errorf("undefined variable: %s", parts[0])
}

// resolvePath walks nested map keys on a value.
func resolvePath(val any, parts []string) (any, error) {
	for _, part := range parts {
		m, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot descend into %T with key %q", val, part)
		}
		val, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("undefined key: %s", part)
		}
	}
	return val, nil
}

// StringifyValue converts any value to a string representation.
// Maps and slices are JSON-marshaled instead of using Go's %v format
// so templates produce valid JSON rather than "map[foo:bar]".
func StringifyValue(val any) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(val)
	kind := rv.Kind()
	if kind == reflect.Map || kind == reflect.Slice || kind == reflect.Array {
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	}

	return fmt.Sprintf("%v", val)
}
