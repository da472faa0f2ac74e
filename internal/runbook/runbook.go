// Package runbook loads workflow definitions from YAML files and
// prepares them for storage.
package runbook

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/types"
)

// Parse decodes a YAML runbook definition. Unknown fields are
// rejected so typos in step configs surface at load time instead of
// as silently-ignored settings.
func Parse(data []byte) (*types.Runbook, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rb types.Runbook
	if err := dec.Decode(&rb); err != nil {
		return nil, fmt.Errorf("parsing runbook: %w", err)
	}

	applyDefaults(&rb)
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	return &rb, nil
}

// LoadFile reads and parses a runbook definition file.
func LoadFile(path string) (*types.Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rwerr.StoreIO("reading runbook file", err)
	}
	rb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rb, nil
}

// Marshal renders a runbook back to YAML.
func Marshal(rb *types.Runbook) ([]byte, error) {
	return yaml.Marshal(rb)
}

// applyDefaults fills definition-level defaults before validation.
func applyDefaults(rb *types.Runbook) {
	if rb.Status == "" {
		rb.Status = types.RunbookDraft
	}
	if rb.Environment == "" {
		rb.Environment = types.EnvDevelopment
	}
	for i := range rb.Steps {
		defaultStep(&rb.Steps[i])
	}
}

func defaultStep(s *types.Step) {
	if s.Name == "" {
		s.Name = s.ID
	}
	if s.HTTP != nil && s.HTTP.Method == "" {
		s.HTTP.Method = "GET"
	}
	if s.Compensate != nil {
		defaultStep(s.Compensate)
	}
	if s.Conditional != nil {
		for i := range s.Conditional.OnTrue {
			defaultStep(&s.Conditional.OnTrue[i])
		}
		for i := range s.Conditional.OnFalse {
			defaultStep(&s.Conditional.OnFalse[i])
		}
	}
	if s.Parallel != nil {
		for i := range s.Parallel.Children {
			defaultStep(&s.Parallel.Children[i])
		}
	}
}
