package runbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/types"
)

const validYAML = `
id: restart-api
name: Restart API fleet
environment: staging
parameters:
  - name: region
    type: string
    required: true
steps:
  - id: drain
    type: http
    http:
      url: "https://lb.example.com/drain?region={{region}}"
  - id: restart
    type: shell
    on_failure: rollback
    shell:
      command: "systemctl restart api"
    compensate:
      id: undrain
      type: http
      http:
        method: POST
        url: "https://lb.example.com/undrain"
  - id: verify
    type: conditional
    conditional:
      condition: "{{steps.drain.output.status_code}} == 200"
      on_true:
        - id: notify
          type: http
          http:
            method: POST
            url: "https://hooks.example.com/ok"
`

func TestParse_ValidDefinition(t *testing.T) {
	rb, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rb.ID != "restart-api" {
		t.Errorf("expected id restart-api, got %q", rb.ID)
	}
	if len(rb.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(rb.Steps))
	}
	if rb.Steps[1].Compensate == nil || rb.Steps[1].Compensate.ID != "undrain" {
		t.Error("expected compensate step to survive parsing")
	}
	if rb.Steps[2].Conditional == nil || len(rb.Steps[2].Conditional.OnTrue) != 1 {
		t.Error("expected conditional branch to survive parsing")
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	rb, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rb.Status != types.RunbookDraft {
		t.Errorf("expected draft status default, got %s", rb.Status)
	}
	if rb.Steps[0].Name != "drain" {
		t.Errorf("expected step name to default to its id, got %q", rb.Steps[0].Name)
	}
	if rb.Steps[0].HTTP.Method != "GET" {
		t.Errorf("expected GET method default, got %q", rb.Steps[0].HTTP.Method)
	}
	if rb.Steps[2].Conditional.OnTrue[0].Name != "notify" {
		t.Error("expected defaults applied inside conditional branches")
	}
}

func TestParse_RejectsUnknownField(t *testing.T) {
	doc := `
name: bad
environment: development
steps:
  - id: s1
    type: shell
    shell:
      command: "true"
      timout_seconds: 5
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParse_RejectsInvalidRunbook(t *testing.T) {
	doc := `
name: empty
environment: development
steps: []
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected validation error for empty steps")
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("steps: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Parse([]byte("steps: [unclosed")); err != nil && !strings.Contains(err.Error(), "parsing runbook") {
		t.Errorf("expected parse context in error, got: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	rb, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rb.Name != "Restart API fleet" {
		t.Errorf("unexpected name %q", rb.Name)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !rwerr.HasCode(err, rwerr.CodeStoreIO) {
		t.Errorf("expected store IO code, got: %v", err)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	rb, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data, err := Marshal(rb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.ID != rb.ID || len(again.Steps) != len(rb.Steps) {
		t.Error("round trip changed the definition")
	}
}
