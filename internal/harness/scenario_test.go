package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/retry_then_review.yaml")
	require.NoError(t, err)

	assert.Equal(t, "retry_then_review", scenario.Name)
	assert.Equal(t, 2, scenario.MaxAttempts)
	require.Len(t, scenario.Steps, 10)

	require.NotNil(t, scenario.Steps[1].Enqueue)
	assert.Equal(t, "lead", scenario.Steps[1].Enqueue.Parent)
	assert.Equal(t, map[string]any{"text": "call back"}, scenario.Steps[1].Enqueue.Payload)

	require.NotNil(t, scenario.Steps[2].Fail)
	assert.Equal(t, FailStep{Ref: "lead", Status: 503, Message: "unavailable", Times: 2}, *scenario.Steps[2].Fail)

	require.NotNil(t, scenario.Steps[3].Online)
	assert.True(t, *scenario.Steps[3].Online)
	assert.Equal(t, "5s", scenario.Steps[5].Advance)
	assert.Equal(t, "lead", scenario.Steps[8].RetryReview)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	content := `
name: typo
steps:
  - sycn: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "steps:\n  - sync: true\n",
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\n",
			wantErr: "at least one step",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\nsteps:\n  - sync: true\n    online: true\n",
			wantErr: "exactly one action per step, got 2",
		},
		{
			name:    "empty step",
			yaml:    "name: x\nsteps:\n  - sync: false\n",
			wantErr: "exactly one action per step, got 0",
		},
		{
			name: "duplicate ref",
			yaml: `name: x
steps:
  - enqueue: { ref: a, collection: c, payload: {} }
  - enqueue: { ref: a, collection: c, payload: {} }
`,
			wantErr: `ref "a" already used`,
		},
		{
			name:    "enqueue without collection",
			yaml:    "name: x\nsteps:\n  - enqueue: { ref: a }\n",
			wantErr: "enqueue.collection is required",
		},
		{
			name:    "undeclared parent",
			yaml:    "name: x\nsteps:\n  - enqueue: { ref: a, collection: c, parent: p, payload: {} }\n",
			wantErr: `parent "p" is not a previous ref`,
		},
		{
			name:    "unknown expected error",
			yaml:    "name: x\nsteps:\n  - enqueue: { ref: a, collection: c, expect_error: boom }\n",
			wantErr: `unknown expect_error "boom"`,
		},
		{
			name:    "bad duration",
			yaml:    "name: x\nsteps:\n  - advance: soon\n",
			wantErr: "advance",
		},
		{
			name:    "negative duration",
			yaml:    "name: x\nsteps:\n  - advance: -1s\n",
			wantErr: "advance must be positive",
		},
		{
			name:    "fail unknown ref",
			yaml:    "name: x\nsteps:\n  - fail: { ref: a, status: 503 }\n",
			wantErr: `fail.ref "a" is not a previous ref`,
		},
		{
			name: "fail bad status",
			yaml: `name: x
steps:
  - enqueue: { ref: a, collection: c, payload: {} }
  - fail: { ref: a, status: 42 }
`,
			wantErr: "not an HTTP status",
		},
		{
			name:    "retry unknown ref",
			yaml:    "name: x\nsteps:\n  - retry_review: a\n",
			wantErr: `retry_review "a" is not a previous ref`,
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\nsteps:\n  - sync: true\nassertions:\n  - type: vibes\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "assertion without ref",
			yaml:    "name: x\nsteps:\n  - sync: true\nassertions:\n  - type: synced\n",
			wantErr: "ref is required for synced",
		},
		{
			name:    "assertion on rejected ref",
			yaml:    "name: x\nsteps:\n  - enqueue: { ref: a, collection: c, expect_error: invalid_payload }\nassertions:\n  - type: synced\n    ref: a\n",
			wantErr: `unknown ref "a"`,
		},
		{
			name: "submit order too short",
			yaml: `name: x
steps:
  - enqueue: { ref: a, collection: c, payload: {} }
assertions:
  - type: submit_order
    refs: [a]
`,
			wantErr: "at least two entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
