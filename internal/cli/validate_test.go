package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "chain.yaml", chainScenario)

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "✓ chain is valid (2 subscribers, 1 steps)\n", out)
}

func TestValidate_CycleIsWarning(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "cycle.cue", cycleScenario)

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cycle is valid")
	assert.Contains(t, out, "⚠ Potential wait_for cycle detected: a → b → a\n")
}

func TestValidate_JSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "cycle.cue", cycleScenario)

	out, _, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Subscribers)
	assert.Equal(t, 1, resp.Data.Steps)
	require.Len(t, resp.Data.Warnings, 1)
	assert.Equal(t, []string{"a", "b", "a"}, resp.Data.Warnings[0].Path)
}

func TestValidate_ExitCodes(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		wantExit int
		wantCode string
	}{
		{
			name:     "not_found",
			path:     filepath.Join(dir, "missing.yaml"),
			wantExit: ExitCommandError,
			wantCode: ErrCodeNotFound,
		},
		{
			name:     "parse_error",
			path:     writeScenario(t, dir, "broken.yaml", "name: [unclosed\n"),
			wantExit: ExitFailure,
			wantCode: ErrCodeParseFailed,
		},
		{
			name:     "unknown_field",
			path:     writeScenario(t, dir, "typo.cue", `name: "typo", description: "d", subscribers: [{name: "a", wait_fro: ["a"]}], dispatch: [{payload: "x"}]`),
			wantExit: ExitFailure,
			wantCode: ErrCodeParseFailed,
		},
		{
			name:     "invalid",
			path:     writeScenario(t, dir, "bad.yaml", unknownRefScenario),
			wantExit: ExitFailure,
			wantCode: ErrCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "validate", tt.path, "--format", "json")
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}
