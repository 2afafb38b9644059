package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRender_FullTree(t *testing.T) {
	out, err := runCLI(t, "render", "--fixture", "testdata/harbor_point.yaml", "--root", "ENT-100")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, []string{
		"ENT-100 Harbor Point Holdings LLC [expandable]",
		"  B-7 Jane Roe 40% (Managing Member)",
		"  ENT-200 Bayside Capital LP 35% (Member) [expandable]",
		"    ENT-100 Harbor Point Holdings LLC 1% (General Partner) [cycle]",
		"    Employee Pool 99% (Limited Partner)",
		"  ENT-300 Roe Family Trust 25% (Member) [expandable]",
		"    B-8 John Roe (Trustee)",
		"    — Roe Holdings Inc (Beneficiary) [dangling]",
	}, lines)
}

func TestRender_DepthLimit(t *testing.T) {
	out, err := runCLI(t, "render", "--fixture", "testdata/harbor_point.yaml", "--root", "ENT-100", "--depth", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "  ENT-200 Bayside Capital LP 35% (Member) [expandable]\n")
	assert.NotContains(t, out, "General Partner")
	assert.NotContains(t, out, "\n    ")
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "unknown root",
			args:    []string{"render", "--fixture", "testdata/harbor_point.yaml", "--root", "ENT-999"},
			wantErr: `no entity with display id "ENT-999"`,
		},
		{
			name:    "missing fixture file",
			args:    []string{"render", "--fixture", "testdata/missing.yaml", "--root", "ENT-100"},
			wantErr: "failed to open fixture",
		},
		{
			name:    "bad depth",
			args:    []string{"render", "--fixture", "testdata/harbor_point.yaml", "--root", "ENT-100", "--depth", "0"},
			wantErr: "depth must be at least 1",
		},
		{
			name:    "root required",
			args:    []string{"render", "--fixture", "testdata/harbor_point.yaml"},
			wantErr: "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
