package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"llm", []string{"llm"}, false},
		{"", nil, true},
		{"gateway..port", nil, true},
		{"__proto__.x", nil, true},
		{"llm.constructor", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{}
	SetValueAtPath(root, []string{"llm", "providers", "openai", "model"}, "gpt-4o")

	v, ok := GetValueAtPath(root, []string{"llm", "providers", "openai", "model"})
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", v)

	_, ok = GetValueAtPath(root, []string{"llm", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"llm", "providers", "x"}, 1)
	SetValueAtPath(root, []string{"llm", "providers", "x", "y"}, 2)
	v, ok = GetValueAtPath(root, []string{"llm", "providers", "x", "y"})
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"notify": map[string]any{"sender": "twilio", "from": "+1555"},
	}
	assert.True(t, UnsetValueAtPath(root, []string{"notify", "sender"}))
	assert.False(t, UnsetValueAtPath(root, []string{"notify", "sender"}))
	assert.False(t, UnsetValueAtPath(root, []string{"missing", "x"}))
	assert.False(t, UnsetValueAtPath(root, []string{"notify", "from", "deeper"}))

	v, ok := GetValueAtPath(root, []string{"notify", "from"})
	require.True(t, ok)
	assert.Equal(t, "+1555", v)
}

func TestResolvePathsCustomHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OWLVIN_HOME", dir)

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, p.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), p.Config)
	assert.Equal(t, filepath.Join(dir, ".env"), p.Env)
	assert.Equal(t, filepath.Join(dir, "data", "profiles.db"), p.ProfileDB())
}

func TestResolvePathsDefaultHome(t *testing.T) {
	t.Setenv("OWLVIN_HOME", "")
	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, ".owlvin", filepath.Base(p.Base))
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OWLVIN_HOME", filepath.Join(dir, "home"))

	p, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, p.EnsureDirs())
	require.NoError(t, p.EnsureDirs())

	for _, d := range []string{p.Base, p.Data, p.Logs} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
