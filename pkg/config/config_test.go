package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesBuiltinDefaults(t *testing.T) {
	cfg, err := Load("", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "one-shot", cfg.Inject.Mode)
	require.Equal(t, int64(10<<20), cfg.Inject.MaxFileSize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inject:\n  mode: watch\n  out: /data\n"), 0o600))

	cfg, err := Load(path, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "watch", cfg.Inject.Mode)
	require.Equal(t, "/data", cfg.Inject.Out)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus:\n  foo: bar\n"), 0o600))

	_, err := Load(path, nil, nil)
	require.Error(t, err)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inject:\n  mode: watch\n"), 0o600))

	flags := pflag.NewFlagSet("inject", pflag.ContinueOnError)
	flags.String("mode", "one-shot", "")
	require.NoError(t, flags.Set("mode", "park"))

	cfg, err := Load(path, map[string]*pflag.FlagSet{"inject": flags}, nil)
	require.NoError(t, err)
	require.Equal(t, "park", cfg.Inject.Mode)
}

func TestVectorPolicyExtend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("inject:\n  map:\n    - /a:/b\n"), 0o600))

	flags := pflag.NewFlagSet("inject", pflag.ContinueOnError)
	flags.StringSlice("map", nil, "")
	require.NoError(t, flags.Set("map", "/c:/d"))

	cfg, err := Load(path, map[string]*pflag.FlagSet{"inject": flags}, map[string]VectorPolicy{"map": VectorExtend})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/a:/b", "/c:/d"}, cfg.Inject.Maps)
}

func TestValidateRejectsBadEnum(t *testing.T) {
	cfg := Default()
	cfg.Inject.Mode = "bogus"
	require.Error(t, Validate(&cfg))
}
