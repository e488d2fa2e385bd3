package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/stack-ingest/pkg/ingest"
)

// Helper function to create a temporary config file
func createTempConfigFile(t *testing.T, content string, format string) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), fmt.Sprintf("config.%s", format))
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	return filePath
}

// newFlags mirrors the flag set the root command builds.
func newFlags(t *testing.T, input string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "Config file")
	flags.String("profile", "", "Config profile")
	flags.BoolP("verbose", "v", false, "Verbose logging")
	RegisterFlags(flags)
	if input != "" {
		require.NoError(t, flags.Set("input", input))
	}
	return flags
}

// isolateHome keeps config discovery away from the developer's real files.
func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestLoadAndValidate_Defaults(t *testing.T) {
	isolateHome(t)
	input := t.TempDir()

	opts, logger, err := LoadAndValidate("", "", "1.2.3", false, newFlags(t, input))
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, opts.Logger)

	assert.Equal(t, input, opts.InputPath)
	assert.Equal(t, "1.2.3", opts.AppVersion)
	assert.Equal(t, "md5", opts.HashAlgorithm)
	assert.Equal(t, ingest.DefaultSinkCapacity, opts.SinkCapacity)
	assert.Equal(t, ingest.DefaultProgressEvery, opts.ProgressEvery)
	assert.Equal(t, ingest.DefaultPublishWarnThreshold, opts.PublishWarnThreshold)
	assert.Equal(t, ingest.DefaultWatchDebounceDuration, opts.WatchDebounce)
	assert.Equal(t, "-", opts.Output.Path)
	assert.Equal(t, ingest.RecordFormatJSONL, opts.Output.Format)
	assert.Equal(t, ingest.OutputFormatText, opts.OutputFormat)
	assert.Equal(t, "gob", opts.Cache.Format)
	assert.False(t, opts.Cache.Enabled)
	assert.False(t, opts.CompleteOnCancel)
	assert.False(t, opts.WatchMode)
	assert.False(t, opts.Metrics.Enabled)
	assert.Equal(t, ingest.DefaultMetricsAddress, opts.Metrics.Address)
	assert.True(t, opts.TuiEnabled)
	assert.Empty(t, opts.ConfigFilePath)
}

func TestLoadAndValidate_ConfigFile_YAML(t *testing.T) {
	isolateHome(t)
	input := t.TempDir()
	rulesDir := t.TempDir()
	rulesFile := filepath.Join(rulesDir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesFile, []byte("extensions:\n  Text: [note]\n"), 0o644))

	yamlContent := fmt.Sprintf(`
hashAlgorithm: SHA256
sinkCapacity: 8
progressEvery: 0
publishWarnThreshold: 250ms
completeOnCancel: true
ignore:
  - "*.tmp"
  - "vendor/"
classification:
  rulesFile: %q
  extensions:
    dat: Archive
cache:
  enabled: true
  format: json
output:
  format: msgpack
outputFormat: json
watch:
  debounce: 2s
`, rulesFile)
	cfgFile := createTempConfigFile(t, yamlContent, "yaml")

	opts, _, err := LoadAndValidate(cfgFile, "", "", false, newFlags(t, input))
	require.NoError(t, err)
	assert.Equal(t, cfgFile, opts.ConfigFilePath)
	assert.Equal(t, "sha256", opts.HashAlgorithm)
	assert.Equal(t, 8, opts.SinkCapacity)
	assert.Equal(t, 0, opts.ProgressEvery)
	assert.Equal(t, 250*time.Millisecond, opts.PublishWarnThreshold)
	assert.True(t, opts.CompleteOnCancel)
	assert.ElementsMatch(t, []string{"*.tmp", "vendor/"}, opts.IgnorePatterns)
	assert.Equal(t, rulesFile, opts.Classification.RulesFile)
	assert.Equal(t, "Archive", opts.Classification.Extensions["dat"])
	assert.True(t, opts.Cache.Enabled)
	assert.Equal(t, "json", opts.Cache.Format)
	assert.Equal(t, ingest.RecordFormatMsgpack, opts.Output.Format)
	assert.Equal(t, ingest.OutputFormatJSON, opts.OutputFormat)
	assert.Equal(t, 2*time.Second, opts.WatchDebounce)
}

func TestLoadAndValidate_Profile(t *testing.T) {
	isolateHome(t)
	yamlContent := `
sinkCapacity: 32
hashAlgorithm: md5
profiles:
  ci:
    sinkCapacity: 4
    hashAlgorithm: sha1
`
	cfgFile := createTempConfigFile(t, yamlContent, "yaml")

	opts, _, err := LoadAndValidate(cfgFile, "ci", "", false, newFlags(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "ci", opts.ProfileName)
	assert.Equal(t, 4, opts.SinkCapacity)
	assert.Equal(t, "sha1", opts.HashAlgorithm)

	_, _, err = LoadAndValidate(cfgFile, "missing", "", false, newFlags(t, t.TempDir()))
	assert.ErrorIs(t, err, ingest.ErrConfigValidation)
}

func TestLoadAndValidate_EnvVarOverride(t *testing.T) {
	isolateHome(t)
	cfgFile := createTempConfigFile(t, "sinkCapacity: 4\n", "yaml")
	t.Setenv("STACKINGEST_SINKCAPACITY", "16")
	t.Setenv("STACKINGEST_CACHE_ENABLED", "true")

	opts, _, err := LoadAndValidate(cfgFile, "", "", false, newFlags(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 16, opts.SinkCapacity)
	assert.True(t, opts.Cache.Enabled)
}

func TestLoadAndValidate_FlagOverride(t *testing.T) {
	isolateHome(t)
	cfgFile := createTempConfigFile(t, "sinkCapacity: 4\nhashAlgorithm: sha1\n", "yaml")
	t.Setenv("STACKINGEST_SINKCAPACITY", "16")

	flags := newFlags(t, t.TempDir())
	outPath := filepath.Join(t.TempDir(), "nested", "records.jsonl")
	require.NoError(t, flags.Set("sink-capacity", "2"))
	require.NoError(t, flags.Set("hash", "sha256"))
	require.NoError(t, flags.Set("output", outPath))
	require.NoError(t, flags.Set("ignore", "*.bak"))
	require.NoError(t, flags.Set("watch", "true"))
	require.NoError(t, flags.Set("watch-debounce", "1s"))
	require.NoError(t, flags.Set("cache", "true"))
	require.NoError(t, flags.Set("metrics", "true"))
	require.NoError(t, flags.Set("verbose", "true"))

	opts, _, err := LoadAndValidate(cfgFile, "", "", true, flags)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.SinkCapacity)
	assert.Equal(t, "sha256", opts.HashAlgorithm)
	assert.Equal(t, outPath, opts.Output.Path)
	assert.DirExists(t, filepath.Dir(outPath))
	assert.Equal(t, []string{"*.bak"}, opts.IgnorePatterns)
	assert.True(t, opts.WatchMode)
	assert.Equal(t, time.Second, opts.WatchDebounce)
	assert.True(t, opts.Cache.Enabled)
	assert.True(t, opts.Metrics.Enabled)
	assert.True(t, opts.Verbose)
	assert.False(t, opts.TuiEnabled, "verbose disables the TUI")
}

func TestLoadAndValidate_NoTuiFlag(t *testing.T) {
	isolateHome(t)
	flags := newFlags(t, t.TempDir())
	require.NoError(t, flags.Set("no-tui", "true"))

	opts, _, err := LoadAndValidate("", "", "", false, flags)
	require.NoError(t, err)
	assert.False(t, opts.TuiEnabled)
}

func TestLoadAndValidate_ValidationErrors(t *testing.T) {
	isolateHome(t)
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name  string
		input string
		flags map[string]string
		yaml  string
	}{
		{name: "missing input", input: ""},
		{name: "input does not exist", input: filepath.Join(t.TempDir(), "nope")},
		{name: "input is a file", input: file},
		{name: "bad hash", flags: map[string]string{"hash": "crc32"}},
		{name: "bad report format", flags: map[string]string{"output-format": "xml"}},
		{name: "bad record format", flags: map[string]string{"record-format": "csv"}},
		{name: "bad cache format", yaml: "cache:\n  format: bson\n"},
		{name: "zero sink capacity", flags: map[string]string{"sink-capacity": "0"}},
		{name: "negative progress", flags: map[string]string{"progress-every": "-1"}},
		{name: "bad warn threshold", flags: map[string]string{"publish-warn-threshold": "soon"}},
		{name: "zero warn threshold", flags: map[string]string{"publish-warn-threshold": "0s"}},
		{name: "bad debounce flag", flags: map[string]string{"watch-debounce": "later"}},
		{name: "negative debounce", flags: map[string]string{"watch-debounce": "-1s"}},
		{name: "missing rules file", flags: map[string]string{"rules": filepath.Join(t.TempDir(), "rules.yaml")}},
		{name: "metrics without address", flags: map[string]string{"metrics": "true", "metrics-address": " "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := tc.input
			if input == "" && tc.name != "missing input" {
				input = t.TempDir()
			}
			flags := newFlags(t, input)
			for k, v := range tc.flags {
				require.NoError(t, flags.Set(k, v))
			}
			cfgFile := ""
			if tc.yaml != "" {
				cfgFile = createTempConfigFile(t, tc.yaml, "yaml")
			}
			_, _, err := LoadAndValidate(cfgFile, "", "", false, flags)
			assert.ErrorIs(t, err, ingest.ErrConfigValidation)
		})
	}
}

func TestLoadAndValidate_InvalidDebounceFromConfigFallsBack(t *testing.T) {
	isolateHome(t)
	cfgFile := createTempConfigFile(t, "watch:\n  debounce: whenever\n", "yaml")

	opts, _, err := LoadAndValidate(cfgFile, "", "", false, newFlags(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, ingest.DefaultWatchDebounceDuration, opts.WatchDebounce)
}

func TestLoadAndValidate_ExplicitConfigFileMissing(t *testing.T) {
	isolateHome(t)
	_, _, err := LoadAndValidate(filepath.Join(t.TempDir(), "absent.yaml"), "", "", false, newFlags(t, t.TempDir()))
	assert.Error(t, err)
}

func TestLoadAndValidate_DiscoversConfigInWorkingDir(t *testing.T) {
	isolateHome(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wd, DefaultConfigName+".yaml"), []byte("sinkCapacity: 3\n"), 0o644))

	opts, _, err := LoadAndValidate("", "", "", false, newFlags(t, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 3, opts.SinkCapacity)
	assert.NotEmpty(t, opts.ConfigFilePath)
}

func TestIsValidEnumValue(t *testing.T) {
	assert.True(t, isValidEnumValue("json", []string{"text", "json"}))
	assert.False(t, isValidEnumValue("JSON", []string{"text", "json"}))
	assert.True(t, isValidEnumValue(ingest.RecordFormatMsgpack, []ingest.RecordFormat{ingest.RecordFormatJSONL, ingest.RecordFormatMsgpack}))
}
