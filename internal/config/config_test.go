package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/segbkp/internal/config"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
output_path = "/backup/out"
root_path = "/data"
post_script = "/usr/local/bin/upload"
skip_script = "/usr/local/bin/skip"
hash_file = "/var/lib/segbkp/hashes"
log_file = "/var/log/segbkp-%D.log"
compression_level = 9
max_size_bytes = 1048576
ignore = ["*.tmp", "/data/cache"]

[segments]
data = "/data"
logs = "/data/logs"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/backup/out", cfg.Output())
	assert.Equal(t, "/data", cfg.RootPath)
	assert.Equal(t, "/usr/local/bin/upload", cfg.PostScript)
	assert.Equal(t, "/usr/local/bin/skip", cfg.SkipScript)
	assert.Equal(t, "/var/lib/segbkp/hashes", cfg.HashFile)
	assert.Equal(t, 9, cfg.Level())
	assert.Equal(t, []string{"*.tmp", "/data/cache"}, cfg.Ignore)
	assert.Equal(t, []string{"data", "logs"}, cfg.SegmentNames())

	split, err := cfg.SplitSize()
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), split)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
output_path: /out
max_size: 512M
bwlimit: 10M
metrics_file: /var/lib/node_exporter/segbkp.prom
segments:
  home: /home
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	split, err := cfg.SplitSize()
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), split)

	bw, err := cfg.BandwidthLimit()
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), bw)
	assert.Equal(t, "/home", cfg.Segments["home"])
	assert.Equal(t, "/var/lib/node_exporter/segbkp.prom", cfg.MetricsFile)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[segments]
etc = "/etc"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultOutputPath, cfg.Output())
	assert.Equal(t, config.DefaultCompressionLevel, cfg.Level())
	split, err := cfg.SplitSize()
	require.NoError(t, err)
	assert.Zero(t, split)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", "invalid [[[")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	level := func(n int) *int { return &n }
	size := func(n uint64) *uint64 { return &n }

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{
			name:    "no segments",
			cfg:     config.Config{},
			wantErr: true,
		},
		{
			name:    "level too high",
			cfg:     config.Config{Segments: map[string]string{"a": "/a"}, CompressionLevel: level(10)},
			wantErr: true,
		},
		{
			name:    "level zero",
			cfg:     config.Config{Segments: map[string]string{"a": "/a"}, CompressionLevel: level(0)},
			wantErr: false,
		},
		{
			name:    "zero split",
			cfg:     config.Config{Segments: map[string]string{"a": "/a"}, MaxSizeBytes: size(0)},
			wantErr: true,
		},
		{
			name: "both split forms",
			cfg: config.Config{
				Segments:     map[string]string{"a": "/a"},
				MaxSizeBytes: size(10),
				MaxSize:      "1M",
			},
			wantErr: true,
		},
		{
			name:    "segment outside root",
			cfg:     config.Config{Segments: map[string]string{"a": "/other"}, RootPath: "/data"},
			wantErr: true,
		},
		{
			name:    "segment equals root",
			cfg:     config.Config{Segments: map[string]string{"a": "/data"}, RootPath: "/data"},
			wantErr: false,
		},
		{
			name:    "slash in name",
			cfg:     config.Config{Segments: map[string]string{"a/b": "/a"}},
			wantErr: true,
		},
		{
			name:    "bad log level",
			cfg:     config.Config{Segments: map[string]string{"a": "/a"}, LogLevel: "loud"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLogPath(t *testing.T) {
	cfg := config.Config{LogFile: "/var/log/segbkp-%D.log"}
	now := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "/var/log/segbkp-20260307.log", cfg.LogPath(now))

	assert.Equal(t, "/plain.log", config.ExpandDate("/plain.log", now))
}

func TestParseLevel(t *testing.T) {
	lvl, err := config.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = config.ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = config.ParseLevel("verbose")
	assert.Error(t, err)
}
