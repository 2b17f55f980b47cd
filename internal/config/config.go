// Package config loads the backup configuration document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "config.toml"

// DefaultOutputPath is used when output_path is unset.
const DefaultOutputPath = "/tmp"

// DefaultCompressionLevel matches gzip's default.
const DefaultCompressionLevel = 6

// Config represents the backup configuration document.
type Config struct {
	CompressionLevel *int              `toml:"compression_level" yaml:"compression_level"`
	MaxSizeBytes     *uint64           `toml:"max_size_bytes"    yaml:"max_size_bytes"`
	Segments         map[string]string `toml:"segments"          yaml:"segments"`
	OutputPath       string            `toml:"output_path"       yaml:"output_path"`
	RootPath         string            `toml:"root_path"         yaml:"root_path"`
	PostScript       string            `toml:"post_script"       yaml:"post_script"`
	SkipScript       string            `toml:"skip_script"       yaml:"skip_script"`
	HashFile         string            `toml:"hash_file"         yaml:"hash_file"`
	LogFile          string            `toml:"log_file"          yaml:"log_file"`
	LogLevel         string            `toml:"log_level"         yaml:"log_level"`
	MaxSize          string            `toml:"max_size"          yaml:"max_size"`
	BWLimit          string            `toml:"bwlimit"           yaml:"bwlimit"`
	IgnoreFile       string            `toml:"ignore_file"       yaml:"ignore_file"`
	MetricsFile      string            `toml:"metrics_file"      yaml:"metrics_file"`
	Ignore           []string          `toml:"ignore"            yaml:"ignore"`
}

// Load reads the configuration document at path. The format is chosen by
// extension: .yaml/.yml use YAML, everything else TOML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the document for values the engine cannot work with.
func (c Config) Validate() error {
	if len(c.Segments) == 0 {
		return errors.New("no segments configured")
	}
	if c.CompressionLevel != nil && (*c.CompressionLevel < 0 || *c.CompressionLevel > 9) {
		return fmt.Errorf("compression_level must be 0-9, got %d", *c.CompressionLevel)
	}
	if c.MaxSizeBytes != nil && c.MaxSize != "" {
		return errors.New("set only one of max_size_bytes and max_size")
	}
	split, err := c.SplitSize()
	if err != nil {
		return err
	}
	if split < 0 {
		return fmt.Errorf("max_size must not be negative")
	}
	if c.MaxSizeBytes != nil && *c.MaxSizeBytes == 0 {
		return errors.New("max_size_bytes must be at least 1 byte")
	}
	if _, err := c.BandwidthLimit(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	for _, name := range c.SegmentNames() {
		root := c.Segments[name]
		if name == "" || strings.ContainsRune(name, os.PathSeparator) {
			return fmt.Errorf("invalid segment name %q", name)
		}
		if root == "" {
			return fmt.Errorf("segment %q has an empty path", name)
		}
		if c.RootPath != "" {
			rel, err := filepath.Rel(c.RootPath, root)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
				return fmt.Errorf("segment %q path %s is not under root_path %s", name, root, c.RootPath)
			}
		}
	}
	return nil
}

// SegmentNames returns the configured segment names in sorted order.
func (c Config) SegmentNames() []string {
	names := make([]string, 0, len(c.Segments))
	for name := range c.Segments {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Output returns the output directory, defaulting to /tmp.
func (c Config) Output() string {
	if c.OutputPath == "" {
		return DefaultOutputPath
	}
	return c.OutputPath
}

// Level returns the gzip compression level.
func (c Config) Level() int {
	if c.CompressionLevel == nil {
		return DefaultCompressionLevel
	}
	return *c.CompressionLevel
}

// SplitSize returns the part size in bytes, or 0 when splitting is disabled.
func (c Config) SplitSize() (int64, error) {
	if c.MaxSizeBytes != nil {
		return int64(*c.MaxSizeBytes), nil //nolint:gosec // G115: part sizes beyond 8 EiB are not meaningful
	}
	if c.MaxSize == "" {
		return 0, nil
	}
	n, err := ParseSize(c.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid max_size: %q must be at least 1 byte", c.MaxSize)
	}
	return n, nil
}

// BandwidthLimit returns the source read limit in bytes per second (0 = none).
func (c Config) BandwidthLimit() (int64, error) {
	if c.BWLimit == "" {
		return 0, nil
	}
	n, err := ParseSize(c.BWLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid bwlimit: %w", err)
	}
	return n, nil
}

// LogPath returns log_file with %D replaced by the date of now (YYYYMMDD).
func (c Config) LogPath(now time.Time) string {
	return ExpandDate(c.LogFile, now)
}

// ExpandDate replaces every %D in path with now formatted as YYYYMMDD.
func ExpandDate(path string, now time.Time) string {
	return strings.ReplaceAll(path, "%D", now.Format("20060102"))
}
