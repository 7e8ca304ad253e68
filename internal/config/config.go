// Package config loads the optional per-root defaults file
// (<root>/.svpatch/config.yaml) that supplies default flag values for the
// CLI when none is given on the command line.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is the directory under root holding svpatch's optional
// config file. Run history is kept under <root>/data (see HistoryRoot).
const DefaultConfigDir = ".svpatch"

// DefaultConfigFile is the optional defaults file, relative to ConfigDir.
const DefaultConfigFile = "config.yaml"

const (
	DefaultMaxFiles           = 500
	DefaultMaxTotalWriteBytes = 10_000_000
)

// Config carries the resolved run configuration: CLI flags with file
// defaults filled in. Root is always absolute.
type Config struct {
	Root               string
	Allow              []string
	MaxFiles           int
	MaxTotalWriteBytes int64
	Backup             bool
	Strict             bool
	RollbackOnFail     bool
}

// fileDefaults is the shape of the optional YAML file; unlike Config it
// carries no CLI-only fields, so yaml.Unmarshal never has to guess which
// zero value means "unset" for those.
type fileDefaults struct {
	Allow              []string `yaml:"allow"`
	MaxFiles           int      `yaml:"max_files"`
	MaxTotalWriteBytes int64    `yaml:"max_total_write_bytes"`
	Backup             bool     `yaml:"backup"`
}

// Defaults returns the built-in defaults, used when no config file exists.
func Defaults() Config {
	return Config{
		Allow:              []string{"."},
		MaxFiles:           DefaultMaxFiles,
		MaxTotalWriteBytes: DefaultMaxTotalWriteBytes,
	}
}

// ConfigDir returns <root>/.svpatch.
func ConfigDir(root string) string {
	return filepath.Join(root, DefaultConfigDir)
}

// HistoryRoot returns <root>/data, the root the history store is laid out
// under.
func HistoryRoot(root string) string {
	return filepath.Join(root, "data")
}

// Load reads <root>/.svpatch/config.yaml if present and overlays it on top
// of Defaults(). A missing file is not an error.
func Load(root string) (Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Config{}, err
	}
	cfg := Defaults()
	cfg.Root = abs

	path := filepath.Join(ConfigDir(abs), DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}

	var fd fileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return Config{}, err
	}
	if len(fd.Allow) > 0 {
		cfg.Allow = fd.Allow
	}
	if fd.MaxFiles > 0 {
		cfg.MaxFiles = fd.MaxFiles
	}
	if fd.MaxTotalWriteBytes > 0 {
		cfg.MaxTotalWriteBytes = fd.MaxTotalWriteBytes
	}
	cfg.Backup = fd.Backup

	return cfg, nil
}
