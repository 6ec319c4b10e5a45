package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Data locates the dataset on disk.
type Data struct {
	Dataroot  string `toml:"dataroot"`
	ImagesDir string `toml:"images_dir"`
}

// Episodes holds the planning parameters shared by every split.
type Episodes struct {
	ClassesPerSet   int   `toml:"classes_per_set"`
	SamplesPerClass int   `toml:"samples_per_class"`
	NQuery          int   `toml:"n_query"`
	Seed            int64 `toml:"seed"`
	// IndependentStreams gives each split its own generator. When false the
	// splits are planned train, val, test from one shared generator.
	IndependentStreams bool `toml:"independent_streams"`
}

// Splits holds the number of episodes planned for each split.
type Splits struct {
	Train int `toml:"train"`
	Val   int `toml:"val"`
	Test  int `toml:"test"`
}

// Transform configures image preprocessing.
type Transform struct {
	Size      int   `toml:"size"`
	Channels  int   `toml:"channels"`
	Flip      bool  `toml:"flip"`
	FlipSeed  int64 `toml:"flip_seed"`
	Normalize bool  `toml:"normalize"`
}

// Loader configures concurrent materialization.
type Loader struct {
	Workers   int `toml:"workers"`
	BatchSize int `toml:"batch_size"`
	Prefetch  int `toml:"prefetch"`
}

// Matching configures the episode classifier used by eval.
type Matching struct {
	Metric      string  `toml:"metric"`
	Temperature float64 `toml:"temperature"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Dir    string `toml:"dir"`
}

// Store locates the SQLite database.
type Store struct {
	Path string `toml:"path"`
}

// Config encapsulates all configuration values for fewshot.
type Config struct {
	Data      Data      `toml:"data"`
	Episodes  Episodes  `toml:"episodes"`
	Splits    Splits    `toml:"splits"`
	Transform Transform `toml:"transform"`
	Loader    Loader    `toml:"loader"`
	Matching  Matching  `toml:"matching"`
	Logging   Logging   `toml:"logging"`
	Store     Store     `toml:"store"`
}

const defaultConfigPath = "~/.config/fewshot/config.toml"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fewshot.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// SplitEpisodes returns the configured episode count for split.
func (c *Config) SplitEpisodes(split string) (int, error) {
	switch split {
	case "train":
		return c.Splits.Train, nil
	case "val":
		return c.Splits.Val, nil
	case "test":
		return c.Splits.Test, nil
	}
	return 0, fmt.Errorf("unknown split %q", split)
}

// SplitSeed returns the seed of the generator used to plan split when streams
// are independent: seed for train, seed+1 for val and seed+2 for test.
func (c *Config) SplitSeed(split string) (int64, error) {
	for offset, name := range []string{"train", "val", "test"} {
		if name == split {
			return c.Episodes.Seed + int64(offset), nil
		}
	}
	return 0, fmt.Errorf("unknown split %q", split)
}

// ImagesDir returns the configured images directory, defaulting to
// <dataroot>/images.
func (c *Config) ImagesDir() string {
	if c.Data.ImagesDir != "" {
		return c.Data.ImagesDir
	}
	return filepath.Join(c.Data.Dataroot, "images")
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() (string, error) {
	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return sb.String(), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
