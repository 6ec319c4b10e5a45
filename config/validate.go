package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEpisodes(); err != nil {
		return err
	}
	if err := c.validateSplits(); err != nil {
		return err
	}
	if err := c.validateTransform(); err != nil {
		return err
	}
	if err := c.validateLoader(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEpisodes() error {
	if c.Episodes.ClassesPerSet < 1 {
		return errors.New("episodes.classes_per_set must be at least 1")
	}
	if c.Episodes.SamplesPerClass < 1 {
		return errors.New("episodes.samples_per_class must be at least 1")
	}
	if c.Episodes.NQuery < 1 {
		return errors.New("episodes.n_query must be at least 1")
	}
	return nil
}

func (c *Config) validateSplits() error {
	for name, n := range map[string]int{"train": c.Splits.Train, "val": c.Splits.Val, "test": c.Splits.Test} {
		if n < 0 {
			return fmt.Errorf("splits.%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateTransform() error {
	if c.Transform.Size < 1 {
		return errors.New("transform.size must be positive")
	}
	if c.Transform.Channels != 1 && c.Transform.Channels != 3 {
		return fmt.Errorf("transform.channels must be 1 or 3, got %d", c.Transform.Channels)
	}
	return nil
}

func (c *Config) validateLoader() error {
	if c.Loader.Workers < 0 {
		return errors.New("loader.workers must not be negative")
	}
	if c.Loader.BatchSize < 1 {
		return errors.New("loader.batch_size must be at least 1")
	}
	if c.Loader.Prefetch < 0 {
		return errors.New("loader.prefetch must not be negative")
	}
	return nil
}

func (c *Config) validateMatching() error {
	switch c.Matching.Metric {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("matching.metric must be cosine or euclidean, got %q", c.Matching.Metric)
	}
	if c.Matching.Temperature < 0 {
		return errors.New("matching.temperature must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
