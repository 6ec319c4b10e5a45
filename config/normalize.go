package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Matching.Metric = strings.ToLower(strings.TrimSpace(c.Matching.Metric))
	if c.Matching.Metric == "" {
		c.Matching.Metric = "cosine"
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Data.Dataroot) == "" {
		c.Data.Dataroot = defaultDataroot
	}
	if c.Data.Dataroot, err = expandPath(strings.TrimSpace(c.Data.Dataroot)); err != nil {
		return fmt.Errorf("data.dataroot: %w", err)
	}
	if c.Data.ImagesDir, err = expandPath(strings.TrimSpace(c.Data.ImagesDir)); err != nil {
		return fmt.Errorf("data.images_dir: %w", err)
	}
	if c.Logging.Dir, err = expandPath(strings.TrimSpace(c.Logging.Dir)); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.Path, err = expandPath(strings.TrimSpace(c.Store.Path)); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
