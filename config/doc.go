// Package config loads, normalizes, and validates the fewshot TOML
// configuration.
//
// Load layers the file over Default, expands ~ in path fields, and rejects
// unknown keys. CreateSample writes the embedded sample_config.toml.
package config
