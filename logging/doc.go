// Package logging builds the slog loggers used by the fewshot CLI: a compact
// console format for terminals and a JSON format for machines, optionally
// mirrored into a timestamped log file per run.
package logging
