// Package store persists planned episode sets and their evaluation scores in
// SQLite, so a run can be inspected or re-evaluated later with exactly the
// same episodes.
//
// Episodes are stored by class label and sample name, never by class index,
// so they replay correctly as long as the manifest still lists the same
// samples. A database is used by one process at a time: Open takes an
// exclusive lock on <path>.lock.
package store
