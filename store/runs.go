package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Noofbiz/fewshot/datasets"
)

// Run describes one planned EpisodeSet.
type Run struct {
	ID              string
	Split           string
	Dataroot        string
	ClassesPerSet   int
	SamplesPerClass int
	NQuery          int
	Seed            int64
	NEpisodes       int
	CreatedAt       time.Time
}

// PlanOptions returns the episode shape of the run.
func (r Run) PlanOptions() datasets.PlanOptions {
	return datasets.PlanOptions{
		NEpisodes:       r.NEpisodes,
		ClassesPerSet:   r.ClassesPerSet,
		SamplesPerClass: r.SamplesPerClass,
		NQuery:          r.NQuery,
	}
}

// Score is the evaluation result of one episode.
type Score struct {
	Index    int
	Accuracy float64
	Loss     float64
}

// SaveRun stores set, planned from split, as a new run. ID and CreatedAt are
// assigned when empty; NEpisodes is taken from set.
func (s *Store) SaveRun(ctx context.Context, run Run, split *datasets.SplitIndex, set datasets.EpisodeSet) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.NEpisodes = len(set)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, split, dataroot, classes_per_set, samples_per_class, n_query, seed, n_episodes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Split, run.Dataroot, run.ClassesPerSet, run.SamplesPerClass,
		run.NQuery, run.Seed, run.NEpisodes, formatTime(run.CreatedAt))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	epStmt, err := tx.PrepareContext(ctx, "INSERT INTO episodes (run_id, idx, query_class) VALUES (?, ?, ?)")
	if err != nil {
		return Run{}, fmt.Errorf("prepare episode insert: %w", err)
	}
	defer epStmt.Close()
	sampleStmt, err := tx.PrepareContext(ctx, `INSERT INTO episode_samples
		(run_id, idx, slot, class, role, position, sample) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()

	for idx := range set {
		ep := &set[idx]
		if _, err := epStmt.ExecContext(ctx, run.ID, idx, split.Classes[ep.QueryClass]); err != nil {
			return Run{}, fmt.Errorf("insert episode %d: %w", idx, err)
		}
		for slot, c := range ep.SupportClasses {
			label := split.Classes[c]
			for pos, sample := range ep.SupportSamples[slot] {
				if _, err := sampleStmt.ExecContext(ctx, run.ID, idx, slot, label, "support", pos, sample); err != nil {
					return Run{}, fmt.Errorf("insert episode %d sample: %w", idx, err)
				}
			}
			if c != ep.QueryClass {
				continue
			}
			for pos, sample := range ep.QuerySamples {
				if _, err := sampleStmt.ExecContext(ctx, run.ID, idx, slot, label, "query", pos, sample); err != nil {
					return Run{}, fmt.Errorf("insert episode %d query sample: %w", idx, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

const runColumns = `id, split, dataroot, classes_per_set, samples_per_class, n_query, seed, n_episodes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run     Run
		created string
	)
	if err := row.Scan(&run.ID, &run.Split, &run.Dataroot, &run.ClassesPerSet, &run.SamplesPerClass,
		&run.NQuery, &run.Seed, &run.NEpisodes, &created); err != nil {
		return Run{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at of run %s: %w", run.ID, err)
	}
	run.CreatedAt = t
	return run, nil
}

// GetRun returns the run with id. A unique id prefix is accepted.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Run{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2", id, id+"%")
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, fmt.Errorf("scan run: %w", err)
		}
		if run.ID == id {
			return run, nil
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate runs: %w", err)
	}
	switch len(runs) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return runs[0], nil
	}
	return Run{}, fmt.Errorf("run id prefix %q is ambiguous", id)
}

// ListRuns returns all runs, newest first. An empty split lists every split.
func (s *Store) ListRuns(ctx context.Context, split string) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if split != "" {
		query += " WHERE split = ?"
		args = append(args, split)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LoadEpisodes rebuilds the EpisodeSet of run against split. Class labels are
// resolved through split, so the set validates against it before use.
func (s *Store) LoadEpisodes(ctx context.Context, run Run, split *datasets.SplitIndex) (datasets.EpisodeSet, error) {
	set := make(datasets.EpisodeSet, run.NEpisodes)
	queryLabels := make([]string, run.NEpisodes)

	rows, err := s.db.QueryContext(ctx, "SELECT idx, query_class FROM episodes WHERE run_id = ? ORDER BY idx", run.ID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	count := 0
	for rows.Next() {
		var (
			idx   int
			label string
		)
		if err := rows.Scan(&idx, &label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if idx < 0 || idx >= run.NEpisodes {
			rows.Close()
			return nil, fmt.Errorf("run %s: episode index %d out of range", run.ID, idx)
		}
		queryLabels[idx] = label
		count++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	if count != run.NEpisodes {
		return nil, fmt.Errorf("run %s: found %d episodes, want %d", run.ID, count, run.NEpisodes)
	}

	for idx, label := range queryLabels {
		c, ok := split.ClassIndex(label)
		if !ok {
			return nil, fmt.Errorf("run %s episode %d: class %q not in split", run.ID, idx, label)
		}
		set[idx].QueryClass = c
	}

	rows, err = s.db.QueryContext(ctx, `SELECT idx, slot, class, role, sample FROM episode_samples
		WHERE run_id = ? ORDER BY idx, slot, role, position`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("query episode samples: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idx, slot            int
			label, role, sample string
		)
		if err := rows.Scan(&idx, &slot, &label, &role, &sample); err != nil {
			return nil, fmt.Errorf("scan episode sample: %w", err)
		}
		if idx < 0 || idx >= run.NEpisodes {
			return nil, fmt.Errorf("run %s: sample of unknown episode %d", run.ID, idx)
		}
		ep := &set[idx]
		if slot == len(ep.SupportClasses) {
			c, ok := split.ClassIndex(label)
			if !ok {
				return nil, fmt.Errorf("run %s episode %d: class %q not in split", run.ID, idx, label)
			}
			ep.SupportClasses = append(ep.SupportClasses, c)
			ep.SupportSamples = append(ep.SupportSamples, nil)
		}
		if slot != len(ep.SupportClasses)-1 {
			return nil, fmt.Errorf("run %s episode %d: slot %d out of order", run.ID, idx, slot)
		}
		switch role {
		case "support":
			ep.SupportSamples[slot] = append(ep.SupportSamples[slot], sample)
		case "query":
			ep.QuerySamples = append(ep.QuerySamples, sample)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episode samples: %w", err)
	}

	if err := set.Validate(split, run.PlanOptions()); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return set, nil
}

// SaveScores records the evaluation of run with metric, replacing earlier
// scores for the same episodes and metric.
func (s *Store) SaveScores(ctx context.Context, runID, metric string, scores []Score) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scores tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results (run_id, idx, metric, accuracy, loss)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, idx, metric) DO UPDATE SET accuracy = excluded.accuracy, loss = excluded.loss`)
	if err != nil {
		return fmt.Errorf("prepare score insert: %w", err)
	}
	defer stmt.Close()

	for _, sc := range scores {
		if _, err := stmt.ExecContext(ctx, runID, sc.Index, metric, sc.Accuracy, sc.Loss); err != nil {
			return fmt.Errorf("insert score of episode %d: %w", sc.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scores: %w", err)
	}
	return nil
}

// Scores returns the recorded scores of run for metric, by episode index.
func (s *Store) Scores(ctx context.Context, runID, metric string) ([]Score, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT idx, accuracy, loss FROM results WHERE run_id = ? AND metric = ? ORDER BY idx", runID, metric)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		var sc Score
		if err := rows.Scan(&sc.Index, &sc.Accuracy, &sc.Loss); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return scores, nil
}

// DeleteRun removes a run with its episodes and scores.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
