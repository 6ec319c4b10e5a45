// Package loader materializes episodes from a dataset with a fixed pool of
// workers, and hands them to the training loop in batches, in index order.
//
// Episode materialization reads only immutable dataset state, so workers need
// no locking: each one writes its result into its own slot of the output.
package loader

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/Noofbiz/fewshot/datasets"
)

// Source is the retrieval contract the loader needs. datasets.OneShotDataset
// implements it.
type Source interface {
	Len() int
	Get(index int) (*datasets.EpisodeBatch, error)
}

// Options configures a Loader.
type Options struct {
	// Workers is the number of concurrent Get calls. Zero means runtime.NumCPU().
	Workers int

	// BatchSize is the number of episodes per batch in Epoch. Zero means 1.
	BatchSize int

	// Prefetch is how many batches Epoch prepares ahead of the consumer.
	// Zero means 1.
	Prefetch int

	// Progress, if set, is called once per materialized episode. It may be
	// called from several goroutines.
	Progress func()

	Logger *slog.Logger
}

// Loader runs Source.Get on a worker pool.
type Loader struct {
	src       Source
	workers   int
	batchSize int
	prefetch  int
	progress  func()
	logger    *slog.Logger
}

// New creates a Loader over src.
func New(src Source, opts Options) (*Loader, error) {
	if src == nil {
		return nil, errors.New("loader needs a source")
	}
	if opts.Workers < 0 || opts.BatchSize < 0 || opts.Prefetch < 0 {
		return nil, errors.Errorf("invalid loader options: workers=%d batch=%d prefetch=%d",
			opts.Workers, opts.BatchSize, opts.Prefetch)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 1
	}
	if opts.Prefetch == 0 {
		opts.Prefetch = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		src:       src,
		workers:   opts.Workers,
		batchSize: opts.BatchSize,
		prefetch:  opts.Prefetch,
		progress:  opts.Progress,
		logger:    logger,
	}, nil
}

// Workers returns the pool size.
func (l *Loader) Workers() int { return l.workers }

// BatchSize returns the number of episodes per Epoch batch.
func (l *Loader) BatchSize() int { return l.batchSize }

// NumBatches returns the number of batches in one Epoch. The last batch may
// be short.
func (l *Loader) NumBatches() int {
	return (l.src.Len() + l.batchSize - 1) / l.batchSize
}

func (l *Loader) batchIndices(batch int) []int {
	start := batch * l.batchSize
	end := min(start+l.batchSize, l.src.Len())
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}

// Load materializes indices concurrently. The result is aligned with indices.
// The first failing Get stops the remaining work and its error is returned as
// is; no partial result is returned.
func (l *Loader) Load(ctx context.Context, indices []int) ([]*datasets.EpisodeBatch, error) {
	out := make([]*datasets.EpisodeBatch, len(indices))
	if len(indices) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(l.workers, len(indices))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for pos := range jobs {
				batch, err := l.src.Get(indices[pos])
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				out[pos] = batch
				if l.progress != nil {
					l.progress()
				}
			}
		}()
	}

feed:
	for pos := range indices {
		select {
		case jobs <- pos:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Epoch walks the whole source in batches of BatchSize consecutive indices and
// calls fn for each, in order. Up to Prefetch batches are materialized while
// fn runs. It stops at the first error from a Get, from fn, or from ctx.
func (l *Loader) Epoch(ctx context.Context, fn func(batch int, episodes []*datasets.EpisodeBatch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		batch    int
		episodes []*datasets.EpisodeBatch
		err      error
	}
	results := make(chan result, l.prefetch)

	numBatches := l.NumBatches()
	l.logger.Debug("epoch started", "episodes", l.src.Len(), "batches", numBatches, "workers", l.workers)

	go func() {
		defer close(results)
		for b := range numBatches {
			episodes, err := l.Load(ctx, l.batchIndices(b))
			select {
			case results <- result{batch: b, episodes: episodes, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for r := range results {
		if r.err != nil {
			return r.err
		}
		if err := fn(r.batch, r.episodes); err != nil {
			return err
		}
	}
	return ctx.Err()
}
