package datasets

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Options configures a OneShotDataset.
type Options struct {
	// Dataroot holds <split>.csv manifests and the images directory.
	Dataroot string

	// Split is one of train, val or test.
	Split string

	// ImagesDir overrides <Dataroot>/images. Relative values are joined to Dataroot.
	ImagesDir string

	NEpisodes       int
	ClassesPerSet   int
	SamplesPerClass int

	// NQuery is the number of query samples per episode. Zero means DefaultNQuery.
	NQuery int

	// Seed seeds the episode generator when Rand is nil. Zero means DefaultSeed
	// unless Rand or Episodes is set, in which case Seed is only recorded.
	Seed int64

	// Rand, when set, is used instead of a generator seeded from Seed. Passing
	// the same generator to several datasets built in sequence makes them
	// consume one shared stream.
	Rand *rand.Rand

	// Episodes, when set, replays a previously planned set instead of planning
	// a new one. It must have NEpisodes episodes that are valid for the split.
	Episodes EpisodeSet

	// Transform and SampleShape describe how image files become tensors.
	Transform   Transform
	SampleShape []int

	// Logger receives construction events. Nil discards them.
	Logger *slog.Logger
}

// OneShotDataset is the episodic dataset consumed by the training loop. The
// episodes are planned once, in NewOneShotDataset, and never change; Get
// materializes them on demand and may be called concurrently.
//
// It also implements gomlx's train.Dataset, yielding one episode per call.
type OneShotDataset struct {
	opts   Options
	split  *SplitIndex
	set    EpisodeSet
	mat    *Materializer
	logger *slog.Logger

	// cursor is only used by Yield/Reset.
	mu     sync.Mutex
	cursor int
}

var _ train.Dataset = (*OneShotDataset)(nil)

// NewOneShotDataset loads the split manifest and plans every episode.
func NewOneShotDataset(opts Options) (*OneShotDataset, error) {
	if opts.NQuery == 0 {
		opts.NQuery = DefaultNQuery
	}
	if opts.Seed == 0 && opts.Rand == nil && opts.Episodes == nil {
		opts.Seed = DefaultSeed
	}
	if opts.Transform == nil {
		return nil, errors.New("dataset needs a transform")
	}
	if shapeSize(opts.SampleShape) <= 0 {
		return nil, errors.Errorf("invalid sample shape %v", opts.SampleShape)
	}

	manifest, err := SplitPath(opts.Dataroot, opts.Split)
	if err != nil {
		return nil, err
	}
	split, err := LoadSplit(manifest)
	if err != nil {
		return nil, err
	}

	planOpts := PlanOptions{
		NEpisodes:       opts.NEpisodes,
		ClassesPerSet:   opts.ClassesPerSet,
		SamplesPerClass: opts.SamplesPerClass,
		NQuery:          opts.NQuery,
	}
	set := opts.Episodes
	if set != nil {
		if err := set.Validate(split, planOpts); err != nil {
			return nil, errors.WithMessagef(err, "replaying %s episodes", opts.Split)
		}
	} else {
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(opts.Seed))
		}
		set, err = PlanEpisodes(split, planOpts, rng)
		if err != nil {
			return nil, errors.WithMessagef(err, "planning %s episodes", opts.Split)
		}
	}

	imagesDir := opts.ImagesDir
	if imagesDir == "" {
		imagesDir = "images"
	}
	if !filepath.IsAbs(imagesDir) {
		imagesDir = filepath.Join(opts.Dataroot, imagesDir)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("episodes ready",
		"replayed", opts.Episodes != nil,
		"split", opts.Split,
		"classes", split.NumClasses(),
		"samples", split.NumSamples(),
		"episodes", len(set),
		"way", opts.ClassesPerSet,
		"shot", opts.SamplesPerClass,
		"query", opts.NQuery,
	)

	return &OneShotDataset{
		opts:  opts,
		split: split,
		set:   set,
		mat: &Materializer{
			ImagesDir:   imagesDir,
			Transform:   opts.Transform,
			SampleShape: append([]int(nil), opts.SampleShape...),
		},
		logger: logger,
	}, nil
}

// Len returns the number of episodes.
func (d *OneShotDataset) Len() int {
	return len(d.set)
}

// Get materializes episode index. It is safe for concurrent use.
func (d *OneShotDataset) Get(index int) (*EpisodeBatch, error) {
	ep, err := d.Episode(index)
	if err != nil {
		return nil, err
	}
	return d.mat.Materialize(ep, index)
}

// Episode returns the planned episode at index. It must not be modified.
func (d *OneShotDataset) Episode(index int) (*Episode, error) {
	if index < 0 || index >= len(d.set) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d not in [0, %d)", index, len(d.set))
	}
	return &d.set[index], nil
}

// Episodes returns the whole planned set. It must not be modified.
func (d *OneShotDataset) Episodes() EpisodeSet {
	return d.set
}

// Split returns the loaded manifest index.
func (d *OneShotDataset) Split() *SplitIndex {
	return d.split
}

// Classes returns the sorted class labels of the split. Episode class indices
// point into it.
func (d *OneShotDataset) Classes() []string {
	return d.split.Classes
}

// Options returns the options the dataset was built with, defaults applied.
func (d *OneShotDataset) Options() Options {
	return d.opts
}

// Name implements train.Dataset.
func (d *OneShotDataset) Name() string {
	return fmt.Sprintf("OneShot[%s %d-way %d-shot]", d.opts.Split, d.opts.ClassesPerSet, d.opts.SamplesPerClass)
}

// Yield implements train.Dataset. Each call returns the next episode:
//
//   - inputs: support images [Ns, C, H, W], support labels [Ns], query images [Nq, C, H, W]
//   - labels: query labels [Nq]
//
// It returns io.EOF once every episode was yielded; call Reset to start over.
func (d *OneShotDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	d.mu.Lock()
	index := d.cursor
	if index >= len(d.set) {
		d.mu.Unlock()
		return nil, nil, nil, io.EOF
	}
	d.cursor++
	d.mu.Unlock()

	batch, err := d.Get(index)
	if err != nil {
		return nil, nil, nil, err
	}
	t := batch.ToGomlxTensors()
	inputs = []*tensors.Tensor{t.SupportX, t.SupportY, t.QueryX}
	labels = []*tensors.Tensor{t.QueryY}
	return d, inputs, labels, nil
}

// Reset implements train.Dataset. It rewinds Yield; the episodes themselves
// are never regenerated.
func (d *OneShotDataset) Reset() {
	d.mu.Lock()
	d.cursor = 0
	d.mu.Unlock()
}
