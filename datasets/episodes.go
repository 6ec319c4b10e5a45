package datasets

import (
	"math/rand"

	"github.com/pkg/errors"
)

// DefaultSeed is the seed the experiments have always used for episode
// generation.
const DefaultSeed int64 = 2191

// DefaultNQuery is the number of query samples drawn for the query class.
const DefaultNQuery = 5

// Episode is one planned few-shot task. Classes are global class indices into
// SplitIndex.Classes; samples are manifest file names.
type Episode struct {
	// SupportClasses in the order they were drawn.
	SupportClasses []int

	// QueryClass is one of SupportClasses.
	QueryClass int

	// SupportSamples[i] holds the support samples of SupportClasses[i], in draw order.
	SupportSamples [][]string

	// QuerySamples belong to QueryClass and never overlap its support samples.
	QuerySamples []string
}

// QueryPosition returns the position of QueryClass within SupportClasses.
func (e *Episode) QueryPosition() int {
	for i, c := range e.SupportClasses {
		if c == e.QueryClass {
			return i
		}
	}
	return -1
}

// NumSupport returns the number of support samples across all classes.
func (e *Episode) NumSupport() int {
	n := 0
	for _, s := range e.SupportSamples {
		n += len(s)
	}
	return n
}

// EpisodeSet is the full, immutable list of planned episodes.
type EpisodeSet []Episode

// PlanOptions holds the episode shape.
type PlanOptions struct {
	NEpisodes       int
	ClassesPerSet   int
	SamplesPerClass int
	NQuery          int
}

func (o PlanOptions) validate() error {
	if o.NEpisodes <= 0 {
		return errors.Errorf("nEpisodes must be positive, got %d", o.NEpisodes)
	}
	if o.ClassesPerSet <= 0 {
		return errors.Errorf("classesPerSet must be positive, got %d", o.ClassesPerSet)
	}
	if o.SamplesPerClass <= 0 {
		return errors.Errorf("samplesPerClass must be positive, got %d", o.SamplesPerClass)
	}
	if o.NQuery <= 0 {
		return errors.Errorf("nQuery must be positive, got %d", o.NQuery)
	}
	return nil
}

// PlanEpisodes generates exactly opts.NEpisodes episodes from split.
//
// rng is advanced in place: planning twice with the same generator continues
// the stream rather than repeating it, and two generators created from the
// same seed produce identical sets. rng must not be used concurrently.
//
// Per episode: ClassesPerSet distinct classes are drawn uniformly, then one of
// them is drawn as the query class. The query class gets a single draw of
// SamplesPerClass+NQuery samples, split into support and query parts.
func PlanEpisodes(split *SplitIndex, opts PlanOptions, rng *rand.Rand) (EpisodeSet, error) {
	if split == nil || split.NumClasses() == 0 {
		return nil, errors.Wrap(ErrDataLoad, "episode planning needs a non-empty split")
	}
	if rng == nil {
		return nil, errors.New("episode planning needs a random generator")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	numClasses := split.NumClasses()
	if opts.ClassesPerSet > numClasses {
		return nil, errors.Wrapf(ErrInsufficientClasses,
			"classesPerSet=%d but split %s has %d classes", opts.ClassesPerSet, split.Path, numClasses)
	}
	if label, size := split.MinPoolSize(); size < opts.SamplesPerClass {
		return nil, errors.Wrapf(ErrInsufficientSamples,
			"class %q has %d samples, samplesPerClass=%d", label, size, opts.SamplesPerClass)
	}

	set := make(EpisodeSet, opts.NEpisodes)
	for b := range opts.NEpisodes {
		ep, err := planEpisode(split, opts, rng)
		if err != nil {
			return nil, errors.WithMessagef(err, "episode %d", b)
		}
		set[b] = ep
	}
	return set, nil
}

func planEpisode(split *SplitIndex, opts PlanOptions, rng *rand.Rand) (Episode, error) {
	selected := rng.Perm(split.NumClasses())[:opts.ClassesPerSet]
	queryClass := selected[rng.Intn(len(selected))]

	ep := Episode{
		SupportClasses: append([]int(nil), selected...),
		QueryClass:     queryClass,
		SupportSamples: make([][]string, len(selected)),
	}
	for i, c := range selected {
		pool := split.PoolAt(c)
		n := opts.SamplesPerClass
		if c == queryClass {
			n += opts.NQuery
		}
		if len(pool) < n {
			return Episode{}, errors.Wrapf(ErrInsufficientSamples,
				"query class %q has %d samples, needs %d (samplesPerClass=%d + nQuery=%d)",
				split.Classes[c], len(pool), n, opts.SamplesPerClass, opts.NQuery)
		}
		drawn := choose(rng, pool, n)
		ep.SupportSamples[i] = drawn[:opts.SamplesPerClass:opts.SamplesPerClass]
		if c == queryClass {
			ep.QuerySamples = drawn[opts.SamplesPerClass:]
		}
	}
	return ep, nil
}

// choose draws n items from pool uniformly without replacement, in draw order.
func choose(rng *rand.Rand, pool []string, n int) []string {
	perm := rng.Perm(len(pool))
	out := make([]string, n)
	for i := range n {
		out[i] = pool[perm[i]]
	}
	return out
}

// Validate checks that every episode of s could have been planned from split
// with opts: distinct support classes, the query class among them, the right
// sample counts, samples taken from the class pools, and no query sample in the
// support set. Errors wrap ErrInvalidEpisode.
func (s EpisodeSet) Validate(split *SplitIndex, opts PlanOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if len(s) != opts.NEpisodes {
		return errors.Wrapf(ErrInvalidEpisode, "set has %d episodes, want %d", len(s), opts.NEpisodes)
	}
	for b := range s {
		if err := s[b].validate(split, opts); err != nil {
			return errors.WithMessagef(err, "episode %d", b)
		}
	}
	return nil
}

func (e *Episode) validate(split *SplitIndex, opts PlanOptions) error {
	if len(e.SupportClasses) != opts.ClassesPerSet || len(e.SupportSamples) != opts.ClassesPerSet {
		return errors.Wrapf(ErrInvalidEpisode, "%d support classes, want %d", len(e.SupportClasses), opts.ClassesPerSet)
	}
	if e.QueryPosition() < 0 {
		return errors.Wrapf(ErrInvalidEpisode, "query class %d is not a support class", e.QueryClass)
	}
	if len(e.QuerySamples) != opts.NQuery {
		return errors.Wrapf(ErrInvalidEpisode, "%d query samples, want %d", len(e.QuerySamples), opts.NQuery)
	}

	seenClass := make(map[int]bool, len(e.SupportClasses))
	for i, c := range e.SupportClasses {
		if c < 0 || c >= split.NumClasses() {
			return errors.Wrapf(ErrInvalidEpisode, "class index %d out of range", c)
		}
		if seenClass[c] {
			return errors.Wrapf(ErrInvalidEpisode, "class %q drawn twice", split.Classes[c])
		}
		seenClass[c] = true

		samples := e.SupportSamples[i]
		if c == e.QueryClass {
			samples = append(append([]string(nil), samples...), e.QuerySamples...)
		}
		if len(e.SupportSamples[i]) != opts.SamplesPerClass {
			return errors.Wrapf(ErrInvalidEpisode, "class %q has %d support samples, want %d",
				split.Classes[c], len(e.SupportSamples[i]), opts.SamplesPerClass)
		}
		inPool := make(map[string]bool, len(split.PoolAt(c)))
		for _, p := range split.PoolAt(c) {
			inPool[p] = true
		}
		seen := make(map[string]bool, len(samples))
		for _, p := range samples {
			if !inPool[p] {
				return errors.Wrapf(ErrInvalidEpisode, "sample %q is not in class %q", p, split.Classes[c])
			}
			if seen[p] {
				return errors.Wrapf(ErrInvalidEpisode, "sample %q used twice", p)
			}
			seen[p] = true
		}
	}
	return nil
}
