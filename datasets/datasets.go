package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// This file provides the episodic few-shot dataset used by the matching
// networks experiments. A flat labeled image collection (described by a
// manifest CSV) is turned into a fixed stream of "episodes": a handful of
// classes, a few labeled support images per class and a set of query images
// taken from one of those classes.
//
// Layout and intended usage:
//
// Split loading (split.go)
//   - Reads <dataroot>/<split>.csv, skipping the header.
//   - Groups sample file names by class label, keeping manifest order.
//   - Sorts class labels so the global class index is deterministic.
//
// Episode planning (episodes.go)
//   - Runs once, at construction, with an owned *rand.Rand.
//   - Each episode draws classes without replacement, one query class among
//     them, and support/query samples in a single draw so they never overlap.
//
// Materialization (materialize.go)
//   - Runs on every Get and touches no shared mutable state, so it can run
//     from many goroutines at once (see the loader package).
//   - Resolves file names against <dataroot>/images, runs the Transform and
//     remaps global class indices to episode-local labels in [0, N).
//
// The datasets implement this interface so training loops only depend on the
// retrieval contract and not on how episodes are built.
type Dataset interface {
	Len() int
	Get(index int) (*EpisodeBatch, error)
}

// TensorDataset is implemented by datasets that can hand out gomlx tensors
// directly. OneShotDataset also implements gomlx's train.Dataset.
type TensorDataset interface {
	Dataset
	Name() string
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Reset()
}

var (
	// ErrDataLoad is returned when a manifest is missing, malformed or empty.
	ErrDataLoad = errors.New("data load error")

	// ErrInsufficientClasses is returned when an episode asks for more classes
	// than the split has.
	ErrInsufficientClasses = errors.New("insufficient classes")

	// ErrInsufficientSamples is returned when a class cannot supply the
	// support (and, for the query class, query) samples an episode needs.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrIndexOutOfRange is returned by Get/Episode for an index outside [0, Len()).
	ErrIndexOutOfRange = errors.New("episode index out of range")

	// ErrInvalidEpisode is returned when a replayed episode does not fit the
	// split or the episode shape.
	ErrInvalidEpisode = errors.New("invalid episode")
)

// TransformError reports a failure to turn one image file into a tensor.
// The whole episode fails; no partial batch is ever returned.
type TransformError struct {
	Path string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Path, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
