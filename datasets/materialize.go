package datasets

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Transform turns an image file into a fixed-size float32 tensor, flattened in
// CHW order. It must be safe for concurrent use.
type Transform func(path string) ([]float32, error)

// EpisodeBatch is one materialized episode.
type EpisodeBatch struct {
	// Index of the episode within its EpisodeSet.
	Index int

	// SampleShape is the per-sample tensor shape, e.g. [3, 84, 84].
	SampleShape []int

	// SupportX holds NumSupport samples, flat: [NumSupport, SampleShape...].
	SupportX []float32
	// SupportY holds episode-local labels in [0, classesPerSet).
	SupportY []int32

	// QueryX holds NumQuery samples, flat: [NumQuery, SampleShape...].
	QueryX []float32
	// QueryY holds the episode-local label of the query class, repeated.
	QueryY []int32
}

// NumSupport returns the number of support samples.
func (b *EpisodeBatch) NumSupport() int { return len(b.SupportY) }

// NumQuery returns the number of query samples.
func (b *EpisodeBatch) NumQuery() int { return len(b.QueryY) }

// SampleSize returns the number of float32 values per sample.
func (b *EpisodeBatch) SampleSize() int { return shapeSize(b.SampleShape) }

// SupportSample returns the flat tensor of support sample i.
func (b *EpisodeBatch) SupportSample(i int) []float32 {
	n := b.SampleSize()
	return b.SupportX[i*n : (i+1)*n]
}

// QuerySample returns the flat tensor of query sample i.
func (b *EpisodeBatch) QuerySample(i int) []float32 {
	n := b.SampleSize()
	return b.QueryX[i*n : (i+1)*n]
}

// Materializer resolves planned episodes into tensors. All fields are read
// only after construction, so one Materializer serves any number of goroutines.
type Materializer struct {
	ImagesDir   string
	Transform   Transform
	SampleShape []int
}

type labeledSample struct {
	name  string
	class int
}

// flatten lists the support samples (class order, then draw order) and the
// query samples with their global class index.
func flatten(ep *Episode) (support, query []labeledSample) {
	support = make([]labeledSample, 0, ep.NumSupport())
	for i, c := range ep.SupportClasses {
		for _, name := range ep.SupportSamples[i] {
			support = append(support, labeledSample{name: name, class: c})
		}
	}
	query = make([]labeledSample, 0, len(ep.QuerySamples))
	for _, name := range ep.QuerySamples {
		query = append(query, labeledSample{name: name, class: ep.QueryClass})
	}
	return support, query
}

// LocalLabels builds the episode-local label table: the distinct global
// classes present in support, sorted ascending, numbered 0, 1, 2, ...
func LocalLabels(supportClasses []int) map[int]int32 {
	distinct := make([]int, 0, len(supportClasses))
	seen := make(map[int]struct{}, len(supportClasses))
	for _, c := range supportClasses {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		distinct = append(distinct, c)
	}
	sort.Ints(distinct)

	table := make(map[int]int32, len(distinct))
	for i, c := range distinct {
		table[c] = int32(i)
	}
	return table
}

// Materialize reads and transforms every sample of ep and remaps its labels.
// Any transform failure aborts the episode with a *TransformError.
func (m *Materializer) Materialize(ep *Episode, index int) (*EpisodeBatch, error) {
	if m.Transform == nil {
		return nil, errors.New("materializer has no transform")
	}
	sampleSize := shapeSize(m.SampleShape)
	if sampleSize <= 0 {
		return nil, errors.Errorf("invalid sample shape %v", m.SampleShape)
	}

	support, query := flatten(ep)

	batch := &EpisodeBatch{
		Index:       index,
		SampleShape: append([]int(nil), m.SampleShape...),
		SupportX:    make([]float32, len(support)*sampleSize),
		SupportY:    make([]int32, len(support)),
		QueryX:      make([]float32, len(query)*sampleSize),
		QueryY:      make([]int32, len(query)),
	}

	if err := m.fill(batch.SupportX, support, sampleSize); err != nil {
		return nil, errors.WithMessagef(err, "episode %d support set", index)
	}
	if err := m.fill(batch.QueryX, query, sampleSize); err != nil {
		return nil, errors.WithMessagef(err, "episode %d query set", index)
	}

	supportClasses := make([]int, len(support))
	for i, s := range support {
		supportClasses[i] = s.class
	}
	table := LocalLabels(supportClasses)
	for i, s := range support {
		batch.SupportY[i] = table[s.class]
	}
	for i, s := range query {
		local, ok := table[s.class]
		if !ok {
			return nil, errors.Errorf("episode %d: query class %d missing from support set", index, s.class)
		}
		batch.QueryY[i] = local
	}
	return batch, nil
}

func (m *Materializer) fill(dst []float32, samples []labeledSample, sampleSize int) error {
	for i, s := range samples {
		path := filepath.Join(m.ImagesDir, s.name)
		values, err := m.Transform(path)
		if err != nil {
			return &TransformError{Path: path, Err: err}
		}
		if len(values) != sampleSize {
			return &TransformError{
				Path: path,
				Err:  errors.Errorf("got %d values, want %d for shape %v", len(values), sampleSize, m.SampleShape),
			}
		}
		copy(dst[i*sampleSize:], values)
	}
	return nil
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
