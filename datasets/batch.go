package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// EpisodeTensors holds one episode (or a stack of episodes) as gomlx tensors.
type EpisodeTensors struct {
	SupportX *tensors.Tensor
	SupportY *tensors.Tensor
	QueryX   *tensors.Tensor
	QueryY   *tensors.Tensor
}

// ToGomlxTensors converts the episode to gomlx tensors shaped
// [Ns, C, H, W], [Ns], [Nq, C, H, W] and [Nq].
func (b *EpisodeBatch) ToGomlxTensors() *EpisodeTensors {
	supportDims := append([]int{b.NumSupport()}, b.SampleShape...)
	queryDims := append([]int{b.NumQuery()}, b.SampleShape...)
	return &EpisodeTensors{
		SupportX: tensors.FromFlatDataAndDimensions(b.SupportX, supportDims...),
		SupportY: tensors.FromFlatDataAndDimensions(b.SupportY, b.NumSupport()),
		QueryX:   tensors.FromFlatDataAndDimensions(b.QueryX, queryDims...),
		QueryY:   tensors.FromFlatDataAndDimensions(b.QueryY, b.NumQuery()),
	}
}

// StackedBatch stores several episodes in flat contiguous buffers, with a
// leading batch axis.
type StackedBatch struct {
	Indices     []int
	SampleShape []int
	NumSupport  int
	NumQuery    int

	SupportX []float32
	SupportY []int32
	QueryX   []float32
	QueryY   []int32
}

// BatchSize returns the number of stacked episodes.
func (s *StackedBatch) BatchSize() int { return len(s.Indices) }

// StackEpisodes concatenates episodes that share the same shape. Episodes of a
// single dataset always do.
func StackEpisodes(batches []*EpisodeBatch) (*StackedBatch, error) {
	if len(batches) == 0 {
		return &StackedBatch{}, nil
	}

	first := batches[0]
	sampleSize := first.SampleSize()
	s := &StackedBatch{
		Indices:     make([]int, len(batches)),
		SampleShape: append([]int(nil), first.SampleShape...),
		NumSupport:  first.NumSupport(),
		NumQuery:    first.NumQuery(),
	}
	s.SupportX = make([]float32, 0, len(batches)*s.NumSupport*sampleSize)
	s.SupportY = make([]int32, 0, len(batches)*s.NumSupport)
	s.QueryX = make([]float32, 0, len(batches)*s.NumQuery*sampleSize)
	s.QueryY = make([]int32, 0, len(batches)*s.NumQuery)

	for i, b := range batches {
		if b.NumSupport() != s.NumSupport || b.NumQuery() != s.NumQuery || !sameShape(b.SampleShape, s.SampleShape) {
			return nil, errors.Errorf("inconsistent episode shapes: episode %d has support=%d query=%d sample=%v, episode %d has support=%d query=%d sample=%v",
				first.Index, s.NumSupport, s.NumQuery, s.SampleShape, b.Index, b.NumSupport(), b.NumQuery(), b.SampleShape)
		}
		s.Indices[i] = b.Index
		s.SupportX = append(s.SupportX, b.SupportX...)
		s.SupportY = append(s.SupportY, b.SupportY...)
		s.QueryX = append(s.QueryX, b.QueryX...)
		s.QueryY = append(s.QueryY, b.QueryY...)
	}
	return s, nil
}

// ToGomlxTensors converts the stack to gomlx tensors shaped
// [B, Ns, C, H, W], [B, Ns], [B, Nq, C, H, W] and [B, Nq].
func (s *StackedBatch) ToGomlxTensors() *EpisodeTensors {
	b := s.BatchSize()
	supportDims := append([]int{b, s.NumSupport}, s.SampleShape...)
	queryDims := append([]int{b, s.NumQuery}, s.SampleShape...)
	return &EpisodeTensors{
		SupportX: tensors.FromFlatDataAndDimensions(s.SupportX, supportDims...),
		SupportY: tensors.FromFlatDataAndDimensions(s.SupportY, b, s.NumSupport),
		QueryX:   tensors.FromFlatDataAndDimensions(s.QueryX, queryDims...),
		QueryY:   tensors.FromFlatDataAndDimensions(s.QueryY, b, s.NumQuery),
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
