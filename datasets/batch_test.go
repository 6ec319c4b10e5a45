package datasets

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestStackEpisodes(t *testing.T) {
	ds := newTestDataset(t, uniformCounts(8, 10), Options{NEpisodes: 4, ClassesPerSet: 3, SamplesPerClass: 2, NQuery: 2})

	var batches []*EpisodeBatch
	for i := range ds.Len() {
		b, err := ds.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", i, err)
		}
		batches = append(batches, b)
	}

	stack, err := StackEpisodes(batches)
	if err != nil {
		t.Fatalf("StackEpisodes failed: %v", err)
	}
	if stack.BatchSize() != 4 || stack.NumSupport != 6 || stack.NumQuery != 2 {
		t.Fatalf("unexpected stack dims: %+v", stack)
	}
	if !reflect.DeepEqual(stack.Indices, []int{0, 1, 2, 3}) {
		t.Fatalf("unexpected indices %v", stack.Indices)
	}
	sampleSize := batches[0].SampleSize()
	if len(stack.SupportX) != 4*6*sampleSize || len(stack.QueryX) != 4*2*sampleSize {
		t.Fatalf("flat buffer sizes %d/%d", len(stack.SupportX), len(stack.QueryX))
	}
	// the third episode's labels live at offset 2*NumSupport
	if !reflect.DeepEqual(stack.SupportY[12:18], batches[2].SupportY) {
		t.Fatalf("stacked labels out of order")
	}

	tt := stack.ToGomlxTensors()
	if got, want := tt.SupportX.Shape().Dimensions, []int{4, 6, 1, 2, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("support shape %v, want %v", got, want)
	}
	if got, want := tt.QueryY.Shape().Dimensions, []int{4, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("query label shape %v, want %v", got, want)
	}
}

func TestStackEpisodes_Inconsistent(t *testing.T) {
	a := &EpisodeBatch{Index: 0, SampleShape: []int{1}, SupportX: []float32{1, 2}, SupportY: []int32{0, 1}, QueryX: []float32{3}, QueryY: []int32{1}}
	b := &EpisodeBatch{Index: 1, SampleShape: []int{1}, SupportX: []float32{1}, SupportY: []int32{0}, QueryX: []float32{3}, QueryY: []int32{0}}
	_, err := StackEpisodes([]*EpisodeBatch{a, b})
	if err == nil {
		t.Fatalf("expected error for episodes of different sizes")
	}
	if trace := fmt.Sprintf("%+v", err); !strings.Contains(trace, "datasets.StackEpisodes") {
		t.Fatalf("expected a stack trace naming StackEpisodes, got:\n%s", trace)
	}

	empty, err := StackEpisodes(nil)
	if err != nil || empty.BatchSize() != 0 {
		t.Fatalf("empty stack: %+v, %v", empty, err)
	}
}
