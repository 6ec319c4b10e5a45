package matching

import (
	"math"
	"testing"

	"github.com/Noofbiz/fewshot/datasets"
)

// separableEpisode builds a 3-way 2-shot episode whose classes point along
// different axes. The query samples are noisy copies of class 1.
func separableEpisode() *datasets.EpisodeBatch {
	return &datasets.EpisodeBatch{
		Index:       7,
		SampleShape: []int{3},
		SupportX: []float32{
			1, 0, 0,
			0.9, 0.1, 0,
			0, 1, 0,
			0.1, 0.9, 0,
			0, 0, 1,
			0, 0.1, 0.9,
		},
		SupportY: []int32{0, 0, 1, 1, 2, 2},
		QueryX: []float32{
			0.05, 1, 0,
			0, 0.8, 0.1,
		},
		QueryY: []int32{1, 1},
	}
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestClassifierPredictsNearestClass(t *testing.T) {
	for _, metric := range []string{"cosine", "euclidean", " Cosine "} {
		c, err := NewClassifier(Config{Metric: metric})
		if err != nil {
			t.Fatalf("NewClassifier(%q) error: %v", metric, err)
		}
		res, err := c.Evaluate(separableEpisode())
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if res.Index != 7 {
			t.Fatalf("result index %d, want 7", res.Index)
		}
		if res.Accuracy != 1 {
			t.Fatalf("%s: expected accuracy 1, got %v", metric, res.Accuracy)
		}
		if res.Loss <= 0 || math.IsNaN(res.Loss) {
			t.Fatalf("%s: unexpected loss %v", metric, res.Loss)
		}
	}
}

func TestPredictDistributionsSumToOne(t *testing.T) {
	c, _ := NewClassifier(Config{})
	if c.Config.Metric != "cosine" || c.Config.Temperature != 10 {
		t.Fatalf("defaults not applied: %+v", c.Config)
	}
	pred, probs, err := c.Predict(separableEpisode(), 3)
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if len(pred) != 2 || len(probs) != 2 {
		t.Fatalf("unexpected sizes %d/%d", len(pred), len(probs))
	}
	for q, dist := range probs {
		sum := 0.0
		for _, p := range dist {
			sum += p
		}
		if !approxEqual(sum, 1, 1e-9) {
			t.Fatalf("query %d: probabilities sum to %v", q, sum)
		}
	}
}

func TestPredictErrors(t *testing.T) {
	c, _ := NewClassifier(Config{})
	if _, _, err := c.Predict(&datasets.EpisodeBatch{SampleShape: []int{1}}, 1); err == nil {
		t.Fatalf("expected error for an empty support set")
	}
	if _, _, err := c.Predict(separableEpisode(), 2); err == nil {
		t.Fatalf("expected error for labels outside the class count")
	}
	if _, err := NewClassifier(Config{Metric: "manhattan"}); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
	if _, err := NewClassifier(Config{Temperature: -1}); err == nil {
		t.Fatalf("expected error for negative temperature")
	}
}

func TestAccuracyAndSummary(t *testing.T) {
	if got := Accuracy([]int32{1, 2, 3, 4}, []int32{1, 0, 3, 0}); got != 0.5 {
		t.Fatalf("Accuracy = %v, want 0.5", got)
	}
	if got := Accuracy(nil, nil); got != 0 {
		t.Fatalf("Accuracy of nothing = %v", got)
	}

	s := Summarize([]Result{{Accuracy: 1, Loss: 0.2}, {Accuracy: 0.5, Loss: 0.4}, {Accuracy: 0, Loss: 0.6}})
	if s.Episodes != 3 || !approxEqual(s.Accuracy, 0.5, 1e-12) || !approxEqual(s.Loss, 0.4, 1e-12) {
		t.Fatalf("unexpected summary %+v", s)
	}
	// std of {1, .5, 0} is .5
	if !approxEqual(s.CI95, 1.96*0.5/math.Sqrt(3), 1e-12) {
		t.Fatalf("unexpected CI95 %v", s.CI95)
	}
	if Summarize(nil).Episodes != 0 {
		t.Fatalf("empty summary should have no episodes")
	}
}
