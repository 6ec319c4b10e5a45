package matching

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/Noofbiz/fewshot/datasets"
)

// Config holds the classifier settings.
type Config struct {
	// Metric is "cosine" (default) or "euclidean".
	Metric string

	// Temperature scales similarities before the softmax. If zero, 10 is used
	// for cosine similarity and 1 for negative squared euclidean distance.
	Temperature float64
}

// Classifier is a matching network without a learned embedding: every query
// sample attends over the support samples of its episode (softmax over
// similarities) and the predicted label distribution is the attention-weighted
// sum of the support labels. It is the baseline every trained embedding has to
// beat, and a cheap end-to-end check of the episode pipeline.
type Classifier struct {
	// Config used for prediction.
	Config Config

	similarity func(a, b []float32) float64
}

// Result is the score of one episode.
type Result struct {
	Index    int
	Accuracy float64
	// Loss is the mean negative log-likelihood of the true query labels.
	Loss float64
}

// NewClassifier creates a Classifier. Defaults are filled in on the returned
// Config.
func NewClassifier(cfg Config) (*Classifier, error) {
	cfg.Metric = strings.ToLower(strings.TrimSpace(cfg.Metric))
	if cfg.Metric == "" {
		cfg.Metric = "cosine"
	}

	c := &Classifier{}
	switch cfg.Metric {
	case "cosine":
		c.similarity = cosine
		if cfg.Temperature == 0 {
			cfg.Temperature = 10
		}
	case "euclidean":
		c.similarity = negSquaredDistance
		if cfg.Temperature == 0 {
			cfg.Temperature = 1
		}
	default:
		return nil, errors.Errorf("unknown metric %q (want cosine or euclidean)", cfg.Metric)
	}
	if cfg.Temperature < 0 {
		return nil, errors.Errorf("temperature must be positive, got %v", cfg.Temperature)
	}
	c.Config = cfg
	return c, nil
}

// Attention returns the softmax attention of query over the support samples.
func (c *Classifier) Attention(support [][]float32, query []float32) []float64 {
	logits := make([]float64, len(support))
	for i, s := range support {
		logits[i] = c.Config.Temperature * c.similarity(s, query)
	}
	return softmax(logits)
}

// Predict returns, for every query sample, the most likely episode-local label
// and the full label distribution over numClasses labels.
func (c *Classifier) Predict(b *datasets.EpisodeBatch, numClasses int) (pred []int32, probs [][]float64, err error) {
	if b.NumSupport() == 0 {
		return nil, nil, errors.New("episode has no support samples")
	}
	if b.SampleSize() == 0 {
		return nil, nil, errors.New("episode has an empty sample shape")
	}

	support := make([][]float32, b.NumSupport())
	for i := range support {
		support[i] = b.SupportSample(i)
		if y := b.SupportY[i]; y < 0 || int(y) >= numClasses {
			return nil, nil, errors.Errorf("support label %d outside [0, %d)", y, numClasses)
		}
	}

	pred = make([]int32, b.NumQuery())
	probs = make([][]float64, b.NumQuery())
	for q := range pred {
		attn := c.Attention(support, b.QuerySample(q))
		dist := make([]float64, numClasses)
		for i, a := range attn {
			dist[b.SupportY[i]] += a
		}
		best := 0
		for k := 1; k < numClasses; k++ {
			if dist[k] > dist[best] {
				best = k
			}
		}
		pred[q] = int32(best)
		probs[q] = dist
	}
	return pred, probs, nil
}

// Evaluate scores one episode.
func (c *Classifier) Evaluate(b *datasets.EpisodeBatch) (Result, error) {
	numClasses := 0
	for _, y := range b.SupportY {
		numClasses = max(numClasses, int(y)+1)
	}
	pred, probs, err := c.Predict(b, numClasses)
	if err != nil {
		return Result{}, errors.WithMessagef(err, "episode %d", b.Index)
	}

	var loss float64
	for q, y := range b.QueryY {
		if int(y) >= numClasses {
			return Result{}, errors.Errorf("episode %d: query label %d outside [0, %d)", b.Index, y, numClasses)
		}
		p := math.Max(probs[q][y], 1e-12)
		loss -= math.Log(p)
	}
	if len(b.QueryY) > 0 {
		loss /= float64(len(b.QueryY))
	}
	return Result{Index: b.Index, Accuracy: Accuracy(pred, b.QueryY), Loss: loss}, nil
}

// Accuracy returns the fraction of pred equal to labels.
func Accuracy(pred, labels []int32) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i := range labels {
		if i < len(pred) && pred[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// Summary aggregates episode results.
type Summary struct {
	Episodes int
	Accuracy float64
	Loss     float64
	// CI95 is the half-width of the 95% confidence interval of Accuracy.
	CI95 float64
}

// Summarize averages results.
func Summarize(results []Result) Summary {
	s := Summary{Episodes: len(results)}
	if len(results) == 0 {
		return s
	}
	for _, r := range results {
		s.Accuracy += r.Accuracy
		s.Loss += r.Loss
	}
	n := float64(len(results))
	s.Accuracy /= n
	s.Loss /= n
	if len(results) > 1 {
		var ss float64
		for _, r := range results {
			d := r.Accuracy - s.Accuracy
			ss += d * d
		}
		std := math.Sqrt(ss / (n - 1))
		s.CI95 = 1.96 * std / math.Sqrt(n)
	}
	return s
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func negSquaredDistance(a, b []float32) float64 {
	var d float64
	for i := range a {
		diff := float64(a[i] - b[i])
		d += diff * diff
	}
	return -d
}

func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, l)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
