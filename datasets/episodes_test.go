package datasets

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func loadTestSplit(t *testing.T, counts map[string]int) *SplitIndex {
	t.Helper()
	path := writeManifest(t, t.TempDir(), SplitTrain, counts)
	split, err := LoadSplit(path)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	return split
}

func uniformCounts(numClasses, perClass int) map[string]int {
	counts := make(map[string]int, numClasses)
	for i := range numClasses {
		counts[fmt.Sprintf("n%02d", i)] = perClass
	}
	return counts
}

// checkEpisodeInvariants verifies the structural guarantees of a planned set.
func checkEpisodeInvariants(t *testing.T, split *SplitIndex, set EpisodeSet, opts PlanOptions) {
	t.Helper()
	if len(set) != opts.NEpisodes {
		t.Fatalf("expected %d episodes, got %d", opts.NEpisodes, len(set))
	}
	for e, ep := range set {
		if len(ep.SupportClasses) != opts.ClassesPerSet {
			t.Fatalf("episode %d: %d support classes, want %d", e, len(ep.SupportClasses), opts.ClassesPerSet)
		}
		if len(ep.SupportSamples) != opts.ClassesPerSet {
			t.Fatalf("episode %d: %d support sample groups, want %d", e, len(ep.SupportSamples), opts.ClassesPerSet)
		}

		seenClass := map[int]bool{}
		for _, c := range ep.SupportClasses {
			if c < 0 || c >= split.NumClasses() {
				t.Fatalf("episode %d: class %d out of range", e, c)
			}
			if seenClass[c] {
				t.Fatalf("episode %d: class %d selected twice", e, c)
			}
			seenClass[c] = true
		}
		if !seenClass[ep.QueryClass] {
			t.Fatalf("episode %d: query class %d not among support classes", e, ep.QueryClass)
		}
		if pos := ep.QueryPosition(); pos < 0 || ep.SupportClasses[pos] != ep.QueryClass {
			t.Fatalf("episode %d: bad query position %d", e, pos)
		}

		for i, c := range ep.SupportClasses {
			samples := ep.SupportSamples[i]
			if len(samples) != opts.SamplesPerClass {
				t.Fatalf("episode %d class %d: %d support samples, want %d", e, c, len(samples), opts.SamplesPerClass)
			}
			pool := map[string]bool{}
			for _, s := range split.PoolAt(c) {
				pool[s] = true
			}
			seen := map[string]bool{}
			for _, s := range samples {
				if !pool[s] {
					t.Fatalf("episode %d: sample %s not in pool of class %d", e, s, c)
				}
				if seen[s] {
					t.Fatalf("episode %d: sample %s repeated in class %d", e, s, c)
				}
				seen[s] = true
			}
			if c == ep.QueryClass {
				if len(ep.QuerySamples) != opts.NQuery {
					t.Fatalf("episode %d: %d query samples, want %d", e, len(ep.QuerySamples), opts.NQuery)
				}
				for _, q := range ep.QuerySamples {
					if !pool[q] {
						t.Fatalf("episode %d: query sample %s not in pool of class %d", e, q, c)
					}
					if seen[q] {
						t.Fatalf("episode %d: query sample %s overlaps support or repeats", e, q)
					}
					seen[q] = true
				}
			}
		}
		if ep.NumSupport() != opts.ClassesPerSet*opts.SamplesPerClass {
			t.Fatalf("episode %d: NumSupport=%d", e, ep.NumSupport())
		}
	}
}

func TestPlanEpisodes_Invariants(t *testing.T) {
	split := loadTestSplit(t, uniformCounts(12, 15))
	opts := PlanOptions{NEpisodes: 200, ClassesPerSet: 5, SamplesPerClass: 3, NQuery: 5}

	set, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(DefaultSeed)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	checkEpisodeInvariants(t, split, set, opts)
}

func TestPlanEpisodes_Deterministic(t *testing.T) {
	split := loadTestSplit(t, uniformCounts(20, 12))
	opts := PlanOptions{NEpisodes: 50, ClassesPerSet: 5, SamplesPerClass: 2, NQuery: 5}

	a, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	b, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different episode sets")
	}

	// Reloading the manifest must not change anything either.
	reloaded, err := LoadSplit(split.Path)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	c, err := PlanEpisodes(reloaded, opts, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	if !reflect.DeepEqual(a, c) {
		t.Fatalf("reloaded split produced different episode sets")
	}
}

func TestPlanEpisodes_SharedStreamContinues(t *testing.T) {
	split := loadTestSplit(t, uniformCounts(20, 12))
	opts := PlanOptions{NEpisodes: 30, ClassesPerSet: 5, SamplesPerClass: 2, NQuery: 5}

	rng := rand.New(rand.NewSource(DefaultSeed))
	first, err := PlanEpisodes(split, opts, rng)
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	second, err := PlanEpisodes(split, opts, rng)
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	if reflect.DeepEqual(first, second) {
		t.Fatalf("second plan on a shared generator repeated the first")
	}

	// Planning 60 episodes at once consumes the stream identically.
	all, err := PlanEpisodes(split, PlanOptions{NEpisodes: 60, ClassesPerSet: 5, SamplesPerClass: 2, NQuery: 5},
		rand.New(rand.NewSource(DefaultSeed)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	if !reflect.DeepEqual(all[:30], first) || !reflect.DeepEqual(all[30:], second) {
		t.Fatalf("continued stream differs from a single long plan")
	}
}

func TestPlanEpisodes_AllClassesScenario(t *testing.T) {
	split := loadTestSplit(t, map[string]int{"A": 10, "B": 10, "C": 10, "D": 10, "E": 10})
	opts := PlanOptions{NEpisodes: 3, ClassesPerSet: 5, SamplesPerClass: 1, NQuery: 5}

	set, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(DefaultSeed)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	checkEpisodeInvariants(t, split, set, opts)
	for e, ep := range set {
		seen := map[int]bool{}
		for _, c := range ep.SupportClasses {
			seen[c] = true
		}
		if len(seen) != 5 {
			t.Fatalf("episode %d does not use all 5 classes: %v", e, ep.SupportClasses)
		}
	}
}

func TestPlanEpisodes_InsufficientClasses(t *testing.T) {
	split := loadTestSplit(t, map[string]int{"A": 10, "B": 10, "C": 10})
	opts := PlanOptions{NEpisodes: 3, ClassesPerSet: 5, SamplesPerClass: 1, NQuery: 5}

	set, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(DefaultSeed)))
	if !errors.Is(err, ErrInsufficientClasses) {
		t.Fatalf("expected ErrInsufficientClasses, got %v", err)
	}
	if set != nil {
		t.Fatalf("expected no episodes, got %d", len(set))
	}
}

func TestPlanEpisodes_InsufficientSamples(t *testing.T) {
	t.Run("no spare for query", func(t *testing.T) {
		// Every class has exactly samplesPerClass samples, so whichever class
		// is drawn as query class cannot also supply nQuery samples.
		split := loadTestSplit(t, uniformCounts(5, 2))
		opts := PlanOptions{NEpisodes: 1, ClassesPerSet: 5, SamplesPerClass: 2, NQuery: 5}
		_, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(DefaultSeed)))
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Fatalf("expected ErrInsufficientSamples, got %v", err)
		}
	})

	t.Run("smaller than shot", func(t *testing.T) {
		counts := uniformCounts(6, 20)
		counts["tiny"] = 1
		split := loadTestSplit(t, counts)
		opts := PlanOptions{NEpisodes: 1, ClassesPerSet: 2, SamplesPerClass: 3, NQuery: 1}
		_, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(DefaultSeed)))
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Fatalf("expected ErrInsufficientSamples, got %v", err)
		}
	})
}

func TestPlanEpisodes_InvalidOptions(t *testing.T) {
	split := loadTestSplit(t, uniformCounts(5, 10))
	rng := rand.New(rand.NewSource(1))
	bad := []PlanOptions{
		{NEpisodes: 0, ClassesPerSet: 2, SamplesPerClass: 1, NQuery: 1},
		{NEpisodes: 1, ClassesPerSet: 0, SamplesPerClass: 1, NQuery: 1},
		{NEpisodes: 1, ClassesPerSet: 2, SamplesPerClass: 0, NQuery: 1},
		{NEpisodes: 1, ClassesPerSet: 2, SamplesPerClass: 1, NQuery: 0},
	}
	for _, opts := range bad {
		if _, err := PlanEpisodes(split, opts, rng); err == nil {
			t.Fatalf("expected error for %+v", opts)
		}
	}
	if _, err := PlanEpisodes(split, PlanOptions{NEpisodes: 1, ClassesPerSet: 2, SamplesPerClass: 1, NQuery: 1}, nil); err == nil {
		t.Fatalf("expected error for nil generator")
	}
	if _, err := PlanEpisodes(nil, PlanOptions{NEpisodes: 1, ClassesPerSet: 2, SamplesPerClass: 1, NQuery: 1}, rng); !errors.Is(err, ErrDataLoad) {
		t.Fatalf("expected ErrDataLoad for nil split, got %v", err)
	}
}

func TestEpisodeSet_Validate(t *testing.T) {
	split := loadTestSplit(t, uniformCounts(8, 12))
	opts := PlanOptions{NEpisodes: 20, ClassesPerSet: 4, SamplesPerClass: 3, NQuery: 2}
	set, err := PlanEpisodes(split, opts, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("PlanEpisodes failed: %v", err)
	}
	if err := set.Validate(split, opts); err != nil {
		t.Fatalf("planned set does not validate: %v", err)
	}

	tamper := []struct {
		name string
		edit func(ep *Episode)
	}{
		{"duplicate class", func(ep *Episode) { ep.SupportClasses[1] = ep.SupportClasses[0] }},
		{"foreign query class", func(ep *Episode) {
			for c := range split.NumClasses() {
				found := false
				for _, s := range ep.SupportClasses {
					found = found || s == c
				}
				if !found {
					ep.QueryClass = c
					return
				}
			}
		}},
		{"query overlaps support", func(ep *Episode) {
			ep.QuerySamples[0] = ep.SupportSamples[ep.QueryPosition()][0]
		}},
		{"sample from another class", func(ep *Episode) {
			ep.SupportSamples[0][0] = split.PoolAt(ep.SupportClasses[1])[0]
		}},
		{"short support", func(ep *Episode) { ep.SupportSamples[2] = ep.SupportSamples[2][:1] }},
	}
	for _, tc := range tamper {
		t.Run(tc.name, func(t *testing.T) {
			copySet, _ := PlanEpisodes(split, opts, rand.New(rand.NewSource(5)))
			tc.edit(&copySet[3])
			err := copySet.Validate(split, opts)
			if !errors.Is(err, ErrInvalidEpisode) {
				t.Fatalf("expected ErrInvalidEpisode, got %v", err)
			}
		})
	}

	if err := set[:5].Validate(split, opts); !errors.Is(err, ErrInvalidEpisode) {
		t.Fatalf("expected ErrInvalidEpisode for a short set, got %v", err)
	}
}
