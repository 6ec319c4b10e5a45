package store_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Noofbiz/fewshot/datasets"
	"github.com/Noofbiz/fewshot/store"
)

func writeSplit(t *testing.T, numClasses, perClass int) *datasets.SplitIndex {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("filename,label\n")
	for c := range numClasses {
		for i := range perClass {
			fmt.Fprintf(&sb, "n%08d%04d.jpg,n%08d\n", c, i, c)
		}
	}
	path := filepath.Join(t.TempDir(), "train.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	split, err := datasets.LoadSplit(path)
	if err != nil {
		t.Fatalf("LoadSplit: %v", err)
	}
	return split
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func planRun(t *testing.T, split *datasets.SplitIndex, seed int64) (store.Run, datasets.EpisodeSet) {
	t.Helper()
	run := store.Run{Split: "train", Dataroot: "/data", ClassesPerSet: 4, SamplesPerClass: 2, NQuery: 3, Seed: seed}
	opts := datasets.PlanOptions{NEpisodes: 15, ClassesPerSet: 4, SamplesPerClass: 2, NQuery: 3}
	set, err := datasets.PlanEpisodes(split, opts, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("PlanEpisodes: %v", err)
	}
	return run, set
}

func TestSaveAndLoadEpisodes(t *testing.T) {
	ctx := context.Background()
	split := writeSplit(t, 10, 8)
	s := openStore(t, filepath.Join(t.TempDir(), "db", "fewshot.db"))

	run, set := planRun(t, split, 2191)
	saved, err := s.SaveRun(ctx, run, split, set)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if saved.ID == "" || saved.CreatedAt.IsZero() || saved.NEpisodes != len(set) {
		t.Fatalf("run not completed: %+v", saved)
	}

	got, err := s.GetRun(ctx, saved.ID[:8])
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if got.ID != saved.ID || got.Seed != 2191 || got.NQuery != 3 || !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatalf("unexpected run %+v, want %+v", got, saved)
	}

	loaded, err := s.LoadEpisodes(ctx, got, split)
	if err != nil {
		t.Fatalf("LoadEpisodes: %v", err)
	}
	if !reflect.DeepEqual(loaded, set) {
		t.Fatalf("loaded episodes differ from the saved ones")
	}
}

func TestScoresAndDelete(t *testing.T) {
	ctx := context.Background()
	split := writeSplit(t, 6, 8)
	s := openStore(t, filepath.Join(t.TempDir(), "fewshot.db"))

	run, set := planRun(t, split, 1)
	saved, err := s.SaveRun(ctx, run, split, set)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	if err := s.SaveScores(ctx, saved.ID, "cosine", []store.Score{{Index: 1, Accuracy: 0.4, Loss: 1.2}, {Index: 0, Accuracy: 1}}); err != nil {
		t.Fatalf("SaveScores: %v", err)
	}
	if err := s.SaveScores(ctx, saved.ID, "cosine", []store.Score{{Index: 1, Accuracy: 0.6, Loss: 0.9}}); err != nil {
		t.Fatalf("SaveScores update: %v", err)
	}
	scores, err := s.Scores(ctx, saved.ID, "cosine")
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	want := []store.Score{{Index: 0, Accuracy: 1}, {Index: 1, Accuracy: 0.6, Loss: 0.9}}
	if !reflect.DeepEqual(scores, want) {
		t.Fatalf("scores = %+v, want %+v", scores, want)
	}
	if other, _ := s.Scores(ctx, saved.ID, "euclidean"); len(other) != 0 {
		t.Fatalf("expected no euclidean scores, got %+v", other)
	}
	if err := s.SaveScores(ctx, saved.ID, "cosine", []store.Score{{Index: 99}}); err == nil {
		t.Fatal("expected foreign key error for unknown episode")
	}

	if err := s.DeleteRun(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, saved.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if scores, _ := s.Scores(ctx, saved.ID, "cosine"); len(scores) != 0 {
		t.Fatalf("scores survived run deletion: %+v", scores)
	}
	if err := s.DeleteRun(ctx, saved.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	split := writeSplit(t, 6, 8)
	s := openStore(t, filepath.Join(t.TempDir(), "fewshot.db"))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"train", "val", "train"} {
		run, set := planRun(t, split, int64(i))
		run.Split = name
		run.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if _, err := s.SaveRun(ctx, run, split, set); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	all, err := s.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].Seed != 2 || all[2].Seed != 0 {
		t.Fatalf("unexpected order: %+v", all)
	}
	train, _ := s.ListRuns(ctx, "train")
	if len(train) != 2 {
		t.Fatalf("expected 2 train runs, got %d", len(train))
	}
}

func TestListRunsOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	split := writeSplit(t, 6, 8)
	s := openStore(t, filepath.Join(t.TempDir(), "fewshot.db"))

	second := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{100 * time.Millisecond, 120 * time.Millisecond, 0} {
		run, set := planRun(t, split, int64(i))
		run.CreatedAt = second.Add(offset)
		if _, err := s.SaveRun(ctx, run, split, set); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(ctx, "")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	var seeds []int64
	for _, r := range runs {
		seeds = append(seeds, r.Seed)
	}
	if !reflect.DeepEqual(seeds, []int64{1, 0, 2}) {
		t.Fatalf("expected newest first (seeds 1, 0, 2), got %v", seeds)
	}
	if !runs[0].CreatedAt.Equal(second.Add(120 * time.Millisecond)) {
		t.Fatalf("created_at did not round trip: %v", runs[0].CreatedAt)
	}
}

func TestLoadEpisodesRejectsChangedManifest(t *testing.T) {
	ctx := context.Background()
	split := writeSplit(t, 10, 8)
	s := openStore(t, filepath.Join(t.TempDir(), "fewshot.db"))

	run, set := planRun(t, split, 7)
	saved, err := s.SaveRun(ctx, run, split, set)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	smaller := writeSplit(t, 10, 1)
	if _, err := s.LoadEpisodes(ctx, saved, smaller); err == nil {
		t.Fatal("expected error when the manifest no longer lists the samples")
	}
}

func TestOpenLocksAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fewshot.db")
	split := writeSplit(t, 6, 8)

	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Open(path); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("expected ErrLocked while open, got %v", err)
	}
	run, set := planRun(t, split, 3)
	saved, err := s.SaveRun(ctx, run, split, set)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openStore(t, path)
	if _, err := reopened.GetRun(ctx, saved.ID); err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
}
