package main

// Example command that plans a few miniImageNet test episodes, materializes
// them, and converts them into gomlx tensors, both one episode at a time
// (the train.Dataset interface) and stacked into a batch.
//
// Usage:
//   go run ./datasets/example [dataroot]
//
// Without an argument a few common locations are tried. The dataroot must hold
// train.csv, val.csv, test.csv and an images directory.

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Noofbiz/fewshot/datasets"
	"github.com/Noofbiz/fewshot/preprocess"
)

func main() {
	candidates := []string{"datasets/miniImagenet", "../datasets/miniImagenet", "data/miniImagenet"}
	if len(os.Args) > 1 {
		candidates = os.Args[1:2]
	}
	dataroot, err := datasets.FindDataroot(candidates)
	if err != nil {
		log.Fatalf("failed to find a dataroot: %v", err)
	}
	fmt.Printf("Using dataroot: %s\n", dataroot)

	splits, err := datasets.AvailableSplits(dataroot)
	if err != nil {
		log.Fatalf("failed to list splits: %v", err)
	}
	for _, s := range splits {
		fmt.Printf("  %-5s %6d samples (%s)\n", s.Split, s.Rows, s.Path)
	}

	transform, err := preprocess.New(preprocess.Options{Size: 84, Channels: 3, Flip: true, FlipSeed: datasets.DefaultSeed, Normalize: true})
	if err != nil {
		log.Fatalf("failed to create transform: %v", err)
	}

	ds, err := datasets.NewOneShotDataset(datasets.Options{
		Dataroot:        dataroot,
		Split:           datasets.SplitTest,
		NEpisodes:       4,
		ClassesPerSet:   5,
		SamplesPerClass: 5,
		Transform:       transform.Func(),
		SampleShape:     transform.Shape(),
	})
	if err != nil {
		log.Fatalf("failed to plan episodes: %v", err)
	}
	fmt.Printf("\n%s: %d episodes over %d classes\n", ds.Name(), ds.Len(), len(ds.Classes()))

	// Planned episodes are plain data: class indices and file names.
	ep, _ := ds.Episode(0)
	fmt.Printf("Episode 0: query class %s, query samples %v\n", ds.Classes()[ep.QueryClass], ep.QuerySamples)

	// One episode at a time, as a training loop would consume them.
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("failed to yield episode: %v", err)
		}
		fmt.Printf("  yielded support %v, query %v, query labels %v\n",
			inputs[0].Shape().Dimensions, inputs[2].Shape().Dimensions, labels[0].Shape().Dimensions)
	}
	ds.Reset()

	// A batch of episodes stacked along a leading axis.
	batches := make([]*datasets.EpisodeBatch, ds.Len())
	for i := range batches {
		if batches[i], err = ds.Get(i); err != nil {
			log.Fatalf("failed to materialize episode %d: %v", i, err)
		}
	}
	stacked, err := datasets.StackEpisodes(batches)
	if err != nil {
		log.Fatalf("failed to stack episodes: %v", err)
	}
	t := stacked.ToGomlxTensors()
	fmt.Printf("\nStacked batch of %d episodes:\n", stacked.BatchSize())
	fmt.Printf("  support images %v, support labels %v\n", t.SupportX.Shape().Dimensions, t.SupportY.Shape().Dimensions)
	fmt.Printf("  query images %v, query labels %v\n", t.QueryX.Shape().Dimensions, t.QueryY.Shape().Dimensions)
	fmt.Printf("  first support labels %v\n", batches[0].SupportY)
}
