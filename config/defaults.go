package config

import "github.com/Noofbiz/fewshot/datasets"

const (
	defaultDataroot  = "~/datasets/miniImagenet"
	defaultStorePath = "~/.local/share/fewshot/fewshot.db"
)

// Default returns a Config populated with the mini-ImageNet 5-way 5-shot
// settings.
func Default() Config {
	return Config{
		Data: Data{
			Dataroot: defaultDataroot,
		},
		Episodes: Episodes{
			ClassesPerSet:      5,
			SamplesPerClass:    5,
			NQuery:             datasets.DefaultNQuery,
			Seed:               datasets.DefaultSeed,
			IndependentStreams: false,
		},
		Splits: Splits{
			Train: 100 * 10,
			Val:   100 * 10,
			Test:  250 * 10,
		},
		Transform: Transform{
			Size:      84,
			Channels:  3,
			Flip:      true,
			FlipSeed:  datasets.DefaultSeed,
			Normalize: true,
		},
		Loader: Loader{
			BatchSize: 10,
			Prefetch:  2,
		},
		Matching: Matching{
			Metric: "cosine",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Store: Store{
			Path: defaultStorePath,
		},
	}
}
