package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/fewshot/config"
	"github.com/Noofbiz/fewshot/datasets"
	"github.com/Noofbiz/fewshot/logging"
	"github.com/Noofbiz/fewshot/preprocess"
	"github.com/Noofbiz/fewshot/store"
)

// splitOrder is the order splits are planned in when they share a generator.
var splitOrder = []string{datasets.SplitTrain, datasets.SplitVal, datasets.SplitTest}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, logPath, err := logging.NewFromConfig(cfg, time.Now())
		if err != nil {
			c.loggerErr = err
			return
		}
		if logPath != "" {
			logger.Debug("logging to file", "path", logPath)
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) transform() (*preprocess.ImageTransform, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return preprocess.New(preprocess.Options{
		Size:      cfg.Transform.Size,
		Channels:  cfg.Transform.Channels,
		Flip:      cfg.Transform.Flip,
		FlipSeed:  cfg.Transform.FlipSeed,
		Normalize: cfg.Transform.Normalize,
	})
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path)
}

// datasetOptions returns the construction options of split. Rand is left nil;
// buildDatasets always sets it so a configured seed of 0 is used as is.
func (c *commandContext) datasetOptions(split string) (datasets.Options, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return datasets.Options{}, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return datasets.Options{}, err
	}
	tr, err := c.transform()
	if err != nil {
		return datasets.Options{}, err
	}
	n, err := cfg.SplitEpisodes(split)
	if err != nil {
		return datasets.Options{}, err
	}
	seed, err := cfg.SplitSeed(split)
	if err != nil {
		return datasets.Options{}, err
	}
	if !cfg.Episodes.IndependentStreams {
		seed = cfg.Episodes.Seed
	}
	return datasets.Options{
		Dataroot:        cfg.Data.Dataroot,
		Split:           split,
		ImagesDir:       cfg.ImagesDir(),
		NEpisodes:       n,
		ClassesPerSet:   cfg.Episodes.ClassesPerSet,
		SamplesPerClass: cfg.Episodes.SamplesPerClass,
		NQuery:          cfg.Episodes.NQuery,
		Seed:            seed,
		Transform:       tr.Func(),
		SampleShape:     tr.Shape(),
		Logger:          logger.With("component", "datasets"),
	}, nil
}

// buildDatasets plans the requested splits. With independent streams each
// split seeds its own generator. Otherwise one generator seeded with the base
// seed plans train, val and test in that order, so every split preceding a
// requested one is planned too.
func (c *commandContext) buildDatasets(splits []string) (map[string]*datasets.OneShotDataset, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	for _, s := range splits {
		if !datasets.ValidSplit(s) {
			return nil, fmt.Errorf("unknown split %q (want train, val or test)", s)
		}
	}

	toPlan := splits
	var shared *rand.Rand
	if !cfg.Episodes.IndependentStreams {
		shared = rand.New(rand.NewSource(cfg.Episodes.Seed))
		last := 0
		for i, s := range splitOrder {
			if slices.Contains(splits, s) {
				last = i
			}
		}
		toPlan = splitOrder[:last+1]
	}

	out := make(map[string]*datasets.OneShotDataset, len(toPlan))
	for _, s := range toPlan {
		opts, err := c.datasetOptions(s)
		if err != nil {
			return nil, err
		}
		opts.Rand = shared
		if opts.Rand == nil {
			opts.Rand = rand.New(rand.NewSource(opts.Seed))
		}
		ds, err := datasets.NewOneShotDataset(opts)
		if err != nil {
			return nil, err
		}
		if slices.Contains(splits, s) {
			out[s] = ds
		}
	}
	return out, nil
}

// replayDataset rebuilds the dataset of a stored run.
func (c *commandContext) replayDataset(ctx context.Context, st *store.Store, runID string) (*datasets.OneShotDataset, store.Run, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, store.Run{}, err
	}
	manifest, err := datasets.SplitPath(run.Dataroot, run.Split)
	if err != nil {
		return nil, store.Run{}, err
	}
	split, err := datasets.LoadSplit(manifest)
	if err != nil {
		return nil, store.Run{}, err
	}
	set, err := st.LoadEpisodes(ctx, run, split)
	if err != nil {
		return nil, store.Run{}, err
	}

	opts, err := c.datasetOptions(run.Split)
	if err != nil {
		return nil, store.Run{}, err
	}
	opts.Dataroot = run.Dataroot
	opts.ImagesDir = c.config.Data.ImagesDir
	opts.NEpisodes = run.NEpisodes
	opts.ClassesPerSet = run.ClassesPerSet
	opts.SamplesPerClass = run.SamplesPerClass
	opts.NQuery = run.NQuery
	opts.Seed = run.Seed
	opts.Episodes = set
	ds, err := datasets.NewOneShotDataset(opts)
	if err != nil {
		return nil, store.Run{}, err
	}
	return ds, run, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
