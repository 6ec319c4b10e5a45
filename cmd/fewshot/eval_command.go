package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/fewshot/datasets"
	"github.com/Noofbiz/fewshot/loader"
	"github.com/Noofbiz/fewshot/matching"
	"github.com/Noofbiz/fewshot/store"
)

func newEvalCommand(ctx *commandContext) *cobra.Command {
	var (
		split    string
		runID    string
		save     bool
		csvPath  string
		plotPath string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score the episodes of a split with a matching network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			var st *store.Store
			if save || runID != "" {
				st, err = ctx.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
			}

			var ds *datasets.OneShotDataset
			if runID != "" {
				replayed, run, err := ctx.replayDataset(cmd.Context(), st, runID)
				if err != nil {
					return err
				}
				ds, runID, split = replayed, run.ID, run.Split
			} else {
				built, err := ctx.buildDatasets([]string{split})
				if err != nil {
					return err
				}
				ds = built[split]
			}

			clf, err := matching.NewClassifier(matching.Config{
				Metric:      cfg.Matching.Metric,
				Temperature: cfg.Matching.Temperature,
			})
			if err != nil {
				return err
			}

			barOut := io.Discard
			if isTerminal(cmd.ErrOrStderr()) {
				barOut = cmd.ErrOrStderr()
			}
			bar := progressbar.NewOptions(ds.Len(),
				progressbar.OptionSetWriter(barOut),
				progressbar.OptionSetDescription("Evaluating "+split),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("episodes"),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)

			l, err := loader.New(ds, loader.Options{
				Workers:   cfg.Loader.Workers,
				BatchSize: cfg.Loader.BatchSize,
				Prefetch:  cfg.Loader.Prefetch,
				Progress:  func() { _ = bar.Add(1) },
				Logger:    logger.With("component", "loader"),
			})
			if err != nil {
				return err
			}

			started := time.Now()
			results, err := evaluate(cmd.Context(), l, clf, logger)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			summary := matching.Summarize(results)
			logger.Info("evaluation finished",
				"split", split,
				"episodes", summary.Episodes,
				"accuracy", summary.Accuracy,
				"elapsed", time.Since(started).Round(time.Millisecond),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Split", "Metric", "Episodes", "Accuracy", "95% CI", "Loss"},
				[][]string{{
					split,
					clf.Config.Metric,
					strconv.Itoa(summary.Episodes),
					fmt.Sprintf("%.2f%%", 100*summary.Accuracy),
					fmt.Sprintf("±%.2f%%", 100*summary.CI95),
					fmt.Sprintf("%.4f", summary.Loss),
				}},
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))

			if csvPath != "" {
				if err := writeResultsCSV(csvPath, results); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote per-episode results to %s\n", csvPath)
			}
			if plotPath != "" {
				title := fmt.Sprintf("%s %d-way %d-shot accuracy (%s)", split,
					ds.Options().ClassesPerSet, ds.Options().SamplesPerClass, clf.Config.Metric)
				if err := plotAccuracy(plotPath, title, results); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote accuracy histogram to %s\n", plotPath)
			}

			if st != nil {
				if runID == "" {
					opts := ds.Options()
					run, err := st.SaveRun(cmd.Context(), store.Run{
						Split:           split,
						Dataroot:        opts.Dataroot,
						ClassesPerSet:   opts.ClassesPerSet,
						SamplesPerClass: opts.SamplesPerClass,
						NQuery:          opts.NQuery,
						Seed:            opts.Seed,
					}, ds.Split(), ds.Episodes())
					if err != nil {
						return fmt.Errorf("save episodes: %w", err)
					}
					runID = run.ID
				}
				scores := make([]store.Score, len(results))
				for i, r := range results {
					scores[i] = store.Score{Index: r.Index, Accuracy: r.Accuracy, Loss: r.Loss}
				}
				if err := st.SaveScores(cmd.Context(), runID, clf.Config.Metric, scores); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved scores of run %s\n", runID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&split, "split", datasets.SplitTest, "Split to evaluate")
	cmd.Flags().StringVar(&runID, "run", "", "Evaluate a stored run instead of planning")
	cmd.Flags().BoolVar(&save, "save", false, "Store the episodes (if new) and their scores")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write per-episode accuracy and loss to this CSV file")
	cmd.Flags().StringVar(&plotPath, "plot", "", "Write an accuracy histogram to this PNG file")
	return cmd
}

// evaluate scores every episode of the loader's source, in index order.
func evaluate(ctx context.Context, l *loader.Loader, clf *matching.Classifier, logger *slog.Logger) ([]matching.Result, error) {
	var results []matching.Result
	err := l.Epoch(ctx, func(batch int, episodes []*datasets.EpisodeBatch) error {
		stacked, err := datasets.StackEpisodes(episodes)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batch, err)
		}
		if logger.Enabled(ctx, slog.LevelDebug) {
			t := stacked.ToGomlxTensors()
			logger.Debug("batch ready",
				"batch", batch,
				"support", t.SupportX.Shape().Dimensions,
				"query", t.QueryX.Shape().Dimensions,
			)
		}
		for _, ep := range episodes {
			r, err := clf.Evaluate(ep)
			if err != nil {
				return err
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func writeResultsCSV(path string, results []matching.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"episode", "accuracy", "loss"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write([]string{
			strconv.Itoa(r.Index),
			strconv.FormatFloat(r.Accuracy, 'f', -1, 64),
			strconv.FormatFloat(r.Loss, 'f', 6, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
