package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/fewshot/datasets"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var split string
	var runID string
	var materialize bool

	cmd := &cobra.Command{
		Use:   "inspect <index>",
		Short: "Show one planned episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("episode index %q is not a number", args[0])
			}

			var ds *datasets.OneShotDataset
			source := split
			if runID != "" {
				st, err := ctx.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				replayed, run, err := ctx.replayDataset(cmd.Context(), st, runID)
				if err != nil {
					return err
				}
				ds = replayed
				source = fmt.Sprintf("%s run %s", run.Split, run.ID)
			} else {
				built, err := ctx.buildDatasets([]string{split})
				if err != nil {
					return err
				}
				ds = built[split]
			}

			ep, err := ds.Episode(index)
			if err != nil {
				return err
			}
			opts := ds.Options()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Episode %d of %s (%d-way %d-shot, %d query)\n",
				index, source, opts.ClassesPerSet, opts.SamplesPerClass, opts.NQuery)

			labels := datasets.LocalLabels(ep.SupportClasses)
			classes := ds.Classes()
			var rows [][]string
			for slot, c := range ep.SupportClasses {
				rows = append(rows, []string{
					strconv.Itoa(slot),
					classes[c],
					strconv.Itoa(int(labels[c])),
					"support",
					strings.Join(ep.SupportSamples[slot], " "),
				})
				if c == ep.QueryClass {
					rows = append(rows, []string{
						strconv.Itoa(slot),
						classes[c],
						strconv.Itoa(int(labels[c])),
						"query",
						strings.Join(ep.QuerySamples, " "),
					})
				}
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Slot", "Class", "Label", "Role", "Samples"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))

			if !materialize {
				return nil
			}
			batch, err := ds.Get(index)
			if err != nil {
				return err
			}
			size := 4*(len(batch.SupportX)+len(batch.QueryX)) + 4*(len(batch.SupportY)+len(batch.QueryY))
			fmt.Fprintf(out, "Support %v, query %v, %s\n",
				append([]int{batch.NumSupport()}, batch.SampleShape...),
				append([]int{batch.NumQuery()}, batch.SampleShape...),
				humanize.Bytes(uint64(size)))
			return nil
		},
	}

	cmd.Flags().StringVar(&split, "split", datasets.SplitTest, "Split to plan")
	cmd.Flags().StringVar(&runID, "run", "", "Inspect a stored run instead of planning")
	cmd.Flags().BoolVar(&materialize, "materialize", false, "Load the images and report tensor sizes")
	return cmd
}
