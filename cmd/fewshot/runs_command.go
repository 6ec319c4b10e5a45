package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var split string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored episode sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), split)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No stored runs")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.Split,
					fmt.Sprintf("%d-way %d-shot", run.ClassesPerSet, run.SamplesPerClass),
					strconv.Itoa(run.NEpisodes),
					strconv.FormatInt(run.Seed, 10),
					humanize.RelTime(run.CreatedAt, time.Now(), "ago", "from now"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Split", "Shape", "Episodes", "Seed", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&split, "split", "", "Only list runs of this split")
	return cmd
}
