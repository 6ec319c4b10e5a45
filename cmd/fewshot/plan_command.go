package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/fewshot/store"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var splits []string
	var save bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan the episode sets of the configured splits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			built, err := ctx.buildDatasets(splits)
			if err != nil {
				return err
			}

			var st *store.Store
			if save {
				st, err = ctx.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
			}

			headers := []string{"Split", "Classes", "Samples", "Episodes", "Way", "Shot", "Query", "Seed"}
			aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
			if save {
				headers = append(headers, "Run")
				aligns = append(aligns, alignLeft)
			}

			var rows [][]string
			for _, name := range splitOrder {
				ds, ok := built[name]
				if !ok {
					continue
				}
				opts := ds.Options()
				seed := strconv.FormatInt(opts.Seed, 10)
				if !cfg.Episodes.IndependentStreams {
					seed += " (shared)"
				}
				row := []string{
					name,
					strconv.Itoa(ds.Split().NumClasses()),
					strconv.Itoa(ds.Split().NumSamples()),
					strconv.Itoa(ds.Len()),
					strconv.Itoa(opts.ClassesPerSet),
					strconv.Itoa(opts.SamplesPerClass),
					strconv.Itoa(opts.NQuery),
					seed,
				}
				if st != nil {
					run, err := st.SaveRun(cmd.Context(), store.Run{
						Split:           name,
						Dataroot:        opts.Dataroot,
						ClassesPerSet:   opts.ClassesPerSet,
						SamplesPerClass: opts.SamplesPerClass,
						NQuery:          opts.NQuery,
						Seed:            opts.Seed,
					}, ds.Split(), ds.Episodes())
					if err != nil {
						return fmt.Errorf("save %s episodes: %w", name, err)
					}
					row = append(row, run.ID)
				}
				rows = append(rows, row)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			if st != nil {
				fmt.Fprintf(out, "Saved to %s\n", st.Path())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&splits, "split", splitOrder, "Splits to plan (train, val, test)")
	cmd.Flags().BoolVar(&save, "save", false, "Store the planned episodes")
	return cmd
}
