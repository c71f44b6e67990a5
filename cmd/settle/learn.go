package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn",
		Short: "Relearn spending baselines from the full transaction history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			baselines, err := eng.LearnPatterns(ctx)
			if err != nil {
				return err
			}
			if len(baselines) == 0 {
				fmt.Println("No transactions yet, nothing to learn.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tAVERAGE\tCOUNT\tFREQUENCY")
			for _, b := range baselines {
				fmt.Fprintf(w, "%s\t%.2f\t%d\t%.1f%%\n", b.Category, b.Average, b.Count, b.Frequency*100)
			}
			return w.Flush()
		},
	}
}
