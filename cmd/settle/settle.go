package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/settle-the-score/internal/ledger"
	"github.com/Veraticus/settle-the-score/internal/model"
)

func settleCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Compute balances and the transfers that clear them",
		Long: `Computes per-participant net balances from unsettled shared expenses
and proposes a near-minimal set of transfers to square up. With --confirm
the proposed transfers are applied: every transaction in the proposal is
marked settled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			plan, err := eng.ComputeSettlement(ctx)
			if err != nil {
				return err
			}

			// A plan with no transfers can still cover unsettled
			// transactions that offset each other; those must remain
			// confirmable or they inflate the unsettled total forever.
			if len(plan.Snapshot) == 0 {
				fmt.Println("All settled up, nothing to do.")
				return nil
			}
			printPlan(plan)

			if !confirm {
				fmt.Println("\nRun again with --confirm to apply these transfers.")
				return nil
			}

			result, err := eng.ConfirmSettlement(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\nSettled %d transactions at %s.\n",
				result.SettledCount, result.SettledAt.Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "apply the proposed settlement")
	return cmd
}

func printPlan(plan *ledger.Plan) {
	participants := make([]model.ParticipantID, 0, len(plan.Balances))
	for p := range plan.Balances {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tBALANCE")
	for _, p := range participants {
		fmt.Fprintf(w, "%s\t%s\n", p, plan.Balances[p])
	}
	_ = w.Flush()

	if plan.Empty() {
		fmt.Println("\nNo transfers needed; the unsettled expenses offset each other.")
		return
	}
	fmt.Println("\nProposed transfers:")
	for _, s := range plan.Settlements {
		fmt.Printf("  %s -> %s: %s\n", s.From, s.To, s.Amount)
	}
}
