package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/settle-the-score/internal/common"
)

func anomaliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anomalies",
		Short: "Flag recent transactions that look out of pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			findings, err := eng.DetectAnomalies(ctx)
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				fmt.Println("Nothing looks out of pattern.")
				return nil
			}

			for _, f := range findings {
				fmt.Printf("[%s] %s  (%s)\n    id: %s\n", f.Severity, f.Message, f.Kind, f.ID)
			}
			fmt.Println("\nUse 'settle feedback <id> --accurate=<true|false>' to tune future detection.")
			return nil
		},
	}
}

func feedbackCmd() *cobra.Command {
	var accurate bool

	cmd := &cobra.Command{
		Use:   "feedback <anomaly-id>",
		Short: "Record whether a flagged anomaly was accurate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.RecordAnomalyFeedback(ctx, args[0], accurate); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(
						"no recorded anomaly has that id; run 'settle anomalies' to see current ids", err)
				}
				return err
			}
			fmt.Println("Feedback recorded.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&accurate, "accurate", true, "whether the flag was accurate")
	_ = cmd.MarkFlagRequired("accurate")
	return cmd
}
