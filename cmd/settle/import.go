package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/settle-the-score/internal/ingest"
	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/storage"
)

func importCmd() *cobra.Command {
	var relearn bool

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import transactions from a CSV export",
		Long: `Imports transactions from a CSV file produced by the chat layer or
exported by hand. Required columns: date, amount, category. Optional:
id, payer, participants (pipe-separated), description.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = file.Close() }()

			result, err := ingest.ParseCSV(file)
			if err != nil {
				return err
			}
			if len(result.Transactions) == 0 {
				fmt.Println("No importable transactions found.")
				return nil
			}

			path, err := databasePath()
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStorage(path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if len(result.Participants) > 0 {
				if err := store.SaveParticipants(ctx, result.Participants); err != nil {
					return err
				}
			}

			bar := progressbar.Default(int64(len(result.Transactions)), "importing")
			batch := make([]model.Transaction, 0, 100)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := store.SaveTransactions(ctx, batch); err != nil {
					return err
				}
				_ = bar.Add(len(batch))
				batch = batch[:0]
				return nil
			}
			for _, txn := range result.Transactions {
				batch = append(batch, txn)
				if len(batch) == cap(batch) {
					if err := flush(); err != nil {
						return err
					}
				}
			}
			if err := flush(); err != nil {
				return err
			}

			fmt.Printf("\nImported %d transactions (%d rows skipped).\n",
				len(result.Transactions), result.Skipped)

			if relearn {
				// Release the import handle before the engine opens its own.
				_ = store.Close()

				eng, cleanup, err := openEngine(ctx)
				if err != nil {
					return err
				}
				defer cleanup()
				if _, err := eng.LearnPatterns(ctx); err != nil {
					return err
				}
				fmt.Println("Baselines relearned.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&relearn, "learn", true, "relearn baselines after import")
	return cmd
}
