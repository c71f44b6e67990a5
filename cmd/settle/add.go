package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/settle-the-score/internal/model"
	"github.com/Veraticus/settle-the-score/internal/storage"
)

func addCmd() *cobra.Command {
	var (
		date         string
		category     string
		payer        string
		participants string
		description  string
	)

	cmd := &cobra.Command{
		Use:   "add <amount>",
		Short: "Record a single transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			amount, err := decimal.NewFromString(args[0])
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("amount must be a positive number, got %q", args[0])
			}

			when := time.Now()
			if date != "" {
				when, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
				}
			}

			txn := model.Transaction{
				ID:          uuid.NewString(),
				Date:        when,
				Amount:      amount,
				Category:    model.Category(category),
				Payer:       model.ParticipantID(payer),
				Description: description,
			}
			for _, p := range strings.Split(participants, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					txn.SplitAmong = append(txn.SplitAmong, model.ParticipantID(p))
				}
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

			var newParticipants []model.ParticipantID
			if txn.Payer != "" {
				newParticipants = append(newParticipants, txn.Payer)
			}
			newParticipants = append(newParticipants, txn.SplitAmong...)
			if len(newParticipants) > 0 {
				if err := store.SaveParticipants(ctx, newParticipants); err != nil {
					return err
				}
			}

			if err := store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
				return err
			}
			fmt.Printf("Recorded %s in %s (id %s).\n", amount, category, txn.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "transaction date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&category, "category", "", "spending category")
	cmd.Flags().StringVar(&payer, "payer", "", "who paid (enables group mode)")
	cmd.Flags().StringVar(&participants, "among", "", "comma-separated participants to split among")
	cmd.Flags().StringVar(&description, "description", "", "free-text note")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
