package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/appraisal-agent/internal/db"
	"github.com/jonathan/appraisal-agent/internal/observability"
	"github.com/jonathan/appraisal-agent/internal/records"
)

var (
	historyUser   string
	historyLimit  int
	historyOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's stored appraisals",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyUser, "user", "u", "", "User ID (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of appraisals")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Number of appraisals to skip")
	_ = historyCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	owner, err := uuid.Parse(historyUser)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	if historyLimit < 1 || historyLimit > 100 {
		return fmt.Errorf("--limit must be between 1 and 100")
	}
	if historyOffset < 0 {
		return fmt.Errorf("--offset must not be negative")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	database, err := db.Connect(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	recs, total, err := database.ListAppraisalsByOwner(cmd.Context(), owner, historyLimit, historyOffset)
	if err != nil {
		return fmt.Errorf("failed to list appraisals: %w", err)
	}

	items := make([]records.DisplayResult, 0, len(recs))
	for i := range recs {
		items = append(items, records.BuildRecordDisplay(&recs[i], ""))
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintHistory(items, total)
	return nil
}
