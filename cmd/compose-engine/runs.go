package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/compose-engine/internal/persist"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and prune checkpointed runs",
	Long: `Runs lists every run with a stored checkpoint: its ID, plan title, the last
committed wave, and when the checkpoint was taken. Use --delete to remove a
run's checkpoints once it is no longer needed.`,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().String("db", "compose/checkpoints.db", "SQLite checkpoint database path")
	runsCmd.Flags().String("delete", "", "delete all checkpoints for the given run ID")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	store, err := persist.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID, _ := cmd.Flags().GetString("delete"); runID != "" {
		if err := store.Delete(cmd.Context(), runID); err != nil {
			return err
		}
		fmt.Printf("deleted checkpoints for run %s\n", runID)
		return nil
	}

	summaries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no checkpointed runs")
		return nil
	}

	for _, s := range summaries {
		fmt.Printf("%s  wave %d  %s  %q\n",
			s.RunID, s.Wave, s.TakenAt.Format("2006-01-02 15:04:05"), s.PlanTitle)
	}
	return nil
}
