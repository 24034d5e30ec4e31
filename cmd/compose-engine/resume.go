package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/compose-engine/internal/orchestrate"
	"github.com/pdiddy/compose-engine/internal/plan"
	"github.com/pdiddy/compose-engine/pkg/types"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id> <plan.yaml>",
	Short: "Resume an interrupted or partially failed run",
	Long: `Resume loads the run's last checkpoint and continues execution. Sections
that completed before the checkpoint are restored, not regenerated; failed
and blocked sections are re-attempted with the restored shared context.`,
	Args: cobra.ExactArgs(2),
	RunE: runResume,
}

func init() {
	addComposeFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]
	p, err := plan.Load(args[1])
	if err != nil {
		return err
	}

	opts, gen, cleanup, err := composeSetup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Checkpoints == nil {
		return fmt.Errorf("resume requires checkpointing; drop --no-checkpoint")
	}

	report, doc, runErr := orchestrate.New(p, gen, opts).Resume(cmd.Context(), runID)
	if report != nil {
		if err := writeOutputs(cmd, report, doc); err != nil {
			return err
		}
		printSummary(report)
	}
	if runErr != nil {
		return runErr
	}
	if report.State != types.RunCompleted {
		return fmt.Errorf("run %s finished in state %s", report.RunID, report.State)
	}
	return nil
}
