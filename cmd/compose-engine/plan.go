package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/compose-engine/internal/plan"
	"github.com/pdiddy/compose-engine/internal/schedule"
)

var planCmd = &cobra.Command{
	Use:   "plan <plan.yaml>",
	Short: "Validate a plan and show its execution waves",
	Long: `Plan loads a plan file, validates its structure and dependency graph, and
prints the wave schedule: which sections run together and in what order.
Nothing is generated.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	sched, err := schedule.Build(p)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d section(s), %d wave(s)\n\n", p.Title, len(p.Sections), len(sched.Waves()))
	for _, w := range sched.Waves() {
		fmt.Printf("wave %d:\n", w.Index)
		for _, id := range w.SectionIDs {
			sec := p.Section(id)
			if len(sec.DependsOn) > 0 {
				fmt.Printf("  %-20s (after %v)\n", id, sec.DependsOn)
			} else {
				fmt.Printf("  %s\n", id)
			}
		}
	}

	fmt.Fprintln(os.Stderr, "\nplan is valid")
	return nil
}
