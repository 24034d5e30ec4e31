package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/compose-engine/internal/orchestrate"
	"github.com/pdiddy/compose-engine/internal/persist"
	"github.com/pdiddy/compose-engine/internal/place"
	"github.com/pdiddy/compose-engine/internal/plan"
	"github.com/pdiddy/compose-engine/internal/sandbox"
	"github.com/pdiddy/compose-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a plan and assemble the document",
	Long: `Run executes a plan wave by wave: sections whose dependencies are satisfied
run concurrently, sharing context through the wave-boundary snapshot store.
After the last wave the completed sections are assembled into a single
document with elements placed and captions numbered.

A checkpoint is committed after every wave; use "compose-engine resume" to
continue an interrupted or partially failed run.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	addComposeFlags(runCmd)
	runCmd.Flags().Bool("dry-run", false, "generate placeholder prose instead of calling the AI backend")

	rootCmd.AddCommand(runCmd)
}

// addComposeFlags registers the flags shared by run and resume.
func addComposeFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "claude-sonnet-4-5-20250929", "AI model identifier for generation")
	cmd.Flags().String("api-key", "", "Anthropic API key (default: .secrets/anthropic-api-key)")
	cmd.Flags().Int("max-retries", 3, "retry attempts per generation call")
	cmd.Flags().String("output", "output/document.md", "path for the assembled Markdown document")
	cmd.Flags().String("report", "output/report.yaml", "path for the run report")
	cmd.Flags().Int("workers", 4, "concurrent section tasks per wave")
	cmd.Flags().Duration("section-timeout", 0, "per-section deadline (default 10m)")
	cmd.Flags().StringSlice("critical", nil, "section IDs whose failure aborts the run")
	cmd.Flags().String("db", "compose/checkpoints.db", "SQLite checkpoint database path")
	cmd.Flags().Bool("no-checkpoint", false, "disable wave checkpointing")
	cmd.Flags().String("sandbox-image", "", "container image for auxiliary code tasks (empty disables sandboxing)")
	cmd.Flags().Bool("verbose", false, "enable structured debug logging")
}

// composeSetup builds the orchestrator collaborators from flags. The caller
// owns the returned cleanup.
func composeSetup(cmd *cobra.Command) (orchestrate.Options, orchestrate.Generator, func(), error) {
	cleanup := func() {}

	verbose, _ := cmd.Flags().GetBool("verbose")
	log := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return orchestrate.Options{}, nil, cleanup, err
		}
		log = l
	}

	workers, _ := cmd.Flags().GetInt("workers")
	sectionTimeout, _ := cmd.Flags().GetDuration("section-timeout")
	critical, _ := cmd.Flags().GetStringSlice("critical")

	opts := orchestrate.Options{
		Config: types.OrchestratorConfig{
			Workers:          workers,
			SectionTimeout:   sectionTimeout,
			CriticalSections: critical,
		},
		Logger:   log,
		Progress: os.Stderr,
	}

	noCkpt, _ := cmd.Flags().GetBool("no-checkpoint")
	if !noCkpt {
		dbPath, _ := cmd.Flags().GetString("db")
		store, err := persist.NewSQLiteStore(dbPath)
		if err != nil {
			return orchestrate.Options{}, nil, cleanup, err
		}
		opts.Checkpoints = store
		cleanup = func() { store.Close() }
	}

	if image, _ := cmd.Flags().GetString("sandbox-image"); image != "" {
		rt, err := sandbox.DetectRuntime()
		if err != nil {
			cleanup()
			return orchestrate.Options{}, nil, func() {}, err
		}
		opts.Sandbox = sandbox.NewExecutor(types.SandboxConfig{Image: image}, rt, log)
	}

	var gen orchestrate.Generator
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		gen = orchestrate.EchoGenerator{}
	} else {
		apiKey, _ := cmd.Flags().GetString("api-key")
		apiKey = secretDefault("anthropic-api-key", apiKey)
		if apiKey == "" {
			cleanup()
			return orchestrate.Options{}, nil, func() {}, fmt.Errorf(
				"no API key: pass --api-key, set .secrets/anthropic-api-key, or use --dry-run")
		}
		model, _ := cmd.Flags().GetString("model")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		gen = orchestrate.NewClaudeGenerator(types.GeneratorConfig{
			Model:      model,
			APIKey:     apiKey,
			MaxRetries: maxRetries,
		})
	}

	return opts, gen, cleanup, nil
}

// writeOutputs persists the rendered document and the run report.
func writeOutputs(cmd *cobra.Command, report *types.RunReport, doc *types.PlacedDocument) error {
	reportPath, _ := cmd.Flags().GetString("report")
	if reportPath != "" {
		if err := writeYAML(reportPath, report); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "report written to %s\n", reportPath)
	}

	if doc == nil {
		return nil
	}
	outPath, _ := cmd.Flags().GetString("output")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(place.RenderMarkdown(doc)), 0o644); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	fmt.Fprintf(os.Stderr, "document written to %s\n", outPath)
	return nil
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	opts, gen, cleanup, err := composeSetup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, doc, runErr := orchestrate.New(p, gen, opts).Run(cmd.Context())
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

// printSummary prints one line per section plus resume guidance on failure.
func printSummary(report *types.RunReport) {
	fmt.Printf("\nrun %s: %s\n", report.RunID, report.State)
	for _, s := range report.Sections {
		switch s.Status {
		case types.StatusFailed:
			fmt.Printf("  failed    %-20s wave %d  %s: %s\n", s.ID, s.Wave, s.FailureKind, s.Message)
		case types.StatusBlocked:
			fmt.Printf("  blocked   %-20s wave %d\n", s.ID, s.Wave)
		default:
			fmt.Printf("  %-9s %-20s wave %d  %s\n", s.Status, s.ID, s.Wave, s.Duration.Round(time.Millisecond))
		}
	}
	if len(report.Failed()) > 0 {
		fmt.Printf("\nresume with: compose-engine resume %s <plan.yaml>\n", report.RunID)
	}
}
