package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/iflowpipe"
	"github.com/davidroman0O/iflowpipe/pipeline"
	"github.com/davidroman0O/iflowpipe/report"
	"github.com/davidroman0O/iflowpipe/workflows"
)

var (
	runPackages  []string
	runIFlows    []string
	runSeed      int64
	runReportDir string
	runResume    bool
)

// runCmd drives a selection through every stage
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline for a selection of packages and iFlows",
	Long: `Runs the eight stages in order for the selected iFlows and stops at the first
gate that refuses. The run report is written to the report directory either way.

With --resume the run saved at state.path continues where it stopped: failed
units of the current stage are retried, then the remaining stages run.

Example:
  iflowpipe run --packages pkg-orders --iflows if-ord-create,if-ord-status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("seed") {
			cfg.Simulation.Seed = runSeed
		}
		if runReportDir != "" {
			cfg.Report.Dir = runReportDir
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		session, err := iflowpipe.New(
			iflowpipe.WithConfig(cfg),
			iflowpipe.WithLogger(logger),
			iflowpipe.WithMetrics(meters),
			iflowpipe.WithCatalog(loadCatalog()),
		)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		defer session.Close()

		resumed := false
		if runResume {
			if resumed, err = session.Resume(ctx); err != nil {
				return fmt.Errorf("resuming run: %w", err)
			}
			if resumed {
				fmt.Printf("Resumed run %s at %s\n", session.ID(), session.Current())
			}
		}
		if !resumed && (len(runPackages) == 0 || len(runIFlows) == 0) {
			return fmt.Errorf("--packages and --iflows are required")
		}

		runErr := drive(ctx, session, resumed)

		rep, err := session.Report()
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}
		fmt.Println()
		fmt.Print(report.Summary(rep))

		path, err := session.ExportReport()
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", path)
		return runErr
	},
}

// drive runs the remaining stages of the session. A resumed run first
// retries the failed units of the stage it stopped at.
func drive(ctx context.Context, session *iflowpipe.Session, resumed bool) error {
	if session.Finished() {
		fmt.Printf("Run %s already finished\n", session.ID())
		return nil
	}
	if resumed && session.Current() >= pipeline.StageUpload {
		stage := session.Current()
		gate, err := session.RetryFailed(ctx)
		if err != nil {
			return fmt.Errorf("retrying %s: %w", stage, err)
		}
		if !gate.Passed {
			fmt.Printf("Stage %d: %s - REFUSED\n  Reason: %s\n", stage, stage, gate.Reason)
			return fmt.Errorf("run %s stopped at %s", session.ID(), stage)
		}
		fmt.Printf("Stage %d: %s - PASSED after retry\n", stage, stage)
		if session.Finished() {
			return nil
		}
	}

	res := session.Continue(ctx, runPackages, runIFlows)
	fmt.Print(workflows.FormatResult(res))
	if res.Err != nil {
		return fmt.Errorf("run %s stopped at %s", session.ID(), session.Current())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runPackages, "packages", nil, "Package IDs to select")
	runCmd.Flags().StringSliceVar(&runIFlows, "iflows", nil, "iFlow IDs to select")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Seed of the simulated providers")
	runCmd.Flags().StringVar(&runReportDir, "report-dir", "", "Directory the run report is written to")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the run saved at state.path")
}
