package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/davidroman0O/iflowpipe/config"
	"github.com/davidroman0O/iflowpipe/logging"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/report"
	"github.com/davidroman0O/iflowpipe/review"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/simulate"
)

var (
	reviewPackages    []string
	reviewIFlows      []string
	reviewCancelAfter time.Duration
)

// reviewCmd runs design reviews outside of a pipeline run
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run design guideline reviews as background jobs",
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a review job and follow its progress",
	Long: `Submits a review of the selected iFlows and prints the progress until the job
ends. Ctrl-C cancels the job; so does --cancel-after once the duration elapsed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(reviewPackages) == 0 || len(reviewIFlows) == 0 {
			exitf("Error: --packages and --iflows are required\n")
		}
		manager := newReviewManager()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		id, err := manager.Submit(ctx, review.Params{
			PackageIDs:  reviewPackages,
			IFlowIDs:    reviewIFlows,
			Environment: cfg.Environment,
		})
		if err != nil {
			exitf("Error submitting review: %v\n", err)
		}
		fmt.Printf("Submitted review job %s\n", id)

		job, err := followJob(ctx, manager, id)
		if err != nil {
			exitf("Error: %v\n", err)
		}
		printJob(job)
		if job.Status != review.StatusCompleted {
			os.Exit(1)
		}
		if rep, err := manager.Report(id); err == nil {
			fmt.Println()
			fmt.Print(report.Summary(rep))
		}
	},
}

var reviewCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Submit a review job and cancel it after a delay",
	Long: `Review jobs live in the process that submitted them. cancel submits a job like
submit does and cancels it after --after, which shows how a cancelled job ends.`,
	Run: func(cmd *cobra.Command, args []string) {
		if reviewCancelAfter <= 0 {
			reviewCancelAfter = time.Millisecond
		}
		reviewSubmitCmd.Run(cmd, args)
	},
}

func newReviewManager() *review.Manager {
	var ev rules.Evaluator
	if cfg.Rules.Evaluator == config.EvaluatorSimulated {
		ev = simulate.New(cfg.Simulation).Evaluator()
	} else {
		key, err := cfg.SecretKey()
		if err != nil {
			exitf("Error: %v\n", err)
		}
		reg, err := params.NewRegistry(params.WithKey(key), params.WithLogger(logging.Named(logger, "params")))
		if err != nil {
			exitf("Error creating parameter registry: %v\n", err)
		}
		ev = rules.NewMetadataEvaluator(reg, cfg.Environment)
	}

	exporter, err := report.NewExporter(osfs.New("."), cfg.Report.Dir, cfg.Report.Format)
	if err != nil {
		exitf("Error: %v\n", err)
	}
	manager, err := review.NewManager(loadCatalog(), rules.NewCatalog(rules.DefaultCatalog()), ev,
		review.WithExporter(exporter),
		review.WithLogger(logging.Named(logger, "review")),
		review.WithMetrics(meters),
	)
	if err != nil {
		exitf("Error creating review manager: %v\n", err)
	}
	return manager
}

// followJob prints progress until the job ends. An interrupt or the
// --cancel-after deadline cancels the job and keeps waiting for it.
func followJob(ctx context.Context, m *review.Manager, id string) (review.Job, error) {
	var deadline <-chan time.Time
	if reviewCancelAfter > 0 {
		deadline = time.After(reviewCancelAfter)
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	interrupted := ctx.Done()
	last := -1
	for {
		job, err := m.Get(id)
		if err != nil {
			return review.Job{}, err
		}
		if job.Progress != last {
			fmt.Printf("  %3d%% (%d/%d iFlows)\n", job.Progress, job.CompletedIFlows, job.TotalIFlows)
			last = job.Progress
		}
		if job.Status.Terminal() {
			return m.Wait(context.Background(), id)
		}

		select {
		case <-ticker.C:
		case <-interrupted:
			interrupted = nil
			fmt.Println("Interrupted, cancelling job")
			m.Cancel(id)
		case <-deadline:
			deadline = nil
			fmt.Printf("Cancelling job after %s\n", reviewCancelAfter)
			m.Cancel(id)
		}
	}
}

func printJob(j review.Job) {
	fmt.Printf("Job %s %s\n", j.ID, j.Status)
	for _, line := range j.Logs {
		fmt.Printf("  %s\n", line)
	}
	if j.Error != "" {
		fmt.Printf("  Error: %s\n", j.Error)
	}
	if j.ResultFile != "" {
		fmt.Printf("Result written to %s\n", j.ResultFile)
	}
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewSubmitCmd)
	reviewCmd.AddCommand(reviewCancelCmd)

	for _, c := range []*cobra.Command{reviewSubmitCmd, reviewCancelCmd} {
		c.Flags().StringSliceVar(&reviewPackages, "packages", nil, "Package IDs to review")
		c.Flags().StringSliceVar(&reviewIFlows, "iflows", nil, "iFlow IDs to review")
	}
	reviewSubmitCmd.Flags().DurationVar(&reviewCancelAfter, "cancel-after", 0, "Cancel the job after this duration")
	reviewCancelCmd.Flags().DurationVar(&reviewCancelAfter, "after", 0, "Delay before the job is cancelled")
}
