package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/uploadpoll"
	"github.com/jpalmerr/uploadpoll/config"
)

// watchCmd polls one or more jobs until each produces an outcome.
var watchCmd = &cobra.Command{
	Use:   "watch JOB_ID[/FILE_ID]...",
	Short: "Poll jobs until they are done",
	Long: `Poll the status endpoint for each job until it produces an outcome,
then print one line per job:

  <job>  <outcome>  <attempts>  <elapsed>  [destination]

The destination column is printed when the config has a destinations
section.

Exit codes:
  0 - Every job is ready
  1 - At least one job ended with another outcome, or was interrupted

Example:
  uploadpoll watch -c config.yaml abc123
  uploadpoll watch -c config.yaml abc123/file-1 abc123/file-2 --concurrency 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	watchCmd.Flags().Int("concurrency", 0, "maximum jobs polled at once (0 = all)")
	watchCmd.Flags().Duration("timeout", 0, "give up on all jobs after this long (0 = no limit)")
	watchCmd.Flags().BoolP("verbose", "v", false, "log every status check")
	_ = watchCmd.MarkFlagRequired("config")
}

// parseJobArg splits "job" or "job/file" into a JobRef.
func parseJobArg(arg string) (uploadpoll.JobRef, error) {
	id, file, _ := strings.Cut(arg, "/")
	job := uploadpoll.JobRef{ID: strings.TrimSpace(id), FileID: strings.TrimSpace(file)}
	if err := job.Validate(); err != nil {
		return uploadpoll.JobRef{}, fmt.Errorf("job %q: %w", arg, err)
	}
	return job, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	jobs := make([]uploadpoll.JobRef, 0, len(args))
	for _, arg := range args {
		job, err := parseJobArg(arg)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tracker, err := config.BuildTracker(cfg,
		[]uploadpoll.Option{uploadpoll.WithLogger(logger)},
		uploadpoll.WithTrackerLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return watchJobs(ctx, tracker, jobs, concurrency, cmd.OutOrStdout())
}

// watchJobs awaits every job and reports one line per job in argument
// order. It returns an error unless every job is ready.
func watchJobs(ctx context.Context, tracker *uploadpoll.Tracker, jobs []uploadpoll.JobRef, concurrency int, out io.Writer) error {
	type report struct {
		result      uploadpoll.Result
		destination string
		err         error
	}
	reports := make([]report, len(jobs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, job := range jobs {
		g.Go(func() error {
			res, dest, err := tracker.Await(ctx, job)
			reports[i] = report{result: res, destination: dest, err: err}
			return nil
		})
	}
	_ = g.Wait()

	notReady := 0
	for i, r := range reports {
		if r.err != nil {
			notReady++
			fmt.Fprintf(out, "%s\tinterrupted\t%v\n", jobs[i], r.err)
			continue
		}
		if r.result.Outcome != uploadpoll.OutcomeReady {
			notReady++
		}
		line := fmt.Sprintf("%s\t%s\t%d\t%s", jobs[i], r.result.Outcome, r.result.Attempts,
			r.result.Elapsed().Round(time.Millisecond))
		if r.destination != "" {
			line += "\t" + r.destination
		}
		fmt.Fprintln(out, line)
	}

	if notReady > 0 {
		return fmt.Errorf("%d of %d jobs did not become ready", notReady, len(jobs))
	}
	return nil
}
