package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"savitAPI/internal/config"
	"savitAPI/internal/db/migrate"
	"savitAPI/services"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}

	for _, direction := range []string{"up", "down"} {
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: fmt.Sprintf("Run migrations %s", direction),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				out := newFormatter(cmd, opts)
				cfg, err := config.Load()
				if err != nil {
					return WrapExitError(ExitCommandError, "load config", err)
				}

				err = migrate.Run(cfg.DatabaseURL, direction)
				if errors.Is(err, migrate.ErrNoChange) {
					return out.Success(map[string]string{"migrate": direction, "result": "no change"}, "migrate: no change\n")
				}
				if err != nil {
					return WrapExitError(ExitFailure, "migrate "+direction, err)
				}
				return out.Success(map[string]string{"migrate": direction, "result": "ok"}, fmt.Sprintf("migrate %s: ok\n", direction))
			},
		})
	}
	return cmd
}

func NewProgressCommand(opts *RootOptions) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Apply new card transactions to running challenges",
		Long:  "Runs one progress batch over the transactions created since the last successful run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var at time.Time
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --as-of", err)
				}
				at = t
			}

			out := newFormatter(cmd, opts)
			a, err := openApp(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary *services.RunSummary
			if at.IsZero() {
				summary, err = a.Progress.ProcessNewTransactions(cmd.Context())
			} else {
				summary, err = a.Progress.ProcessNewTransactionsAsOf(cmd.Context(), at)
			}
			return reportRun(out, summary, err)
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "end of the window (RFC3339), defaults to now")
	return cmd
}

func NewCompletionCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "completion",
		Short: "Promote participants of challenges ending on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				if _, err := time.Parse("2006-01-02", date); err != nil {
					return WrapExitError(ExitCommandError, "invalid --date", err)
				}
			}

			out := newFormatter(cmd, opts)
			a, err := openApp(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary *services.RunSummary
			if date == "" {
				summary, err = a.Completion.ProcessCompletedChallenges(cmd.Context())
			} else {
				day, _ := time.ParseInLocation("2006-01-02", date, a.Config.Location())
				summary, err = a.Completion.ProcessChallengesEndingOn(cmd.Context(), day)
			}
			return reportRun(out, summary, err)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "end date to sweep (YYYY-MM-DD), defaults to today")
	return cmd
}

func NewCompleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <challenge-id>",
		Short: "Promote the remaining participants of one challenge now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			challengeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || challengeID <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid challenge id %q", args[0]))
			}

			out := newFormatter(cmd, opts)
			a, err := openApp(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer a.Close()

			promoted, err := a.Completion.ProcessSpecificChallenge(cmd.Context(), challengeID)
			if errors.Is(err, services.ErrChallengeNotFound) {
				return NewExitError(ExitCommandError, fmt.Sprintf("challenge %d not found", challengeID))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "complete challenge", err)
			}

			return out.Success(
				map[string]any{"challenge_id": challengeID, "promoted": promoted},
				fmt.Sprintf("challenge %d: %d participants promoted\n", challengeID, promoted),
			)
		},
	}
}

func NewFailedCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List participants who failed on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				if _, err := time.Parse("2006-01-02", date); err != nil {
					return WrapExitError(ExitCommandError, "invalid --date", err)
				}
			}

			out := newFormatter(cmd, opts)
			a, err := openApp(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer a.Close()

			day := time.Now().In(a.Config.Location())
			if date != "" {
				day, _ = time.ParseInLocation("2006-01-02", date, a.Config.Location())
			}

			failed, err := a.Failures.FindFailedOn(cmd.Context(), day)
			if err != nil {
				return WrapExitError(ExitFailure, "list failed participants", err)
			}
			return out.Success(failed, formatFailed(failed))
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to list (YYYY-MM-DD), defaults to today")
	return cmd
}

func NewRunsCommand(opts *RootOptions) *cobra.Command {
	var (
		job   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent batch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if job != "" && job != services.JobProgress && job != services.JobCompletion {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown job %q", job))
			}
			if limit < 1 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}

			out := newFormatter(cmd, opts)
			a, err := openApp(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Runs.RecentRuns(cmd.Context(), job, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "list runs", err)
			}
			return out.Success(runs, formatRuns(runs))
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "progress or completion, all when empty")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func reportRun(out *OutputFormatter, summary *services.RunSummary, err error) error {
	if errors.Is(err, services.ErrRunInProgress) {
		return NewExitError(ExitFailure, "a run is already in progress")
	}
	if err != nil {
		if ferr := out.Failure(summary, formatRun(summary), err); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}
	return out.Success(summary, formatRun(summary))
}
