package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"savitAPI/internal/types/challenge"
	"savitAPI/services"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The job ran but did not succeed
	ExitCommandError = 2 // Bad arguments, config or connection
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Success writes data as JSON, or text as-is in text mode.
func (f *OutputFormatter) Success(data interface{}, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprint(f.Writer, text)
	return err
}

// Failure writes a result that came back with an error.
func (f *OutputFormatter) Failure(data interface{}, text string, cause error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Data: data, Error: cause.Error()})
	}
	_, err := fmt.Fprintf(f.Writer, "%sError: %v\n", text, cause)
	return err
}

// VerboseLog goes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func formatRun(s *services.RunSummary) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", s.RunID, s.Job)
	if s.Job == services.JobProgress {
		fmt.Fprintf(&b, "  window:       (%s, %s]\n", formatTime(s.WindowStart), formatTime(s.WindowEnd))
		fmt.Fprintf(&b, "  transactions: %d seen, %d skipped\n", s.TransactionsSeen, s.TransactionsSkipped)
		fmt.Fprintf(&b, "  participants: %d updated, %d failed, %d duplicates\n", s.ParticipantsUpdated, s.ParticipantsFailed, s.DuplicatesSkipped)
	} else {
		fmt.Fprintf(&b, "  ending on:    %s\n", s.WindowEnd.Format("2006-01-02"))
		fmt.Fprintf(&b, "  promoted:     %d\n", s.ParticipantsPromoted)
	}
	fmt.Fprintf(&b, "  errors:       %d\n", s.Errors)
	return b.String()
}

func formatRuns(runs []services.RunSummary) string {
	if len(runs) == 0 {
		return "no runs recorded\n"
	}
	var b strings.Builder
	for _, r := range runs {
		status := "ok"
		if !r.Succeeded() {
			status = "FAILED: " + r.Error
		}
		fmt.Fprintf(&b, "%s  %-10s  %s  %s\n", formatTime(r.StartedAt), r.Job, r.RunID, status)
	}
	return b.String()
}

func formatFailed(failed []challenge.FailedParticipant) string {
	if len(failed) == 0 {
		return "no failed participants\n"
	}
	var b strings.Builder
	for _, f := range failed {
		fmt.Fprintf(&b, "%d  user=%s  challenge=%d %q  %s  at %s\n",
			f.ParticipationID, f.UserID, f.ChallengeID, f.ChallengeTitle, f.FailReason, formatTime(f.CompletedAt))
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
