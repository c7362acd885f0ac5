package workers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"savitAPI/internal/types/challenge"
	"savitAPI/services"
)

// ReminderHour is the local hour start and end reminders go out.
const ReminderHour = 22

type progressRunner interface {
	ProcessNewTransactionsAsOf(ctx context.Context, asOf time.Time) (*services.RunSummary, error)
}

type completionRunner interface {
	ProcessChallengesEndingOn(ctx context.Context, day time.Time) (*services.RunSummary, error)
}

type failureFeed interface {
	FindFailedForCheckpoint(ctx context.Context, boundary time.Time) ([]challenge.FailedParticipant, error)
}

type failureNotifier interface {
	NotifyChallengeFailures(ctx context.Context, failed []challenge.FailedParticipant) int
}

type reminderRunner interface {
	SendReminders(ctx context.Context, now time.Time) (int, error)
}

// Scheduler fires the progress batch on every six-hour boundary and the
// completion sweep once a day at midnight. With reminders set it also sends
// start and end reminders at ReminderHour.
type Scheduler struct {
	progress   progressRunner
	completion completionRunner
	failures   failureFeed
	notifier   failureNotifier
	reminders  reminderRunner
	loc        *time.Location
	now        func() time.Time
	runTimeout time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(progress progressRunner, completion completionRunner, failures failureFeed, notifier failureNotifier, loc *time.Location) *Scheduler {
	return &Scheduler{
		progress:   progress,
		completion: completion,
		failures:   failures,
		notifier:   notifier,
		loc:        loc,
		now:        time.Now,
		runTimeout: 30 * time.Minute,
		stopChan:   make(chan struct{}),
	}
}

func (s *Scheduler) SetReminders(r reminderRunner) {
	s.reminders = r
}

// Start launches the scheduling loop in the background.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	next, _ := s.next(s.now())
	log.Printf("Challenge scheduler started, next run at %s", next.Format(time.RFC3339))
}

// next returns the next time something is due after now and the func that
// runs it.
func (s *Scheduler) next(now time.Time) (time.Time, func(time.Time)) {
	now = now.In(s.loc)
	at, run := services.NextCheckpoint(now), s.RunCheckpoint
	if s.reminders != nil {
		if r := nextReminder(now); r.Before(at) {
			at, run = r, s.RunReminders
		}
	}
	return at, run
}

func nextReminder(t time.Time) time.Time {
	y, m, d := t.Date()
	next := time.Date(y, m, d, ReminderHour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		next, run := s.next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			run(next)
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// RunCheckpoint does everything due at boundary: the progress batch, fail
// notifications for today and, at midnight, the sweep of the day that just
// ended. The progress run goes first so the last day's spending counts.
func (s *Scheduler) RunCheckpoint(boundary time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	boundary = boundary.In(s.loc)
	s.runProgress(ctx, boundary)

	if boundary.Hour() == 0 && boundary.Minute() == 0 {
		s.runCompletion(ctx, boundary.AddDate(0, 0, -1))
	}
}

func (s *Scheduler) runProgress(ctx context.Context, boundary time.Time) {
	start := time.Now()
	summary, err := s.progress.ProcessNewTransactionsAsOf(ctx, boundary)
	observeRun(services.JobProgress, summary, err, time.Since(start))
	if errors.Is(err, services.ErrRunInProgress) {
		log.Printf("Skipping progress run at %s: previous run still active", boundary.Format(time.RFC3339))
		return
	}
	if err != nil {
		log.Printf("Progress run at %s failed: %v", boundary.Format(time.RFC3339), err)
		return
	}

	failed, err := s.failures.FindFailedForCheckpoint(ctx, boundary)
	if err != nil {
		log.Printf("Failed to load failed participants: %v", err)
		return
	}
	if len(failed) > 0 {
		queued := s.notifier.NotifyChallengeFailures(ctx, failed)
		notificationsQueued.WithLabelValues("FAIL").Add(float64(queued))
	}
}

// RunReminders sends the reminders for challenges starting or ending the
// day after at.
func (s *Scheduler) RunReminders(at time.Time) {
	if s.reminders == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	queued, err := s.reminders.SendReminders(ctx, at.In(s.loc))
	if err != nil {
		log.Printf("Reminder run at %s failed: %v", at.Format(time.RFC3339), err)
		return
	}
	notificationsQueued.WithLabelValues("REMINDER").Add(float64(queued))
}

func (s *Scheduler) runCompletion(ctx context.Context, day time.Time) {
	start := time.Now()
	summary, err := s.completion.ProcessChallengesEndingOn(ctx, day)
	observeRun(services.JobCompletion, summary, err, time.Since(start))
	if err != nil {
		log.Printf("Completion run for %s failed: %v", day.Format("2006-01-02"), err)
	}
}

// Stop waits for an in-flight checkpoint to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Println("Stopping challenge scheduler...")
		close(s.stopChan)
		s.wg.Wait()
		log.Println("Challenge scheduler stopped")
	})
}
