package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savitAPI/internal/types/challenge"
	"savitAPI/services"
)

var kst = time.FixedZone("KST", 9*3600)

type recorder struct {
	mu          sync.Mutex
	calls       []string
	progressAt  []time.Time
	completedOn []time.Time
	failedAt    []time.Time
	remindedAt  []time.Time
	reminderErr error
	progressErr error
	failed      []challenge.FailedParticipant
	notified    int
}

func (r *recorder) ProcessNewTransactionsAsOf(ctx context.Context, asOf time.Time) (*services.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "progress")
	r.progressAt = append(r.progressAt, asOf)
	if r.progressErr != nil {
		return nil, r.progressErr
	}
	return &services.RunSummary{Job: services.JobProgress, TransactionsSeen: 3, ParticipantsFailed: 1}, nil
}

func (r *recorder) ProcessChallengesEndingOn(ctx context.Context, day time.Time) (*services.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "completion")
	r.completedOn = append(r.completedOn, day)
	return &services.RunSummary{Job: services.JobCompletion, ParticipantsPromoted: 2}, nil
}

func (r *recorder) FindFailedForCheckpoint(ctx context.Context, boundary time.Time) ([]challenge.FailedParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "failures")
	r.failedAt = append(r.failedAt, boundary)
	return r.failed, nil
}

func (r *recorder) SendReminders(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "reminders")
	r.remindedAt = append(r.remindedAt, now)
	if r.reminderErr != nil {
		return 0, r.reminderErr
	}
	return 2, nil
}

func (r *recorder) NotifyChallengeFailures(ctx context.Context, failed []challenge.FailedParticipant) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "notify")
	r.notified += len(failed)
	return len(failed)
}

func newTestScheduler(r *recorder) *Scheduler {
	return NewScheduler(r, r, r, r, kst)
}

func TestRunCheckpointDaytime(t *testing.T) {
	r := &recorder{}
	boundary := time.Date(2025, 7, 10, 12, 0, 0, 0, kst)

	newTestScheduler(r).RunCheckpoint(boundary)

	assert.Equal(t, []string{"progress", "failures"}, r.calls)
	assert.Equal(t, []time.Time{boundary}, r.progressAt)
	assert.Equal(t, []time.Time{boundary}, r.failedAt)
}

func TestRunCheckpointMidnightSweepsPreviousDay(t *testing.T) {
	r := &recorder{failed: []challenge.FailedParticipant{{UserID: uuid.New(), ChallengeID: 1}}}
	boundary := time.Date(2025, 8, 1, 0, 0, 0, 0, kst)

	newTestScheduler(r).RunCheckpoint(boundary)

	assert.Equal(t, []string{"progress", "failures", "notify", "completion"}, r.calls)
	require.Len(t, r.completedOn, 1)
	assert.Equal(t, time.July, r.completedOn[0].Month())
	assert.Equal(t, 31, r.completedOn[0].Day())
	assert.Equal(t, []time.Time{boundary}, r.failedAt)
	assert.Equal(t, 1, r.notified)
}

func TestRunCheckpointProgressFailure(t *testing.T) {
	r := &recorder{progressErr: errors.New("db down")}

	newTestScheduler(r).RunCheckpoint(time.Date(2025, 7, 10, 6, 0, 0, 0, kst))

	assert.Equal(t, []string{"progress"}, r.calls)
}

func TestRunCheckpointMidnightStillSweepsAfterProgressFailure(t *testing.T) {
	r := &recorder{progressErr: services.ErrRunInProgress}

	newTestScheduler(r).RunCheckpoint(time.Date(2025, 7, 11, 0, 0, 0, 0, kst))

	assert.Equal(t, []string{"progress", "completion"}, r.calls)
}

func TestSchedulerNextPicksEarliestJob(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r)

	now := time.Date(2025, 7, 10, 19, 30, 0, 0, kst)
	next, _ := s.next(now)
	assert.Equal(t, time.Date(2025, 7, 11, 0, 0, 0, 0, kst), next, "no reminders without a runner")

	s.SetReminders(r)
	next, run := s.next(now)
	assert.Equal(t, time.Date(2025, 7, 10, 22, 0, 0, 0, kst), next)
	run(next)
	assert.Equal(t, []string{"reminders"}, r.calls)

	next, _ = s.next(time.Date(2025, 7, 10, 22, 0, 0, 0, kst))
	assert.Equal(t, time.Date(2025, 7, 11, 0, 0, 0, 0, kst), next)

	next, _ = s.next(time.Date(2025, 7, 10, 13, 0, 0, 0, kst))
	assert.Equal(t, time.Date(2025, 7, 10, 18, 0, 0, 0, kst), next)
}

func TestNextReminderUsesLocalHour(t *testing.T) {
	// 12:00 UTC is 21:00 KST.
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC).In(kst)
	assert.Equal(t, time.Date(2025, 7, 10, 22, 0, 0, 0, kst), nextReminder(now))
	assert.Equal(t, time.Date(2025, 7, 11, 22, 0, 0, 0, kst), nextReminder(time.Date(2025, 7, 10, 23, 0, 0, 0, kst)))
}

func TestRunReminders(t *testing.T) {
	r := &recorder{}
	s := newTestScheduler(r)
	s.SetReminders(r)

	before := testutil.ToFloat64(notificationsQueued.WithLabelValues("REMINDER"))
	at := time.Date(2025, 7, 10, 22, 0, 0, 0, kst)
	s.RunReminders(at)

	assert.Equal(t, []time.Time{at}, r.remindedAt)
	assert.Equal(t, before+2, testutil.ToFloat64(notificationsQueued.WithLabelValues("REMINDER")))

	r.reminderErr = errors.New("db down")
	s.RunReminders(at)
	assert.Equal(t, before+2, testutil.ToFloat64(notificationsQueued.WithLabelValues("REMINDER")))
}

func TestSchedulerStop(t *testing.T) {
	s := newTestScheduler(&recorder{})
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestObserveRun(t *testing.T) {
	okBefore := testutil.ToFloat64(batchRunsTotal.WithLabelValues("progress", "ok"))
	errBefore := testutil.ToFloat64(batchRunsTotal.WithLabelValues("completion", "error"))
	skippedBefore := testutil.ToFloat64(batchRunsTotal.WithLabelValues("progress", "skipped"))
	seenBefore := testutil.ToFloat64(transactionsProcessed)
	promotedBefore := testutil.ToFloat64(participantsPromoted)

	ObserveRun(services.JobProgress, &services.RunSummary{TransactionsSeen: 4}, nil, time.Second)
	ObserveRun(services.JobCompletion, &services.RunSummary{ParticipantsPromoted: 2}, errors.New("boom"), time.Second)
	ObserveRun(services.JobProgress, nil, services.ErrRunInProgress, 0)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(batchRunsTotal.WithLabelValues("progress", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(batchRunsTotal.WithLabelValues("completion", "error")))
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(batchRunsTotal.WithLabelValues("progress", "skipped")))
	assert.Equal(t, seenBefore+4, testutil.ToFloat64(transactionsProcessed))
	assert.Equal(t, promotedBefore+2, testutil.ToFloat64(participantsPromoted))
}
