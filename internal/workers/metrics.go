package workers

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"savitAPI/services"
)

var (
	batchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_batch_runs_total",
			Help: "Total number of challenge batch runs",
		},
		[]string{"job", "result"},
	)
	batchRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "challenge_batch_run_duration_seconds",
			Help:    "Duration of challenge batch runs",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)
	transactionsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_transactions_processed_total",
			Help: "Card transactions read by progress runs",
		},
	)
	participantsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_participants_failed_total",
			Help: "Participants moved to FAIL",
		},
	)
	participantsPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_participants_promoted_total",
			Help: "Participants moved to SUCCESS",
		},
	)
	notificationsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_notifications_queued_total",
			Help: "Challenge push notifications queued",
		},
		[]string{"kind"},
	)
)

// RegisterMetrics registers the batch metrics on reg. Call this from main.go
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		batchRunsTotal,
		batchRunDuration,
		transactionsProcessed,
		participantsFailed,
		participantsPromoted,
		notificationsQueued,
	)
}

// ObserveRun records one batch run. Manual triggers use it too.
func ObserveRun(job string, summary *services.RunSummary, err error, took time.Duration) {
	observeRun(job, summary, err, took)
}

func observeRun(job string, summary *services.RunSummary, err error, took time.Duration) {
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		batchRunsTotal.WithLabelValues(job, "skipped").Inc()
		return
	case err != nil:
		batchRunsTotal.WithLabelValues(job, "error").Inc()
	default:
		batchRunsTotal.WithLabelValues(job, "ok").Inc()
	}
	batchRunDuration.WithLabelValues(job).Observe(took.Seconds())

	if summary == nil {
		return
	}
	transactionsProcessed.Add(float64(summary.TransactionsSeen))
	participantsFailed.Add(float64(summary.ParticipantsFailed))
	participantsPromoted.Add(float64(summary.ParticipantsPromoted))
}
