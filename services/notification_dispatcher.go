package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	notify "savitAPI/internal/notification"
	"savitAPI/internal/types/challenge"
	"savitAPI/internal/types/notification"
)

type PushNotificationProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

type notificationStore interface {
	FindDeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error)
	HistoryExists(ctx context.Context, userID uuid.UUID, challengeID int64, kind notification.Kind, targetDate string) (bool, error)
	RecordHistory(ctx context.Context, h *notification.History) (bool, error)
	DeleteHistory(ctx context.Context, id int64) error
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Retention time.Duration
	Location  *time.Location
}

// NotificationDispatcher sends challenge pushes from a worker pool. Each
// (user, challenge, kind) gets at most one push per target date: the day the
// participant failed, the challenge's end date for a success, and the start
// or end date a reminder is about.
type NotificationDispatcher struct {
	store        notificationStore
	pushProvider PushNotificationProvider
	workers      int
	retention    time.Duration
	loc          *time.Location
	now          func() time.Time
	jobQueue     chan *notification.ChallengeNotification
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewNotificationDispatcher(store notificationStore, opts DispatcherOptions) *NotificationDispatcher {
	if opts.Workers < 1 {
		opts.Workers = 5
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &NotificationDispatcher{
		store:     store,
		workers:   opts.Workers,
		retention: opts.Retention,
		loc:       opts.Location,
		now:       time.Now,
		jobQueue:  make(chan *notification.ChallengeNotification, opts.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Allow injecting the real FCM provider from main.go
func (d *NotificationDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

// Start launches the worker pool and the daily history cleanup.
func (d *NotificationDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.wg.Add(1)
	go d.cleanupHistory()
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobQueue:
			d.processJob(job)
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) dateKey(t time.Time) string {
	return t.In(d.loc).Format("20060102")
}

func (d *NotificationDispatcher) targetDate(n *notification.ChallengeNotification) string {
	if n.TargetDate != "" {
		return n.TargetDate
	}
	return d.dateKey(d.now())
}

func (d *NotificationDispatcher) processJob(n *notification.ChallengeNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.pushProvider == nil {
		log.Printf("Skipping %s push for user %s: no push provider", n.Kind, n.UserID)
		return
	}

	tokens, err := d.store.FindDeviceTokens(ctx, n.UserID)
	if err != nil {
		log.Printf("Failed to load device tokens for user %s: %v", n.UserID, err)
		return
	}
	if len(tokens) == 0 {
		log.Printf("Skipping %s push for user %s: no device tokens", n.Kind, n.UserID)
		return
	}

	// Claim the slot first so two workers never send the same push.
	h := &notification.History{
		UserID:         n.UserID,
		ChallengeID:    n.ChallengeID,
		Kind:           n.Kind,
		ChallengeTitle: n.ChallengeTitle,
		TargetDate:     d.targetDate(n),
		SentAt:         d.now(),
	}
	claimed, err := d.store.RecordHistory(ctx, h)
	if err != nil {
		log.Printf("Failed to record %s notification for user %s: %v", n.Kind, n.UserID, err)
		return
	}
	if !claimed {
		return
	}

	if err := d.pushProvider.SendPush(ctx, tokens, n.Title, n.Body, n.Data); err != nil {
		log.Printf("Push failed for user %s, challenge %d: %v", n.UserID, n.ChallengeID, err)
		if err := d.store.DeleteHistory(ctx, h.ID); err != nil {
			log.Printf("Failed to release notification slot %d: %v", h.ID, err)
		}
		return
	}
}

// Dispatch queues n. It gives up after five seconds on a full queue.
func (d *NotificationDispatcher) Dispatch(n *notification.ChallengeNotification) bool {
	select {
	case <-d.stopChan:
		return false
	default:
	}

	select {
	case d.jobQueue <- n:
		return true
	case <-time.After(5 * time.Second):
		log.Printf("Failed to queue %s notification for user %s: queue full", n.Kind, n.UserID)
		return false
	case <-d.stopChan:
		return false
	}
}

// queueOnce dispatches n unless its slot is already taken.
func (d *NotificationDispatcher) queueOnce(ctx context.Context, n *notification.ChallengeNotification) bool {
	sent, err := d.store.HistoryExists(ctx, n.UserID, n.ChallengeID, n.Kind, d.targetDate(n))
	if err != nil {
		log.Printf("Failed to check notification history for user %s: %v", n.UserID, err)
		return false
	}
	if sent {
		return false
	}
	return d.Dispatch(n)
}

// NotifyChallengeFailures queues a FAIL push for every participant not yet
// told about that failure and returns how many were queued. The same failure
// seen again on a later day is still the same slot.
func (d *NotificationDispatcher) NotifyChallengeFailures(ctx context.Context, failed []challenge.FailedParticipant) int {
	queued := 0
	for _, f := range failed {
		n := notify.ChallengeFailed(f)
		n.TargetDate = d.dateKey(f.CompletedAt)
		if d.queueOnce(ctx, &n) {
			queued++
		}
	}
	if queued > 0 {
		log.Printf("Queued %d challenge fail notifications", queued)
	}
	return queued
}

// NotifyChallengeSuccess queues a SUCCESS push per promoted participant.
func (d *NotificationDispatcher) NotifyChallengeSuccess(ctx context.Context, c *challenge.Challenge, participants []challenge.Participation) {
	for i := range participants {
		n := notify.ChallengeSucceeded(c, &participants[i])
		n.TargetDate = c.EndDate.Format("20060102")
		d.queueOnce(ctx, &n)
	}
}

// NotifyChallengeReminders queues a start or end reminder for each
// participant and returns how many were queued.
func (d *NotificationDispatcher) NotifyChallengeReminders(ctx context.Context, c *challenge.Challenge, kind notification.Kind, participants []challenge.Participation) int {
	queued := 0
	for i := range participants {
		var n notification.ChallengeNotification
		switch kind {
		case notification.KindChallengeStart:
			n = notify.ChallengeStartsTomorrow(c, &participants[i])
			n.TargetDate = c.StartDate.Format("20060102")
		case notification.KindChallengeEnd:
			n = notify.ChallengeEndsTomorrow(c, &participants[i])
			n.TargetDate = c.EndDate.Format("20060102")
		default:
			log.Printf("Unknown reminder kind %q for challenge %d", kind, c.ID)
			return queued
		}
		if d.queueOnce(ctx, &n) {
			queued++
		}
	}
	return queued
}

func (d *NotificationDispatcher) cleanupHistory() {
	defer d.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.performCleanup()
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) performCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := d.store.DeleteHistoryBefore(ctx, d.now().Add(-d.retention))
	if err != nil {
		log.Printf("Failed to clean up notification history: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Cleaned up %d old challenge notification records", n)
	}
}

// Stop the dispatcher gracefully
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		log.Println("Stopping notification dispatcher...")
		close(d.stopChan)
		d.wg.Wait()
		log.Println("Notification dispatcher stopped")
	})
}
