// Package app builds the repositories and services shared by the API server
// and the challengectl CLI.
package app

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"savitAPI/internal/config"
	"savitAPI/internal/db"
	"savitAPI/internal/notification"
	"savitAPI/services"
)

type Options struct {
	// Notifications wires the push dispatcher into the completion sweep and
	// builds the reminder service.
	// One-shot CLI runs leave it off so no push is lost on exit.
	Notifications bool
}

type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool

	Users          *services.UserService
	Challenges     *services.ChallengeRepository
	Participations *services.ParticipationRepository
	Transactions   *services.CardTransactionRepository
	Runs           *services.BatchRunRepository
	Devices        *services.ChallengeNotificationRepository

	Progress    *services.ChallengeParticipationService
	Completion  *services.ChallengeCompletionService
	Eligibility *services.ChallengeEligibilityService
	Enrollment  *services.ChallengeEnrollmentService
	Failures    *services.ChallengeFailureService
	Dispatcher  *services.NotificationDispatcher
	Reminders   *services.ChallengeReminderService
}

// New connects to the database and assembles the services. The dispatcher is
// built but not started.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	a := &App{
		Config:         cfg,
		Pool:           pool,
		Users:          services.NewUserService(pool),
		Challenges:     services.NewChallengeRepository(pool),
		Participations: services.NewParticipationRepository(pool),
		Transactions:   services.NewCardTransactionRepository(pool),
		Runs:           services.NewBatchRunRepository(pool),
		Devices:        services.NewChallengeNotificationRepository(pool),
	}

	a.Progress = services.NewChallengeParticipationService(a.Transactions, a.Participations, a.Runs, loc)
	a.Completion = services.NewChallengeCompletionService(a.Challenges, a.Participations, a.Runs, loc)
	a.Eligibility = services.NewChallengeEligibilityService(a.Transactions, loc)
	a.Enrollment = services.NewChallengeEnrollmentService(a.Challenges, a.Participations, a.Eligibility, loc)
	a.Failures = services.NewChallengeFailureService(a.Participations, loc)

	if opts.Notifications {
		a.Dispatcher = services.NewNotificationDispatcher(a.Devices, services.DispatcherOptions{
			Workers:   cfg.NotifyWorkers,
			QueueSize: cfg.NotifyQueueSize,
			Retention: cfg.NotificationRetention(),
			Location:  loc,
		})

		fcmService, err := notification.NewFCMService(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			log.Printf("Warning: Could not initialize FCM: %v", err)
		} else {
			a.Dispatcher.SetPushProvider(fcmService)
			log.Println("FCM Push Provider initialized successfully")
		}
		a.Completion.SetSuccessNotifier(a.Dispatcher)
		a.Reminders = services.NewChallengeReminderService(a.Challenges, a.Participations, a.Dispatcher, loc)
	}

	return a, nil
}

// Close stops the dispatcher and releases the pool.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	log.Println("Closing database connection pool...")
	a.Pool.Close()
}
