package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"savitAPI/handlers"
	"savitAPI/internal/app"
	"savitAPI/internal/config"
	"savitAPI/internal/workers"
	"savitAPI/middleware"

	_ "net/http/pprof"
)

var (
	cfg       *config.Config
	savit     *app.App
	scheduler *workers.Scheduler
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if cfg.ClerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(cfg.ClerkSecretKey)
	log.Println("Clerk initialized successfully")

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	savit, err = app.New(ctx, cfg, app.Options{Notifications: true})
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	log.Println("Successfully connected to database")

	middleware.InitPrometheus(prometheus.DefaultRegisterer)
	workers.RegisterMetrics(prometheus.DefaultRegisterer)
}

func main() {
	defer savit.Close()

	savit.Dispatcher.Start()
	if cfg.SchedulerEnabled {
		scheduler = workers.NewScheduler(savit.Progress, savit.Completion, savit.Failures, savit.Dispatcher, cfg.Location())
		if savit.Reminders != nil {
			scheduler.SetReminders(savit.Reminders)
		}
		scheduler.Start()
	} else {
		log.Println("Challenge scheduler disabled")
	}

	challengeHandler := handlers.NewChallengeHandler(savit.Users, savit.Enrollment, savit.Participations, savit.Devices)
	adminHandler := handlers.NewAdminHandler(savit.Progress, savit.Completion, savit.Failures, savit.Runs)

	r := mux.NewRouter()

	standardRouter := r.PathPrefix("/").Subrouter()

	stopCleanup := make(chan struct{})
	go middleware.CleanupVisitors(stopCleanup)

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware("Metrics", cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(cfg.PprofSecret)(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := savit.Pool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "savit-challenges"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// ADMIN ROUTES (BASIC AUTH)
	// -------------------------------------------------------------------------
	admin := standardRouter.PathPrefix("/admin/challenges").Subrouter()
	admin.Use(middleware.BasicAuthMiddleware("Admin", cfg.AdminUser, cfg.AdminPass))

	admin.HandleFunc("/progress/run", adminHandler.RunProgress).Methods("POST")
	admin.HandleFunc("/completion/run", adminHandler.RunCompletion).Methods("POST")
	admin.HandleFunc("/failed", adminHandler.ListFailed).Methods("GET")
	admin.HandleFunc("/runs", adminHandler.ListRuns).Methods("GET")
	admin.HandleFunc("/{id:[0-9]+}/complete", adminHandler.CompleteChallenge).Methods("POST")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := standardRouter.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/challenges", challengeHandler.ListChallenges).Methods("GET")
	protected.HandleFunc("/challenges/participations", challengeHandler.ListParticipations).Methods("GET")
	protected.HandleFunc("/challenges/{id:[0-9]+}", challengeHandler.GetChallenge).Methods("GET")
	protected.HandleFunc("/challenges/{id:[0-9]+}/eligibility", challengeHandler.CheckEligibility).Methods("GET")
	protected.HandleFunc("/challenges/{id:[0-9]+}/enroll", challengeHandler.Enroll).Methods("POST")

	protected.HandleFunc("/notifications/register-device", challengeHandler.RegisterDevice).Methods("POST")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := ":" + cfg.Port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // admin runs are synchronous
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	close(stopCleanup)
	if scheduler != nil {
		scheduler.Stop()
	}

	log.Println("Server shutdown complete")
}
