package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"savitAPI/internal/types/challenge"
	"savitAPI/internal/workers"
	"savitAPI/services"
)

type progressTrigger interface {
	ProcessNewTransactions(ctx context.Context) (*services.RunSummary, error)
}

type completionTrigger interface {
	ProcessCompletedChallenges(ctx context.Context) (*services.RunSummary, error)
	ProcessSpecificChallenge(ctx context.Context, challengeID int64) (int, error)
}

type failedLister interface {
	FindNewlyFailed(ctx context.Context) ([]challenge.FailedParticipant, error)
}

type runLister interface {
	RecentRuns(ctx context.Context, job string, limit int) ([]services.RunSummary, error)
}

// AdminHandler exposes manual triggers for the batch jobs. The same service
// methods back the scheduler.
type AdminHandler struct {
	progress   progressTrigger
	completion completionTrigger
	failures   failedLister
	runs       runLister
}

func NewAdminHandler(progress progressTrigger, completion completionTrigger, failures failedLister, runs runLister) *AdminHandler {
	return &AdminHandler{
		progress:   progress,
		completion: completion,
		failures:   failures,
		runs:       runs,
	}
}

const adminRunTimeout = 5 * time.Minute

// POST /admin/challenges/progress/run
func (h *AdminHandler) RunProgress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminRunTimeout)
	defer cancel()

	start := time.Now()
	summary, err := h.progress.ProcessNewTransactions(ctx)
	workers.ObserveRun(services.JobProgress, summary, err, time.Since(start))
	h.respondWithRun(w, summary, err)
}

// POST /admin/challenges/completion/run
func (h *AdminHandler) RunCompletion(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminRunTimeout)
	defer cancel()

	start := time.Now()
	summary, err := h.completion.ProcessCompletedChallenges(ctx)
	workers.ObserveRun(services.JobCompletion, summary, err, time.Since(start))
	h.respondWithRun(w, summary, err)
}

// POST /admin/challenges/{id}/complete
func (h *AdminHandler) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminRunTimeout)
	defer cancel()

	challengeID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	promoted, err := h.completion.ProcessSpecificChallenge(ctx, challengeID)
	if errors.Is(err, services.ErrChallengeNotFound) {
		respondWithError(w, http.StatusNotFound, "Challenge not found")
		return
	}
	if err != nil {
		log.Printf("Admin: completing challenge %d failed: %v", challengeID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to complete challenge")
		return
	}

	log.Printf("Admin: challenge %d completed manually, %d promoted", challengeID, promoted)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"challenge_id": challengeID,
		"promoted":     promoted,
	})
}

// GET /admin/challenges/failed
func (h *AdminHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	failed, err := h.failures.FindNewlyFailed(ctx)
	if err != nil {
		log.Printf("Admin: listing failed participants: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list failed participants")
		return
	}
	if failed == nil {
		failed = []challenge.FailedParticipant{}
	}

	respondWithJSON(w, http.StatusOK, failed)
}

// GET /admin/challenges/runs?job=progress&limit=20
func (h *AdminHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	job := r.URL.Query().Get("job")
	if job != "" && job != services.JobProgress && job != services.JobCompletion {
		respondWithError(w, http.StatusBadRequest, "Unknown job")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, err := h.runs.RecentRuns(ctx, job, limit)
	if err != nil {
		log.Printf("Admin: listing runs: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []services.RunSummary{}
	}

	respondWithJSON(w, http.StatusOK, runs)
}

func (h *AdminHandler) respondWithRun(w http.ResponseWriter, summary *services.RunSummary, err error) {
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		respondWithError(w, http.StatusConflict, "A run is already in progress")
	case err != nil:
		log.Printf("Admin: run failed: %v", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"summary": summary,
		})
	default:
		respondWithJSON(w, http.StatusOK, summary)
	}
}
