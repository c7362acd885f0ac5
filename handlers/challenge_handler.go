package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
	"savitAPI/internal/types/notification"
	"savitAPI/middleware"
	"savitAPI/services"
)

type userLookup interface {
	GetUserIDByClerkID(ctx context.Context, clerkID string) (uuid.UUID, error)
}

type challengeEnrollment interface {
	ListOpenChallenges(ctx context.Context) ([]challenge.Challenge, error)
	GetChallengeDetail(ctx context.Context, challengeID int64, userID uuid.UUID) (*services.ChallengeDetail, error)
	CheckEligibility(ctx context.Context, challengeID int64, userID uuid.UUID) (bool, error)
	Enroll(ctx context.Context, challengeID int64, userID uuid.UUID) (*challenge.Participation, error)
}

type participationLister interface {
	FindByUser(ctx context.Context, userID uuid.UUID) ([]challenge.Participation, error)
}

type deviceRegistry interface {
	RegisterDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error
}

type ChallengeHandler struct {
	users          userLookup
	enrollment     challengeEnrollment
	participations participationLister
	devices        deviceRegistry
}

func NewChallengeHandler(users userLookup, enrollment challengeEnrollment, participations participationLister, devices deviceRegistry) *ChallengeHandler {
	return &ChallengeHandler{
		users:          users,
		enrollment:     enrollment,
		participations: participations,
		devices:        devices,
	}
}

// ParticipationResponse is a participation with its limit spelled out.
type ParticipationResponse struct {
	challenge.Participation
	Type         challenge.Type   `json:"type"`
	TargetCount  *int64           `json:"target_count,omitempty"`
	TargetAmount *decimal.Decimal `json:"target_amount,omitempty"`
}

func newParticipationResponse(p challenge.Participation) ParticipationResponse {
	resp := ParticipationResponse{Participation: p, Type: p.Type()}
	switch g := p.Goal.(type) {
	case challenge.CountGoal:
		resp.TargetCount = &g.Target
	case challenge.AmountGoal:
		resp.TargetAmount = &g.Target
	}
	return resp
}

// currentUser resolves the Clerk subject on the request to our user id and
// writes the error response itself when it can't.
func (h *ChallengeHandler) currentUser(ctx context.Context, w http.ResponseWriter) (uuid.UUID, bool) {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return uuid.Nil, false
	}

	userID, err := h.users.GetUserIDByClerkID(ctx, clerkID)
	if errors.Is(err, services.ErrUserNotFound) {
		respondWithError(w, http.StatusNotFound, "User not found")
		return uuid.Nil, false
	}
	if err != nil {
		log.Printf("Failed to resolve user %s: %v", clerkID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve user")
		return uuid.Nil, false
	}
	return userID, true
}

// GET /api/v1/challenges
func (h *ChallengeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, ok := middleware.GetClerkID(ctx); !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	challenges, err := h.enrollment.ListOpenChallenges(ctx)
	if err != nil {
		log.Printf("Failed to list challenges: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list challenges")
		return
	}
	if challenges == nil {
		challenges = []challenge.Challenge{}
	}

	respondWithJSON(w, http.StatusOK, challenges)
}

// GET /api/v1/challenges/{id}
func (h *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	challengeID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}

	detail, err := h.enrollment.GetChallengeDetail(ctx, challengeID, userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, detail)
}

// GET /api/v1/challenges/{id}/eligibility
func (h *ChallengeHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	challengeID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}

	eligible, err := h.enrollment.CheckEligibility(ctx, challengeID, userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"eligible": eligible})
}

// POST /api/v1/challenges/{id}/enroll
func (h *ChallengeHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	challengeID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}

	p, err := h.enrollment.Enroll(ctx, challengeID, userID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, newParticipationResponse(*p))
}

// GET /api/v1/challenges/participations
func (h *ChallengeHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}

	participations, err := h.participations.FindByUser(ctx, userID)
	if err != nil {
		log.Printf("Failed to list participations for %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list participations")
		return
	}

	resp := make([]ParticipationResponse, 0, len(participations))
	for _, p := range participations {
		resp = append(resp, newParticipationResponse(p))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// POST /api/v1/notifications/register-device
func (h *ChallengeHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}

	var req notification.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Token is required")
		return
	}
	if req.Platform != "ios" && req.Platform != "android" {
		respondWithError(w, http.StatusBadRequest, "Platform must be 'ios' or 'android'")
		return
	}

	if err := h.devices.RegisterDeviceToken(ctx, userID, req.Token, req.Platform); err != nil {
		log.Printf("Failed to register device for %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Device registered"})
}

func (h *ChallengeHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrChallengeNotFound):
		respondWithError(w, http.StatusNotFound, "Challenge not found")
	case errors.Is(err, services.ErrAlreadyParticipating):
		respondWithError(w, http.StatusConflict, "Already participating in this challenge")
	case errors.Is(err, services.ErrChallengeClosed):
		respondWithError(w, http.StatusConflict, "Challenge has already ended")
	case errors.Is(err, services.ErrNotEligible):
		respondWithError(w, http.StatusForbidden, "Not eligible for this challenge")
	default:
		log.Printf("Challenge request failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
