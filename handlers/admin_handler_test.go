package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savitAPI/internal/types/challenge"
	"savitAPI/services"
)

type stubBatch struct {
	progressErr error
	promoted    map[int64]int
	gotJob      string
	gotLimit    int
}

func (s *stubBatch) ProcessNewTransactions(ctx context.Context) (*services.RunSummary, error) {
	summary := &services.RunSummary{Job: services.JobProgress, TransactionsSeen: 12, ParticipantsFailed: 2}
	if s.progressErr != nil {
		if errors.Is(s.progressErr, services.ErrRunInProgress) {
			return nil, s.progressErr
		}
		summary.Error = s.progressErr.Error()
		return summary, s.progressErr
	}
	return summary, nil
}

func (s *stubBatch) ProcessCompletedChallenges(ctx context.Context) (*services.RunSummary, error) {
	return &services.RunSummary{Job: services.JobCompletion, ParticipantsPromoted: 3}, nil
}

func (s *stubBatch) ProcessSpecificChallenge(ctx context.Context, challengeID int64) (int, error) {
	n, ok := s.promoted[challengeID]
	if !ok {
		return 0, services.ErrChallengeNotFound
	}
	return n, nil
}

func (s *stubBatch) FindNewlyFailed(ctx context.Context) ([]challenge.FailedParticipant, error) {
	return []challenge.FailedParticipant{{ParticipationID: 9, ChallengeTitle: "No delivery week", Status: challenge.StatusFail}}, nil
}

func (s *stubBatch) RecentRuns(ctx context.Context, job string, limit int) ([]services.RunSummary, error) {
	s.gotJob, s.gotLimit = job, limit
	return nil, nil
}

func newAdminRouter(b *stubBatch) *mux.Router {
	h := NewAdminHandler(b, b, b, b)
	r := mux.NewRouter()
	r.HandleFunc("/admin/challenges/progress/run", h.RunProgress).Methods(http.MethodPost)
	r.HandleFunc("/admin/challenges/completion/run", h.RunCompletion).Methods(http.MethodPost)
	r.HandleFunc("/admin/challenges/failed", h.ListFailed).Methods(http.MethodGet)
	r.HandleFunc("/admin/challenges/runs", h.ListRuns).Methods(http.MethodGet)
	r.HandleFunc("/admin/challenges/{id}/complete", h.CompleteChallenge).Methods(http.MethodPost)
	return r
}

func TestAdminRunProgress(t *testing.T) {
	r := newAdminRouter(&stubBatch{})

	rec := do(t, r, http.MethodPost, "/admin/challenges/progress/run", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got services.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12, got.TransactionsSeen)
	assert.Equal(t, 2, got.ParticipantsFailed)
}

func TestAdminRunProgressErrors(t *testing.T) {
	rec := do(t, newAdminRouter(&stubBatch{progressErr: services.ErrRunInProgress}), http.MethodPost, "/admin/challenges/progress/run", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, newAdminRouter(&stubBatch{progressErr: errors.New("feed unavailable")}), http.MethodPost, "/admin/challenges/progress/run", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "feed unavailable")
}

func TestAdminRunCompletion(t *testing.T) {
	rec := do(t, newAdminRouter(&stubBatch{}), http.MethodPost, "/admin/challenges/completion/run", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"participants_promoted":3`)
}

func TestAdminCompleteChallenge(t *testing.T) {
	r := newAdminRouter(&stubBatch{promoted: map[int64]int{4: 7}})

	rec := do(t, r, http.MethodPost, "/admin/challenges/4/complete", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge_id": 4, "promoted": 7}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/admin/challenges/5/complete", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/admin/challenges/0/complete", "", "").Code)
}

func TestAdminListFailed(t *testing.T) {
	rec := do(t, newAdminRouter(&stubBatch{}), http.MethodGet, "/admin/challenges/failed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []challenge.FailedParticipant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].ParticipationID)
}

func TestAdminListRuns(t *testing.T) {
	b := &stubBatch{}
	r := newAdminRouter(b)

	rec := do(t, r, http.MethodGet, "/admin/challenges/runs?job=completion&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, services.JobCompletion, b.gotJob)
	assert.Equal(t, 5, b.gotLimit)

	do(t, r, http.MethodGet, "/admin/challenges/runs?limit=1000", "", "")
	assert.Equal(t, "", b.gotJob)
	assert.Equal(t, 20, b.gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/admin/challenges/runs?job=cleanup", "", "").Code)
}
