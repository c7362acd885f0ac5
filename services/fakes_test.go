package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
	"savitAPI/internal/types/notification"
)

type fakeFeed struct {
	mu  sync.Mutex
	txs []challenge.TransactionEvent
	err error
}

func (f *fakeFeed) add(tx challenge.TransactionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
}

func (f *fakeFeed) FindTransactionsBetween(ctx context.Context, start, end time.Time) ([]challenge.TransactionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	w := Window{Start: start, End: end}
	var out []challenge.TransactionEvent
	for _, tx := range f.txs {
		if w.Contains(tx.CreatedAt) {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeParticipationStore struct {
	mu       sync.Mutex
	rows     map[int64]*challenge.Participation
	titles   map[int64]string
	applied  map[[2]int64]bool
	applyErr map[int64]error
	queryErr map[int64]error // by challenge id
	nextID   int64
	applies  int

	// interfere runs once inside the next ApplyProgress, before the write,
	// to stand in for another writer.
	interfere func(p *challenge.Participation)
}

func newFakeParticipationStore() *fakeParticipationStore {
	return &fakeParticipationStore{
		rows:     map[int64]*challenge.Participation{},
		titles:   map[int64]string{},
		applied:  map[[2]int64]bool{},
		applyErr: map[int64]error{},
		queryErr: map[int64]error{},
		nextID:   100,
	}
}

func (s *fakeParticipationStore) put(p challenge.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.rows[p.ID] = &cp
}

func (s *fakeParticipationStore) get(id int64) challenge.Participation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *fakeParticipationStore) sortedRows() []*challenge.Participation {
	out := make([]*challenge.Participation, 0, len(s.rows))
	for _, p := range s.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeParticipationStore) FindActiveParticipantsByCategory(ctx context.Context, categoryID int64, userID uuid.UUID) ([]challenge.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []challenge.Participation
	for _, p := range s.sortedRows() {
		if p.CategoryID == categoryID && p.UserID == userID && p.Status == challenge.StatusParticipating {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeParticipationStore) ApplyProgress(ctx context.Context, u ProgressUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyErr[u.ParticipationID]; err != nil {
		return false, err
	}
	key := [2]int64{u.ParticipationID, u.TransactionID}
	if s.applied[key] {
		return false, nil
	}
	p := s.rows[u.ParticipationID]
	if f := s.interfere; f != nil {
		s.interfere = nil
		f(p)
	}
	if p.Status != challenge.StatusParticipating {
		return false, ErrParticipationNotActive
	}
	if p.Progress.Count != u.Previous.Count || !p.Progress.Amount.Equal(u.Previous.Amount) {
		return false, ErrProgressConflict
	}
	s.applied[key] = true
	s.applies++
	p.Progress = u.Progress
	if u.Status == challenge.StatusFail {
		p.Status = challenge.StatusFail
		at := u.CompletedAt
		p.CompletedAt = &at
	}
	return true, nil
}

func (s *fakeParticipationStore) FindParticipatingUsersByChallengeID(ctx context.Context, challengeID int64) ([]challenge.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.queryErr[challengeID]; err != nil {
		return nil, err
	}
	var out []challenge.Participation
	for _, p := range s.sortedRows() {
		if p.ChallengeID == challengeID && p.Status == challenge.StatusParticipating {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeParticipationStore) UpdateStatusToSuccess(ctx context.Context, ids []int64, completedAt time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var promoted []int64
	for _, id := range ids {
		p := s.rows[id]
		if p == nil || p.Status != challenge.StatusParticipating {
			continue
		}
		p.Status = challenge.StatusSuccess
		at := completedAt
		p.CompletedAt = &at
		promoted = append(promoted, id)
	}
	return promoted, nil
}

func (s *fakeParticipationStore) FindNewlyFailedParticipants(ctx context.Context, since, until time.Time) ([]challenge.FailedParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []challenge.FailedParticipant
	for _, p := range s.sortedRows() {
		if p.Status != challenge.StatusFail || p.CompletedAt == nil {
			continue
		}
		if p.CompletedAt.Before(since) || !p.CompletedAt.Before(until) {
			continue
		}
		out = append(out, challenge.FailedParticipant{
			ParticipationID: p.ID,
			UserID:          p.UserID,
			ChallengeID:     p.ChallengeID,
			ChallengeTitle:  s.titles[p.ChallengeID],
			Status:          challenge.StatusFail,
			FailReason:      failReason(p.Type()),
			CompletedAt:     *p.CompletedAt,
		})
	}
	return out, nil
}

func (s *fakeParticipationStore) ExistsParticipation(ctx context.Context, challengeID int64, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.ChallengeID == challengeID && p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeParticipationStore) CreateParticipation(ctx context.Context, p *challenge.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.ChallengeID == p.ChallengeID && existing.UserID == p.UserID {
			return ErrAlreadyParticipating
		}
	}
	s.nextID++
	p.ID = s.nextID
	cp := *p
	s.rows[p.ID] = &cp
	return nil
}

type fakeRuns struct {
	mu        sync.Mutex
	runs      []RunSummary
	cursorErr error
	recordErr error
	lockErr   error
	locked    map[string]bool
}

func (r *fakeRuns) TryLockJob(ctx context.Context, job string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockErr != nil {
		return nil, r.lockErr
	}
	if r.locked == nil {
		r.locked = map[string]bool{}
	}
	if r.locked[job] {
		return nil, ErrRunInProgress
	}
	r.locked[job] = true
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.locked, job)
	}, nil
}

// holdLock takes job's lock as another process would.
func (r *fakeRuns) holdLock(job string) func() {
	unlock, err := r.TryLockJob(context.Background(), job)
	if err != nil {
		panic(err)
	}
	return unlock
}

func (r *fakeRuns) LastSuccessfulWindowEnd(ctx context.Context, job string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursorErr != nil {
		return nil, r.cursorErr
	}
	var last *time.Time
	for i := range r.runs {
		run := r.runs[i]
		if run.Job != job || !run.Succeeded() {
			continue
		}
		if last == nil || run.WindowEnd.After(*last) {
			end := run.WindowEnd
			last = &end
		}
	}
	return last, nil
}

func (r *fakeRuns) RecordRun(ctx context.Context, run *RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.runs = append(r.runs, *run)
	return nil
}

func (r *fakeRuns) all() []RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunSummary(nil), r.runs...)
}

type fakeChallenges struct {
	mu         sync.Mutex
	challenges map[int64]*challenge.Challenge
	categories map[int64]string
	err        error
}

func newFakeChallenges(cs ...challenge.Challenge) *fakeChallenges {
	f := &fakeChallenges{challenges: map[int64]*challenge.Challenge{}, categories: map[int64]string{}}
	for i := range cs {
		c := cs[i]
		f.challenges[c.ID] = &c
	}
	return f
}

func (f *fakeChallenges) FindByID(ctx context.Context, id int64) (*challenge.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.challenges[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChallenges) FindChallengesEndingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	want := day.Format("2006-01-02")
	var out []challenge.Challenge
	for _, c := range f.challenges {
		if c.EndDate.Format("2006-01-02") == want {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChallenges) FindChallengesStartingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	want := day.Format("2006-01-02")
	var out []challenge.Challenge
	for _, c := range f.challenges {
		if c.StartDate.Format("2006-01-02") == want {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChallenges) FindOpenChallenges(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []challenge.Challenge
	for _, c := range f.challenges {
		if !civilAfter(day, c.EndDate) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChallenges) CategoryName(ctx context.Context, categoryID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories[categoryID], nil
}

type fakeHistory struct {
	cards       map[uuid.UUID][]int64
	count       int64
	sum         decimal.Decimal
	gotFrom     time.Time
	gotTo       time.Time
	gotCards    []int64
	gotCategory int64
}

func (h *fakeHistory) FindCardIDsByUser(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	return h.cards[userID], nil
}

func (h *fakeHistory) CountCategoryTransactions(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (int64, error) {
	h.gotCards, h.gotCategory, h.gotFrom, h.gotTo = cardIDs, categoryID, from, to
	return h.count, nil
}

func (h *fakeHistory) SumCategoryAmount(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (decimal.Decimal, error) {
	h.gotCards, h.gotCategory, h.gotFrom, h.gotTo = cardIDs, categoryID, from, to
	return h.sum, nil
}

type fakeNotificationStore struct {
	mu      sync.Mutex
	tokens  map[uuid.UUID][]notification.DeviceToken
	history map[int64]notification.History
	nextID  int64
	deleted int
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{
		tokens:  map[uuid.UUID][]notification.DeviceToken{},
		history: map[int64]notification.History{},
	}
}

func (s *fakeNotificationStore) FindDeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID], nil
}

func (s *fakeNotificationStore) HistoryExists(ctx context.Context, userID uuid.UUID, challengeID int64, kind notification.Kind, targetDate string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.history {
		if h.UserID == userID && h.ChallengeID == challengeID && h.Kind == kind && h.TargetDate == targetDate {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeNotificationStore) RecordHistory(ctx context.Context, h *notification.History) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.history {
		if existing.UserID == h.UserID && existing.ChallengeID == h.ChallengeID && existing.Kind == h.Kind && existing.TargetDate == h.TargetDate {
			return false, nil
		}
	}
	s.nextID++
	h.ID = s.nextID
	s.history[h.ID] = *h
	return true, nil
}

func (s *fakeNotificationStore) DeleteHistory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, id)
	return nil
}

func (s *fakeNotificationStore) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, h := range s.history {
		if h.SentAt.Before(cutoff) {
			delete(s.history, id)
			n++
		}
	}
	s.deleted += int(n)
	return n, nil
}

type fakePush struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls int
}

func (p *fakePush) SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, title)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func int64p(v int64) *int64 { return &v }
