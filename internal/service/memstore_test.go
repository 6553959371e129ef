package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/token"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. Each
// method holds the mutex for its whole body, which gives it the same
// all-or-nothing behaviour as the repository transactions.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	exams    map[uuid.UUID]*model.Exam
	codes    []*model.ExamCode
	auths    []*model.ExamAppAuthorization
	attempts []*model.ExamAttempt
	answers  map[int64]map[string]model.AttemptAnswer
	sessions []*model.ExamAppLaunchSession

	issueErr  error
	createErr func(c *model.ExamCode) error
}

func newMemStore() *memStore {
	return &memStore{
		exams:   make(map[uuid.UUID]*model.Exam),
		answers: make(map[int64]map[string]model.AttemptAnswer),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addExam(e model.Exam) *model.Exam {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Kind == "" {
		e.Kind = model.ExamKindRegular
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 1
	}
	m.exams[e.ID] = &e
	return &e
}

func (m *memStore) addCode(c model.ExamCode) *model.ExamCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	if c.Kind == "" {
		c.Kind = m.exams[c.ExamID].Kind
	}
	m.codes = append(m.codes, &c)
	return &c
}

func (m *memStore) code(ref model.CodeRef) *model.ExamCode {
	for _, c := range m.codes {
		if c.ID == ref.ID() && c.Kind == ref.Kind() {
			return c
		}
	}
	return nil
}

func (m *memStore) uses(codeID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == codeID {
			return c.UsesSoFar
		}
	}
	return -1
}

func (m *memStore) attemptByID(id int64) *model.ExamAttempt {
	for _, a := range m.attempts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// ─── CodeResolver ────────────────────────────────────────────────────

func (m *memStore) Resolve(_ context.Context, code string, now time.Time) (*model.ResolvedCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Code == code && c.Usable(now) {
			return &model.ResolvedCode{Code: *c, Exam: *m.exams[c.ExamID]}, nil
		}
	}
	return nil, repository.ErrCodeUnavailable
}

// ─── AuthorizationIssuer ─────────────────────────────────────────────

func (m *memStore) Issue(_ context.Context, p repository.IssueParams) (*repository.IssueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issueErr != nil {
		return nil, m.issueErr
	}

	c := m.code(p.Code)
	if c == nil || !c.Usable(p.IssuedAt) {
		return nil, repository.ErrCodeUnavailable
	}
	c.UsesSoFar++

	var superseded int64
	for _, a := range m.auths {
		if a.StudentID != p.StudentID || a.Code != p.Code || a.ConsumedAt != nil {
			continue
		}
		at, reason := p.IssuedAt, model.ConsumeReasonSuperseded
		if !p.IssuedAt.Before(a.ExpiresAt) {
			at, reason = a.ExpiresAt, model.ConsumeReasonExpired
		} else {
			superseded++
		}
		a.ConsumedAt, a.ConsumedReason = &at, &reason
	}

	a := &model.ExamAppAuthorization{
		ID:        m.id(),
		StudentID: p.StudentID,
		Code:      p.Code,
		TokenHash: p.TokenHash,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
	}
	m.auths = append(m.auths, a)
	cp := *a
	return &repository.IssueResult{Authorization: &cp, Superseded: superseded}, nil
}

// ─── LaunchSessionStore ──────────────────────────────────────────────

func (m *memStore) Start(_ context.Context, p repository.StartParams) (*repository.StartOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var auth *model.ExamAppAuthorization
	for _, a := range m.auths {
		if a.TokenHash == p.AuthorizationHash && a.StudentID == p.StudentID && a.Live(p.Now) {
			auth = a
		}
	}
	if auth == nil {
		return nil, token.ErrNotFound
	}

	exam := m.exams[m.code(auth.Code).ExamID]
	var open *model.ExamAttempt
	finalized := 0
	for _, a := range m.attempts {
		if a.StudentID != p.StudentID || a.ExamID != exam.ID {
			continue
		}
		if a.Finalized() {
			finalized++
		} else {
			open = a
		}
	}
	if open == nil && finalized >= exam.MaxAttempts {
		return nil, repository.ErrAttemptFinalized
	}

	now := p.Now
	reason := model.ConsumeReasonStarted
	auth.ConsumedAt, auth.ConsumedReason = &now, &reason

	out := &repository.StartOutcome{Exam: exam}
	if open != nil {
		if deadline := open.Deadline(exam.Duration()); !now.Before(deadline) {
			open.FinalizedAt = &deadline
			m.invalidateLocked(open.Ref(), now)
			return nil, repository.ErrAttemptFinalized
		}
		out.Resumed = true
	} else {
		codeID := auth.Code.ID()
		open = &model.ExamAttempt{
			ID:         m.id(),
			Kind:       exam.Kind,
			StudentID:  p.StudentID,
			ExamID:     exam.ID,
			ExamCodeID: &codeID,
			StartTime:  now,
		}
		m.attempts = append(m.attempts, open)
	}

	out.Superseded = m.invalidateLocked(open.Ref(), now)
	s := &model.ExamAppLaunchSession{
		ID:        m.id(),
		StudentID: p.StudentID,
		Attempt:   open.Ref(),
		TokenHash: p.SessionHash,
		IssuedAt:  now,
		ExpiresAt: open.Deadline(exam.Duration()).Add(p.Grace),
	}
	m.sessions = append(m.sessions, s)

	authCopy, attemptCopy, sessCopy := *auth, *open, *s
	out.Authorization, out.Attempt, out.Session = &authCopy, &attemptCopy, &sessCopy
	return out, nil
}

func (m *memStore) invalidateLocked(attempt model.AttemptRef, now time.Time) []int64 {
	var ids []int64
	for _, s := range m.sessions {
		if s.Attempt == attempt && s.InvalidatedAt == nil {
			at := now
			s.InvalidatedAt = &at
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (m *memStore) FindLiveByHash(_ context.Context, hash string, now time.Time) (*model.ExamAppLaunchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == hash && s.Live(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, token.ErrNotFound
}

func (m *memStore) InvalidateByHash(_ context.Context, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TokenHash == hash && s.InvalidatedAt == nil {
			at := now
			s.InvalidatedAt = &at
			return nil
		}
	}
	return token.ErrNotFound
}

func (m *memStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	var n int64
	for _, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.InvalidatedAt != nil && s.InvalidatedAt.Before(cutoff)) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return n, nil
}

// ─── AttemptStore ────────────────────────────────────────────────────

func (m *memStore) GetWithExam(_ context.Context, ref model.AttemptRef) (*model.ExamAttempt, *model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attemptByID(ref.ID())
	if a == nil || a.Kind != ref.Kind() {
		return nil, nil, repository.ErrNotFound
	}
	ac, ec := *a, *m.exams[a.ExamID]
	return &ac, &ec, nil
}

func (m *memStore) ListAnswers(_ context.Context, ref model.AttemptRef) ([]model.AttemptAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttemptAnswer
	for _, a := range m.answers[ref.ID()] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memStore) UpsertAnswer(_ context.Context, ref model.AttemptRef, ans model.AttemptAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(ref, ans)
	return nil
}

// upsertLocked mirrors the conditional upsert of the repository.
func (m *memStore) upsertLocked(ref model.AttemptRef, ans model.AttemptAnswer) {
	a := m.attemptByID(ref.ID())
	if a == nil || (a.FinalizedAt != nil && ans.SavedAt.After(*a.FinalizedAt)) {
		return
	}
	if m.answers[a.ID] == nil {
		m.answers[a.ID] = make(map[string]model.AttemptAnswer)
	}
	if cur, ok := m.answers[a.ID][ans.QuestionID]; ok && !ans.NewerThan(cur) {
		return
	}
	m.answers[a.ID][ans.QuestionID] = ans
}

func (m *memStore) Finalize(_ context.Context, ref model.AttemptRef, at time.Time, flush []model.AttemptAnswer) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.attemptByID(ref.ID())
	if a == nil {
		return nil, repository.ErrNotFound
	}
	if a.Finalized() {
		return nil, repository.ErrAttemptFinalized
	}
	a.FinalizedAt = &at
	for _, ans := range flush {
		m.upsertLocked(ref, ans)
	}
	return m.invalidateLocked(ref, at), nil
}

func (m *memStore) authorizationByHash(hash string) *model.ExamAppAuthorization {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.auths {
		if a.TokenHash == hash {
			cp := *a
			return &cp
		}
	}
	return nil
}

// ─── ExamStore / ExamCodeStore ───────────────────────────────────────

type memExams struct{ *memStore }

func (m memExams) GetByID(_ context.Context, kind model.ExamKind, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok || e.Kind != kind {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m memExams) SetTeacherPassword(_ context.Context, kind model.ExamKind, id uuid.UUID, authorID int64, hash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok || e.Kind != kind || e.AuthorID != authorID {
		return repository.ErrNotFound
	}
	e.TeacherPasswordHash = hash
	return nil
}

func (m memExams) ListByAuthorPaginated(_ context.Context, kind model.ExamKind, authorID int64, limit, offset int) ([]model.Exam, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Exam
	for _, e := range m.exams {
		if e.Kind == kind && e.AuthorID == authorID {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Title < all[j].Title })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) Create(_ context.Context, c *model.ExamCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		if err := m.createErr(c); err != nil {
			return err
		}
	}
	for _, existing := range m.codes {
		if existing.Code == c.Code {
			return repository.ErrDuplicateCode
		}
	}
	if e, ok := m.exams[c.ExamID]; !ok || e.Kind != c.Kind {
		return repository.ErrNotFound
	}
	c.ID = m.id()
	cp := *c
	m.codes = append(m.codes, &cp)
	return nil
}

func (m *memStore) ListByExam(_ context.Context, kind model.ExamKind, examID uuid.UUID) ([]model.ExamCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExamCode
	for _, c := range m.codes {
		if c.Kind == kind && c.ExamID == examID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) Retire(_ context.Context, kind model.ExamKind, id, authorID int64, now time.Time) (*model.ExamCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID != id || c.Kind != kind || m.exams[c.ExamID].AuthorID != authorID {
			continue
		}
		if now.Before(c.ExpiresAt) {
			c.ExpiresAt = now
		}
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

// ─── Clock, notifier, buffer ─────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type publishedEvent struct {
	attempt model.AttemptRef
	event   SessionEvent
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (n *fakeNotifier) Publish(_ context.Context, attempt model.AttemptRef, ev SessionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{attempt: attempt, event: ev})
	return n.err
}

func (n *fakeNotifier) last() (publishedEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return publishedEvent{}, false
	}
	return n.events[len(n.events)-1], true
}

type fakeBuffer struct {
	mu      sync.Mutex
	pending map[int64]map[string]model.AttemptAnswer
	queued  []AnswerJob
	ttls    []time.Duration
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{pending: make(map[int64]map[string]model.AttemptAnswer)}
}

func (b *fakeBuffer) Save(_ context.Context, attempt model.AttemptRef, answer model.AttemptAnswer, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[attempt.ID()] == nil {
		b.pending[attempt.ID()] = make(map[string]model.AttemptAnswer)
	}
	b.pending[attempt.ID()][answer.QuestionID] = answer
	b.queued = append(b.queued, AnswerJob{
		Kind:       attempt.Kind(),
		AttemptID:  attempt.ID(),
		QuestionID: answer.QuestionID,
		Answer:     answer.Answer,
		SavedAt:    answer.SavedAt,
	})
	b.ttls = append(b.ttls, ttl)
	return nil
}

func (b *fakeBuffer) Pending(_ context.Context, attempt model.AttemptRef) (map[string]model.AttemptAnswer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]model.AttemptAnswer, len(b.pending[attempt.ID()]))
	for k, v := range b.pending[attempt.ID()] {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBuffer) Clear(_ context.Context, attempt model.AttemptRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, attempt.ID())
	return nil
}

func (b *fakeBuffer) jobs() []AnswerJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]AnswerJob(nil), b.queued...)
}
