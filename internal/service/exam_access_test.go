package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/token"
	"golang.org/x/crypto/bcrypt"
)

const testStudent int64 = 1001

type fixture struct {
	store    *memStore
	clock    *fakeClock
	notifier *fakeNotifier
	hasher   *token.Hasher
	registry *CodeRegistry
	auth     *AuthorizationService
	launch   *LaunchManager
	exam     *model.Exam
	code     *model.ExamCode
}

func newFixture(t *testing.T, maxUses *int) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		clock:    newFakeClock(),
		notifier: &fakeNotifier{},
		hasher:   token.NewHasher("test-key"),
	}
	log := zerolog.Nop()

	f.exam = f.store.addExam(model.Exam{
		Title:           "Matematika Dasar",
		AuthorID:        7,
		DurationMinutes: 90,
		QuestionCount:   40,
	})
	f.code = f.store.addCode(model.ExamCode{
		Code:      "MATH101-X",
		ExamID:    f.exam.ID,
		CreatedBy: 7,
		ExpiresAt: f.clock.Now().Add(24 * time.Hour),
		MaxUses:   maxUses,
	})

	f.registry = NewCodeRegistry(f.store)
	f.registry.now = f.clock.Now
	f.auth = NewAuthorizationService(f.registry, f.store, f.hasher, 10*time.Minute, log)
	f.auth.now = f.clock.Now
	f.launch = newLaunchManager(f.store, f.hasher, f.notifier, 5*time.Minute, log, f.clock.Now)
	return f
}

func intPtr(n int) *int { return &n }

func (f *fixture) authorize(t *testing.T, studentID int64) string {
	t.Helper()
	res, err := f.auth.Authorize(context.Background(), studentID, model.AuthorizeRequest{Code: f.code.Code})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return res.AuthorizationToken
}

func (f *fixture) start(t *testing.T, studentID int64, authToken string) *model.StartResult {
	t.Helper()
	res, err := f.launch.Start(context.Background(), studentID, model.StartRequest{AuthorizationToken: authToken})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res
}

func TestResolveCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	info, err := f.registry.GetExamInfo(ctx, "MATH101-X")
	if err != nil {
		t.Fatalf("GetExamInfo: %v", err)
	}
	if info.Title != "Matematika Dasar" || info.DurationMinutes != 90 || info.QuestionCount != 40 {
		t.Errorf("info = %+v", info)
	}
	if info.RequiresTeacherPassword {
		t.Error("ungated exam reported as gated")
	}

	for _, code := range []string{"", "math101-x", "NOPE"} {
		if _, err := f.registry.GetExamInfo(ctx, code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("GetExamInfo(%q) err = %v, want ErrInvalidCode", code, err)
		}
	}

	f.clock.Advance(25 * time.Hour)
	if _, err := f.registry.GetExamInfo(ctx, "MATH101-X"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("expired code err = %v, want ErrInvalidCode", err)
	}
}

func TestAuthorizeSingleUseCode(t *testing.T) {
	f := newFixture(t, intPtr(1))
	ctx := context.Background()

	res, err := f.auth.Authorize(ctx, testStudent, model.AuthorizeRequest{Code: "MATH101-X"})
	if err != nil {
		t.Fatalf("first Authorize: %v", err)
	}
	if res.AuthorizationToken == "" {
		t.Fatal("empty authorization token")
	}
	if want := f.clock.Now().Add(10 * time.Minute); !res.ExpiresAtUTC.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", res.ExpiresAtUTC, want)
	}

	_, err = f.auth.Authorize(ctx, testStudent+1, model.AuthorizeRequest{Code: "MATH101-X"})
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("second Authorize err = %v, want ErrInvalidCode", err)
	}
	if got := f.store.uses(f.code.ID); got != 1 {
		t.Errorf("uses = %d, want 1", got)
	}
}

func TestAuthorizeConcurrentLastUses(t *testing.T) {
	const maxUses, callers = 5, 40
	f := newFixture(t, intPtr(maxUses))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(student int64) {
			defer wg.Done()
			_, err := f.auth.Authorize(context.Background(), student, model.AuthorizeRequest{Code: "MATH101-X"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if successes != maxUses {
		t.Fatalf("successes = %d, want %d", successes, maxUses)
	}
	for _, err := range failures {
		if !errors.Is(err, ErrInvalidCode) {
			t.Errorf("failure = %v, want ErrInvalidCode", err)
		}
	}
	if got := f.store.uses(f.code.ID); got != maxUses {
		t.Errorf("uses = %d, want %d", got, maxUses)
	}
}

func TestAuthorizeStoresOnlyHash(t *testing.T) {
	f := newFixture(t, nil)
	plain := f.authorize(t, testStudent)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if len(f.store.auths) != 1 {
		t.Fatalf("stored %d authorizations, want 1", len(f.store.auths))
	}
	stored := f.store.auths[0].TokenHash
	if stored == plain {
		t.Fatal("plaintext token persisted")
	}
	if stored != f.hasher.Hash(plain) {
		t.Errorf("stored hash does not match Hash(plain)")
	}
}

func TestAuthorizeSupersedesOlderAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	first := f.authorize(t, testStudent)
	second := f.authorize(t, testStudent)

	_, err := f.launch.Start(context.Background(), testStudent, model.StartRequest{AuthorizationToken: first})
	if !errors.Is(err, ErrInvalidOrExpiredAuthorization) {
		t.Fatalf("Start(first) err = %v, want ErrInvalidOrExpiredAuthorization", err)
	}
	f.start(t, testStudent, second)
}

func TestAuthorizeClosesExpiredAuthorizationAsExpired(t *testing.T) {
	f := newFixture(t, nil)
	first := f.authorize(t, testStudent)
	firstExpiry := f.clock.Now().Add(10 * time.Minute)
	second := f.authorize(t, testStudent)

	f.clock.Advance(11 * time.Minute)
	f.authorize(t, testStudent)

	tests := []struct {
		name   string
		token  string
		reason model.ConsumeReason
		at     time.Time
	}{
		// second was still live when first was replaced, so first is superseded.
		{"replaced while live", first, model.ConsumeReasonSuperseded, firstExpiry.Add(-10 * time.Minute)},
		{"replaced after expiry", second, model.ConsumeReasonExpired, firstExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := f.store.authorizationByHash(f.hasher.Hash(tt.token))
			if a == nil || a.ConsumedReason == nil || a.ConsumedAt == nil {
				t.Fatalf("authorization = %+v, want consumed", a)
			}
			if *a.ConsumedReason != tt.reason {
				t.Errorf("reason = %s, want %s", *a.ConsumedReason, tt.reason)
			}
			if !a.ConsumedAt.Equal(tt.at) {
				t.Errorf("consumed_at = %v, want %v", a.ConsumedAt, tt.at)
			}
		})
	}
}

func TestAuthorizeTeacherGate(t *testing.T) {
	f := newFixture(t, intPtr(3))
	hash, err := bcrypt.GenerateFromPassword([]byte("proktor-42"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	hs := string(hash)
	f.store.exams[f.exam.ID].TeacherPasswordHash = &hs
	ctx := context.Background()

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"missing", "", ErrTeacherPasswordRequired},
		{"wrong", "proktor-43", ErrTeacherPasswordInvalid},
		{"correct", "proktor-42", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Authorize(ctx, testStudent, model.AuthorizeRequest{Code: "MATH101-X", TeacherPassword: tt.password})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := f.store.uses(f.code.ID); got != 1 {
		t.Errorf("uses = %d, want 1 (rejected gate attempts must not consume)", got)
	}
}

func TestAuthorizeStorageErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.store.issueErr = fmt.Errorf("issue: %w", repository.ErrConflict)
	if _, err := f.auth.Authorize(ctx, testStudent, model.AuthorizeRequest{Code: "MATH101-X"}); !errors.Is(err, ErrStorageConflict) {
		t.Errorf("conflict err = %v, want ErrStorageConflict", err)
	}

	f.store.issueErr = errors.New("connection reset")
	_, err := f.auth.Authorize(ctx, testStudent, model.AuthorizeRequest{Code: "MATH101-X"})
	if err == nil || errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrInvalidCode) {
		t.Errorf("unexpected err = %v, want an unclassified storage error", err)
	}
}

func TestAuthorizationLifetime(t *testing.T) {
	s := &AuthorizationService{ttl: 10 * time.Minute}
	tests := []struct {
		exam time.Duration
		want time.Duration
	}{
		{90 * time.Minute, 10 * time.Minute},
		{10 * time.Minute, 5 * time.Minute},
		{time.Minute, minAuthorizationTTL},
	}
	for _, tt := range tests {
		if got := s.lifetime(tt.exam); got != tt.want {
			t.Errorf("lifetime(%v) = %v, want %v", tt.exam, got, tt.want)
		}
		if got := s.lifetime(tt.exam); got >= tt.exam {
			t.Errorf("lifetime(%v) = %v, not shorter than the exam", tt.exam, got)
		}
	}
}

func TestStartAfterAuthorizationExpiry(t *testing.T) {
	f := newFixture(t, nil)
	authToken := f.authorize(t, testStudent)

	f.clock.Advance(11 * time.Minute)
	_, err := f.launch.Start(context.Background(), testStudent, model.StartRequest{AuthorizationToken: authToken})
	if !errors.Is(err, ErrInvalidOrExpiredAuthorization) {
		t.Fatalf("err = %v, want ErrInvalidOrExpiredAuthorization", err)
	}
}

func TestStartReplayAndForeignToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	authToken := f.authorize(t, testStudent)

	if _, err := f.launch.Start(ctx, testStudent+1, model.StartRequest{AuthorizationToken: authToken}); !errors.Is(err, ErrInvalidOrExpiredAuthorization) {
		t.Errorf("other student err = %v, want ErrInvalidOrExpiredAuthorization", err)
	}
	if _, err := f.launch.Start(ctx, testStudent, model.StartRequest{}); !errors.Is(err, ErrInvalidOrExpiredAuthorization) {
		t.Errorf("empty token err = %v, want ErrInvalidOrExpiredAuthorization", err)
	}

	first := f.start(t, testStudent, authToken)
	if first.Resumed {
		t.Error("first start reported resumed")
	}
	if !first.ExpiresAtUTC.Equal(f.clock.Now().Add(95 * time.Minute)) {
		t.Errorf("launch expiry = %v, want deadline plus grace", first.ExpiresAtUTC)
	}

	if _, err := f.launch.Start(ctx, testStudent, model.StartRequest{AuthorizationToken: authToken}); !errors.Is(err, ErrInvalidOrExpiredAuthorization) {
		t.Fatalf("replay err = %v, want ErrInvalidOrExpiredAuthorization", err)
	}
}

// A fresh authorization resumes the open attempt and the previous launch
// token stops validating.
func TestStartResumeSupersedesPreviousSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	l1 := f.start(t, testStudent, f.authorize(t, testStudent))
	s1, err := f.launch.ValidateLaunch(ctx, l1.LaunchToken)
	if err != nil {
		t.Fatalf("ValidateLaunch(L1): %v", err)
	}

	f.clock.Advance(20 * time.Minute)
	l2 := f.start(t, testStudent, f.authorize(t, testStudent))

	if !l2.Resumed {
		t.Error("second start not reported as resumed")
	}
	if l2.AttemptID != l1.AttemptID {
		t.Errorf("attempt id = %d, want %d", l2.AttemptID, l1.AttemptID)
	}
	if l2.LaunchToken == l1.LaunchToken {
		t.Fatal("launch token reused")
	}
	if !l2.ExpiresAtUTC.Equal(l1.ExpiresAtUTC) {
		t.Errorf("resumed expiry = %v, want %v (tracks attempt start)", l2.ExpiresAtUTC, l1.ExpiresAtUTC)
	}

	if _, err := f.launch.ValidateLaunch(ctx, l1.LaunchToken); !errors.Is(err, ErrInvalidLaunchSession) {
		t.Errorf("ValidateLaunch(L1) err = %v, want ErrInvalidLaunchSession", err)
	}
	if _, err := f.launch.ValidateLaunch(ctx, l2.LaunchToken); err != nil {
		t.Errorf("ValidateLaunch(L2): %v", err)
	}

	ev, ok := f.notifier.last()
	if !ok {
		t.Fatal("no session event published")
	}
	if ev.event.Type != SessionEventSuperseded || !ev.event.Affects(s1.ID) {
		t.Errorf("event = %+v, want superseded for session %d", ev.event, s1.ID)
	}
}

func TestStartTimedOutAttempt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.start(t, testStudent, f.authorize(t, testStudent))
	f.clock.Advance(91 * time.Minute)

	_, err := f.launch.Start(ctx, testStudent, model.StartRequest{AuthorizationToken: f.authorize(t, testStudent)})
	if !errors.Is(err, ErrAttemptAlreadyFinalized) {
		t.Fatalf("err = %v, want ErrAttemptAlreadyFinalized", err)
	}

	attempt, exam, err := f.store.GetWithExam(ctx, model.ExamAttemptRef(first.AttemptID))
	if err != nil {
		t.Fatal(err)
	}
	if attempt.FinalizedAt == nil || !attempt.FinalizedAt.Equal(attempt.Deadline(exam.Duration())) {
		t.Errorf("finalized_at = %v, want the attempt deadline", attempt.FinalizedAt)
	}

	// The attempt limit is used up, so a new attempt is refused and the
	// authorization stays unconsumed.
	authToken := f.authorize(t, testStudent)
	if _, err := f.launch.Start(ctx, testStudent, model.StartRequest{AuthorizationToken: authToken}); !errors.Is(err, ErrAttemptAlreadyFinalized) {
		t.Errorf("err = %v, want ErrAttemptAlreadyFinalized", err)
	}
	f.store.mu.Lock()
	last := f.store.auths[len(f.store.auths)-1]
	f.store.mu.Unlock()
	if last.ConsumedAt != nil {
		t.Error("authorization consumed by a refused start")
	}
}

func TestStartAllowsRetakeWithinAttemptLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.store.exams[f.exam.ID].MaxAttempts = 2
	ctx := context.Background()

	first := f.start(t, testStudent, f.authorize(t, testStudent))
	if _, err := f.store.Finalize(ctx, model.ExamAttemptRef(first.AttemptID), f.clock.Now(), nil); err != nil {
		t.Fatal(err)
	}

	second := f.start(t, testStudent, f.authorize(t, testStudent))
	if second.Resumed || second.AttemptID == first.AttemptID {
		t.Errorf("second = %+v, want a new attempt", second)
	}
}

func TestRevokeLaunchSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.start(t, testStudent, f.authorize(t, testStudent))
	sess, err := f.launch.ValidateLaunch(ctx, res.LaunchToken)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.launch.Revoke(ctx, sess); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := f.launch.ValidateLaunch(ctx, res.LaunchToken); !errors.Is(err, ErrInvalidLaunchSession) {
		t.Errorf("after revoke err = %v, want ErrInvalidLaunchSession", err)
	}
	if err := f.launch.Revoke(ctx, sess); !errors.Is(err, ErrInvalidLaunchSession) {
		t.Errorf("second revoke err = %v, want ErrInvalidLaunchSession", err)
	}
}

func TestPublishFailureDoesNotFailStart(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = errors.New("redis down")

	f.start(t, testStudent, f.authorize(t, testStudent))
	second := f.start(t, testStudent, f.authorize(t, testStudent))
	if !second.Resumed {
		t.Error("second start not resumed")
	}
}
