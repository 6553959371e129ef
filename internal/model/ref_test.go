package model

import (
	"errors"
	"testing"
	"time"
)

func TestCodeRefColumns(t *testing.T) {
	exam, prog := ExamCodeRef(11).Columns()
	if exam == nil || *exam != 11 || prog != nil {
		t.Errorf("ExamCodeRef columns = (%v, %v)", exam, prog)
	}
	exam, prog = ProgrammingCodeRef(12).Columns()
	if exam != nil || prog == nil || *prog != 12 {
		t.Errorf("ProgrammingCodeRef columns = (%v, %v)", exam, prog)
	}
	if !(CodeRef{}).IsZero() || ExamCodeRef(1).IsZero() {
		t.Error("IsZero wrong")
	}
}

func TestRefFromColumns(t *testing.T) {
	one, two := int64(1), int64(2)
	tests := []struct {
		name     string
		regular  *int64
		prog     *int64
		wantKind ExamKind
		wantID   int64
		wantErr  bool
	}{
		{"regular", &one, nil, ExamKindRegular, 1, false},
		{"programming", nil, &two, ExamKindProgramming, 2, false},
		{"both", &one, &two, "", 0, true},
		{"neither", nil, nil, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodeRefFromColumns(tt.regular, tt.prog)
			a, aerr := AttemptRefFromColumns(tt.regular, tt.prog)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRef) || !errors.Is(aerr, ErrInvalidRef) {
					t.Fatalf("err = %v / %v, want ErrInvalidRef", err, aerr)
				}
				return
			}
			if err != nil || aerr != nil {
				t.Fatalf("unexpected err %v / %v", err, aerr)
			}
			if c.Kind() != tt.wantKind || c.ID() != tt.wantID {
				t.Errorf("code ref = %s/%d", c.Kind(), c.ID())
			}
			if a != NewAttemptRef(tt.wantKind, tt.wantID) {
				t.Errorf("attempt ref = %s/%d", a.Kind(), a.ID())
			}
		})
	}
}

func TestParseExamKind(t *testing.T) {
	for _, s := range []string{"EXAM", "PROGRAMMING"} {
		if k, err := ParseExamKind(s); err != nil || string(k) != s {
			t.Errorf("ParseExamKind(%q) = %q, %v", s, k, err)
		}
	}
	for _, s := range []string{"", "exam", "QUIZ"} {
		if _, err := ParseExamKind(s); err == nil {
			t.Errorf("ParseExamKind(%q) accepted", s)
		}
	}
}

func TestExamCodeUsable(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	two := 2
	tests := []struct {
		name string
		code ExamCode
		want bool
	}{
		{"unlimited", ExamCode{ExpiresAt: now.Add(time.Hour)}, true},
		{"uses left", ExamCode{ExpiresAt: now.Add(time.Hour), MaxUses: &two, UsesSoFar: 1}, true},
		{"exhausted", ExamCode{ExpiresAt: now.Add(time.Hour), MaxUses: &two, UsesSoFar: 2}, false},
		{"expires now", ExamCode{ExpiresAt: now}, false},
		{"expired", ExamCode{ExpiresAt: now.Add(-time.Second)}, false},
	}
	for _, tt := range tests {
		if got := tt.code.Usable(now); got != tt.want {
			t.Errorf("%s: Usable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAuthorizationAndSessionLive(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	a := &ExamAppAuthorization{ExpiresAt: now.Add(time.Minute)}
	if !a.Live(now) {
		t.Error("fresh authorization not live")
	}
	a.ConsumedAt = &now
	if a.Live(now) {
		t.Error("consumed authorization live")
	}

	s := &ExamAppLaunchSession{ExpiresAt: now}
	if s.Live(now) {
		t.Error("session live at its expiry instant")
	}
}
