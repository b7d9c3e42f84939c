package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStudyDraftDefaults(t *testing.T) {
	draft := StudyDraft{
		Title:       "  Brake line  ",
		Departments: []string{" QA", "", "QA", "Manufacturing "},
		TeamMembers: []TeamMember{{UserID: "u-1"}, {UserID: "u-1", Role: "Facilitator"}, {UserID: " "}, {UserID: "u-2", Role: "Scribe"}},
	}
	s := draft.Study()
	if s.Title != "Brake line" {
		t.Fatalf("expected trimmed title, got %q", s.Title)
	}
	if s.Type != StudyTypeProcess || s.Status != StudyStatusActive {
		t.Fatalf("unexpected defaults type=%q status=%q", s.Type, s.Status)
	}
	if s.SeverityRange != DefaultRatingRange() || s.DetectionRange != DefaultRatingRange() {
		t.Fatalf("expected default ranges, got %+v", s.SeverityRange)
	}
	if got := strings.Join(s.Departments, ","); got != "QA,Manufacturing" {
		t.Fatalf("unexpected departments %q", got)
	}
	if len(s.TeamMembers) != 2 || s.TeamMembers[0].Role != DefaultMemberRole || s.TeamMembers[1].Role != "Scribe" {
		t.Fatalf("unexpected team %+v", s.TeamMembers)
	}
}

func TestEnumValidity(t *testing.T) {
	if !StudyTypeSoftware.Valid() || StudyType("FMECA").Valid() {
		t.Fatalf("study type validity mismatch")
	}
	if !StudyStatusOnHold.Valid() || StudyStatus("Paused").Valid() {
		t.Fatalf("study status validity mismatch")
	}
	if !ItemStatusInProgress.Valid() || ItemStatus("All").Valid() {
		t.Fatalf("item status validity mismatch")
	}
	if !ActionStatusOverdue.Valid() || ActionStatus("").Valid() {
		t.Fatalf("action status validity mismatch")
	}
	if !ActionStatusCancelled.Closed() || ActionStatusOverdue.Closed() {
		t.Fatalf("closed status mismatch")
	}
}

func TestErrorMessages(t *testing.T) {
	if msg := (ValidationError{Field: "severity", Message: "must be in range 1-10, got 11"}).Error(); !strings.Contains(msg, "severity") {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := (ReferenceError{Field: "item_id", ID: "x", StudyID: "s"}).Error(); !strings.Contains(msg, "study s") {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := (NotFoundError{Entity: EntityItem, ID: "x"}).Error(); msg != "item x not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

type staticRule struct {
	name string
	res  Result
	err  error
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return r.res, r.err
}

func TestRulesEngineMergesAndBlocks(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{name: "warn", res: Result{Violations: []Violation{{Rule: "warn", Enforcement: EnforceWarn}}}})
	engine.Register(staticRule{name: "block", res: Result{Violations: []Violation{{Rule: "block", Enforcement: EnforceBlock, Message: "bad"}}}})

	res, err := engine.Evaluate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || !res.HasBlocking() {
		t.Fatalf("expected merged blocking result, got %+v", res)
	}
	if msg := (RuleViolationError{Result: res}).Error(); !strings.Contains(msg, "block: bad") {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(engine.Rules()) != 2 {
		t.Fatalf("expected two registered rules")
	}

	failing := NewRulesEngine()
	failing.Register(staticRule{name: "err", err: errors.New("boom")})
	if _, err := failing.Evaluate(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected rule error to propagate")
	}
}

func TestTouchedStudies(t *testing.T) {
	got := TouchedStudies([]Change{{StudyID: "a"}, {StudyID: ""}, {StudyID: "b"}, {StudyID: "a"}})
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("unexpected touched studies %v", got)
	}
}
