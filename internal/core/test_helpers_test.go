package core

import (
	"context"
	"testing"
	"time"

	"fmeacore/pkg/domain"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func testDraft(title string) StudyDraft {
	return StudyDraft{
		Title:                title,
		Type:                 domain.StudyTypeProcess,
		ProcessOrProductName: "Injection moulding line 3",
		Departments:          []string{"Quality", " Production ", "Quality"},
		TeamLeadID:           "u-lead",
		TeamMembers:          []TeamMember{{UserID: "u-lead", Role: "Lead"}, {UserID: "u-eng"}},
		ReviewDate:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Scope:                "Moulding, trimming and packing",
	}
}

func testItem(function string, s, o, d int) ItemInput {
	return ItemInput{
		ItemFunction: function,
		FailureMode:  function + " fails",
		Severity:     s,
		Occurrence:   o,
		Detection:    d,
	}
}

func mustCreateStudy(t *testing.T, svc *Service, draft StudyDraft) Study {
	t.Helper()
	study, _, err := svc.CreateStudy(context.Background(), draft)
	if err != nil {
		t.Fatalf("create study: %v", err)
	}
	return study
}

func mustCreateItem(t *testing.T, svc *Service, studyID string, in ItemInput) Item {
	t.Helper()
	item, _, err := svc.CreateItem(context.Background(), studyID, in)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func mustGetStudy(t *testing.T, svc *Service, id string) Study {
	t.Helper()
	study, err := svc.GetStudy(context.Background(), id)
	if err != nil {
		t.Fatalf("get study: %v", err)
	}
	return study
}

func highest(s Study) int {
	if s.HighestRPN == nil {
		return -1
	}
	return *s.HighestRPN
}
