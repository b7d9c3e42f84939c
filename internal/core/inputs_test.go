package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOptionalTracksPresence(t *testing.T) {
	var patch ItemPatch
	if err := json.Unmarshal([]byte(`{"severity": 4, "new_severity": null, "new_detection": 3}`), &patch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if patch.Severity == nil || *patch.Severity != 4 {
		t.Fatalf("expected severity 4")
	}
	if !patch.NewSeverity.Set || patch.NewSeverity.Value != nil {
		t.Fatalf("expected explicit null for new_severity: %+v", patch.NewSeverity)
	}
	if patch.NewOccurrence.Set {
		t.Fatalf("expected absent new_occurrence")
	}
	if !patch.NewDetection.Set || *patch.NewDetection.Value != 3 {
		t.Fatalf("expected new_detection 3")
	}

	item := Item{NewSeverity: intPtr(2), NewOccurrence: intPtr(2)}
	patch.apply(&item)
	if item.Severity != 4 || item.NewSeverity != nil || *item.NewOccurrence != 2 || *item.NewDetection != 3 {
		t.Fatalf("unexpected merge: %+v", item)
	}

	out, err := json.Marshal(Some(5))
	if err != nil || string(out) != "5" {
		t.Fatalf("unexpected encoding %s (%v)", out, err)
	}
	if out, _ := json.Marshal(Null[int]()); string(out) != "null" {
		t.Fatalf("unexpected null encoding %s", out)
	}
}

func TestOptionalRejectsWrongType(t *testing.T) {
	var patch ActionPatch
	if err := json.Unmarshal([]byte(`{"due_date": "tomorrow"}`), &patch); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestActionPatchBlankItemIDUnlinks(t *testing.T) {
	id := "item-1"
	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	a := Action{ItemID: &id, DueDate: &due}
	ActionPatch{ItemID: Some("  "), DueDate: Null[time.Time]()}.apply(&a)
	if a.ItemID != nil || a.DueDate != nil {
		t.Fatalf("expected cleared link and due date: %+v", a)
	}
}

func TestStudyQueryNormalize(t *testing.T) {
	q, err := StudyQuery{Q: "  Press ", Limit: 1000}.normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if q.Q != "press" || q.Limit != MaxStudyLimit {
		t.Fatalf("unexpected query %+v", q)
	}
	if q, _ := (StudyQuery{}).normalize(); q.Limit != DefaultStudyLimit {
		t.Fatalf("expected default limit, got %d", q.Limit)
	}
	for _, bad := range []StudyQuery{{Type: "Hardware FMEA"}, {Skip: -1}} {
		if _, err := bad.normalize(); err == nil {
			t.Fatalf("expected %+v to fail", bad)
		}
	}
}
