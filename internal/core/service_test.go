package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fmeacore/internal/filter"
	"fmeacore/pkg/domain"
)

func TestCreateStudyNormalizesDraft(t *testing.T) {
	svc := NewInMemoryService(nil)
	study := mustCreateStudy(t, svc, testDraft("Line 3"))

	if study.ID == "" || study.Status != domain.StudyStatusActive {
		t.Fatalf("unexpected study: %+v", study)
	}
	if len(study.Departments) != 2 || study.Departments[1] != "Production" {
		t.Fatalf("expected normalized departments, got %v", study.Departments)
	}
	if study.TeamMembers[1].Role != domain.DefaultMemberRole {
		t.Fatalf("expected default role, got %q", study.TeamMembers[1].Role)
	}
	if study.SeverityRange != domain.DefaultRatingRange() {
		t.Fatalf("expected default severity range, got %+v", study.SeverityRange)
	}
	if study.HighestRPN != nil || study.ActionsCount != 0 {
		t.Fatalf("expected empty derived values, got %v / %d", study.HighestRPN, study.ActionsCount)
	}
}

func TestCreateStudyRejectsIncompleteDraft(t *testing.T) {
	svc := NewInMemoryService(nil)
	draft := testDraft("x")
	draft.Scope = "  "
	_, _, err := svc.CreateStudy(context.Background(), draft)
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Field != "scope" {
		t.Fatalf("expected scope validation error, got %v", err)
	}
	if got := svc.Store().ListStudies(); len(got) != 0 {
		t.Fatalf("expected no study persisted, got %d", len(got))
	}
}

func TestScenarioACreateItemComputesRPN(t *testing.T) {
	svc := NewInMemoryService(nil)
	study := mustCreateStudy(t, svc, testDraft("A"))
	item := mustCreateItem(t, svc, study.ID, testItem("Seal", 8, 5, 3))
	if item.RPN != 120 {
		t.Fatalf("expected rpn 120, got %d", item.RPN)
	}
	if item.Status != domain.ItemStatusOpen {
		t.Fatalf("expected default status Open, got %s", item.Status)
	}
	if got := highest(mustGetStudy(t, svc, study.ID)); got != 120 {
		t.Fatalf("expected highest rpn 120, got %d", got)
	}
}

func TestScenarioBRatingOutsideStudyRange(t *testing.T) {
	svc := NewInMemoryService(nil)
	draft := testDraft("B")
	draft.SeverityRange = RatingRange{Min: 1, Max: 5}
	study := mustCreateStudy(t, svc, draft)

	_, _, err := svc.CreateItem(context.Background(), study.ID, testItem("Seal", 8, 2, 2))
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Field != "severity" {
		t.Fatalf("expected severity validation error, got %v", err)
	}
	if items, _ := svc.ListItems(context.Background(), study.ID); len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestScenarioDActionItemFromOtherStudy(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	first := mustCreateStudy(t, svc, testDraft("first"))
	second := mustCreateStudy(t, svc, testDraft("second"))
	foreign := mustCreateItem(t, svc, second.ID, testItem("Pump", 4, 4, 4))

	_, _, err := svc.CreateAction(ctx, first.ID, ActionInput{Title: "Fix", OwnerUserID: "u1", ItemID: &foreign.ID})
	var rerr ReferenceError
	if !errors.As(err, &rerr) || rerr.ID != foreign.ID || rerr.StudyID != first.ID {
		t.Fatalf("expected reference error, got %v", err)
	}
	if got := mustGetStudy(t, svc, first.ID).ActionsCount; got != 0 {
		t.Fatalf("expected no actions counted, got %d", got)
	}
}

func TestScenarioEPartialMitigationLeavesNewRPNNull(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("E"))
	item := mustCreateItem(t, svc, study.ID, testItem("Valve", 6, 6, 6))

	updated, _, err := svc.UpdateItem(ctx, study.ID, item.ID, ItemPatch{NewSeverity: Some(3)})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated.NewRPN != nil {
		t.Fatalf("expected nil new rpn, got %d", *updated.NewRPN)
	}

	updated, _, err = svc.UpdateItem(ctx, study.ID, item.ID, ItemPatch{NewOccurrence: Some(2), NewDetection: Some(2)})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated.NewRPN == nil || *updated.NewRPN != 12 {
		t.Fatalf("expected new rpn 12, got %v", updated.NewRPN)
	}

	updated, _, err = svc.UpdateItem(ctx, study.ID, item.ID, ItemPatch{NewDetection: Null[int]()})
	if err != nil {
		t.Fatalf("clear rating: %v", err)
	}
	if updated.NewDetection != nil || updated.NewRPN != nil {
		t.Fatalf("expected cleared rating to drop new rpn, got %+v", updated)
	}
}

func TestHighestRPNTracksItemLifecycle(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("lifecycle"))
	low := mustCreateItem(t, svc, study.ID, testItem("Low", 2, 2, 2))
	high := mustCreateItem(t, svc, study.ID, testItem("High", 9, 9, 9))

	if got := highest(mustGetStudy(t, svc, study.ID)); got != 729 {
		t.Fatalf("expected 729, got %d", got)
	}
	if _, _, err := svc.UpdateItem(ctx, study.ID, high.ID, ItemPatch{Severity: intPtr(1)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := highest(mustGetStudy(t, svc, study.ID)); got != 81 {
		t.Fatalf("expected 81 after update, got %d", got)
	}
	if _, err := svc.DeleteItem(ctx, study.ID, high.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := highest(mustGetStudy(t, svc, study.ID)); got != 8 {
		t.Fatalf("expected 8 after delete, got %d", got)
	}
	if _, err := svc.DeleteItem(ctx, study.ID, low.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := mustGetStudy(t, svc, study.ID).HighestRPN; got != nil {
		t.Fatalf("expected nil highest rpn for empty study, got %d", *got)
	}
}

func TestItemOperationsScopedToStudy(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	first := mustCreateStudy(t, svc, testDraft("first"))
	second := mustCreateStudy(t, svc, testDraft("second"))
	item := mustCreateItem(t, svc, second.ID, testItem("Pump", 4, 4, 4))

	_, _, err := svc.UpdateItem(ctx, first.ID, item.ID, ItemPatch{Severity: intPtr(2)})
	var nf NotFoundError
	if !errors.As(err, &nf) || nf.Entity != EntityItem {
		t.Fatalf("expected item not found, got %v", err)
	}
	if _, err := svc.GetItem(ctx, first.ID, item.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found from get, got %v", err)
	}
	if _, err := svc.ListItems(ctx, "missing"); !errors.As(err, &nf) || nf.Entity != EntityStudy {
		t.Fatalf("expected study not found, got %v", err)
	}
	if _, _, err := svc.CreateItem(ctx, "missing", testItem("x", 1, 1, 1)); !errors.As(err, &nf) {
		t.Fatalf("expected study not found on create, got %v", err)
	}
}

func TestActionLifecycleAndUnlinkOnItemDelete(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("actions"))
	item := mustCreateItem(t, svc, study.ID, testItem("Seal", 5, 5, 5))

	action, _, err := svc.CreateAction(ctx, study.ID, ActionInput{Title: " Add sensor ", OwnerUserID: "u1", ItemID: &item.ID})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if action.Status != domain.ActionStatusOpen || action.Title != "Add sensor" {
		t.Fatalf("unexpected action: %+v", action)
	}
	if _, _, err := svc.CreateAction(ctx, study.ID, ActionInput{Title: "Train", OwnerUserID: "u2"}); err != nil {
		t.Fatalf("create second action: %v", err)
	}
	if got := mustGetStudy(t, svc, study.ID).ActionsCount; got != 2 {
		t.Fatalf("expected 2 actions, got %d", got)
	}

	done := domain.ActionStatusCompleted
	if _, _, err := svc.UpdateAction(ctx, study.ID, action.ID, ActionPatch{Status: &done}); err != nil {
		t.Fatalf("update action: %v", err)
	}
	completed, err := svc.ListActions(ctx, study.ID, domain.ActionStatusCompleted)
	if err != nil || len(completed) != 1 || completed[0].ID != action.ID {
		t.Fatalf("expected one completed action, got %v (%v)", completed, err)
	}
	if _, err := svc.ListActions(ctx, study.ID, "Blocked"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}

	if _, err := svc.DeleteItem(ctx, study.ID, item.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	got, err := svc.GetAction(ctx, study.ID, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.ItemID != nil {
		t.Fatalf("expected item link cleared, got %s", *got.ItemID)
	}

	if _, err := svc.DeleteAction(ctx, study.ID, action.ID); err != nil {
		t.Fatalf("delete action: %v", err)
	}
	if got := mustGetStudy(t, svc, study.ID).ActionsCount; got != 1 {
		t.Fatalf("expected 1 action after delete, got %d", got)
	}
}

func TestUpdateActionClearsItemLink(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("links"))
	item := mustCreateItem(t, svc, study.ID, testItem("Seal", 5, 5, 5))
	action, _, err := svc.CreateAction(ctx, study.ID, ActionInput{Title: "Fix", OwnerUserID: "u1", ItemID: &item.ID})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	var patch ActionPatch
	if err := json.Unmarshal([]byte(`{"item_id": null}`), &patch); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	updated, _, err := svc.UpdateAction(ctx, study.ID, action.ID, patch)
	if err != nil {
		t.Fatalf("update action: %v", err)
	}
	if updated.ItemID != nil {
		t.Fatalf("expected cleared item id")
	}

	_, _, err = svc.UpdateAction(ctx, study.ID, action.ID, ActionPatch{ItemID: Some("nope")})
	var rerr ReferenceError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected reference error, got %v", err)
	}
}

func TestUpdateStudyRangeMustHoldExistingItems(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("ranges"))
	mustCreateItem(t, svc, study.ID, testItem("Seal", 8, 2, 2))

	narrow := RatingRange{Min: 1, Max: 5}
	if _, _, err := svc.UpdateStudy(ctx, study.ID, StudyPatch{SeverityRange: &narrow}); err == nil {
		t.Fatalf("expected narrowed range to be rejected")
	}
	if got := mustGetStudy(t, svc, study.ID).SeverityRange; got != domain.DefaultRatingRange() {
		t.Fatalf("expected range unchanged, got %+v", got)
	}

	updated, _, err := svc.UpdateStudy(ctx, study.ID, StudyPatch{Title: strPtr("Renamed"), Departments: &[]string{"Ops", "ops", ""}})
	if err != nil {
		t.Fatalf("update study: %v", err)
	}
	if updated.Title != "Renamed" || len(updated.Departments) != 2 || highest(updated) != 32 {
		t.Fatalf("unexpected updated study: %+v", updated)
	}
}

func TestDeleteStudyCascades(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("cascade"))
	item := mustCreateItem(t, svc, study.ID, testItem("Seal", 5, 5, 5))
	if _, _, err := svc.CreateAction(ctx, study.ID, ActionInput{Title: "Fix", OwnerUserID: "u1", ItemID: &item.ID}); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if _, err := svc.DeleteStudy(ctx, study.ID); err != nil {
		t.Fatalf("delete study: %v", err)
	}
	store := svc.Store()
	if len(store.ListItems("")) != 0 || len(store.ListActions("")) != 0 {
		t.Fatalf("expected cascade delete")
	}
	var nf NotFoundError
	if _, err := svc.DeleteStudy(ctx, study.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListStudiesQuery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := ClockFunc(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})
	svc := NewInMemoryService(nil, WithClock(clock))
	ctx := context.Background()
	a := mustCreateStudy(t, svc, testDraft("Alpha press"))
	designDraft := testDraft("Beta housing")
	designDraft.Type = domain.StudyTypeDesign
	b := mustCreateStudy(t, svc, designDraft)
	c := mustCreateStudy(t, svc, testDraft("Gamma press"))

	all, err := svc.ListStudies(ctx, StudyQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Fatalf("expected newest first, got %v", studyIDs(all))
	}

	press, _ := svc.ListStudies(ctx, StudyQuery{Q: "PRESS"})
	if len(press) != 2 {
		t.Fatalf("expected 2 text matches, got %v", studyIDs(press))
	}
	design, _ := svc.ListStudies(ctx, StudyQuery{Type: string(domain.StudyTypeDesign)})
	if len(design) != 1 || design[0].ID != b.ID {
		t.Fatalf("expected design study, got %v", studyIDs(design))
	}
	page, _ := svc.ListStudies(ctx, StudyQuery{Skip: 1, Limit: 1})
	if len(page) != 1 || page[0].ID != b.ID {
		t.Fatalf("expected second study on page, got %v", studyIDs(page))
	}
	if empty, _ := svc.ListStudies(ctx, StudyQuery{Skip: 10}); len(empty) != 0 {
		t.Fatalf("expected empty page")
	}
	if _, err := svc.ListStudies(ctx, StudyQuery{Status: "Archived"}); err == nil {
		t.Fatalf("expected invalid status to fail")
	}
}

func studyIDs(studies []Study) []string {
	out := make([]string, 0, len(studies))
	for _, s := range studies {
		out = append(out, s.ID)
	}
	return out
}

func TestQueryItemsFiltersAndSorts(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("query"))
	a := mustCreateItem(t, svc, study.ID, testItem("A", 5, 5, 6)) // 150
	b := mustCreateItem(t, svc, study.ID, testItem("B", 9, 9, 9)) // 729
	c := mustCreateItem(t, svc, study.ID, testItem("C", 5, 6, 5)) // 150
	mustCreateItem(t, svc, study.ID, testItem("D", 1, 1, 1))

	rows, err := svc.QueryItems(ctx, study.ID, ItemQuery{Criteria: filter.Criteria{MinRPN: intPtr(100)}, Sort: SortByRPN})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []string{b.ID, a.ID, c.ID}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("row %d: expected %s, got %s", i, id, rows[i].ID)
		}
	}

	_, err = svc.QueryItems(ctx, study.ID, ItemQuery{Criteria: filter.Criteria{MinRPN: intPtr(500), MaxRPN: intPtr(10)}})
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScenarioCWorksheetParetoKeepsCreationOrder(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("pareto"))
	a := mustCreateItem(t, svc, study.ID, testItem("A", 5, 5, 6))
	b := mustCreateItem(t, svc, study.ID, testItem("B", 5, 6, 5))

	ws, err := svc.Worksheet(ctx, study.ID, filter.Criteria{})
	if err != nil {
		t.Fatalf("worksheet: %v", err)
	}
	if len(ws.Pareto) != 2 || ws.Pareto[0].ItemID != a.ID || ws.Pareto[1].ItemID != b.ID {
		t.Fatalf("expected [A B], got %+v", ws.Pareto)
	}
	if ws.Study.ID != study.ID || ws.Summary.TotalItems != 2 {
		t.Fatalf("unexpected worksheet: %+v", ws.Summary)
	}
}

func TestSummaries(t *testing.T) {
	svc := NewInMemoryService(nil, WithHighRPNThreshold(100))
	ctx := context.Background()
	first := mustCreateStudy(t, svc, testDraft("one"))
	second := mustCreateStudy(t, svc, testDraft("two"))
	mustCreateItem(t, svc, first.ID, testItem("A", 5, 5, 5))
	mustCreateItem(t, svc, second.ID, testItem("B", 2, 2, 2))
	if _, _, err := svc.CreateAction(ctx, second.ID, ActionInput{Title: "Late", OwnerUserID: "u", Status: domain.ActionStatusOverdue}); err != nil {
		t.Fatalf("create action: %v", err)
	}

	dash, err := svc.DashboardSummary(ctx, SummaryQuery{})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.TotalStudies != 2 || dash.TotalItems != 2 || dash.HighRPNItems != 1 || dash.OverdueActions != 1 || dash.HighRPNThreshold != 100 {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}

	per, err := svc.StudySummary(ctx, second.ID, SummaryQuery{})
	if err != nil {
		t.Fatalf("study summary: %v", err)
	}
	if per.TotalItems != 1 || per.HighRPNItems != 0 || per.TotalActions != 1 {
		t.Fatalf("unexpected study summary: %+v", per)
	}
	var nf NotFoundError
	if _, err := svc.StudySummary(ctx, "missing", SummaryQuery{}); !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}

	low := 8
	dash, err = svc.DashboardSummary(ctx, SummaryQuery{HighRPNThreshold: &low})
	if err != nil {
		t.Fatalf("dashboard with threshold: %v", err)
	}
	if dash.HighRPNItems != 2 || dash.HighRPNThreshold != 8 {
		t.Fatalf("expected per-request threshold to apply, got %+v", dash)
	}
	per, err = svc.StudySummary(ctx, first.ID, SummaryQuery{HighRPNThreshold: &low})
	if err != nil || per.HighRPNItems != 1 {
		t.Fatalf("study summary with threshold: %+v %v", per, err)
	}
	for _, bad := range []int{0, -5} {
		var ve ValidationError
		if _, err := svc.DashboardSummary(ctx, SummaryQuery{HighRPNThreshold: &bad}); !errors.As(err, &ve) || ve.Field != "high_rpn_threshold" {
			t.Fatalf("threshold %d: expected validation error, got %v", bad, err)
		}
		if _, err := svc.StudySummary(ctx, first.ID, SummaryQuery{HighRPNThreshold: &bad}); !errors.As(err, &ve) {
			t.Fatalf("threshold %d: expected study summary validation error, got %v", bad, err)
		}
	}
}

func TestOverdueActionsIsReadOnly(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewInMemoryService(nil, WithClock(ClockFunc(func() time.Time { return fixed })))
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("overdue"))
	past := fixed.Add(-48 * time.Hour)
	late, _, err := svc.CreateAction(ctx, study.ID, ActionInput{Title: "Late", OwnerUserID: "u", DueDate: &past})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := svc.OverdueActions(ctx, study.ID)
	if err != nil || len(got) != 1 || got[0].ID != late.ID {
		t.Fatalf("expected one overdue candidate, got %v (%v)", got, err)
	}
	stored, _ := svc.GetAction(ctx, study.ID, late.ID)
	if stored.Status != domain.ActionStatusOpen {
		t.Fatalf("expected status untouched, got %s", stored.Status)
	}
	if !stored.CreatedAt.Equal(fixed) {
		t.Fatalf("expected service clock on record, got %v", stored.CreatedAt)
	}
}

func TestRulesSurfaceWarnings(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	study := mustCreateStudy(t, svc, testDraft("rules"))

	_, res, err := svc.CreateItem(ctx, study.ID, testItem("Hot", 8, 8, 8))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !hasViolation(res, "high_rpn_unmitigated", EnforceWarn) {
		t.Fatalf("expected high rpn warning, got %+v", res)
	}

	hold := domain.StudyStatusOnHold
	if _, _, err := svc.UpdateStudy(ctx, study.ID, StudyPatch{Status: &hold}); err != nil {
		t.Fatalf("hold study: %v", err)
	}
	in := testItem("Cold", 1, 1, 1)
	_, res, err = svc.CreateItem(ctx, study.ID, in)
	if err != nil {
		t.Fatalf("create on hold: %v", err)
	}
	if !hasViolation(res, "closed_study_edit", EnforceLog) {
		t.Fatalf("expected closed study log, got %+v", res)
	}
}

type rejectTitleRule struct{}

func (rejectTitleRule) Name() string { return "reject_title" }

func (rejectTitleRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	var res Result
	for _, c := range changes {
		if c.Entity != EntityStudy {
			continue
		}
		if s, ok := view.FindStudy(c.EntityID); ok && s.Title == "forbidden" {
			res.Violations = append(res.Violations, Violation{Rule: "reject_title", Enforcement: EnforceBlock, Message: "no", Entity: EntityStudy, EntityID: s.ID})
		}
	}
	return res, nil
}

func TestRegisteredRuleBlocksCommit(t *testing.T) {
	svc := NewInMemoryService(nil)
	if !svc.RegisterRule(rejectTitleRule{}) {
		t.Fatalf("expected rule registration")
	}
	_, res, err := svc.CreateStudy(context.Background(), testDraft("forbidden"))
	var rve RuleViolationError
	if !errors.As(err, &rve) || !res.HasBlocking() {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(svc.Store().ListStudies()) != 0 {
		t.Fatalf("expected rollback")
	}
}

func hasViolation(res Result, rule string, enforcement Enforcement) bool {
	for _, v := range res.Violations {
		if v.Rule == rule && v.Enforcement == enforcement {
			return true
		}
	}
	return false
}
