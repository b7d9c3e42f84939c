package core

import (
	"context"
	"fmt"

	"fmeacore/pkg/domain"
)

// NewDerivedConsistencyRule blocks commits in which a stored RPN, NewRPN,
// HighestRPN or ActionsCount disagrees with its inputs.
func NewDerivedConsistencyRule() domain.Rule {
	return derivedConsistencyRule{}
}

type derivedConsistencyRule struct{}

func (derivedConsistencyRule) Name() string { return "derived_consistency" }

func (r derivedConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, studyID := range domain.TouchedStudies(changes) {
		study, ok := view.FindStudy(studyID)
		if !ok {
			continue
		}
		items := view.ListItems(studyID)
		for _, item := range items {
			want := item
			want.Recompute()
			if want.RPN != item.RPN || !sameIntPtr(want.NewRPN, item.NewRPN) {
				res.Violations = append(res.Violations, r.violation(domain.EntityItem, item.ID,
					fmt.Sprintf("item %s derived scores out of date", item.ID)))
			}
		}
		want := study
		domain.RecomputeStudy(&want, items, view.ListActions(studyID))
		if !sameIntPtr(want.HighestRPN, study.HighestRPN) || want.ActionsCount != study.ActionsCount {
			res.Violations = append(res.Violations, r.violation(domain.EntityStudy, study.ID,
				fmt.Sprintf("study %s aggregates out of date", study.ID)))
		}
	}
	return res, nil
}

func (r derivedConsistencyRule) violation(entity domain.EntityType, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:        r.Name(),
		Enforcement: domain.EnforceBlock,
		Message:     msg,
		Entity:      entity,
		EntityID:    id,
	}
}

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
