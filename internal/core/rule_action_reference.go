package core

import (
	"context"
	"fmt"

	"fmeacore/pkg/domain"
)

// NewActionItemReferenceRule blocks actions whose item link does not resolve to
// an item of the same study.
func NewActionItemReferenceRule() domain.Rule {
	return actionItemReferenceRule{}
}

type actionItemReferenceRule struct{}

func (actionItemReferenceRule) Name() string { return "action_item_reference" }

func (r actionItemReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, studyID := range domain.TouchedStudies(changes) {
		for _, action := range view.ListActions(studyID) {
			if action.ItemID == nil {
				continue
			}
			item, ok := view.FindItem(*action.ItemID)
			if ok && item.StudyID == action.StudyID {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:        r.Name(),
				Enforcement: domain.EnforceBlock,
				Message:     fmt.Sprintf("action %s links item %s outside study %s", action.ID, *action.ItemID, action.StudyID),
				Entity:      domain.EntityAction,
				EntityID:    action.ID,
			})
		}
	}
	return res, nil
}
