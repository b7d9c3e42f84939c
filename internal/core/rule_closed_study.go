package core

import (
	"context"
	"fmt"

	"fmeacore/pkg/domain"
)

// NewClosedStudyEditRule logs worksheet edits made while the owning study is
// Completed or On Hold. Edits are allowed; the violation only surfaces them.
func NewClosedStudyEditRule() domain.Rule {
	return closedStudyEditRule{}
}

type closedStudyEditRule struct{}

func (closedStudyEditRule) Name() string { return "closed_study_edit" }

func (r closedStudyEditRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity == domain.EntityStudy {
			continue
		}
		study, ok := view.FindStudy(change.StudyID)
		if !ok || study.Status == domain.StudyStatusActive {
			continue
		}
		// A study that was just reopened or closed in the same transaction is judged by its final state.
		if reopened, err := studyChangedStatus(changes, study.ID); err != nil {
			return domain.Result{}, err
		} else if reopened {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:        r.Name(),
			Enforcement: domain.EnforceLog,
			Message:     fmt.Sprintf("%s %s changed while study %s is %s", change.Entity, change.EntityID, study.ID, study.Status),
			Entity:      change.Entity,
			EntityID:    change.EntityID,
		})
	}
	return res, nil
}

func studyChangedStatus(changes []domain.Change, studyID string) (bool, error) {
	for _, change := range changes {
		if change.Entity != domain.EntityStudy || change.EntityID != studyID || change.Action != domain.ChangeUpdate {
			continue
		}
		before, okBefore, err := domain.DecodePayload[domain.Study](change.Before)
		if err != nil {
			return false, err
		}
		after, okAfter, err := domain.DecodePayload[domain.Study](change.After)
		if err != nil {
			return false, err
		}
		if okBefore && okAfter && before.Status != after.Status {
			return true, nil
		}
	}
	return false, nil
}
