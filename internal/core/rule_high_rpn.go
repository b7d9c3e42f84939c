package core

import (
	"context"
	"fmt"
	"strings"

	"fmeacore/pkg/domain"
)

// NewHighRPNUnmitigatedRule warns when a created or updated item reaches the
// threshold without any recommended action recorded.
func NewHighRPNUnmitigatedRule(threshold int) domain.Rule {
	if threshold <= 0 {
		threshold = DefaultHighRPNThreshold
	}
	return highRPNUnmitigatedRule{threshold: threshold}
}

type highRPNUnmitigatedRule struct {
	threshold int
}

func (highRPNUnmitigatedRule) Name() string { return "high_rpn_unmitigated" }

func (r highRPNUnmitigatedRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityItem || change.Action == domain.ChangeDelete {
			continue
		}
		item, ok := view.FindItem(change.EntityID)
		if !ok || item.RPN < r.threshold || strings.TrimSpace(item.RecommendedActions) != "" {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:        r.Name(),
			Enforcement: domain.EnforceWarn,
			Message:     fmt.Sprintf("item %s has rpn %d (>= %d) and no recommended actions", item.ID, item.RPN, r.threshold),
			Entity:      domain.EntityItem,
			EntityID:    item.ID,
		})
	}
	return res, nil
}
