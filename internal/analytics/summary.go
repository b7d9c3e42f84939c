package analytics

import (
	"fmeacore/internal/filter"
	"fmeacore/pkg/domain"
)

// Summary is the dashboard roll-up for one study or for all of them.
type Summary struct {
	TotalStudies     int `json:"total_studies,omitempty"`
	ActiveStudies    int `json:"active_studies,omitempty"`
	TotalItems       int `json:"total_items"`
	HighRPNItems     int `json:"high_rpn_items"`
	OpenItems        int `json:"open_items"`
	MitigatedItems   int `json:"mitigated_items"`
	TotalActions     int `json:"total_actions"`
	CompletedActions int `json:"completed_actions"`
	OverdueActions   int `json:"overdue_actions"`
	TotalRPN         int `json:"total_rpn"`
	TotalNewRPN      int `json:"total_new_rpn"`
	RiskReduction    int `json:"risk_reduction"`
	HighRPNThreshold int `json:"high_rpn_threshold"`
}

// Summarize rolls items and actions up. threshold <= 0 uses DefaultHighRPNThreshold.
// OverdueActions counts actions whose status is Overdue.
func Summarize(items []domain.Item, actions []domain.Action, threshold int) Summary {
	if threshold <= 0 {
		threshold = DefaultHighRPNThreshold
	}
	s := Summary{TotalItems: len(items), TotalActions: len(actions), HighRPNThreshold: threshold}
	for _, item := range items {
		s.TotalRPN += item.RPN
		if item.RPN >= threshold {
			s.HighRPNItems++
		}
		if item.Status == domain.ItemStatusOpen {
			s.OpenItems++
		}
		if item.NewRPN != nil {
			s.MitigatedItems++
			s.TotalNewRPN += *item.NewRPN
			s.RiskReduction += item.RPN - *item.NewRPN
		}
	}
	for _, a := range actions {
		switch a.Status {
		case domain.ActionStatusCompleted:
			s.CompletedActions++
		case domain.ActionStatusOverdue:
			s.OverdueActions++
		}
	}
	return s
}

// SummarizeStudies adds study counts to the roll-up of every item and action.
func SummarizeStudies(studies []domain.Study, items []domain.Item, actions []domain.Action, threshold int) Summary {
	s := Summarize(items, actions, threshold)
	s.TotalStudies = len(studies)
	for _, st := range studies {
		if st.Status == domain.StudyStatusActive {
			s.ActiveStudies++
		}
	}
	return s
}

// Worksheet bundles the filtered rows and every chart computed from them.
type Worksheet struct {
	Items          []domain.Item `json:"items"`
	Distribution   []Bucket      `json:"distribution"`
	Pareto         []Point       `json:"pareto"`
	RiskMatrix     []MatrixPoint `json:"risk_matrix"`
	ActionPriority []Point       `json:"action_priority"`
	Summary        Summary       `json:"summary"`
}

// BuildWorksheet filters items with c and derives all charts from the same
// filtered snapshot. The summary covers the filtered rows and all actions.
func BuildWorksheet(items []domain.Item, actions []domain.Action, c filter.Criteria, threshold int) (Worksheet, error) {
	rows, err := filter.Apply(items, c)
	if err != nil {
		return Worksheet{}, err
	}
	return Worksheet{
		Items:          rows,
		Distribution:   Distribution(rows),
		Pareto:         Pareto(rows, DefaultParetoSize),
		RiskMatrix:     RiskMatrix(rows),
		ActionPriority: ActionPriority(rows, DefaultActionPrioritySize),
		Summary:        Summarize(rows, actions, threshold),
	}, nil
}
