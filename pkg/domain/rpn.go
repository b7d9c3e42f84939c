package domain

import (
	"fmt"
	"strings"
)

// ComputeRPN returns the risk priority number for a severity, occurrence and
// detection triple.
func ComputeRPN(severity, occurrence, detection int) int {
	return severity * occurrence * detection
}

// Recompute refreshes the item's derived scores from its ratings. NewRPN is only
// set when all three post-mitigation ratings are present.
func (i *Item) Recompute() {
	i.RPN = ComputeRPN(i.Severity, i.Occurrence, i.Detection)
	if i.NewSeverity != nil && i.NewOccurrence != nil && i.NewDetection != nil {
		v := ComputeRPN(*i.NewSeverity, *i.NewOccurrence, *i.NewDetection)
		i.NewRPN = &v
		return
	}
	i.NewRPN = nil
}

// Mitigated reports whether the item carries a complete post-mitigation score.
func (i Item) Mitigated() bool { return i.NewRPN != nil }

// RecomputeStudy refreshes the study's aggregate fields from the supplied items
// and actions, which must all belong to the study.
func RecomputeStudy(study *Study, items []Item, actions []Action) {
	var highest *int
	for _, item := range items {
		if highest == nil || item.RPN > *highest {
			v := item.RPN
			highest = &v
		}
	}
	study.HighestRPN = highest
	study.ActionsCount = len(actions)
}

// ValidateStudy checks the configuration invariants a persisted study must hold.
func ValidateStudy(s Study) error {
	if strings.TrimSpace(s.Title) == "" {
		return ValidationError{Field: "title", Message: "is required"}
	}
	if strings.TrimSpace(s.ProcessOrProductName) == "" {
		return ValidationError{Field: "process_or_product_name", Message: "is required"}
	}
	if s.ReviewDate.IsZero() {
		return ValidationError{Field: "review_date", Message: "is required"}
	}
	if strings.TrimSpace(s.Scope) == "" {
		return ValidationError{Field: "scope", Message: "is required"}
	}
	if !s.Type.Valid() {
		return ValidationError{Field: "fmea_type", Message: fmt.Sprintf("unknown type %q", s.Type)}
	}
	if !s.Status.Valid() {
		return ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s.Status)}
	}
	for _, r := range []struct {
		field string
		rng   RatingRange
	}{
		{"severity_range", s.SeverityRange},
		{"occurrence_range", s.OccurrenceRange},
		{"detection_range", s.DetectionRange},
	} {
		if err := r.rng.Validate(r.field); err != nil {
			return err
		}
	}
	if strings.TrimSpace(s.TeamLeadID) == "" {
		return ValidationError{Field: "team_lead_id", Message: "is required"}
	}
	if len(s.TeamMembers) == 0 {
		return ValidationError{Field: "team_members", Message: "at least one member is required"}
	}
	return nil
}

// ValidateItem checks an item against the owning study's rating scales.
func ValidateItem(study Study, item Item) error {
	if strings.TrimSpace(item.ItemFunction) == "" {
		return ValidationError{Field: "item_function", Message: "is required"}
	}
	if strings.TrimSpace(item.FailureMode) == "" {
		return ValidationError{Field: "failure_mode", Message: "is required"}
	}
	if !item.Status.Valid() {
		return ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", item.Status)}
	}
	ratings := []struct {
		field string
		value *int
		rng   RatingRange
	}{
		{"severity", &item.Severity, study.SeverityRange},
		{"occurrence", &item.Occurrence, study.OccurrenceRange},
		{"detection", &item.Detection, study.DetectionRange},
		{"new_severity", item.NewSeverity, study.SeverityRange},
		{"new_occurrence", item.NewOccurrence, study.OccurrenceRange},
		{"new_detection", item.NewDetection, study.DetectionRange},
	}
	for _, r := range ratings {
		if r.value == nil {
			continue
		}
		if !r.rng.Contains(*r.value) {
			return ValidationError{
				Field:   r.field,
				Message: fmt.Sprintf("must be in range %d-%d, got %d", r.rng.Min, r.rng.Max, *r.value),
			}
		}
	}
	return nil
}

// ValidateAction checks an action's required fields and status.
func ValidateAction(action Action) error {
	if strings.TrimSpace(action.Title) == "" {
		return ValidationError{Field: "title", Message: "is required"}
	}
	if strings.TrimSpace(action.OwnerUserID) == "" {
		return ValidationError{Field: "owner_user_id", Message: "is required"}
	}
	if !action.Status.Valid() {
		return ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", action.Status)}
	}
	return nil
}
