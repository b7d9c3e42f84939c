// Package filter narrows a worksheet item collection by RPN, severity and status.
package filter

import (
	"fmt"

	"fmeacore/pkg/domain"
)

// StatusAll disables status filtering.
const StatusAll = "All"

// Criteria bounds are inclusive; a nil bound imposes nothing.
type Criteria struct {
	MinRPN      *int   `json:"min_rpn,omitempty" form:"min_rpn"`
	MaxRPN      *int   `json:"max_rpn,omitempty" form:"max_rpn"`
	MinSeverity *int   `json:"min_severity,omitempty" form:"min_severity"`
	MaxSeverity *int   `json:"max_severity,omitempty" form:"max_severity"`
	Status      string `json:"status,omitempty" form:"status"`
}

// IsZero reports whether the criteria select every item.
func (c Criteria) IsZero() bool {
	return c.MinRPN == nil && c.MaxRPN == nil && c.MinSeverity == nil && c.MaxSeverity == nil && !c.filtersStatus()
}

func (c Criteria) filtersStatus() bool {
	return c.Status != "" && c.Status != StatusAll
}

// Validate rejects inverted bounds and unknown statuses.
func (c Criteria) Validate() error {
	if c.MinRPN != nil && c.MaxRPN != nil && *c.MinRPN > *c.MaxRPN {
		return domain.ValidationError{Field: "min_rpn", Message: fmt.Sprintf("must not exceed max_rpn (%d > %d)", *c.MinRPN, *c.MaxRPN)}
	}
	if c.MinSeverity != nil && c.MaxSeverity != nil && *c.MinSeverity > *c.MaxSeverity {
		return domain.ValidationError{Field: "min_severity", Message: fmt.Sprintf("must not exceed max_severity (%d > %d)", *c.MinSeverity, *c.MaxSeverity)}
	}
	if c.filtersStatus() && !domain.ItemStatus(c.Status).Valid() {
		return domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)}
	}
	return nil
}

// Match reports whether a single item satisfies the criteria. Validate first.
func (c Criteria) Match(item domain.Item) bool {
	if c.MinRPN != nil && item.RPN < *c.MinRPN {
		return false
	}
	if c.MaxRPN != nil && item.RPN > *c.MaxRPN {
		return false
	}
	if c.MinSeverity != nil && item.Severity < *c.MinSeverity {
		return false
	}
	if c.MaxSeverity != nil && item.Severity > *c.MaxSeverity {
		return false
	}
	if c.filtersStatus() && string(item.Status) != c.Status {
		return false
	}
	return true
}

// Apply returns the items matching c, preserving input order. The input slice
// is never modified.
func Apply(items []domain.Item, c Criteria) ([]domain.Item, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if c.Match(item) {
			out = append(out, item)
		}
	}
	return out, nil
}
