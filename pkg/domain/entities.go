// Package domain defines the FMEA entities, value types, derived-value rules and
// the persistence and rule evaluation contracts used by fmeacore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityStudy identifies an FMEA study record.
	EntityStudy EntityType = "study"
	// EntityItem identifies a worksheet row (failure mode) record.
	EntityItem EntityType = "item"
	// EntityAction identifies a mitigation action record.
	EntityAction EntityType = "action"
)

// StudyType enumerates the FMEA variants a study can be run as.
type StudyType string

// Canonical study types. Values match the labels shown on worksheets.
const (
	StudyTypeProcess  StudyType = "Process FMEA (PFMEA)"
	StudyTypeDesign   StudyType = "Design FMEA (DFMEA)"
	StudyTypeSystem   StudyType = "System FMEA (SFMEA)"
	StudyTypeService  StudyType = "Service FMEA"
	StudyTypeSoftware StudyType = "Software FMEA"
)

// Valid reports whether t is one of the canonical study types.
func (t StudyType) Valid() bool {
	switch t {
	case StudyTypeProcess, StudyTypeDesign, StudyTypeSystem, StudyTypeService, StudyTypeSoftware:
		return true
	}
	return false
}

// StudyStatus enumerates study lifecycle states.
type StudyStatus string

// Canonical study statuses.
const (
	StudyStatusActive    StudyStatus = "Active"
	StudyStatusCompleted StudyStatus = "Completed"
	StudyStatusOnHold    StudyStatus = "On Hold"
)

// Valid reports whether s is a known study status.
func (s StudyStatus) Valid() bool {
	switch s {
	case StudyStatusActive, StudyStatusCompleted, StudyStatusOnHold:
		return true
	}
	return false
}

// ItemStatus enumerates worksheet row workflow states.
type ItemStatus string

// Canonical item statuses.
const (
	ItemStatusOpen       ItemStatus = "Open"
	ItemStatusInProgress ItemStatus = "In Progress"
	ItemStatusCompleted  ItemStatus = "Completed"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusOpen, ItemStatusInProgress, ItemStatusCompleted:
		return true
	}
	return false
}

// ActionStatus enumerates mitigation action states. Transitions are manual;
// nothing in the core moves an action between states on its own.
type ActionStatus string

// Canonical action statuses.
const (
	ActionStatusOpen       ActionStatus = "Open"
	ActionStatusInProgress ActionStatus = "In Progress"
	ActionStatusCompleted  ActionStatus = "Completed"
	ActionStatusOverdue    ActionStatus = "Overdue"
	ActionStatusCancelled  ActionStatus = "Cancelled"
)

// Valid reports whether s is a known action status.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusOpen, ActionStatusInProgress, ActionStatusCompleted, ActionStatusOverdue, ActionStatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the action no longer needs follow-up.
func (s ActionStatus) Closed() bool {
	return s == ActionStatusCompleted || s == ActionStatusCancelled
}

// Rating scale defaults applied when a study does not configure its own.
const (
	DefaultRatingMin = 1
	DefaultRatingMax = 10
	// DefaultMemberRole is assigned to team members created without a role.
	DefaultMemberRole = "Member"
)

// RatingRange is an inclusive bound for a severity, occurrence or detection rating.
type RatingRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultRatingRange returns the 1-10 scale.
func DefaultRatingRange() RatingRange {
	return RatingRange{Min: DefaultRatingMin, Max: DefaultRatingMax}
}

// IsZero reports whether the range was left unset.
func (r RatingRange) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// Contains reports whether v lies within the inclusive range.
func (r RatingRange) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// Validate checks that the range is well formed.
func (r RatingRange) Validate(field string) error {
	if r.Min < 1 {
		return ValidationError{Field: field + ".min", Message: "must be at least 1"}
	}
	if r.Min > r.Max {
		return ValidationError{Field: field, Message: "min must not exceed max"}
	}
	return nil
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamMember assigns a directory user to a study with a role.
type TeamMember struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Study is an FMEA analysis: its configuration, team and derived risk summary.
type Study struct {
	Base
	Title                string       `json:"title"`
	Type                 StudyType    `json:"fmea_type"`
	ProcessOrProductName string       `json:"process_or_product_name"`
	Description          string       `json:"description,omitempty"`
	Departments          []string     `json:"departments"`
	TeamLeadID           string       `json:"team_lead_id"`
	TeamMembers          []TeamMember `json:"team_members"`
	ReviewDate           time.Time    `json:"review_date"`
	Standard             string       `json:"standard,omitempty"`
	Scope                string       `json:"scope"`
	Assumptions          string       `json:"assumptions,omitempty"`
	SeverityRange        RatingRange  `json:"severity_range"`
	OccurrenceRange      RatingRange  `json:"occurrence_range"`
	DetectionRange       RatingRange  `json:"detection_range"`
	Status               StudyStatus  `json:"status"`
	CreatedByID          string       `json:"created_by_id,omitempty"`

	// HighestRPN is nil while the study has no items.
	HighestRPN   *int `json:"highest_rpn"`
	ActionsCount int  `json:"actions_count"`
}

// Item is a single worksheet row describing one failure mode.
type Item struct {
	Base
	StudyID              string     `json:"study_id"`
	Seq                  int64      `json:"seq"`
	ItemFunction         string     `json:"item_function"`
	FailureMode          string     `json:"failure_mode"`
	Effects              string     `json:"effects,omitempty"`
	Severity             int        `json:"severity"`
	Causes               string     `json:"causes,omitempty"`
	Occurrence           int        `json:"occurrence"`
	CurrentControls      string     `json:"current_controls,omitempty"`
	Detection            int        `json:"detection"`
	RPN                  int        `json:"rpn"`
	RecommendedActions   string     `json:"recommended_actions,omitempty"`
	ResponsibilityUserID string     `json:"responsibility_user_id,omitempty"`
	TargetDate           *time.Time `json:"target_date,omitempty"`
	ActionsTaken         string     `json:"actions_taken,omitempty"`
	Status               ItemStatus `json:"status"`
	NewSeverity          *int       `json:"new_severity"`
	NewOccurrence        *int       `json:"new_occurrence"`
	NewDetection         *int       `json:"new_detection"`
	NewRPN               *int       `json:"new_rpn"`
}

// Action is a mitigation task tracked against a study and optionally one of its items.
type Action struct {
	Base
	StudyID     string       `json:"study_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	OwnerUserID string       `json:"owner_user_id"`
	Status      ActionStatus `json:"status"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	ItemID      *string      `json:"item_id"`
}

// StudyDraft is the creation payload for a study, produced by the study wizard.
type StudyDraft struct {
	Title                string       `json:"title"`
	Type                 StudyType    `json:"fmea_type"`
	ProcessOrProductName string       `json:"process_or_product_name"`
	Description          string       `json:"description,omitempty"`
	Departments          []string     `json:"departments"`
	TeamLeadID           string       `json:"team_lead_id"`
	TeamMembers          []TeamMember `json:"team_members"`
	ReviewDate           time.Time    `json:"review_date"`
	Standard             string       `json:"standard,omitempty"`
	Scope                string       `json:"scope"`
	Assumptions          string       `json:"assumptions,omitempty"`
	SeverityRange        RatingRange  `json:"severity_range"`
	OccurrenceRange      RatingRange  `json:"occurrence_range"`
	DetectionRange       RatingRange  `json:"detection_range"`
	CreatedByID          string       `json:"created_by_id,omitempty"`
}

// Study materialises the draft into a new, not yet persisted, study.
func (d StudyDraft) Study() Study {
	s := Study{
		Title:                strings.TrimSpace(d.Title),
		Type:                 d.Type,
		ProcessOrProductName: strings.TrimSpace(d.ProcessOrProductName),
		Description:          d.Description,
		Departments:          NormalizeDepartments(d.Departments),
		TeamLeadID:           d.TeamLeadID,
		TeamMembers:          NormalizeTeam(d.TeamMembers),
		ReviewDate:           d.ReviewDate,
		Standard:             d.Standard,
		Scope:                strings.TrimSpace(d.Scope),
		Assumptions:          d.Assumptions,
		SeverityRange:        d.SeverityRange,
		OccurrenceRange:      d.OccurrenceRange,
		DetectionRange:       d.DetectionRange,
		Status:               StudyStatusActive,
		CreatedByID:          d.CreatedByID,
	}
	if s.Type == "" {
		s.Type = StudyTypeProcess
	}
	if s.SeverityRange.IsZero() {
		s.SeverityRange = DefaultRatingRange()
	}
	if s.OccurrenceRange.IsZero() {
		s.OccurrenceRange = DefaultRatingRange()
	}
	if s.DetectionRange.IsZero() {
		s.DetectionRange = DefaultRatingRange()
	}
	return s
}

// NormalizeDepartments trims entries, drops blanks and removes duplicates while
// keeping first-seen order.
func NormalizeDepartments(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, d := range in {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// NormalizeTeam defaults empty roles to DefaultMemberRole and keeps the first
// entry for each user.
func NormalizeTeam(in []TeamMember) []TeamMember {
	out := make([]TeamMember, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		m.UserID = strings.TrimSpace(m.UserID)
		if m.UserID == "" {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		if strings.TrimSpace(m.Role) == "" {
			m.Role = DefaultMemberRole
		}
		out = append(out, m)
	}
	return out
}
