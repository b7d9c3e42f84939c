package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"fmeacore/pkg/domain"
)

// Optional distinguishes an absent patch field from an explicit null.
// Set is true whenever the key was present; Value is nil for null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

// Null returns a set Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

// UnmarshalJSON records presence and decodes the value unless it is null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// MarshalJSON writes the value or null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

func (o Optional[T]) applyTo(dst **T) {
	if !o.Set {
		return
	}
	if o.Value == nil {
		*dst = nil
		return
	}
	v := *o.Value
	*dst = &v
}

// ItemInput is the payload for a new worksheet row.
type ItemInput struct {
	ItemFunction         string            `json:"item_function"`
	FailureMode          string            `json:"failure_mode"`
	Effects              string            `json:"effects,omitempty"`
	Severity             int               `json:"severity"`
	Causes               string            `json:"causes,omitempty"`
	Occurrence           int               `json:"occurrence"`
	CurrentControls      string            `json:"current_controls,omitempty"`
	Detection            int               `json:"detection"`
	RecommendedActions   string            `json:"recommended_actions,omitempty"`
	ResponsibilityUserID string            `json:"responsibility_user_id,omitempty"`
	TargetDate           *time.Time        `json:"target_date,omitempty"`
	ActionsTaken         string            `json:"actions_taken,omitempty"`
	Status               domain.ItemStatus `json:"status,omitempty"`
	NewSeverity          *int              `json:"new_severity,omitempty"`
	NewOccurrence        *int              `json:"new_occurrence,omitempty"`
	NewDetection         *int              `json:"new_detection,omitempty"`
}

func (in ItemInput) item(studyID string) Item {
	return Item{
		StudyID:              studyID,
		ItemFunction:         strings.TrimSpace(in.ItemFunction),
		FailureMode:          strings.TrimSpace(in.FailureMode),
		Effects:              in.Effects,
		Severity:             in.Severity,
		Causes:               in.Causes,
		Occurrence:           in.Occurrence,
		CurrentControls:      in.CurrentControls,
		Detection:            in.Detection,
		RecommendedActions:   in.RecommendedActions,
		ResponsibilityUserID: in.ResponsibilityUserID,
		TargetDate:           in.TargetDate,
		ActionsTaken:         in.ActionsTaken,
		Status:               in.Status,
		NewSeverity:          in.NewSeverity,
		NewOccurrence:        in.NewOccurrence,
		NewDetection:         in.NewDetection,
	}
}

// ItemPatch merges into an existing item. Nil pointers leave fields unchanged;
// Optional fields can also be cleared with an explicit null.
type ItemPatch struct {
	ItemFunction         *string             `json:"item_function,omitempty"`
	FailureMode          *string             `json:"failure_mode,omitempty"`
	Effects              *string             `json:"effects,omitempty"`
	Severity             *int                `json:"severity,omitempty"`
	Causes               *string             `json:"causes,omitempty"`
	Occurrence           *int                `json:"occurrence,omitempty"`
	CurrentControls      *string             `json:"current_controls,omitempty"`
	Detection            *int                `json:"detection,omitempty"`
	RecommendedActions   *string             `json:"recommended_actions,omitempty"`
	ResponsibilityUserID *string             `json:"responsibility_user_id,omitempty"`
	TargetDate           Optional[time.Time] `json:"target_date"`
	ActionsTaken         *string             `json:"actions_taken,omitempty"`
	Status               *domain.ItemStatus  `json:"status,omitempty"`
	NewSeverity          Optional[int]       `json:"new_severity"`
	NewOccurrence        Optional[int]       `json:"new_occurrence"`
	NewDetection         Optional[int]       `json:"new_detection"`
}

func setString(dst *string, v *string, trim bool) {
	if v == nil {
		return
	}
	if trim {
		*dst = strings.TrimSpace(*v)
		return
	}
	*dst = *v
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (p ItemPatch) apply(item *Item) {
	setString(&item.ItemFunction, p.ItemFunction, true)
	setString(&item.FailureMode, p.FailureMode, true)
	setString(&item.Effects, p.Effects, false)
	setValue(&item.Severity, p.Severity)
	setString(&item.Causes, p.Causes, false)
	setValue(&item.Occurrence, p.Occurrence)
	setString(&item.CurrentControls, p.CurrentControls, false)
	setValue(&item.Detection, p.Detection)
	setString(&item.RecommendedActions, p.RecommendedActions, false)
	setString(&item.ResponsibilityUserID, p.ResponsibilityUserID, false)
	p.TargetDate.applyTo(&item.TargetDate)
	setString(&item.ActionsTaken, p.ActionsTaken, false)
	setValue(&item.Status, p.Status)
	p.NewSeverity.applyTo(&item.NewSeverity)
	p.NewOccurrence.applyTo(&item.NewOccurrence)
	p.NewDetection.applyTo(&item.NewDetection)
}

// ActionInput is the payload for a new mitigation action.
type ActionInput struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	OwnerUserID string              `json:"owner_user_id"`
	Status      domain.ActionStatus `json:"status,omitempty"`
	DueDate     *time.Time          `json:"due_date,omitempty"`
	ItemID      *string             `json:"item_id,omitempty"`
}

func (in ActionInput) action(studyID string) Action {
	a := Action{
		StudyID:     studyID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		OwnerUserID: strings.TrimSpace(in.OwnerUserID),
		Status:      in.Status,
		DueDate:     in.DueDate,
		ItemID:      in.ItemID,
	}
	if a.ItemID != nil && strings.TrimSpace(*a.ItemID) == "" {
		a.ItemID = nil
	}
	return a
}

// ActionPatch merges into an existing action. ItemID and DueDate accept null.
type ActionPatch struct {
	Title       *string              `json:"title,omitempty"`
	Description *string              `json:"description,omitempty"`
	OwnerUserID *string              `json:"owner_user_id,omitempty"`
	Status      *domain.ActionStatus `json:"status,omitempty"`
	DueDate     Optional[time.Time]  `json:"due_date"`
	ItemID      Optional[string]     `json:"item_id"`
}

func (p ActionPatch) apply(a *Action) {
	setString(&a.Title, p.Title, true)
	setString(&a.Description, p.Description, false)
	setString(&a.OwnerUserID, p.OwnerUserID, true)
	setValue(&a.Status, p.Status)
	p.DueDate.applyTo(&a.DueDate)
	p.ItemID.applyTo(&a.ItemID)
	if a.ItemID != nil && strings.TrimSpace(*a.ItemID) == "" {
		a.ItemID = nil
	}
}

// StudyPatch merges into an existing study. Rating range changes must still
// hold the ratings of every existing item.
type StudyPatch struct {
	Title                *string             `json:"title,omitempty"`
	Type                 *domain.StudyType   `json:"fmea_type,omitempty"`
	ProcessOrProductName *string             `json:"process_or_product_name,omitempty"`
	Description          *string             `json:"description,omitempty"`
	Departments          *[]string           `json:"departments,omitempty"`
	TeamLeadID           *string             `json:"team_lead_id,omitempty"`
	TeamMembers          *[]TeamMember       `json:"team_members,omitempty"`
	ReviewDate           *time.Time          `json:"review_date,omitempty"`
	Standard             *string             `json:"standard,omitempty"`
	Scope                *string             `json:"scope,omitempty"`
	Assumptions          *string             `json:"assumptions,omitempty"`
	SeverityRange        *RatingRange        `json:"severity_range,omitempty"`
	OccurrenceRange      *RatingRange        `json:"occurrence_range,omitempty"`
	DetectionRange       *RatingRange        `json:"detection_range,omitempty"`
	Status               *domain.StudyStatus `json:"status,omitempty"`
}

func (p StudyPatch) apply(s *Study) {
	setString(&s.Title, p.Title, true)
	setValue(&s.Type, p.Type)
	setString(&s.ProcessOrProductName, p.ProcessOrProductName, true)
	setString(&s.Description, p.Description, false)
	if p.Departments != nil {
		s.Departments = domain.NormalizeDepartments(*p.Departments)
	}
	setString(&s.TeamLeadID, p.TeamLeadID, true)
	if p.TeamMembers != nil {
		s.TeamMembers = domain.NormalizeTeam(*p.TeamMembers)
	}
	setValue(&s.ReviewDate, p.ReviewDate)
	setString(&s.Standard, p.Standard, false)
	setString(&s.Scope, p.Scope, true)
	setString(&s.Assumptions, p.Assumptions, false)
	setValue(&s.SeverityRange, p.SeverityRange)
	setValue(&s.OccurrenceRange, p.OccurrenceRange)
	setValue(&s.DetectionRange, p.DetectionRange)
	setValue(&s.Status, p.Status)
}

// SummaryQuery overrides the high RPN threshold for one summary. A nil
// threshold uses the service's configured value.
type SummaryQuery struct {
	HighRPNThreshold *int `form:"high_rpn_threshold" json:"high_rpn_threshold,omitempty"`
}

func (q SummaryQuery) threshold(fallback int) (int, error) {
	if q.HighRPNThreshold == nil {
		return fallback, nil
	}
	if *q.HighRPNThreshold <= 0 {
		return 0, ValidationError{Field: "high_rpn_threshold", Message: "must be positive"}
	}
	return *q.HighRPNThreshold, nil
}

// Study listing defaults.
const (
	DefaultStudyLimit = 50
	MaxStudyLimit     = 200
)

// StudyQuery selects and pages studies. Q matches title, process or product
// name, description, scope and assumptions case-insensitively.
type StudyQuery struct {
	Q      string `form:"q" json:"q,omitempty"`
	Type   string `form:"fmea_type" json:"fmea_type,omitempty"`
	Status string `form:"status" json:"status,omitempty"`
	Skip   int    `form:"skip" json:"skip,omitempty"`
	Limit  int    `form:"limit" json:"limit,omitempty"`
}

func (q StudyQuery) normalize() (StudyQuery, error) {
	if q.Type != "" && !domain.StudyType(q.Type).Valid() {
		return q, ValidationError{Field: "fmea_type", Message: "unknown study type " + q.Type}
	}
	if q.Status != "" && !domain.StudyStatus(q.Status).Valid() {
		return q, ValidationError{Field: "status", Message: "unknown study status " + q.Status}
	}
	if q.Skip < 0 {
		return q, ValidationError{Field: "skip", Message: "must not be negative"}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultStudyLimit
	}
	if q.Limit > MaxStudyLimit {
		q.Limit = MaxStudyLimit
	}
	q.Q = strings.ToLower(strings.TrimSpace(q.Q))
	return q, nil
}

func (q StudyQuery) match(s Study) bool {
	if q.Type != "" && string(s.Type) != q.Type {
		return false
	}
	if q.Status != "" && string(s.Status) != q.Status {
		return false
	}
	if q.Q == "" {
		return true
	}
	for _, field := range []string{s.Title, s.ProcessOrProductName, s.Description, s.Scope, s.Assumptions} {
		if strings.Contains(strings.ToLower(field), q.Q) {
			return true
		}
	}
	return false
}

// SortByRPN orders QueryItems results by RPN descending.
const SortByRPN = "rpn"
