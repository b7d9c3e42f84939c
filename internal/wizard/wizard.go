// Package wizard implements the step-gated study creation flow. Steps run
// strictly in order (config, scope, team); moving forward validates the
// current step, moving back never does.
package wizard

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fmeacore/pkg/domain"
)

// Step identifies a wizard state.
type Step int

// Wizard states in traversal order.
const (
	ConfigStep Step = iota
	ScopeStep
	TeamStep
	Submitted
)

func (s Step) String() string {
	switch s {
	case ConfigStep:
		return "config"
	case ScopeStep:
		return "scope"
	case TeamStep:
		return "team"
	case Submitted:
		return "submitted"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ErrSubmitted is returned by any transition attempted after a successful submit.
var ErrSubmitted = errors.New("wizard already submitted")

// StepError reports the step whose fields failed validation.
type StepError struct {
	Step Step
	Err  error
}

func (e StepError) Error() string { return fmt.Sprintf("%s step: %v", e.Step, e.Err) }

func (e StepError) Unwrap() error { return e.Err }

// Config holds the first step: what is being analysed and when it is reviewed.
type Config struct {
	Title                string           `json:"title" validate:"notblank"`
	Type                 domain.StudyType `json:"fmea_type" validate:"omitempty,fmea_type"`
	ProcessOrProductName string           `json:"process_or_product_name" validate:"notblank"`
	Description          string           `json:"description,omitempty"`
	Departments          []string         `json:"departments"`
	ReviewDate           time.Time        `json:"review_date" validate:"required"`
	Standard             string           `json:"standard,omitempty"`
}

// Range is an inclusive rating scale as entered on the scope step.
type Range struct {
	Min int `json:"min" validate:"min=1"`
	Max int `json:"max" validate:"gtefield=Min"`
}

// Scope holds the second step: boundaries, assumptions and rating scales.
type Scope struct {
	Scope           string `json:"scope" validate:"notblank"`
	Assumptions     string `json:"assumptions,omitempty"`
	SeverityRange   Range  `json:"severity_range"`
	OccurrenceRange Range  `json:"occurrence_range"`
	DetectionRange  Range  `json:"detection_range"`
}

// Team holds the last step: the lead and the selected members.
type Team struct {
	TeamLeadID  string              `json:"team_lead_id" validate:"notblank"`
	TeamMembers []domain.TeamMember `json:"team_members" validate:"min=1"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("fmea_type", func(fl validator.FieldLevel) bool {
		return domain.StudyType(fl.Field().String()).Valid()
	})
}

// validateStruct runs the struct tags and reports the first failure as a
// domain.ValidationError keyed by the JSON field path.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return domain.ValidationError{Field: field, Message: message(fe)}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "fmea_type":
		return fmt.Sprintf("unknown type %q", fe.Value())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entry", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "gtefield":
		return "must not be below min"
	}
	return "failed " + fe.Tag()
}

func (c Config) validate() error { return validateStruct(c) }

func (s Scope) validate() error { return validateStruct(s) }

func (t Team) validate() error { return validateStruct(t) }

// Wizard is the study creation state machine. It is not safe for concurrent use.
type Wizard struct {
	step   Step
	config Config
	scope  Scope
	team   Team
}

func defaultRange() Range {
	return Range{Min: domain.DefaultRatingMin, Max: domain.DefaultRatingMax}
}

// New returns a wizard at ConfigStep with default 1-10 rating scales.
func New() *Wizard {
	return &Wizard{
		config: Config{Type: domain.StudyTypeProcess},
		scope: Scope{
			SeverityRange:   defaultRange(),
			OccurrenceRange: defaultRange(),
			DetectionRange:  defaultRange(),
		},
	}
}

// Step returns the current state.
func (w *Wizard) Step() Step { return w.step }

// Config returns the config step fields.
func (w *Wizard) Config() Config { return w.config }

// Scope returns the scope step fields.
func (w *Wizard) Scope() Scope { return w.scope }

// Team returns the team step fields.
func (w *Wizard) Team() Team { return w.team }

// SetConfig replaces the config step fields. It does not validate.
func (w *Wizard) SetConfig(c Config) error {
	if w.step == Submitted {
		return ErrSubmitted
	}
	if c.Type == "" {
		c.Type = domain.StudyTypeProcess
	}
	w.config = c
	return nil
}

// SetScope replaces the scope step fields. A zero range keeps the 1-10 default.
func (w *Wizard) SetScope(s Scope) error {
	if w.step == Submitted {
		return ErrSubmitted
	}
	for _, r := range []*Range{&s.SeverityRange, &s.OccurrenceRange, &s.DetectionRange} {
		if *r == (Range{}) {
			*r = defaultRange()
		}
	}
	w.scope = s
	return nil
}

// SetTeam replaces the team step fields. Members are normalised: blank ids are
// dropped, duplicates collapse and empty roles become Member.
func (w *Wizard) SetTeam(t Team) error {
	if w.step == Submitted {
		return ErrSubmitted
	}
	t.TeamLeadID = strings.TrimSpace(t.TeamLeadID)
	t.TeamMembers = domain.NormalizeTeam(t.TeamMembers)
	w.team = t
	return nil
}

func (w *Wizard) validateStep(step Step) error {
	var err error
	switch step {
	case ConfigStep:
		err = w.config.validate()
	case ScopeStep:
		err = w.scope.validate()
	case TeamStep:
		err = w.team.validate()
	}
	if err != nil {
		return StepError{Step: step, Err: err}
	}
	return nil
}

// Next validates the current step and advances. From TeamStep use Submit.
func (w *Wizard) Next() error {
	switch w.step {
	case Submitted:
		return ErrSubmitted
	case TeamStep:
		return StepError{Step: TeamStep, Err: errors.New("last step, submit instead")}
	}
	if err := w.validateStep(w.step); err != nil {
		return err
	}
	w.step++
	return nil
}

// Back returns to the previous step without validating. It is a no-op at ConfigStep.
func (w *Wizard) Back() error {
	if w.step == Submitted {
		return ErrSubmitted
	}
	if w.step > ConfigStep {
		w.step--
	}
	return nil
}

// Submit re-validates every step in order and returns the creation draft.
// The first failing step is reported and the wizard stays where it is.
func (w *Wizard) Submit() (domain.StudyDraft, error) {
	if w.step == Submitted {
		return domain.StudyDraft{}, ErrSubmitted
	}
	for _, step := range []Step{ConfigStep, ScopeStep, TeamStep} {
		if err := w.validateStep(step); err != nil {
			return domain.StudyDraft{}, err
		}
	}
	w.step = Submitted
	return w.draft(), nil
}

func (r Range) rating() domain.RatingRange { return domain.RatingRange{Min: r.Min, Max: r.Max} }

func (w *Wizard) draft() domain.StudyDraft {
	return domain.StudyDraft{
		Title:                strings.TrimSpace(w.config.Title),
		Type:                 w.config.Type,
		ProcessOrProductName: strings.TrimSpace(w.config.ProcessOrProductName),
		Description:          w.config.Description,
		Departments:          domain.NormalizeDepartments(w.config.Departments),
		TeamLeadID:           w.team.TeamLeadID,
		TeamMembers:          domain.NormalizeTeam(w.team.TeamMembers),
		ReviewDate:           w.config.ReviewDate,
		Standard:             w.config.Standard,
		Scope:                strings.TrimSpace(w.scope.Scope),
		Assumptions:          w.scope.Assumptions,
		SeverityRange:        w.scope.SeverityRange.rating(),
		OccurrenceRange:      w.scope.OccurrenceRange.rating(),
		DetectionRange:       w.scope.DetectionRange.rating(),
	}
}

// Check runs a complete draft through every step, as a one-shot submit.
// Unset rating ranges default to 1-10.
func Check(d domain.StudyDraft) (domain.StudyDraft, error) {
	w := New()
	_ = w.SetConfig(Config{
		Title:                d.Title,
		Type:                 d.Type,
		ProcessOrProductName: d.ProcessOrProductName,
		Description:          d.Description,
		Departments:          d.Departments,
		ReviewDate:           d.ReviewDate,
		Standard:             d.Standard,
	})
	_ = w.SetScope(Scope{
		Scope:           d.Scope,
		Assumptions:     d.Assumptions,
		SeverityRange:   Range(d.SeverityRange),
		OccurrenceRange: Range(d.OccurrenceRange),
		DetectionRange:  Range(d.DetectionRange),
	})
	_ = w.SetTeam(Team{TeamLeadID: d.TeamLeadID, TeamMembers: d.TeamMembers})
	draft, err := w.Submit()
	if err != nil {
		return domain.StudyDraft{}, err
	}
	draft.CreatedByID = d.CreatedByID
	return draft, nil
}
