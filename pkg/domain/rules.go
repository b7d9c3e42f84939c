package domain

import (
	"context"
	"fmt"
	"strings"
)

// Enforcement captures how a rule outcome affects the transaction.
type Enforcement string

// Rule enforcement levels determine commit behavior and logging.
const (
	// EnforceBlock blocks transaction commit.
	EnforceBlock Enforcement = "block"
	// EnforceWarn logs a warning but allows commit.
	EnforceWarn Enforcement = "warn"
	EnforceLog  Enforcement = "log"
)

// ChangeAction indicates the type of modification performed.
type ChangeAction string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ChangeCreate indicates an entity was created.
	ChangeCreate ChangeAction = "create"
	// ChangeUpdate indicates an entity was updated.
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// Change describes a mutation applied to an entity during a transaction.
// Before is undefined for creates and After is undefined for deletes.
type Change struct {
	Entity   EntityType
	Action   ChangeAction
	EntityID string
	StudyID  string
	Before   ChangePayload
	After    ChangePayload
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule        string
	Enforcement Enforcement
	Message     string
	Entity      EntityType
	EntityID    string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Enforcement == EnforceBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Enforcement != EnforceBlock {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView interface {
	ListStudies() []Study
	ListItems(studyID string) []Item
	ListActions(studyID string) []Action
	FindStudy(id string) (Study, bool)
	FindItem(id string) (Item, bool)
	FindAction(id string) (Action, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// TouchedStudies returns the distinct study ids referenced by changes, in first-seen order.
func TouchedStudies(changes []Change) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range changes {
		if c.StudyID == "" {
			continue
		}
		if _, ok := seen[c.StudyID]; ok {
			continue
		}
		seen[c.StudyID] = struct{}{}
		out = append(out, c.StudyID)
	}
	return out
}
