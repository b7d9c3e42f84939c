package core

import "fmeacore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Enforcement        = domain.Enforcement
	Base               = domain.Base
	Study              = domain.Study
	StudyDraft         = domain.StudyDraft
	Item               = domain.Item
	Action             = domain.Action
	TeamMember         = domain.TeamMember
	RatingRange        = domain.RatingRange
	Change             = domain.Change
	ChangeAction       = domain.ChangeAction
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	ValidationError    = domain.ValidationError
	ReferenceError     = domain.ReferenceError
	NotFoundError      = domain.NotFoundError
)

const (
	EntityStudy  = domain.EntityStudy
	EntityItem   = domain.EntityItem
	EntityAction = domain.EntityAction
)

const (
	EnforceBlock = domain.EnforceBlock
	EnforceWarn  = domain.EnforceWarn
	EnforceLog   = domain.EnforceLog
)

const (
	ChangeCreate = domain.ChangeCreate
	ChangeUpdate = domain.ChangeUpdate
	ChangeDelete = domain.ChangeDelete
)
