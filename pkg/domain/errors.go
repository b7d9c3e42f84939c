package domain

import "fmt"

// ValidationError reports input that failed a field-level check. It is raised
// before any state is modified.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// ReferenceError reports an identifier that does not resolve inside the owning study.
type ReferenceError struct {
	Field   string
	ID      string
	StudyID string
}

func (e ReferenceError) Error() string {
	return fmt.Sprintf("%s %q does not reference a record in study %s", e.Field, e.ID, e.StudyID)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
