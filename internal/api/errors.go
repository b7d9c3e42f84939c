package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fmeacore/internal/core"
	"fmeacore/internal/export"
	"fmeacore/internal/insight"
	"fmeacore/internal/wizard"
)

type errorBody struct {
	Error      string          `json:"error"`
	Field      string          `json:"field,omitempty"`
	Step       string          `json:"step,omitempty"`
	Violations []violationView `json:"violations,omitempty"`
}

type violationView struct {
	Rule        string           `json:"rule"`
	Enforcement core.Enforcement `json:"enforcement"`
	Message     string           `json:"message"`
	Entity      core.EntityType  `json:"entity,omitempty"`
	EntityID    string           `json:"entity_id,omitempty"`
}

func violations(res core.Result) []violationView {
	if len(res.Violations) == 0 {
		return nil
	}
	out := make([]violationView, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationView{
			Rule:        v.Rule,
			Enforcement: v.Enforcement,
			Message:     v.Message,
			Entity:      v.Entity,
			EntityID:    v.EntityID,
		})
	}
	return out
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		validation core.ValidationError
		reference  core.ReferenceError
		notFound   core.NotFoundError
		blocked    core.RuleViolationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &reference):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &blocked):
		return http.StatusConflict
	case errors.Is(err, export.ErrQueueFull), errors.Is(err, insight.ErrDisabled), errors.Is(err, errExportsDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var validation core.ValidationError
	if errors.As(err, &validation) {
		body.Field = validation.Field
	}
	var step wizard.StepError
	if errors.As(err, &step) {
		body.Step = step.Step.String()
	}
	var blocked core.RuleViolationError
	if errors.As(err, &blocked) {
		body.Violations = violations(blocked.Result)
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "route", c.FullPath(), "error", err)
		body.Error = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *handlers) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid request: " + err.Error()})
}
