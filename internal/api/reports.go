package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fmeacore/internal/core"
	"fmeacore/internal/export"
	"fmeacore/internal/filter"
	"fmeacore/internal/insight"
)

var errExportsDisabled = errors.New("exports not configured")

type exportRequest struct {
	Formats  []export.Format `json:"formats"`
	Criteria filter.Criteria `json:"criteria"`
}

func (h *handlers) createExport(c *gin.Context) {
	if h.Exports == nil {
		h.fail(c, errExportsDisabled)
		return
	}
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	ctx, studyID := c.Request.Context(), c.Param("id")
	if _, err := h.Service.GetStudy(ctx, studyID); err != nil {
		h.fail(c, err)
		return
	}
	record, err := h.Exports.Enqueue(ctx, export.Input{
		StudyID:     studyID,
		Formats:     req.Formats,
		Criteria:    req.Criteria,
		RequestedBy: c.GetHeader(UserHeader),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, record)
}

func (h *handlers) getExport(c *gin.Context) {
	if h.Exports == nil {
		h.fail(c, errExportsDisabled)
		return
	}
	id := c.Param("exportId")
	record, ok := h.Exports.Get(id)
	if !ok {
		h.fail(c, core.NotFoundError{Entity: "export", ID: id})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handlers) listExports(c *gin.Context) {
	if h.Exports == nil {
		h.fail(c, errExportsDisabled)
		return
	}
	ctx, studyID := c.Request.Context(), c.Param("id")
	if _, err := h.Service.GetStudy(ctx, studyID); err != nil {
		h.fail(c, err)
		return
	}
	objects, err := h.Exports.List(ctx, studyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, objects)
}

type insightRequest struct {
	Threshold int    `json:"threshold"`
	Focus     string `json:"focus"`
}

func directiveParam(c *gin.Context) (insight.Directive, error) {
	d, err := insight.ParseDirective(c.Param("directive"))
	if err != nil {
		return "", core.ValidationError{Field: "directive", Message: err.Error()}
	}
	return d, nil
}

func (h *handlers) listInsights(c *gin.Context) {
	studyID := c.Param("id")
	if _, err := h.Service.GetStudy(c.Request.Context(), studyID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": h.Insights.Enabled(), "insights": h.Insights.States(studyID)})
}

func (h *handlers) getInsight(c *gin.Context) {
	d, err := directiveParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	studyID := c.Param("id")
	if _, err := h.Service.GetStudy(c.Request.Context(), studyID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Insights.State(studyID, d))
}

// startInsight snapshots the study's items and schedules the directive. The
// response is the pending state; poll the GET route for the result.
func (h *handlers) startInsight(c *gin.Context) {
	d, err := directiveParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req insightRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	if req.Threshold < 0 {
		h.fail(c, core.ValidationError{Field: "threshold", Message: "must not be negative"})
		return
	}
	ctx, studyID := c.Request.Context(), c.Param("id")
	items, err := h.Service.ListItems(ctx, studyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	snap := insight.SnapshotOf(studyID, items)
	snap.Threshold, snap.Focus = req.Threshold, req.Focus
	if snap.Threshold == 0 {
		snap.Threshold = h.Service.HighRPNThreshold()
	}
	state, err := h.Insights.Start(ctx, d, snap)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, state)
}
