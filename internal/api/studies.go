package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fmeacore/internal/core"
	"fmeacore/internal/filter"
	"fmeacore/internal/wizard"
	"fmeacore/pkg/domain"
)

// UserHeader carries the id of the caller for audit fields.
const UserHeader = "X-User-ID"

func (h *handlers) viewStudy(s core.Study) studyView { return studyOf(h.Directory, s) }

func (h *handlers) listStudies(c *gin.Context) {
	var q core.StudyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	studies, err := h.Service.ListStudies(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mapViews(studies, h.viewStudy))
}

func (h *handlers) createStudy(c *gin.Context) {
	var draft domain.StudyDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.badRequest(c, err)
		return
	}
	if draft.CreatedByID == "" {
		draft.CreatedByID = c.GetHeader(UserHeader)
	}
	checked, err := wizard.Check(draft)
	if err != nil {
		h.fail(c, err)
		return
	}
	study, res, err := h.Service.CreateStudy(c.Request.Context(), checked)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutation[studyView]{Data: h.viewStudy(study), Violations: violations(res)})
}

func (h *handlers) getStudy(c *gin.Context) {
	study, err := h.Service.GetStudy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewStudy(study))
}

func (h *handlers) updateStudy(c *gin.Context) {
	var patch core.StudyPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}
	study, res, err := h.Service.UpdateStudy(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mutation[studyView]{Data: h.viewStudy(study), Violations: violations(res)})
}

func (h *handlers) deleteStudy(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Service.DeleteStudy(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.Insights.Forget(id)
	c.Status(http.StatusNoContent)
}

func (h *handlers) studySummary(c *gin.Context) {
	var q core.SummaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	summary, err := h.Service.StudySummary(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) dashboardSummary(c *gin.Context) {
	var q core.SummaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	summary, err := h.Service.DashboardSummary(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) worksheet(c *gin.Context) {
	var criteria filter.Criteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		h.badRequest(c, err)
		return
	}
	ws, err := h.Service.Worksheet(c.Request.Context(), c.Param("id"), criteria)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *handlers) teamOptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.Directory.List())
}
