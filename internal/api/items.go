package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fmeacore/internal/core"
	"fmeacore/pkg/domain"
)

func (h *handlers) viewItem(it core.Item) itemView { return itemOf(h.Directory, it) }

func (h *handlers) viewAction(a core.Action) actionView { return actionOf(h.Directory, a) }

func (h *handlers) listItems(c *gin.Context) {
	var q core.ItemQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	items, err := h.Service.QueryItems(c.Request.Context(), c.Param("id"), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mapViews(items, h.viewItem))
}

func (h *handlers) createItem(c *gin.Context) {
	var in core.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	item, res, err := h.Service.CreateItem(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutation[itemView]{Data: h.viewItem(item), Violations: violations(res)})
}

func (h *handlers) getItem(c *gin.Context) {
	item, err := h.Service.GetItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewItem(item))
}

func (h *handlers) updateItem(c *gin.Context) {
	var patch core.ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}
	item, res, err := h.Service.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mutation[itemView]{Data: h.viewItem(item), Violations: violations(res)})
}

func (h *handlers) deleteItem(c *gin.Context) {
	if _, err := h.Service.DeleteItem(c.Request.Context(), c.Param("id"), c.Param("itemId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listActions accepts ?status= and ?overdue=true; overdue lists open actions
// past their due date without changing their status.
func (h *handlers) listActions(c *gin.Context) {
	ctx, studyID := c.Request.Context(), c.Param("id")
	var (
		actions []core.Action
		err     error
	)
	overdue := false
	if raw := c.Query("overdue"); raw != "" {
		if overdue, err = strconv.ParseBool(raw); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	if overdue {
		actions, err = h.Service.OverdueActions(ctx, studyID)
	} else {
		actions, err = h.Service.ListActions(ctx, studyID, domain.ActionStatus(c.Query("status")))
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mapViews(actions, h.viewAction))
}

func (h *handlers) createAction(c *gin.Context) {
	var in core.ActionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	action, res, err := h.Service.CreateAction(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mutation[actionView]{Data: h.viewAction(action), Violations: violations(res)})
}

func (h *handlers) getAction(c *gin.Context) {
	action, err := h.Service.GetAction(c.Request.Context(), c.Param("id"), c.Param("actionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.viewAction(action))
}

func (h *handlers) updateAction(c *gin.Context) {
	var patch core.ActionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}
	action, res, err := h.Service.UpdateAction(c.Request.Context(), c.Param("id"), c.Param("actionId"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mutation[actionView]{Data: h.viewAction(action), Violations: violations(res)})
}

func (h *handlers) deleteAction(c *gin.Context) {
	if _, err := h.Service.DeleteAction(c.Request.Context(), c.Param("id"), c.Param("actionId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
