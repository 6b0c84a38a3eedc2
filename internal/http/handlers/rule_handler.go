// String-match rule admin handlers.
//
//   - POST   /rules        (create a moderation rule for an entity)
//   - PATCH  /rules/:id    (partial update)
//   - DELETE /rules/:id    (remove)
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/services"
)

// CreateRuleRequest defines one moderation rule.
type CreateRuleRequest struct {
	EntityID      string          `json:"entity_id" binding:"required"`
	Pattern       string          `json:"pattern" binding:"required" example:"spam.example.com"`
	Mode          string          `json:"mode,omitempty" example:"substring"`
	CaseSensitive bool            `json:"case_sensitive,omitempty"`
	Action        string          `json:"action,omitempty" example:"block"`
	ActionPayload json.RawMessage `json:"action_payload,omitempty"`
	Priority      int             `json:"priority,omitempty" example:"100"`
}

// CreateRule godoc
// @ID          createRule
// @Summary     Create a moderation rule
// @Description Regex patterns are validated at creation time so a broken
// @Description expression never reaches the evaluation path.
// @Tags        Rules
// @Accept      json
// @Produce     json
// @Param       body body handlers.CreateRuleRequest true "Rule definition"
// @Success     201 {object} domain.StringMatchRule
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     404 {object} handlers.ErrorResponse "Entity not found"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /rules [post]
func (h *Handlers) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity_id and pattern are required")
		return
	}
	if req.Mode == domain.MatchRegex {
		if _, err := regexp.Compile(req.Pattern); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid regex pattern: "+err.Error())
			return
		}
	}

	rule := &domain.StringMatchRule{
		EntityID:      req.EntityID,
		Pattern:       req.Pattern,
		Mode:          req.Mode,
		CaseSensitive: req.CaseSensitive,
		Action:        req.Action,
		ActionPayload: string(req.ActionPayload),
		Priority:      req.Priority,
		Active:        true,
	}
	created, err := h.admin.CreateRule(c.Request.Context(), rule)
	if err != nil {
		if errors.Is(err, services.ErrEntityNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "entity not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, created)
}

// updatableRuleFields is the allowlist for PATCH /rules/:id.
var updatableRuleFields = map[string]bool{
	"pattern": true, "mode": true, "case_sensitive": true, "action": true,
	"action_payload": true, "priority": true, "active": true,
}

// UpdateRule applies a partial update to a rule.
func (h *Handlers) UpdateRule(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a non-empty JSON object")
		return
	}
	for k := range body {
		if !updatableRuleFields[k] {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown field: "+k)
			return
		}
	}

	err := h.admin.UpdateRule(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// DeleteRule removes a rule.
func (h *Handlers) DeleteRule(c *gin.Context) {
	err := h.admin.DeleteRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
