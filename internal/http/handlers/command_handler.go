// Command and permission admin handlers.
//
//   - POST  /commands                                (define a command)
//   - GET   /commands                                (paginated listing)
//   - PATCH /commands/:id                            (partial update)
//   - PUT   /commands/:id/permissions/:entity_id     (set the per-entity overlay)
//
// Commands are default-deny: defining one enables it nowhere until an overlay
// row grants it to an entity.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/services"
)

// CreateCommandRequest defines a new command. Unset optional fields take the
// model defaults (webhook invocation, POST, 5s timeout, sequential mode).
type CreateCommandRequest struct {
	Name         string          `json:"name" binding:"required" example:"uptime"`
	PrefixClass  string          `json:"prefix_class,omitempty" example:"local"`
	Description  string          `json:"description,omitempty"`
	Address      string          `json:"address" binding:"required" example:"http://modules/uptime"`
	InvokeKind   string          `json:"invoke_kind,omitempty" example:"container"`
	Method       string          `json:"method,omitempty" example:"POST"`
	TimeoutMS    int             `json:"timeout_ms,omitempty" example:"5000"`
	Headers      json.RawMessage `json:"headers,omitempty"`
	AuthRequired bool            `json:"auth_required,omitempty"`
	RateQuota    int             `json:"rate_quota,omitempty"`
	RetryMax     int             `json:"retry_max,omitempty"`
	ModuleClass  string          `json:"module_class,omitempty" example:"action"`
	TriggerKind  string          `json:"trigger_kind,omitempty" example:"command"`
	EventTypes   json.RawMessage `json:"event_types,omitempty"`
	Priority     int             `json:"priority,omitempty" example:"100"`
	ExecMode     string          `json:"exec_mode,omitempty" example:"sequential"`
}

// SetPermissionRequest grants or revokes a command for one entity.
type SetPermissionRequest struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
	Grants  json.RawMessage `json:"grants,omitempty"`
}

// ListCommandsResponse is a page of command definitions.
type ListCommandsResponse struct {
	Commands   []domain.Command `json:"commands"`
	Pagination Pagination       `json:"pagination"`
}

// CreateCommand godoc
// @ID          createCommand
// @Summary     Define a command
// @Description Registers a command definition. The command remains disabled
// @Description for every entity until a permission overlay enables it.
// @Tags        Commands
// @Accept      json
// @Produce     json
// @Param       body body handlers.CreateCommandRequest true "Command definition"
// @Success     201 {object} domain.Command
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /commands [post]
func (h *Handlers) CreateCommand(c *gin.Context) {
	var req CreateCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and address are required")
		return
	}
	if req.InvokeKind != "" {
		switch req.InvokeKind {
		case domain.InvokeContainer, domain.InvokeFunction, domain.InvokeWebhook:
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invoke_kind must be container, faas or webhook")
			return
		}
	}

	cmd := &domain.Command{
		Name:         req.Name,
		PrefixClass:  req.PrefixClass,
		Description:  req.Description,
		Address:      req.Address,
		InvokeKind:   req.InvokeKind,
		Method:       req.Method,
		TimeoutMS:    req.TimeoutMS,
		Headers:      string(req.Headers),
		AuthRequired: req.AuthRequired,
		RateQuota:    req.RateQuota,
		RetryMax:     req.RetryMax,
		Active:       true,
		ModuleClass:  req.ModuleClass,
		TriggerKind:  req.TriggerKind,
		EventTypes:   string(req.EventTypes),
		Priority:     req.Priority,
		ExecMode:     req.ExecMode,
	}
	created, err := h.admin.CreateCommand(c.Request.Context(), cmd)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListCommands godoc
// @ID          listCommands
// @Summary     List command definitions
// @Tags        Commands
// @Produce     json
// @Param       page       query int false "Page number"    default(1)
// @Param       page_size  query int false "Items per page" default(20)
// @Success     200 {object} handlers.ListCommandsResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /commands [get]
func (h *Handlers) ListCommands(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListCommands(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCommandsResponse{
		Commands:   items,
		Pagination: pageMeta(page, pageSize, total),
	})
}

// updatableCommandFields is the allowlist for PATCH /commands/:id.
var updatableCommandFields = map[string]bool{
	"name": true, "prefix_class": true, "description": true, "address": true,
	"invoke_kind": true, "method": true, "timeout_ms": true, "headers": true,
	"auth_required": true, "rate_quota": true, "retry_max": true, "active": true,
	"module_class": true, "trigger_kind": true, "event_types": true,
	"priority": true, "exec_mode": true,
}

// UpdateCommand applies a partial update to a command definition. Only the
// allowlisted columns may change; unknown keys are rejected.
func (h *Handlers) UpdateCommand(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a non-empty JSON object")
		return
	}
	for k := range body {
		if !updatableCommandFields[k] {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown field: "+k)
			return
		}
	}

	err := h.admin.UpdateCommand(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		if errors.Is(err, services.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "command not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// SetPermission godoc
// @ID          setPermission
// @Summary     Set the per-entity overlay for a command
// @Description Creates or updates the permission row that enables (or
// @Description disables) a command for an entity, with optional entity-level
// @Description config and grants documents.
// @Tags        Commands
// @Accept      json
// @Produce     json
// @Param       id        path string true "Command ID"
// @Param       entity_id path string true "Entity ID"
// @Param       body      body handlers.SetPermissionRequest true "Overlay"
// @Success     200 {object} domain.CommandPermission
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     404 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /commands/{id}/permissions/{entity_id} [put]
func (h *Handlers) SetPermission(c *gin.Context) {
	var req SetPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid permission payload")
		return
	}

	perm, err := h.admin.SetPermission(c.Request.Context(),
		c.Param("id"), c.Param("entity_id"), req.Enabled, string(req.Config), string(req.Grants))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCommandNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "command not found")
		case errors.Is(err, services.ErrEntityNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "entity not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, perm)
}
