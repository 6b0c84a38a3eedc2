// Entity admin handlers.
//
//   - POST   /entities             (register a surface, seeds its lease)
//   - GET    /entities             (paginated listing)
//   - DELETE /entities/:id         (deactivate)
//   - PUT    /entities/:id/config  (replace the free-form config document)
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/repo"
	"github.com/tbourn/go-automation-core/internal/services"
	"github.com/tbourn/go-automation-core/internal/utils"
)

// CreateEntityRequest registers one platform surface.
type CreateEntityRequest struct {
	Platform  string          `json:"platform" binding:"required" example:"twitch"`
	ServerID  string          `json:"server_id" example:"-"`
	ChannelID string          `json:"channel_id" binding:"required" example:"mychannel"`
	AccountID string          `json:"account_id" binding:"required" example:"acct-1"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// ListEntitiesResponse is a page of entities with pagination metadata.
type ListEntitiesResponse struct {
	Entities   []domain.Entity `json:"entities"`
	Pagination Pagination      `json:"pagination"`
}

// clampPagination parses page/page_size query parameters with defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampPageSize(utils.AtoiDefault(c.Query("page_size"), 20), 20, 100)
	return
}

// CreateEntity godoc
// @ID          createEntity
// @Summary     Register a platform surface
// @Description Creates an entity for (platform, server, channel) and seeds its
// @Description coordination lease. At most one active entity may exist per surface.
// @Tags        Entities
// @Accept      json
// @Produce     json
// @Param       body body handlers.CreateEntityRequest true "Surface to register"
// @Success     201 {object} domain.Entity
// @Failure     400 {object} handlers.ErrorResponse
// @Failure     409 {object} handlers.ErrorResponse "Surface already registered"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /entities [post]
func (h *Handlers) CreateEntity(c *gin.Context) {
	var req CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform, channel_id and account_id are required")
		return
	}

	e, err := h.admin.RegisterEntity(c.Request.Context(), req.Platform, req.ServerID, req.ChannelID, req.AccountID, string(req.Config))
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			fail(c, http.StatusConflict, ErrCodeConflict, "surface already registered")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, e)
}

// ListEntities godoc
// @ID          listEntities
// @Summary     List registered entities
// @Tags        Entities
// @Produce     json
// @Param       page       query int false "Page number"    default(1)
// @Param       page_size  query int false "Items per page" default(20)
// @Success     200 {object} handlers.ListEntitiesResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /entities [get]
func (h *Handlers) ListEntities(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListEntities(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListEntitiesResponse{
		Entities:   items,
		Pagination: pageMeta(page, pageSize, total),
	})
}

// DeleteEntity godoc
// @ID          deleteEntity
// @Summary     Deactivate an entity
// @Description The row is retained for the audit trail; its lease drops out of
// @Description rotation once released or expired.
// @Tags        Entities
// @Produce     json
// @Param       id path string true "Entity ID"
// @Success     204 "Deactivated"
// @Failure     404 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /entities/{id} [delete]
func (h *Handlers) DeleteEntity(c *gin.Context) {
	err := h.admin.UnregisterEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrEntityNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "entity not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// UpdateEntityConfig replaces the entity's free-form config document.
func (h *Handlers) UpdateEntityConfig(c *gin.Context) {
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON document")
		return
	}

	err := repo.UpdateEntityConfig(c.Request.Context(), h.admin.DB, c.Param("id"), string(body))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "entity not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
