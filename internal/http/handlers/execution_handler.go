// Execution audit handlers.
//
//   - GET /executions  (paginated audit trail, newest first, optional entity filter)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/services"
)

// ListExecutionsResponse is a page of audit rows with their module responses.
type ListExecutionsResponse struct {
	Executions []services.ExecutionWithResponses `json:"executions"`
	Pagination Pagination                        `json:"pagination"`
}

// ListExecutions godoc
// @ID          listExecutions
// @Summary     List the command execution audit trail
// @Description Returns audit rows newest first, each with its typed module
// @Description responses. Filter by entity with ?entity_id=.
// @Tags        Executions
// @Produce     json
// @Param       entity_id  query string false "Filter by entity"
// @Param       page       query int    false "Page number"    default(1)
// @Param       page_size  query int    false "Items per page" default(20)
// @Success     200 {object} handlers.ListExecutionsResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /executions [get]
func (h *Handlers) ListExecutions(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListExecutions(c.Request.Context(), c.Query("entity_id"), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListExecutionsResponse{
		Executions: items,
		Pagination: pageMeta(page, pageSize, total),
	})
}
