// Coordination lease handlers.
//
// Remote collector workers drive the claim/heartbeat/release protocol over
// these endpoints:
//   - POST /leases/claim                     (claim available entities)
//   - POST /leases/:entity_id/heartbeat     (renew a held lease, report liveness)
//   - POST /leases/:entity_id/release       (return a lease gracefully)
//   - POST /leases/:entity_id/error         (count a collection error)
//   - POST /leases/:entity_id/clear-error   (return an errored lease to rotation)
//   - GET  /leases                          (operator inspection)
//
// A rejected heartbeat or release maps to 409 with code "lease_lost"; the
// worker must stop forwarding traffic for that entity on receipt.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/http/middleware"
	"github.com/tbourn/go-automation-core/internal/services"
)

// ClaimResponse lists the leases granted to the calling worker, along with
// the default heartbeat cadence the worker should renew at. A lease config
// may still override the cadence per entity ("heartbeat_interval").
type ClaimResponse struct {
	Leases            []domain.CoordinationLease `json:"leases"`
	HeartbeatInterval string                     `json:"heartbeat_interval" example:"10s"`
}

// HeartbeatRequest carries the optional liveness snapshot sent with a renewal.
type HeartbeatRequest struct {
	Liveness domain.Liveness `json:"liveness"`
}

// ListLeasesResponse is the operator view of all lease rows.
type ListLeasesResponse struct {
	Leases []domain.CoordinationLease `json:"leases"`
}

// ClaimLeases godoc
// @ID          claimLeases
// @Summary     Claim available entity leases
// @Description Assigns unclaimed or expired leases to the calling worker in
// @Description priority order, up to the service's claim batch limit.
// @Tags        Coordination
// @Produce     json
// @Param       X-Worker-Token header string false "Shared worker token"
// @Param       X-Worker-ID    header string true  "Caller's worker identity"
// @Success     200 {object} handlers.ClaimResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases/claim [post]
func (h *Handlers) ClaimLeases(c *gin.Context) {
	leases, err := h.coord.Claim(c.Request.Context(), middleware.WorkerID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if leases == nil {
		leases = []domain.CoordinationLease{}
	}
	ok(c, http.StatusOK, ClaimResponse{
		Leases:            leases,
		HeartbeatInterval: h.coord.HeartbeatEvery().String(),
	})
}

// HeartbeatLease godoc
// @ID          heartbeatLease
// @Summary     Renew a held lease
// @Description Extends the calling worker's claim and records liveness. A 409
// @Description means the lease moved on; the worker must stop forwarding.
// @Tags        Coordination
// @Accept      json
// @Produce     json
// @Param       entity_id path string true "Entity ID"
// @Success     204 "Renewed"
// @Failure     409 {object} handlers.ErrorResponse "Lease lost"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases/{entity_id}/heartbeat [post]
func (h *Handlers) HeartbeatLease(c *gin.Context) {
	var req HeartbeatRequest
	// The liveness body is optional.
	_ = c.ShouldBindJSON(&req)

	err := h.coord.Heartbeat(c.Request.Context(), middleware.WorkerID(c), c.Param("entity_id"), req.Liveness)
	if err != nil {
		if errors.Is(err, services.ErrLeaseLost) {
			fail(c, http.StatusConflict, ErrCodeLeaseLost, "lease is no longer held by this worker")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ReleaseLease godoc
// @ID          releaseLease
// @Summary     Release a held lease
// @Description Returns the lease to the available pool for immediate pickup.
// @Tags        Coordination
// @Produce     json
// @Param       entity_id path string true "Entity ID"
// @Success     204 "Released"
// @Failure     409 {object} handlers.ErrorResponse "Lease lost"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases/{entity_id}/release [post]
func (h *Handlers) ReleaseLease(c *gin.Context) {
	err := h.coord.Release(c.Request.Context(), middleware.WorkerID(c), c.Param("entity_id"))
	if err != nil {
		if errors.Is(err, services.ErrLeaseLost) {
			fail(c, http.StatusConflict, ErrCodeLeaseLost, "lease is no longer held by this worker")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// RecordLeaseError godoc
// @ID          recordLeaseError
// @Summary     Count a collection error against an entity
// @Description Crossing the consecutive-error threshold parks the lease in
// @Description error status, out of claim rotation.
// @Tags        Coordination
// @Produce     json
// @Param       entity_id path string true "Entity ID"
// @Success     204 "Recorded"
// @Failure     404 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases/{entity_id}/error [post]
func (h *Handlers) RecordLeaseError(c *gin.Context) {
	err := h.coord.RecordError(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		if errors.Is(err, services.ErrLeaseNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "lease not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ClearLeaseError godoc
// @ID          clearLeaseError
// @Summary     Return an errored lease to rotation
// @Tags        Coordination
// @Produce     json
// @Param       entity_id path string true "Entity ID"
// @Success     204 "Cleared"
// @Failure     404 {object} handlers.ErrorResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases/{entity_id}/clear-error [post]
func (h *Handlers) ClearLeaseError(c *gin.Context) {
	err := h.coord.ClearError(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		if errors.Is(err, services.ErrLeaseNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "lease not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ListLeases godoc
// @ID          listLeases
// @Summary     List all entity leases
// @Tags        Coordination
// @Produce     json
// @Success     200 {object} handlers.ListLeasesResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /leases [get]
func (h *Handlers) ListLeases(c *gin.Context) {
	leases, err := h.coord.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if leases == nil {
		leases = []domain.CoordinationLease{}
	}
	ok(c, http.StatusOK, ListLeasesResponse{Leases: leases})
}
