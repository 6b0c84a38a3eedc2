// Event ingest handler.
//
// Collector workers forward platform traffic here:
//   - POST /events  (evaluate moderation rules and dispatch matched commands)
//
// The handler is transport-thin: it validates the payload, checks that the
// calling worker owns the entity's lease, then hands the event to the
// moderation and dispatch engines. The two engines run independently; a
// message that both matches a rule and names a command fires both paths.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/http/middleware"
	"github.com/tbourn/go-automation-core/internal/services"
)

// IngestEventRequest is the JSON payload a collector posts per platform event.
type IngestEventRequest struct {
	Platform  string          `json:"platform" binding:"required" example:"twitch"`
	ServerID  string          `json:"server_id" example:"-"`
	ChannelID string          `json:"channel_id" binding:"required" example:"mychannel"`
	UserID    string          `json:"user_id" binding:"required" example:"viewer42"`
	Type      string          `json:"type" binding:"required" example:"message"`
	Text      string          `json:"text" example:"!uptime"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ExecutionResultDTO is the per-command outcome reported back to the caller.
type ExecutionResultDTO struct {
	ExecutionID string `json:"execution_id"`
	CommandID   string `json:"command_id"`
	CommandName string `json:"command_name"`
	Status      string `json:"status"`
	FailTag     string `json:"fail_tag,omitempty"`
}

// IngestEventResponse summarizes what the event triggered.
type IngestEventResponse struct {
	Ignored    bool                   `json:"ignored,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Moderation *services.MatchOutcome `json:"moderation,omitempty"`
	Executions []ExecutionResultDTO   `json:"executions"`
}

// IngestEvent godoc
// @ID          ingestEvent
// @Summary     Ingest a platform event
// @Description Evaluates moderation rules and dispatches matched commands for
// @Description a platform event. The calling worker must hold the entity's
// @Description lease; events for unregistered surfaces are acknowledged and
// @Description dropped.
// @Tags        Events
// @Accept      json
// @Produce     json
// @Param       X-Worker-Token  header  string  false "Shared worker token"
// @Param       X-Worker-ID     header  string  true  "Caller's worker identity"
// @Param       body            body    handlers.IngestEventRequest true "Platform event"
// @Success     202 {object} handlers.IngestEventResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad request"
// @Failure     403 {object} handlers.ErrorResponse "Worker does not own the entity"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /events [post]
func (h *Handlers) IngestEvent(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform, channel_id, user_id and type are required")
		return
	}

	entity, err := h.registry.ResolveEntity(ctx, req.Platform, req.ServerID, req.ChannelID)
	if err != nil {
		if errors.Is(err, services.ErrEntityNotFound) {
			// Unregistered surface: acknowledge and drop, no audit record.
			ok(c, http.StatusAccepted, IngestEventResponse{Ignored: true, Executions: []ExecutionResultDTO{}})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	workerID := middleware.WorkerID(c)
	owns, err := h.coord.Owns(ctx, workerID, entity.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if !owns {
		fail(c, http.StatusForbidden, ErrCodeNotOwner, "worker does not hold the entity lease")
		return
	}

	ev := domain.Event{
		Platform:  req.Platform,
		ServerID:  req.ServerID,
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		Type:      req.Type,
		Text:      req.Text,
		Payload:   req.Payload,
	}

	resp := IngestEventResponse{EntityID: entity.ID, Executions: []ExecutionResultDTO{}}

	if ev.IsMessage() && ev.Text != "" {
		outcome, merr := h.moderation.Evaluate(ctx, entity, ev)
		if merr != nil {
			lg := middleware.LoggerFrom(c)
			lg.Error().Err(merr).Str("entity_id", entity.ID).Msg("moderation evaluation failed")
		} else {
			resp.Moderation = outcome
		}
	}

	results, derr := h.dispatch.Dispatch(ctx, ev)
	if derr != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, derr.Error())
		return
	}
	for _, r := range results {
		resp.Executions = append(resp.Executions, ExecutionResultDTO{
			ExecutionID: r.ExecutionID,
			CommandID:   r.CommandID,
			CommandName: r.CommandName,
			Status:      r.Status,
			FailTag:     r.FailTag,
		})
	}

	ok(c, http.StatusAccepted, resp)
}
