// Overlay WebSocket handler.
//
//   - GET /overlay/ws  (upgrade; clients then subscribe to entity IDs)
//
// Browser overlays (OBS sources, dashboards) connect here and receive the
// displayable module responses of successful executions for the entities they
// subscribe to.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-automation-core/internal/fanout"
)

// OverlaySocket upgrades the connection and hands it to the fan-out hub.
func (h *Handlers) OverlaySocket(c *gin.Context) {
	fanout.ServeWs(h.hub, c.Writer, c.Request)
}
