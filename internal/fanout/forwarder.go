package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// displayEnvelope is the payload shape both delivery paths emit.
type displayEnvelope struct {
	EntityID  string                   `json:"entity_id"`
	Responses []domain.ResponsePayload `json:"responses"`
	SentAt    time.Time                `json:"sent_at"`
}

// Forwarder fans displayable responses out to connected overlay WebSocket
// clients and, when an ingest URL is configured, to an external overlay
// service. It satisfies the dispatch engine's DisplayForwarder contract and
// never blocks the caller: HTTP delivery is fire-and-forget.
type Forwarder struct {
	Hub *Hub

	// IngestURL is the optional external overlay endpoint. Empty disables
	// the HTTP path.
	IngestURL string
	// Timeout bounds each ingest POST.
	Timeout time.Duration

	client *http.Client
}

// NewForwarder constructs a Forwarder over a running hub.
func NewForwarder(hub *Hub, ingestURL string) *Forwarder {
	return &Forwarder{
		Hub:       hub,
		IngestURL: ingestURL,
		Timeout:   5 * time.Second,
		client:    &http.Client{},
	}
}

// Forward delivers the responses for one entity to all overlay surfaces.
func (f *Forwarder) Forward(entityID string, responses []domain.ResponsePayload) {
	env := displayEnvelope{
		EntityID:  entityID,
		Responses: responses,
		SentAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("entity_id", entityID).Msg("display envelope marshal failed")
		return
	}

	if f.Hub != nil {
		f.Hub.Broadcast(entityID, data)
	}
	if f.IngestURL != "" {
		go f.post(entityID, data)
	}
}

// post ships one envelope to the external ingest endpoint. Overlay delivery
// is best-effort; failures are logged and forgotten.
func (f *Forwarder) post(entityID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.IngestURL, bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msg("overlay ingest request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("entity_id", entityID).Msg("overlay ingest delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("entity_id", entityID).Msg("overlay ingest rejected payload")
	}
}
