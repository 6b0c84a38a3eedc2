// Package services – CoordinationWorker
//
// This file implements the worker-side half of the coordination protocol: a
// loop that claims entities, heartbeats the leases it holds on the configured
// interval, and cooperatively cancels forwarding when ownership is lost.
// Collector processes embed this instead of re-implementing the protocol.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// Coordinator is the lease API a worker talks to; CoordinationService
// implements it in-process, and remote workers use an HTTP client with the
// same shape.
type Coordinator interface {
	Claim(ctx context.Context, workerID string) ([]domain.CoordinationLease, error)
	Heartbeat(ctx context.Context, workerID, entityID string, live domain.Liveness) error
	Release(ctx context.Context, workerID, entityID string) error
}

// heartbeatMisses is how many consecutive rejected heartbeats a worker
// tolerates before it must assume lost ownership (spec'd protocol constant).
const heartbeatMisses = 3

// ownership tracks one held lease and the cancel func for its forwarding.
type ownership struct {
	cancel   context.CancelFunc
	rejected int
}

// CoordinationWorker runs the claim/heartbeat/release cycle for one worker
// process. OnAcquire is invoked with a per-entity context that is cancelled
// when the lease is lost or released; forwarding for that entity must stop
// when the context does.
type CoordinationWorker struct {
	Coordinator Coordinator
	WorkerID    string

	// HeartbeatInterval is the claim polling cadence and the default
	// heartbeat cadence; a lease config captured at claim time may override
	// the heartbeat per entity ("heartbeat_interval").
	HeartbeatInterval time.Duration

	// OnAcquire is called once per newly acquired entity.
	OnAcquire func(ctx context.Context, lease domain.CoordinationLease)
	// Probe reports current liveness for an owned entity before each
	// heartbeat; nil means a zero Liveness is sent.
	Probe func(entityID string) domain.Liveness

	mu    sync.Mutex
	owned map[string]*ownership
}

// Run drives the worker loop until ctx is cancelled, then releases all held
// leases gracefully.
func (w *CoordinationWorker) Run(ctx context.Context) {
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = 10 * time.Second
	}
	w.owned = make(map[string]*ownership)

	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()

	for {
		w.claim(ctx)
		select {
		case <-ctx.Done():
			w.releaseAll()
			return
		case <-ticker.C:
		}
	}
}

// claim asks the coordinator for newly available entities and starts
// forwarding for each one acquired.
func (w *CoordinationWorker) claim(ctx context.Context) {
	leases, err := w.Coordinator.Claim(ctx, w.WorkerID)
	if err != nil {
		log.Warn().Err(err).Str("worker_id", w.WorkerID).Msg("claim failed")
		return
	}
	for _, l := range leases {
		w.mu.Lock()
		if _, held := w.owned[l.EntityID]; held {
			w.mu.Unlock()
			continue
		}
		ectx, cancel := context.WithCancel(ctx)
		w.owned[l.EntityID] = &ownership{cancel: cancel}
		w.mu.Unlock()

		go w.heartbeatLoop(ectx, l)
		if w.OnAcquire != nil {
			go w.OnAcquire(ectx, l)
		}
	}
}

// heartbeatLoop renews one held lease on its own cadence, taken from the
// lease config captured at claim time with the worker default as fallback.
// Three consecutive rejections mean ownership is lost: forwarding is
// cancelled and the entity is forgotten (cooperative, not preemptive —
// in-flight executions complete).
func (w *CoordinationWorker) heartbeatLoop(ctx context.Context, l domain.CoordinationLease) {
	ticker := time.NewTicker(l.HeartbeatInterval(w.HeartbeatInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var live domain.Liveness
		if w.Probe != nil {
			live = w.Probe(l.EntityID)
		}
		err := w.Coordinator.Heartbeat(ctx, w.WorkerID, l.EntityID, live)
		if err == nil {
			w.mu.Lock()
			if o := w.owned[l.EntityID]; o != nil {
				o.rejected = 0
			}
			w.mu.Unlock()
			continue
		}
		if err == ErrLeaseLost {
			w.drop(l.EntityID, true)
			return
		}

		// Transient coordinator failure: count it, assume lost after three.
		w.mu.Lock()
		o := w.owned[l.EntityID]
		lost := false
		if o != nil {
			o.rejected++
			lost = o.rejected >= heartbeatMisses
		}
		w.mu.Unlock()
		if lost {
			w.drop(l.EntityID, true)
			return
		}
	}
}

// drop cancels forwarding for an entity and forgets it.
func (w *CoordinationWorker) drop(entityID string, lostOwnership bool) {
	w.mu.Lock()
	o := w.owned[entityID]
	delete(w.owned, entityID)
	w.mu.Unlock()
	if o != nil {
		o.cancel()
	}
	if lostOwnership {
		log.Info().
			Str("worker_id", w.WorkerID).
			Str("entity_id", entityID).
			Msg("lease lost, forwarding stopped")
	}
}

// releaseAll gracefully returns every held lease on shutdown. A rejected
// release means the lease already moved on; that is fine.
func (w *CoordinationWorker) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.mu.Lock()
	ids := make([]string, 0, len(w.owned))
	for id := range w.owned {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.Coordinator.Release(ctx, w.WorkerID, id); err != nil && err != ErrLeaseLost {
			log.Warn().Err(err).Str("entity_id", id).Msg("release failed")
		}
		w.drop(id, false)
	}
}

// Owned returns the entity IDs this worker currently believes it holds.
func (w *CoordinationWorker) Owned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.owned))
	for id := range w.owned {
		out = append(out, id)
	}
	return out
}
