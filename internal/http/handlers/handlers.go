package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/fanout"
	"github.com/tbourn/go-automation-core/internal/services"
)

// EntityResolver is the registry slice the ingest path needs.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, platform, serverID, channelID string) (*domain.Entity, error)
}

// EventDispatcher runs matched commands for an event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) ([]services.ExecutionResult, error)
}

// MessageModerator evaluates a message against an entity's rules.
type MessageModerator interface {
	Evaluate(ctx context.Context, entity *domain.Entity, ev domain.Event) (*services.MatchOutcome, error)
}

// LeaseCoordinator is the coordination surface exposed over HTTP to workers
// and operators.
type LeaseCoordinator interface {
	Claim(ctx context.Context, workerID string) ([]domain.CoordinationLease, error)
	Heartbeat(ctx context.Context, workerID, entityID string, live domain.Liveness) error
	Release(ctx context.Context, workerID, entityID string) error
	RecordError(ctx context.Context, entityID string) error
	ClearError(ctx context.Context, entityID string) error
	List(ctx context.Context) ([]domain.CoordinationLease, error)
	Owns(ctx context.Context, workerID, entityID string) (bool, error)
	HeartbeatEvery() time.Duration
}

// Handlers bundles the HTTP endpoint implementations and their service
// dependencies.
type Handlers struct {
	registry   EntityResolver
	dispatch   EventDispatcher
	moderation MessageModerator
	coord      LeaseCoordinator
	admin      *services.AdminService
	hub        *fanout.Hub
}

// New constructs the handler set.
func New(reg EntityResolver, d EventDispatcher, m MessageModerator, c LeaseCoordinator, a *services.AdminService, hub *fanout.Hub) *Handlers {
	return &Handlers{
		registry:   reg,
		dispatch:   d,
		moderation: m,
		coord:      c,
		admin:      a,
		hub:        hub,
	}
}
