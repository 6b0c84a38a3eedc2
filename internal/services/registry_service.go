// Package services – RegistryService
//
// This file implements the Entity & Command Registry: resolution of platform
// identifiers to internal entities, and the permission-overlaid command
// lookup used by the dispatch engine. The read path has no side effects;
// entity and command administration happens outside the per-message path.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/repo"
)

// RegistryRepo defines the repository contract required by RegistryService.
type RegistryRepo interface {
	// FindEntityBySurface resolves a platform surface to its active entity.
	FindEntityBySurface(ctx context.Context, db *gorm.DB, platform, serverID, channelID string) (*domain.Entity, error)

	// GetEntity fetches an entity by internal ID.
	GetEntity(ctx context.Context, db *gorm.DB, id string) (*domain.Entity, error)

	// CommandsForEntity returns enabled, active commands with their
	// permission overlays, ordered by priority ascending, ID for ties.
	CommandsForEntity(ctx context.Context, db *gorm.DB, entityID, triggerKind string) ([]repo.CommandWithPermission, error)
}

// RegistryService resolves platform identifiers to entities and commands.
// Resolution misses are an expected outcome (unregistered surfaces) and are
// surfaced as ErrEntityNotFound, never logged as errors.
type RegistryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the registry repository used by this service.
	Repo RegistryRepo
}

// NewRegistryService constructs a RegistryService.
func NewRegistryService(db *gorm.DB, r RegistryRepo) *RegistryService {
	return &RegistryService{DB: db, Repo: r}
}

// ResolveEntity maps (platform, serverID, channelID) to the single active
// entity for that surface. It is a pure function of its inputs: two calls
// with identical inputs and no intervening write return the same result.
func (s *RegistryService) ResolveEntity(ctx context.Context, platform, serverID, channelID string) (*domain.Entity, error) {
	tr := otel.Tracer("services/RegistryService")
	ctx, span := tr.Start(ctx, "ResolveEntity",
		trace.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("server.id", serverID),
			attribute.String("channel.id", channelID),
		),
	)
	defer span.End()

	e, err := s.Repo.FindEntityBySurface(ctx, s.DB, platform, serverID, channelID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Entity fetches an entity by internal ID.
func (s *RegistryService) Entity(ctx context.Context, id string) (*domain.Entity, error) {
	e, err := s.Repo.GetEntity(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CommandsFor returns the ordered list of (command, permission) pairs enabled
// for the entity and trigger kind. A command with no permission row for the
// entity is disabled for it (default-deny), which the underlying join
// enforces structurally.
func (s *RegistryService) CommandsFor(ctx context.Context, entity *domain.Entity, triggerKind string) ([]repo.CommandWithPermission, error) {
	tr := otel.Tracer("services/RegistryService")
	ctx, span := tr.Start(ctx, "CommandsFor",
		trace.WithAttributes(
			attribute.String("entity.id", entity.ID),
			attribute.String("trigger.kind", triggerKind),
		),
	)
	defer span.End()

	return s.Repo.CommandsForEntity(ctx, s.DB, entity.ID, triggerKind)
}
