// Package services – AdminService
//
// Administrative operations outside the per-message hot path: registering
// entities (which also seeds their coordination lease), managing command
// definitions and permission overlays, maintaining string-match rules, and
// reading the execution audit trail.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/repo"
)

// AdminService wraps the administrative persistence operations.
type AdminService struct {
	DB *gorm.DB

	// LeasePriority and LeaseMaxContainers seed the coordination lease
	// created alongside a new entity.
	LeasePriority      int
	LeaseMaxContainers int
}

// NewAdminService constructs an AdminService with default lease seeding.
func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{DB: db, LeasePriority: 100, LeaseMaxContainers: 1}
}

// RegisterEntity creates an entity for a platform surface and seeds its
// coordination lease so collectors can pick it up on their next claim.
func (s *AdminService) RegisterEntity(ctx context.Context, platform, serverID, channelID, accountID, config string) (*domain.Entity, error) {
	var entity *domain.Entity
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := repo.CreateEntity(ctx, tx, platform, serverID, channelID, accountID, config)
		if err != nil {
			return err
		}
		if _, err := repo.UpsertLease(ctx, tx, e, s.LeasePriority, s.LeaseMaxContainers, ""); err != nil {
			return err
		}
		entity = e
		return nil
	})
	return entity, err
}

// UnregisterEntity deactivates an entity. The row is retained for the audit
// trail; its lease drops out of rotation once released or expired.
func (s *AdminService) UnregisterEntity(ctx context.Context, id string) error {
	err := repo.DeactivateEntity(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEntityNotFound
	}
	return err
}

// ListEntities returns a page of entities with the total count.
func (s *AdminService) ListEntities(ctx context.Context, page, pageSize int) ([]domain.Entity, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountEntities(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Entity{}, 0, nil
	}
	items, err := repo.ListEntitiesPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// CreateCommand persists a new command definition.
func (s *AdminService) CreateCommand(ctx context.Context, c *domain.Command) (*domain.Command, error) {
	return repo.CreateCommand(ctx, s.DB, c)
}

// UpdateCommand applies a partial update to a command definition.
func (s *AdminService) UpdateCommand(ctx context.Context, id string, upd map[string]any) error {
	err := repo.UpdateCommand(ctx, s.DB, id, upd)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCommandNotFound
	}
	return err
}

// ListCommands returns a page of command definitions with the total count.
func (s *AdminService) ListCommands(ctx context.Context, page, pageSize int) ([]domain.Command, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return repo.ListCommandsPage(ctx, s.DB, (page-1)*pageSize, pageSize)
}

// SetPermission creates or updates the per-entity overlay for a command.
// Commands have no implicit grants: absent an overlay row, a command stays
// disabled for the entity.
func (s *AdminService) SetPermission(ctx context.Context, commandID, entityID string, enabled bool, config, grants string) (*domain.CommandPermission, error) {
	if _, err := repo.GetCommand(ctx, s.DB, commandID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommandNotFound
		}
		return nil, err
	}
	if _, err := repo.GetEntity(ctx, s.DB, entityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return repo.UpsertPermission(ctx, s.DB, commandID, entityID, enabled, config, grants)
}

// CreateRule persists a new string-match rule for an entity.
func (s *AdminService) CreateRule(ctx context.Context, r *domain.StringMatchRule) (*domain.StringMatchRule, error) {
	if _, err := repo.GetEntity(ctx, s.DB, r.EntityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return repo.CreateRule(ctx, s.DB, r)
}

// UpdateRule applies a partial update to a rule.
func (s *AdminService) UpdateRule(ctx context.Context, id string, upd map[string]any) error {
	err := repo.UpdateRule(ctx, s.DB, id, upd)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRuleNotFound
	}
	return err
}

// DeleteRule removes a rule.
func (s *AdminService) DeleteRule(ctx context.Context, id string) error {
	err := repo.DeleteRule(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRuleNotFound
	}
	return err
}

// ExecutionWithResponses bundles an audit row with its typed replies.
type ExecutionWithResponses struct {
	Execution domain.CommandExecution `json:"execution"`
	Responses []domain.ModuleResponse `json:"responses"`
}

// ListExecutions returns a page of the audit trail, newest first, each row
// with its module responses. An empty entityID lists across all entities.
func (s *AdminService) ListExecutions(ctx context.Context, entityID string, page, pageSize int) ([]ExecutionWithResponses, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountExecutions(ctx, s.DB, entityID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []ExecutionWithResponses{}, 0, nil
	}
	rows, err := repo.ListExecutionsPage(ctx, s.DB, entityID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ExecutionWithResponses, 0, len(rows))
	for _, e := range rows {
		resp, rerr := repo.ListModuleResponses(ctx, s.DB, e.ID)
		if rerr != nil {
			return nil, 0, rerr
		}
		out = append(out, ExecutionWithResponses{Execution: e, Responses: resp})
	}
	return out, total, nil
}
