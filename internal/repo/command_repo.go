// Package repo – command and permission repositories.
//
// Commands are global definitions; CommandPermission rows overlay them per
// entity. The hot-path query is CommandsForEntity, which joins the two and
// returns only active commands with an enabled permission row, ordered by
// priority ascending with ties broken by command ID for determinism.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// CommandWithPermission pairs a command with its per-entity overlay row.
type CommandWithPermission struct {
	Command    domain.Command
	Permission domain.CommandPermission
}

// CreateCommand inserts a new command definition. Enum fields left empty by
// the caller are filled here, and the insert writes every column explicitly:
// relying on column defaults would silently flip zero-valued fields such as
// Active=false or Priority=0 back to their defaults.
func CreateCommand(ctx context.Context, db *gorm.DB, c *domain.Command) (*domain.Command, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.PrefixClass == "" {
		c.PrefixClass = domain.PrefixLocal
	}
	if c.InvokeKind == "" {
		c.InvokeKind = domain.InvokeWebhook
	}
	if c.Method == "" {
		c.Method = "POST"
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 5000
	}
	if c.ModuleClass == "" {
		c.ModuleClass = domain.ModuleAction
	}
	if c.TriggerKind == "" {
		c.TriggerKind = domain.TriggerCommand
	}
	if c.ExecMode == "" {
		c.ExecMode = domain.ExecSequential
	}
	c.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Select("*").Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommand fetches a command by ID, or ErrNotFound.
func GetCommand(ctx context.Context, db *gorm.DB, id string) (*domain.Command, error) {
	var c domain.Command
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCommand applies a partial update (non-zero fields of upd) to a
// command. Returns ErrNotFound when the command does not exist.
func UpdateCommand(ctx context.Context, db *gorm.DB, id string, upd map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Command{}).
		Where("id = ?", id).
		Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListCommandsPage returns a page of command definitions ordered by priority.
func ListCommandsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Command, int64, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&domain.Command{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Command
	err := db.WithContext(ctx).
		Order("priority asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// UpsertPermission creates or updates the permission overlay for a
// (command, entity) pair.
func UpsertPermission(ctx context.Context, db *gorm.DB, commandID, entityID string, enabled bool, config, grants string) (*domain.CommandPermission, error) {
	var p domain.CommandPermission
	err := db.WithContext(ctx).
		Where("command_id = ? AND entity_id = ?", commandID, entityID).
		First(&p).Error
	switch {
	case err == nil:
		res := db.WithContext(ctx).
			Model(&domain.CommandPermission{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{"enabled": enabled, "config": config, "grants": grants})
		if res.Error != nil {
			return nil, res.Error
		}
		p.Enabled, p.Config, p.Grants = enabled, config, grants
		return &p, nil
	case err == gorm.ErrRecordNotFound:
		p = domain.CommandPermission{
			ID:        uuid.NewString(),
			CommandID: commandID,
			EntityID:  entityID,
			Enabled:   enabled,
			Config:    config,
			Grants:    grants,
			CreatedAt: time.Now().UTC(),
		}
		// Insert every column: a column-default insert would turn
		// Enabled=false into the column's default true.
		if cerr := db.WithContext(ctx).Select("*").Create(&p).Error; cerr != nil {
			return nil, cerr
		}
		return &p, nil
	default:
		return nil, err
	}
}

// CommandsForEntity returns the active commands enabled for the entity,
// paired with their permission rows, ordered by priority ascending and
// command ID for ties. triggerKind filters by trigger classification;
// commands classified "both" always match.
func CommandsForEntity(ctx context.Context, db *gorm.DB, entityID, triggerKind string) ([]CommandWithPermission, error) {
	var perms []domain.CommandPermission
	err := db.WithContext(ctx).
		Joins("Command").
		Where("command_permissions.entity_id = ? AND command_permissions.enabled = ?", entityID, true).
		Where("\"Command\".\"active\" = ?", true).
		Where("\"Command\".\"trigger_kind\" IN ?", []string{triggerKind, domain.TriggerBoth}).
		Order("\"Command\".\"priority\" asc, \"Command\".\"id\" asc").
		Find(&perms).Error
	if err != nil {
		return nil, err
	}

	out := make([]CommandWithPermission, 0, len(perms))
	for _, p := range perms {
		out = append(out, CommandWithPermission{Command: p.Command, Permission: p})
	}
	return out, nil
}

// TouchPermissionUsage increments the usage counter and stamps last_used on a
// permission row. Called after a successful dispatch; failures here are not
// fatal to the execution.
func TouchPermissionUsage(ctx context.Context, db *gorm.DB, permissionID string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.CommandPermission{}).
		Where("id = ?", permissionID).
		Updates(map[string]any{
			"use_count": gorm.Expr("use_count + 1"),
			"last_used": now,
		}).Error
}
