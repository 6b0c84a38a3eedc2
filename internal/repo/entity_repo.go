// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Entity
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an entity is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience). Resolution misses
//     are an expected outcome on the hot path, not an error condition.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateEntity inserts a new Entity for a platform surface. The entity ID is
// a randomly generated UUID (string), and CreatedAt is set to UTC.
func CreateEntity(ctx context.Context, db *gorm.DB, platform, serverID, channelID, accountID, config string) (*domain.Entity, error) {
	e := &domain.Entity{
		ID:        uuid.NewString(),
		Platform:  platform,
		ServerID:  serverID,
		ChannelID: channelID,
		AccountID: accountID,
		Active:    true,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntityBySurface resolves (platform, serverID, channelID) to the single
// active entity for that surface, or ErrNotFound.
func FindEntityBySurface(ctx context.Context, db *gorm.DB, platform, serverID, channelID string) (*domain.Entity, error) {
	var e domain.Entity
	err := db.WithContext(ctx).
		Where("platform = ? AND server_id = ? AND channel_id = ? AND active = ?", platform, serverID, channelID, true).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntity fetches an entity by its internal ID, or ErrNotFound.
func GetEntity(ctx context.Context, db *gorm.DB, id string) (*domain.Entity, error) {
	var e domain.Entity
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// DeactivateEntity clears the active flag on an entity. Entities are never
// hard-deleted; historical executions keep referring to them. Returns
// ErrNotFound when no active row matched.
func DeactivateEntity(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Entity{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateEntityConfig replaces the free-form config document of an entity.
func UpdateEntityConfig(ctx context.Context, db *gorm.DB, id, config string) error {
	res := db.WithContext(ctx).
		Model(&domain.Entity{}).
		Where("id = ?", id).
		Update("config", config)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountEntities returns the total number of entities (active and inactive).
func CountEntities(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Entity{}).Count(&total).Error
	return total, err
}

// ListEntitiesPage returns a paginated slice of entities ordered by creation
// time descending. Use CountEntities for pagination metadata.
func ListEntitiesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Entity, error) {
	var out []domain.Entity
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
