// Package repo – sliding-window rate-limit state.
//
// The per-(command, entity, user) window is the only mutable state on the
// dispatch hot path that needs synchronized read-modify-write. AllowWindow
// performs the whole increment-or-reset as one transaction so concurrent
// requests for the same key cannot lose updates. Note this is distinct from
// the transport-level token bucket in internal/http/middleware: that one
// protects the API edge, this one enforces per-command quotas.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// AllowWindow records one request against the (commandID, entityID, userID)
// window and reports whether it is within quota.
//
// Semantics:
//   - No row, or an expired row: reset to count=1 at window_start=now → allowed.
//   - Open row under quota: atomic increment → allowed.
//   - Open row at quota: no mutation → denied.
//
// quota <= 0 means unlimited and short-circuits without touching state.
func AllowWindow(ctx context.Context, db *gorm.DB, commandID, entityID, userID string, window time.Duration, quota int) (bool, error) {
	if quota <= 0 {
		return true, nil
	}

	allowed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var w domain.RateLimitWindow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("command_id = ? AND entity_id = ? AND user_id = ?", commandID, entityID, userID).
			First(&w).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			w = domain.RateLimitWindow{
				ID:          uuid.NewString(),
				CommandID:   commandID,
				EntityID:    entityID,
				UserID:      userID,
				WindowStart: now,
				Count:       1,
			}
			if cerr := tx.Create(&w).Error; cerr != nil {
				return cerr
			}
			allowed = true
			return nil
		case err != nil:
			return err
		}

		if !w.Valid(now, window) {
			// Expired window: logical reset to count=1, never an increment.
			res := tx.Model(&domain.RateLimitWindow{}).
				Where("id = ?", w.ID).
				Updates(map[string]any{"window_start": now, "count": 1})
			if res.Error != nil {
				return res.Error
			}
			allowed = true
			return nil
		}

		if w.Count >= quota {
			return nil // denied, leave the window untouched
		}

		res := tx.Model(&domain.RateLimitWindow{}).
			Where("id = ?", w.ID).
			Update("count", gorm.Expr("count + 1"))
		if res.Error != nil {
			return res.Error
		}
		allowed = true
		return nil
	})
	return allowed, err
}

// GetWindow returns the current window row for a key, or ErrNotFound. Used by
// operators and tests; the hot path goes through AllowWindow only.
func GetWindow(ctx context.Context, db *gorm.DB, commandID, entityID, userID string) (*domain.RateLimitWindow, error) {
	var w domain.RateLimitWindow
	err := db.WithContext(ctx).
		Where("command_id = ? AND entity_id = ? AND user_id = ?", commandID, entityID, userID).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}
