// Package repo – coordination leases.
//
// Claim, heartbeat, and release are linearizable per lease row: every state
// transition is a guarded UPDATE whose WHERE clause re-checks the expected
// prior state, with RowsAffected deciding the winner. Two workers racing for
// the same lease therefore cannot both succeed, and no cross-row coordination
// is needed — leases are independent.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// UpsertLease creates the lease row for an entity if it does not exist yet.
// Registration-time operation, not on the claim path.
func UpsertLease(ctx context.Context, db *gorm.DB, e *domain.Entity, priority, maxContainers int, config string) (*domain.CoordinationLease, error) {
	var l domain.CoordinationLease
	err := db.WithContext(ctx).Where("entity_id = ?", e.ID).First(&l).Error
	if err == nil {
		return &l, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	l = domain.CoordinationLease{
		ID:            uuid.NewString(),
		EntityID:      e.ID,
		Platform:      e.Platform,
		ServerID:      e.ServerID,
		ChannelID:     e.ChannelID,
		Status:        domain.LeaseAvailable,
		Priority:      priority,
		MaxContainers: maxContainers,
		Config:        config,
		CreatedAt:     time.Now().UTC(),
	}
	// Insert every column: MaxContainers 0 means "parked, out of claim
	// rotation" and must not be replaced by the column's default 1.
	if cerr := db.WithContext(ctx).Select("*").Create(&l).Error; cerr != nil {
		return nil, cerr
	}
	return &l, nil
}

// GetLease fetches the lease for an entity, or ErrNotFound.
func GetLease(ctx context.Context, db *gorm.DB, entityID string) (*domain.CoordinationLease, error) {
	var l domain.CoordinationLease
	if err := db.WithContext(ctx).Where("entity_id = ?", entityID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLeases returns all lease rows ordered by assignment priority.
func ListLeases(ctx context.Context, db *gorm.DB) ([]domain.CoordinationLease, error) {
	var out []domain.CoordinationLease
	err := db.WithContext(ctx).Order("priority asc, id asc").Find(&out).Error
	return out, err
}

// claimableLeases selects rows eligible for claiming at now: available, or
// claimed but expired. Rows in error status or with max_containers <= 0 are
// out of rotation.
func claimableLeases(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.CoordinationLease, error) {
	var out []domain.CoordinationLease
	q := db.WithContext(ctx).
		Where("max_containers > 0").
		Where(
			db.Where("status = ?", domain.LeaseAvailable).
				Or("status = ? AND claim_expires <= ?", domain.LeaseClaimed, now),
		).
		Order("priority asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ClaimLeases atomically claims up to limit eligible leases for workerID and
// returns the rows it won. Each row is taken with a compare-and-set UPDATE;
// a row lost to a concurrent claimant is silently skipped (the loser simply
// receives fewer rows, never an error).
func ClaimLeases(ctx context.Context, db *gorm.DB, workerID string, now time.Time, leaseDur time.Duration, limit int) ([]domain.CoordinationLease, error) {
	candidates, err := claimableLeases(ctx, db, now, limit)
	if err != nil {
		return nil, err
	}

	expires := now.Add(leaseDur)
	won := make([]domain.CoordinationLease, 0, len(candidates))
	for _, l := range candidates {
		res := db.WithContext(ctx).
			Model(&domain.CoordinationLease{}).
			Where("id = ? AND max_containers > 0", l.ID).
			Where(
				db.Where("status = ?", domain.LeaseAvailable).
					Or("status = ? AND claim_expires <= ?", domain.LeaseClaimed, now),
			).
			Updates(map[string]any{
				"status":        domain.LeaseClaimed,
				"claimed_by":    workerID,
				"claimed_at":    now,
				"claim_expires": expires,
				"error_count":   0,
			})
		if res.Error != nil {
			return won, res.Error
		}
		if res.RowsAffected == 0 {
			continue // lost the race for this row
		}
		l.Status = domain.LeaseClaimed
		l.ClaimedBy = workerID
		l.ClaimedAt = &now
		l.ClaimExpires = &expires
		l.ErrorCount = 0
		won = append(won, l)
	}
	return won, nil
}

// HeartbeatLease extends the claim of workerID on entityID by leaseDur and
// records liveness. The guarded update only matches while the worker still
// holds an unexpired claim; zero rows affected means the lease was lost
// (expired and possibly reassigned) and the caller must stop forwarding.
func HeartbeatLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time, leaseDur time.Duration, live domain.Liveness) error {
	upd := map[string]any{
		"claim_expires":  now.Add(leaseDur),
		"last_heartbeat": now,
		"last_activity":  now,
		"is_live":        live.IsLive,
		"viewer_count":   live.ViewerCount,
		"error_count":    0,
	}
	if live.LiveSince != nil {
		upd["live_since"] = *live.LiveSince
	}
	res := db.WithContext(ctx).
		Model(&domain.CoordinationLease{}).
		Where("entity_id = ? AND claimed_by = ? AND status = ? AND claim_expires > ?",
			entityID, workerID, domain.LeaseClaimed, now).
		Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReleaseLease returns a lease to the available pool on graceful shutdown.
// Only the current holder may release; a stale holder's release is a no-op
// reported as ErrNotFound.
func ReleaseLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.CoordinationLease{}).
		Where("entity_id = ? AND claimed_by = ? AND status = ?", entityID, workerID, domain.LeaseClaimed).
		Updates(map[string]any{
			"status":        domain.LeaseAvailable,
			"claimed_by":    "",
			"claimed_at":    nil,
			"claim_expires": nil,
			"is_live":       false,
			"last_activity": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordLeaseError increments the consecutive error counter and moves the
// lease to error status once the counter reaches threshold, taking it out of
// claim rotation until cleared. Returns the new counter value.
func RecordLeaseError(ctx context.Context, db *gorm.DB, entityID string, threshold int) (int, error) {
	var count int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l domain.CoordinationLease
		if err := tx.Where("entity_id = ?", entityID).First(&l).Error; err != nil {
			return err
		}
		count = l.ErrorCount + 1
		upd := map[string]any{"error_count": count}
		if threshold > 0 && count >= threshold {
			upd["status"] = domain.LeaseError
			upd["claimed_by"] = ""
			upd["claim_expires"] = nil
		}
		return tx.Model(&domain.CoordinationLease{}).Where("id = ?", l.ID).Updates(upd).Error
	})
	return count, err
}

// ClearLeaseError resets an errored lease back into claim rotation.
func ClearLeaseError(ctx context.Context, db *gorm.DB, entityID string) error {
	res := db.WithContext(ctx).
		Model(&domain.CoordinationLease{}).
		Where("entity_id = ? AND status = ?", entityID, domain.LeaseError).
		Updates(map[string]any{
			"status":      domain.LeaseAvailable,
			"error_count": 0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// OwnerOf returns the worker currently holding an unexpired claim on the
// entity, or "" when nobody owns it. Used by the ingest path to enforce that
// only the owning collector forwards traffic.
func OwnerOf(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (string, error) {
	var l domain.CoordinationLease
	err := db.WithContext(ctx).
		Where("entity_id = ? AND status = ? AND claim_expires > ?", entityID, domain.LeaseClaimed, now).
		First(&l).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return l.ClaimedBy, nil
}
