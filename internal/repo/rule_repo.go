// Package repo – string-match moderation rules.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// CreateRule inserts a new string-match rule for an entity. The insert writes
// every column explicitly so a rule created with Active=false stays inactive
// instead of picking up the column's default true.
func CreateRule(ctx context.Context, db *gorm.DB, r *domain.StringMatchRule) (*domain.StringMatchRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Mode == "" {
		r.Mode = domain.MatchSubstring
	}
	if r.Action == "" {
		r.Action = domain.RuleWarn
	}
	r.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Select("*").Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRule fetches a rule by ID, or ErrNotFound.
func GetRule(ctx context.Context, db *gorm.DB, id string) (*domain.StringMatchRule, error) {
	var r domain.StringMatchRule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRule applies a partial update to a rule, ErrNotFound when missing.
func UpdateRule(ctx context.Context, db *gorm.DB, id string, upd map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.StringMatchRule{}).
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

// DeleteRule soft-deletes a rule.
func DeleteRule(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.StringMatchRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ActiveRulesForEntity returns the active rules for an entity ordered by
// priority ascending, ties broken by rule ID.
func ActiveRulesForEntity(ctx context.Context, db *gorm.DB, entityID string) ([]domain.StringMatchRule, error) {
	var out []domain.StringMatchRule
	err := db.WithContext(ctx).
		Where("entity_id = ? AND active = ?", entityID, true).
		Order("priority asc, id asc").
		Find(&out).Error
	return out, err
}

// BumpRuleMatch increments the match counter and stamps last_matched.
func BumpRuleMatch(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.StringMatchRule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"match_count":  gorm.Expr("match_count + 1"),
			"last_matched": now,
		}).Error
}
