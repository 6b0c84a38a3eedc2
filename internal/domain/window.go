package domain

import "time"

// RateLimitWindow is the sliding counter keyed by (command, entity, user).
// A window is valid only while now - window_start < window size; an expired
// window is logically reset to count=1 at the next request, not incremented.
type RateLimitWindow struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	CommandID   string    `json:"command_id"   gorm:"type:char(36);not null;uniqueIndex:ux_window_key,priority:1"`
	EntityID    string    `json:"entity_id"    gorm:"type:char(36);not null;uniqueIndex:ux_window_key,priority:2"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_window_key,priority:3"`
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	Count       int       `json:"count"        gorm:"not null;default:1"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateLimitWindow.
func (RateLimitWindow) TableName() string { return "rate_limit_windows" }

// Valid reports whether the window is still open at now for the given size.
func (w *RateLimitWindow) Valid(now time.Time, size time.Duration) bool {
	return now.Sub(w.WindowStart) < size
}
