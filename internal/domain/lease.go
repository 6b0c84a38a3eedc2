package domain

import (
	"time"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// Coordination lease statuses. While a row is claimed and unexpired, only the
// recorded holder may forward traffic for the entity. Once claim_expires has
// passed, the row is eligible for reclaim by any worker regardless of the
// previous holder; expiry alone is the liveness signal.
const (
	LeaseAvailable = "available"
	LeaseClaimed   = "claimed"
	LeaseOffline   = "offline"
	LeaseError     = "error" // out of claim rotation until cleared
)

// CoordinationLease is one row per (platform, server, channel) representing
// ownership of an entity's live traffic by a collector worker.
type CoordinationLease struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	EntityID      string         `json:"entity_id"      gorm:"type:char(36);not null;uniqueIndex"`
	Platform      string         `json:"platform"       gorm:"type:varchar(32);not null;index"`
	ServerID      string         `json:"server_id"      gorm:"type:varchar(64);not null"`
	ChannelID     string         `json:"channel_id"     gorm:"type:varchar(64);not null"`
	Status        string         `json:"status"         gorm:"type:varchar(16);not null;default:'available';index;check:status IN ('available','claimed','offline','error')"`
	ClaimedBy     string         `json:"claimed_by"     gorm:"type:varchar(128)"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	ClaimExpires  *time.Time     `json:"claim_expires,omitempty" gorm:"index"`
	IsLive        bool           `json:"is_live"        gorm:"not null;default:false"`
	LiveSince     *time.Time     `json:"live_since,omitempty"`
	ViewerCount   int            `json:"viewer_count"   gorm:"not null;default:0"`
	LastActivity  *time.Time     `json:"last_activity,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	ErrorCount    int            `json:"error_count"    gorm:"not null;default:0"`
	Priority      int            `json:"priority"       gorm:"not null;default:100;index"`
	MaxContainers int            `json:"max_containers" gorm:"not null;default:1"`
	Config        string         `json:"config"         gorm:"type:text"` // free-form metadata (JSON)
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for CoordinationLease.
func (CoordinationLease) TableName() string { return "coordination_leases" }

// Expired reports whether the claim on the lease has lapsed at now.
// Unclaimed leases are not considered expired.
func (l *CoordinationLease) Expired(now time.Time) bool {
	return l.Status == LeaseClaimed && l.ClaimExpires != nil && !now.Before(*l.ClaimExpires)
}

// HeartbeatInterval returns the per-entity heartbeat interval from the lease
// config, or def when not configured.
func (l *CoordinationLease) HeartbeatInterval(def time.Duration) time.Duration {
	if l.Config == "" {
		return def
	}
	if v := gjson.Get(l.Config, "heartbeat_interval"); v.Exists() {
		if d, err := time.ParseDuration(v.String()); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Liveness carries the stream-state fields a worker reports on heartbeat.
type Liveness struct {
	IsLive      bool       `json:"is_live"`
	LiveSince   *time.Time `json:"live_since,omitempty"`
	ViewerCount int        `json:"viewer_count"`
}
