package domain

import (
	"time"

	"gorm.io/gorm"
)

// Match modes for string-match moderation rules.
const (
	MatchExact     = "exact"
	MatchSubstring = "substring"
	MatchWholeWord = "word"
	MatchRegex     = "regex"
)

// Actions a matched rule can fire.
const (
	RuleWarn    = "warn"    // emit a warning payload
	RuleBlock   = "block"   // emit a block instruction
	RuleCommand = "command" // invoke a command through the dispatch engine
	RuleWebhook = "webhook" // call an arbitrary webhook
)

// StringMatchRule is a content-moderation pattern evaluated against every
// message for the entities it applies to. Rules are evaluated in priority
// order (ascending); by default only the first matching active rule fires.
//
// A pattern of "*" in substring mode matches everything; operators are
// expected to order such wildcards last. The engine enforces no ordering
// beyond the stored priority.
type StringMatchRule struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	EntityID      string         `json:"entity_id"      gorm:"type:char(36);not null;index"`
	Pattern       string         `json:"pattern"        gorm:"type:text;not null"`
	Mode          string         `json:"mode"           gorm:"type:varchar(16);not null;default:'substring';check:mode IN ('exact','substring','word','regex')"`
	CaseSensitive bool           `json:"case_sensitive" gorm:"not null;default:false"`
	Action        string         `json:"action"         gorm:"type:varchar(16);not null;default:'warn';check:action IN ('warn','block','command','webhook')"`
	ActionPayload string         `json:"action_payload" gorm:"type:text"` // JSON: warn/block text, command id, webhook URL
	Priority      int            `json:"priority"       gorm:"not null;default:100;index"`
	Active        bool           `json:"active"         gorm:"not null;default:true"`
	MatchCount    int64          `json:"match_count"    gorm:"not null;default:0"`
	LastMatched   *time.Time     `json:"last_matched,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"             gorm:"index"`

	Entity Entity `json:"-" gorm:"foreignKey:EntityID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StringMatchRule.
func (StringMatchRule) TableName() string { return "string_match_rules" }
