// Package domain defines the persistence models for the command-routing core:
// entities, commands, permission overlays, executions, moderation rules, and
// coordination leases. These types are mapped with GORM and are shared across
// the repository and service layers.
package domain

import (
	"time"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// Platform tags for the chat surfaces the product observes.
const (
	PlatformTwitch  = "twitch"
	PlatformDiscord = "discord"
	PlatformYouTube = "youtube"
)

// Prefix classes distinguish how a command is invoked in chat.
const (
	PrefixLocal     = "local"     // entity-scoped invocation, default "!"
	PrefixCommunity = "community" // community-scoped invocation, default "#"
)

// Invocation kinds form the closed set of execution targets a command can
// address. Handlers are always external and network-addressable; the core
// never loads foreign code in-process.
const (
	InvokeContainer = "container" // long-lived containerized service
	InvokeFunction  = "faas"      // function-as-a-service endpoint
	InvokeWebhook   = "webhook"   // generic webhook
)

// Module classifications.
const (
	ModuleTrigger = "trigger"
	ModuleAction  = "action"
	ModuleCore    = "core"
)

// Trigger classifications: what kind of event a command reacts to.
const (
	TriggerCommand = "command" // prefix-parsed chat text
	TriggerEvent   = "event"   // platform events (follow, raid, join, ...)
	TriggerBoth    = "both"
)

// Execution modes for a set of matched commands.
const (
	ExecSequential = "sequential" // run in priority order, may short-circuit
	ExecParallel   = "parallel"   // run concurrently, all awaited
)

// Entity is one platform-observable surface (a channel, server, or guild).
// The tuple (platform, server_id, channel_id) maps to at most one active
// entity. Entities are deactivated, never hard-deleted.
//
// Config is a free-form JSON document for per-entity settings (for example
// a custom command prefix or a heartbeat interval override).
type Entity struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Platform  string         `json:"platform"   gorm:"type:varchar(32);not null;uniqueIndex:ux_entity_surface,priority:1"`
	ServerID  string         `json:"server_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_entity_surface,priority:2"`
	ChannelID string         `json:"channel_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_entity_surface,priority:3"`
	AccountID string         `json:"account_id" gorm:"type:varchar(64);not null;index"`
	Active    bool           `json:"active"     gorm:"not null;default:true;uniqueIndex:ux_entity_surface,priority:4"`
	Config    string         `json:"config"     gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Entity.
func (Entity) TableName() string { return "entities" }

// ConfigValue returns the string value at a JSON path inside Config, or def
// when the path is absent or Config is empty.
func (e *Entity) ConfigValue(path, def string) string {
	if e.Config == "" {
		return def
	}
	if v := gjson.Get(e.Config, path); v.Exists() {
		return v.String()
	}
	return def
}

// Command is a named, prefixed, invocable unit of behavior. The handler that
// implements it is external and reached over HTTP at Address.
//
// Priority establishes evaluation order among commands matched for the same
// event only; it does not serialize access across different events.
type Command struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	Name         string         `json:"name"          gorm:"type:varchar(64);not null;index"`
	PrefixClass  string         `json:"prefix_class"  gorm:"type:varchar(16);not null;default:'local';check:prefix_class IN ('local','community')"`
	Description  string         `json:"description"   gorm:"type:text"`
	Address      string         `json:"address"       gorm:"type:varchar(255);not null"`
	InvokeKind   string         `json:"invoke_kind"   gorm:"type:varchar(16);not null;default:'webhook';check:invoke_kind IN ('container','faas','webhook')"`
	Method       string         `json:"method"        gorm:"type:varchar(8);not null;default:'POST'"`
	TimeoutMS    int            `json:"timeout_ms"    gorm:"not null;default:5000"`
	Headers      string         `json:"headers"       gorm:"type:text"` // JSON object of required headers
	AuthRequired bool           `json:"auth_required" gorm:"not null;default:false"`
	RateQuota    int            `json:"rate_quota"    gorm:"not null;default:0"` // requests per window; 0 = unlimited
	RetryMax     int            `json:"retry_max"     gorm:"not null;default:2"`
	Active       bool           `json:"active"        gorm:"not null;default:true"`
	ModuleClass  string         `json:"module_class"  gorm:"type:varchar(16);not null;default:'action';check:module_class IN ('trigger','action','core')"`
	TriggerKind  string         `json:"trigger_kind"  gorm:"type:varchar(16);not null;default:'command';check:trigger_kind IN ('command','event','both')"`
	EventTypes   string         `json:"event_types"   gorm:"type:text"` // JSON array of platform event types
	Priority     int            `json:"priority"      gorm:"not null;default:100;index"`
	ExecMode     string         `json:"exec_mode"     gorm:"type:varchar(16);not null;default:'sequential';check:exec_mode IN ('sequential','parallel')"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Command.
func (Command) TableName() string { return "commands" }

// Timeout returns the configured handler timeout as a duration, with a 5s
// fallback for unset or non-positive values.
func (c *Command) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ReactsTo reports whether the command's event-type set contains typ.
// An empty set means the command reacts to no platform events.
func (c *Command) ReactsTo(typ string) bool {
	if c.EventTypes == "" {
		return false
	}
	for _, v := range gjson.Parse(c.EventTypes).Array() {
		if v.String() == typ {
			return true
		}
	}
	return false
}

// HeaderMap decodes the required-headers JSON object. Malformed or empty
// documents yield an empty map.
func (c *Command) HeaderMap() map[string]string {
	out := map[string]string{}
	if c.Headers == "" {
		return out
	}
	gjson.Parse(c.Headers).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out
}

// CommandPermission is the per-entity overlay on a Command. A command with no
// permission row for an entity is disabled for that entity (default-deny).
type CommandPermission struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	CommandID string         `json:"command_id" gorm:"type:char(36);not null;uniqueIndex:ux_perm_cmd_entity,priority:1"`
	EntityID  string         `json:"entity_id"  gorm:"type:char(36);not null;uniqueIndex:ux_perm_cmd_entity,priority:2;index"`
	Enabled   bool           `json:"enabled"    gorm:"not null;default:true"`
	Config    string         `json:"config"     gorm:"type:text"` // entity-specific configuration (JSON)
	Grants    string         `json:"grants"     gorm:"type:text"` // entity-specific permission constraints (JSON)
	UseCount  int64          `json:"use_count"  gorm:"not null;default:0"`
	LastUsed  *time.Time     `json:"last_used,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Command Command `json:"-" gorm:"foreignKey:CommandID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Entity  Entity  `json:"-" gorm:"foreignKey:EntityID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CommandPermission.
func (CommandPermission) TableName() string { return "command_permissions" }

// ConfigValue returns the string value at a JSON path inside the per-entity
// command Config, or def when absent.
func (p *CommandPermission) ConfigValue(path, def string) string {
	if p.Config == "" {
		return def
	}
	if v := gjson.Get(p.Config, path); v.Exists() {
		return v.String()
	}
	return def
}
