package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Execution lifecycle statuses. An execution is created pending, moves to
// running once a handler invocation starts, and terminates exactly once in
// success or failed. Terminal rows are never mutated again; the table is an
// append-only audit trail.
const (
	ExecPending = "pending"
	ExecRunning = "running"
	ExecSuccess = "success"
	ExecFailed  = "failed"
)

// Failure tags recorded on failed executions.
const (
	FailRateLimited  = "rate_limited"
	FailTimeout      = "handler_timeout"
	FailTransport    = "handler_transport_error"
	FailMalformed    = "malformed_response"
	FailHandlerError = "handler_error"
)

// CommandExecution is the immutable audit record of one dispatch attempt.
type CommandExecution struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	CommandID  string         `json:"command_id"  gorm:"type:char(36);not null;index"`
	EntityID   string         `json:"entity_id"   gorm:"type:char(36);not null;index:idx_exec_entity,priority:1"`
	UserID     string         `json:"user_id"     gorm:"type:varchar(64);not null;index"`
	RawEvent   string         `json:"raw_event"   gorm:"type:text"`
	Params     string         `json:"params"      gorm:"type:text"` // parsed parameters (JSON array)
	Address    string         `json:"address"     gorm:"type:varchar(255)"`
	Request    string         `json:"request"     gorm:"type:text"` // outbound envelope (JSON)
	StatusCode int            `json:"status_code"`
	Response   string         `json:"response"    gorm:"type:text"`
	LatencyMS  int64          `json:"latency_ms"`
	Error      string         `json:"error"       gorm:"type:text"`
	FailTag    string         `json:"fail_tag"    gorm:"type:varchar(32)"`
	Retries    int            `json:"retries"     gorm:"not null;default:0"`
	Status     string         `json:"status"      gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','running','success','failed')"`
	CreatedAt  time.Time      `json:"created_at"  gorm:"index:idx_exec_entity,priority:2"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for CommandExecution.
func (CommandExecution) TableName() string { return "command_executions" }

// Terminal reports whether the execution has reached a final state.
func (e *CommandExecution) Terminal() bool {
	return e.Status == ExecSuccess || e.Status == ExecFailed
}

// Action kinds for module responses: the tagged union of display payloads a
// handler may return. Ticker, media, and general responses are forwarded to
// the overlay collaborator; chat and form responses go back to the platform.
const (
	ActionChat    = "chat"    // chat message to post back
	ActionMedia   = "media"   // media display payload
	ActionTicker  = "ticker"  // scrolling ticker payload
	ActionGeneral = "general" // generic display payload
	ActionForm    = "form"    // form definition
)

// ModuleResponse is one typed reply produced by a handler, linked to exactly
// one CommandExecution. Payload carries the kind-specific JSON document.
type ModuleResponse struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	ExecutionID string    `json:"execution_id" gorm:"type:char(36);not null;index"`
	Action      string    `json:"action"       gorm:"type:varchar(16);not null;check:action IN ('chat','media','ticker','general','form')"`
	Payload     string    `json:"payload"      gorm:"type:text"`
	Success     bool      `json:"success"      gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`

	Execution CommandExecution `json:"-" gorm:"foreignKey:ExecutionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ModuleResponse.
func (ModuleResponse) TableName() string { return "module_responses" }

// ResponsePayload is the wire shape of one handler reply element before it is
// persisted: an action kind plus the kind-specific payload.
type ResponsePayload struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Success bool            `json:"success"`
}

// Displayable reports whether the response kind is forwarded to the
// browser-overlay collaborator.
func (r ResponsePayload) Displayable() bool {
	switch r.Action {
	case ActionTicker, ActionMedia, ActionGeneral:
		return true
	}
	return false
}

// ValidAction reports whether kind is a member of the closed action set.
func ValidAction(kind string) bool {
	switch kind {
	case ActionChat, ActionMedia, ActionTicker, ActionGeneral, ActionForm:
		return true
	}
	return false
}
