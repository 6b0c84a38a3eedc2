// Package repo – execution audit trail.
//
// CommandExecution rows are append-only: one row is created per matched
// command per event, updated exactly once when the attempt reaches a terminal
// state, and never mutated afterwards. FinishExecution enforces the
// write-once transition with a guarded update so that replaying a terminal
// execution ID is a no-op.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// CreateExecution inserts a pending audit row at dispatch start.
func CreateExecution(ctx context.Context, db *gorm.DB, e *domain.CommandExecution) (*domain.CommandExecution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = domain.ExecPending
	e.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// MarkExecutionRunning moves a pending execution to running. Returns
// ErrNotFound when the row is missing or already past pending.
func MarkExecutionRunning(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.CommandExecution{}).
		Where("id = ? AND status = ?", id, domain.ExecPending).
		Update("status", domain.ExecRunning)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExecutionOutcome carries the terminal fields written once per execution.
type ExecutionOutcome struct {
	Status     string // domain.ExecSuccess or domain.ExecFailed
	StatusCode int
	Response   string
	LatencyMS  int64
	Error      string
	FailTag    string
	Retries    int
}

// FinishExecution writes the terminal state of an execution. The update is
// guarded on the row still being non-terminal; a second finish for the same
// ID affects zero rows and returns ErrNotFound, which callers treat as
// "already terminal, do not re-invoke".
func FinishExecution(ctx context.Context, db *gorm.DB, id string, out ExecutionOutcome) error {
	res := db.WithContext(ctx).
		Model(&domain.CommandExecution{}).
		Where("id = ? AND status IN ?", id, []string{domain.ExecPending, domain.ExecRunning}).
		Updates(map[string]any{
			"status":      out.Status,
			"status_code": out.StatusCode,
			"response":    out.Response,
			"latency_ms":  out.LatencyMS,
			"error":       out.Error,
			"fail_tag":    out.FailTag,
			"retries":     out.Retries,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetExecution fetches one audit row by ID, or ErrNotFound.
func GetExecution(ctx context.Context, db *gorm.DB, id string) (*domain.CommandExecution, error) {
	var e domain.CommandExecution
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// CountExecutions returns the number of audit rows for an entity; an empty
// entityID counts all rows.
func CountExecutions(ctx context.Context, db *gorm.DB, entityID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.CommandExecution{})
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListExecutionsPage returns a page of audit rows, newest first. An empty
// entityID lists across all entities.
func ListExecutionsPage(ctx context.Context, db *gorm.DB, entityID string, offset, limit int) ([]domain.CommandExecution, error) {
	q := db.WithContext(ctx)
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	var out []domain.CommandExecution
	err := q.Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateModuleResponses persists the typed replies of a successful execution.
func CreateModuleResponses(ctx context.Context, db *gorm.DB, executionID string, payloads []domain.ResponsePayload) ([]domain.ModuleResponse, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	rows := make([]domain.ModuleResponse, 0, len(payloads))
	for _, p := range payloads {
		rows = append(rows, domain.ModuleResponse{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			Action:      p.Action,
			Payload:     string(p.Payload),
			Success:     p.Success,
			CreatedAt:   now,
		})
	}
	// Insert every column so Success=false survives instead of being
	// replaced by the column's default true.
	if err := db.WithContext(ctx).Select("*").Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListModuleResponses returns the replies linked to an execution.
func ListModuleResponses(ctx context.Context, db *gorm.DB, executionID string) ([]domain.ModuleResponse, error) {
	var out []domain.ModuleResponse
	err := db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
