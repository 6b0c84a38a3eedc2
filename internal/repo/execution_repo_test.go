package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tbourn/go-automation-core/internal/domain"
)

func TestExecutionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e, err := CreateExecution(ctx, db, &domain.CommandExecution{
		CommandID: "cmd-1",
		EntityID:  "ent-1",
		UserID:    "user-1",
		RawEvent:  "!ping",
		Address:   "http://handler.local/ping",
	})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if e.Status != domain.ExecPending {
		t.Fatalf("status = %q, want pending", e.Status)
	}

	if err := MarkExecutionRunning(ctx, db, e.ID); err != nil {
		t.Fatalf("MarkExecutionRunning: %v", err)
	}

	err = FinishExecution(ctx, db, e.ID, ExecutionOutcome{
		Status:     domain.ExecSuccess,
		StatusCode: 200,
		Response:   `{"success":true}`,
		LatencyMS:  12,
	})
	if err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	got, err := GetExecution(ctx, db, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != domain.ExecSuccess || got.StatusCode != 200 || got.LatencyMS != 12 {
		t.Fatalf("unexpected terminal row: %+v", got)
	}
	if !got.Terminal() {
		t.Fatal("Terminal() should report true")
	}
}

func TestFinishExecution_WriteOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e, err := CreateExecution(ctx, db, &domain.CommandExecution{CommandID: "c", EntityID: "e", UserID: "u"})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := FinishExecution(ctx, db, e.ID, ExecutionOutcome{Status: domain.ExecFailed, FailTag: domain.FailTimeout}); err != nil {
		t.Fatalf("first finish: %v", err)
	}

	// The second finish must not overwrite the terminal row.
	err = FinishExecution(ctx, db, e.ID, ExecutionOutcome{Status: domain.ExecSuccess, StatusCode: 200})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on replay, got %v", err)
	}
	got, _ := GetExecution(ctx, db, e.ID)
	if got.Status != domain.ExecFailed || got.FailTag != domain.FailTimeout {
		t.Fatalf("terminal row mutated: %+v", got)
	}
}

func TestMarkExecutionRunning_OnlyFromPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e, err := CreateExecution(ctx, db, &domain.CommandExecution{CommandID: "c", EntityID: "e", UserID: "u"})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := MarkExecutionRunning(ctx, db, e.ID); err != nil {
		t.Fatalf("pending→running: %v", err)
	}
	if err := MarkExecutionRunning(ctx, db, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("running→running should fail with ErrNotFound, got %v", err)
	}
}

func TestModuleResponses_InsertAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e, err := CreateExecution(ctx, db, &domain.CommandExecution{CommandID: "c", EntityID: "e", UserID: "u"})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	payloads := []domain.ResponsePayload{
		{Action: domain.ActionChat, Payload: json.RawMessage(`{"text":"pong"}`), Success: true},
		{Action: domain.ActionTicker, Payload: json.RawMessage(`{"text":"hi"}`), Success: true},
	}
	rows, err := CreateModuleResponses(ctx, db, e.ID, payloads)
	if err != nil {
		t.Fatalf("CreateModuleResponses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("inserted %d rows, want 2", len(rows))
	}

	got, err := ListModuleResponses(ctx, db, e.ID)
	if err != nil {
		t.Fatalf("ListModuleResponses: %v", err)
	}
	if len(got) != 2 || got[0].Action != domain.ActionChat || got[1].Action != domain.ActionTicker {
		t.Fatalf("unexpected responses: %+v", got)
	}

	// Empty payload set is a no-op.
	none, err := CreateModuleResponses(ctx, db, e.ID, nil)
	if err != nil || none != nil {
		t.Fatalf("empty insert: %v, %v", none, err)
	}
}

func TestModuleResponses_FailedReplyPersists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e, err := CreateExecution(ctx, db, &domain.CommandExecution{CommandID: "c", EntityID: "e", UserID: "u"})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	// Success=false must survive the insert, not be replaced by the
	// column's default true.
	_, err = CreateModuleResponses(ctx, db, e.ID, []domain.ResponsePayload{
		{Action: domain.ActionChat, Payload: json.RawMessage(`{"text":"nope"}`), Success: false},
	})
	if err != nil {
		t.Fatalf("CreateModuleResponses: %v", err)
	}

	got, err := ListModuleResponses(ctx, db, e.ID)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListModuleResponses: %d rows, %v", len(got), err)
	}
	if got[0].Success {
		t.Fatal("failed reply came back successful")
	}
}

func TestListExecutionsPage_FilterByEntity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, ent := range []string{"ent-a", "ent-a", "ent-b"} {
		if _, err := CreateExecution(ctx, db, &domain.CommandExecution{CommandID: "c", EntityID: ent, UserID: "u"}); err != nil {
			t.Fatalf("CreateExecution(%s): %v", ent, err)
		}
	}

	total, err := CountExecutions(ctx, db, "ent-a")
	if err != nil || total != 2 {
		t.Fatalf("CountExecutions(ent-a) = %d, %v", total, err)
	}
	all, err := CountExecutions(ctx, db, "")
	if err != nil || all != 3 {
		t.Fatalf("CountExecutions(all) = %d, %v", all, err)
	}

	rows, err := ListExecutionsPage(ctx, db, "ent-a", 0, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListExecutionsPage = %d rows, %v", len(rows), err)
	}
	for _, r := range rows {
		if r.EntityID != "ent-a" {
			t.Fatalf("row for wrong entity: %+v", r)
		}
	}
}
