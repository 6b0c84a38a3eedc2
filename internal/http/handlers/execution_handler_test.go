package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/repo"
)

func seedExecution(t *testing.T, hr *harness, entityID, userID string) *domain.CommandExecution {
	t.Helper()
	e, err := repo.CreateExecution(context.Background(), hr.db, &domain.CommandExecution{
		CommandID: "cmd-1",
		EntityID:  entityID,
		UserID:    userID,
	})
	if err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	return e
}

func TestListExecutions(t *testing.T) {
	hr := newHarness(t)
	seedExecution(t, hr, "ent-a", "viewer-1")
	seedExecution(t, hr, "ent-a", "viewer-2")
	seedExecution(t, hr, "ent-b", "viewer-3")

	w := hr.do(t, http.MethodGet, "/api/v1/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ListExecutionsResponse
	decodeBody(t, w, &resp)
	if len(resp.Executions) != 3 || resp.Pagination.Total != 3 {
		t.Fatalf("listing: %d rows, pagination %+v", len(resp.Executions), resp.Pagination)
	}
}

func TestListExecutions_EntityFilter(t *testing.T) {
	hr := newHarness(t)
	seedExecution(t, hr, "ent-a", "viewer-1")
	seedExecution(t, hr, "ent-a", "viewer-2")
	seedExecution(t, hr, "ent-b", "viewer-3")

	w := hr.do(t, http.MethodGet, "/api/v1/executions?entity_id=ent-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ListExecutionsResponse
	decodeBody(t, w, &resp)
	if len(resp.Executions) != 2 || resp.Pagination.Total != 2 {
		t.Fatalf("filtered listing: %d rows, total %d", len(resp.Executions), resp.Pagination.Total)
	}
	for _, row := range resp.Executions {
		if row.Execution.EntityID != "ent-a" {
			t.Fatalf("foreign entity in filtered page: %+v", row.Execution)
		}
	}
}

func TestListExecutions_IncludesModuleResponses(t *testing.T) {
	hr := newHarness(t)
	exec := seedExecution(t, hr, "ent-a", "viewer-1")

	_, err := repo.CreateModuleResponses(context.Background(), hr.db, exec.ID, []domain.ResponsePayload{
		{Action: domain.ActionChat, Payload: []byte(`{"text":"pong"}`), Success: true},
	})
	if err != nil {
		t.Fatalf("seed responses: %v", err)
	}

	w := hr.do(t, http.MethodGet, "/api/v1/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ListExecutionsResponse
	decodeBody(t, w, &resp)
	if len(resp.Executions) != 1 {
		t.Fatalf("rows = %d", len(resp.Executions))
	}
	got := resp.Executions[0]
	if len(got.Responses) != 1 || got.Responses[0].Action != domain.ActionChat {
		t.Fatalf("responses: %+v", got.Responses)
	}
}

func TestListExecutions_Empty(t *testing.T) {
	hr := newHarness(t)

	w := hr.do(t, http.MethodGet, "/api/v1/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ListExecutionsResponse
	decodeBody(t, w, &resp)
	if resp.Executions == nil || len(resp.Executions) != 0 || resp.Pagination.Total != 0 {
		t.Fatalf("empty listing: %+v", resp)
	}
}
