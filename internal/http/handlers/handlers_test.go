package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/fanout"
	"github.com/tbourn/go-automation-core/internal/http/middleware"
	"github.com/tbourn/go-automation-core/internal/repo"
	"github.com/tbourn/go-automation-core/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakeResolver struct {
	entity *domain.Entity
	err    error
}

func (f *fakeResolver) ResolveEntity(context.Context, string, string, string) (*domain.Entity, error) {
	return f.entity, f.err
}

type fakeDispatcher struct {
	mu      sync.Mutex
	events  []domain.Event
	results []services.ExecutionResult
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev domain.Event) ([]services.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.results, f.err
}

type fakeModerator struct {
	mu      sync.Mutex
	calls   int
	outcome *services.MatchOutcome
	err     error
}

func (f *fakeModerator) Evaluate(context.Context, *domain.Entity, domain.Event) (*services.MatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.outcome, f.err
}

// fakeCoord scripts every coordination outcome and records what was asked.
type fakeCoord struct {
	mu sync.Mutex

	owns    bool
	ownsErr error

	claimed  []domain.CoordinationLease
	claimErr error
	claimBy  string

	hbErr      error
	heartbeats []string
	liveness   domain.Liveness

	relErr   error
	released []string

	recErr  error
	clrErr  error
	errored []string
	cleared []string

	leases  []domain.CoordinationLease
	listErr error

	hbEvery time.Duration
}

func (f *fakeCoord) Claim(_ context.Context, workerID string) ([]domain.CoordinationLease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimBy = workerID
	return f.claimed, f.claimErr
}

func (f *fakeCoord) Heartbeat(_ context.Context, _, entityID string, live domain.Liveness) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, entityID)
	f.liveness = live
	return f.hbErr
}

func (f *fakeCoord) Release(_ context.Context, _, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, entityID)
	return f.relErr
}

func (f *fakeCoord) RecordError(_ context.Context, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = append(f.errored, entityID)
	return f.recErr
}

func (f *fakeCoord) ClearError(_ context.Context, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, entityID)
	return f.clrErr
}

func (f *fakeCoord) List(context.Context) ([]domain.CoordinationLease, error) {
	return f.leases, f.listErr
}

func (f *fakeCoord) Owns(context.Context, string, string) (bool, error) {
	return f.owns, f.ownsErr
}

func (f *fakeCoord) HeartbeatEvery() time.Duration {
	if f.hbEvery > 0 {
		return f.hbEvery
	}
	return 10 * time.Second
}

// harness wires the handler set into a router with the same route layout the
// server uses, fakes behind the ingest and coordination surfaces and a real
// admin service over a temp database behind the operator surface.
type harness struct {
	router   *gin.Engine
	db       *gorm.DB
	resolver *fakeResolver
	dispatch *fakeDispatcher
	mod      *fakeModerator
	coord    *fakeCoord
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hr := &harness{
		db:       newHandlerDB(t),
		resolver: &fakeResolver{},
		dispatch: &fakeDispatcher{},
		mod:      &fakeModerator{},
		coord:    &fakeCoord{owns: true},
	}
	h := New(hr.resolver, hr.dispatch, hr.mod, hr.coord, services.NewAdminService(hr.db), fanout.NewHub())

	r := gin.New()
	r.Use(middleware.RequestID())

	api := r.Group("/api/v1")
	worker := api.Group("")
	worker.Use(middleware.WorkerAuth(""))
	worker.POST("/events", h.IngestEvent)
	worker.POST("/leases/claim", h.ClaimLeases)
	worker.POST("/leases/:entity_id/heartbeat", h.HeartbeatLease)
	worker.POST("/leases/:entity_id/release", h.ReleaseLease)

	api.GET("/leases", h.ListLeases)
	api.POST("/leases/:entity_id/error", h.RecordLeaseError)
	api.POST("/leases/:entity_id/clear-error", h.ClearLeaseError)

	api.POST("/entities", h.CreateEntity)
	api.GET("/entities", h.ListEntities)
	api.DELETE("/entities/:id", h.DeleteEntity)
	api.PUT("/entities/:id/config", h.UpdateEntityConfig)

	api.POST("/commands", h.CreateCommand)
	api.GET("/commands", h.ListCommands)
	api.PATCH("/commands/:id", h.UpdateCommand)
	api.PUT("/commands/:id/permissions/:entity_id", h.SetPermission)

	api.POST("/rules", h.CreateRule)
	api.PATCH("/rules/:id", h.UpdateRule)
	api.DELETE("/rules/:id", h.DeleteRule)

	api.GET("/executions", h.ListExecutions)

	hr.router = r
	return hr
}

// do issues a request as worker-1. A string body is sent verbatim; anything
// else is JSON-encoded.
func (hr *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return hr.doAs(t, method, path, body, "worker-1")
}

func (hr *harness) doAs(t *testing.T, method, path string, body any, workerID string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if workerID != "" {
		req.Header.Set("X-Worker-ID", workerID)
	}
	w := httptest.NewRecorder()
	hr.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// errCode extracts the stable error code from an error envelope.
func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	return resp.Code
}
