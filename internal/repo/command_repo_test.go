package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/domain"
)

func seedEntity(t *testing.T, db *gorm.DB, channelID string) *domain.Entity {
	t.Helper()
	e, err := CreateEntity(context.Background(), db, "twitch", "-", channelID, "acct", "")
	if err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	return e
}

func seedCommand(t *testing.T, db *gorm.DB, name string, priority int) *domain.Command {
	t.Helper()
	c, err := CreateCommand(context.Background(), db, &domain.Command{
		Name:        name,
		PrefixClass: domain.PrefixLocal,
		Address:     "http://handler.local/" + name,
		InvokeKind:  domain.InvokeWebhook,
		Method:      "POST",
		Active:      true,
		ModuleClass: domain.ModuleAction,
		TriggerKind: domain.TriggerCommand,
		Priority:    priority,
		ExecMode:    domain.ExecSequential,
	})
	if err != nil {
		t.Fatalf("seed command %s: %v", name, err)
	}
	return c
}

func TestCommandsForEntity_DefaultDeny(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "deny")
	seedCommand(t, db, "ping", 10)

	// No permission row means the command is invisible to the entity.
	got, err := CommandsForEntity(ctx, db, e.ID, domain.TriggerCommand)
	if err != nil {
		t.Fatalf("CommandsForEntity: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no commands without permission rows, got %d", len(got))
	}
}

func TestCommandsForEntity_DisabledOverlayExcluded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "disabled")
	c := seedCommand(t, db, "ping", 10)
	if _, err := UpsertPermission(ctx, db, c.ID, e.ID, false, "", ""); err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}

	got, err := CommandsForEntity(ctx, db, e.ID, domain.TriggerCommand)
	if err != nil {
		t.Fatalf("CommandsForEntity: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("disabled permission must hide the command, got %d rows", len(got))
	}
}

func TestCommandsForEntity_OrderAndTriggerFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "ordered")

	low := seedCommand(t, db, "low", 200)
	high := seedCommand(t, db, "high", 10)
	both := seedCommand(t, db, "both", 50)
	evt := seedCommand(t, db, "evt", 1)

	// "both" reacts to commands and events; "evt" only to events.
	if err := UpdateCommand(ctx, db, both.ID, map[string]any{"trigger_kind": domain.TriggerBoth}); err != nil {
		t.Fatalf("update both: %v", err)
	}
	if err := UpdateCommand(ctx, db, evt.ID, map[string]any{"trigger_kind": domain.TriggerEvent}); err != nil {
		t.Fatalf("update evt: %v", err)
	}

	for _, c := range []*domain.Command{low, high, both, evt} {
		if _, err := UpsertPermission(ctx, db, c.ID, e.ID, true, "", ""); err != nil {
			t.Fatalf("UpsertPermission(%s): %v", c.Name, err)
		}
	}

	got, err := CommandsForEntity(ctx, db, e.ID, domain.TriggerCommand)
	if err != nil {
		t.Fatalf("CommandsForEntity: %v", err)
	}
	names := make([]string, 0, len(got))
	for _, cp := range got {
		names = append(names, cp.Command.Name)
	}
	want := []string{"high", "both", "low"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	// Event-trigger view picks up "evt" and "both" but not pure commands.
	got, err = CommandsForEntity(ctx, db, e.ID, domain.TriggerEvent)
	if err != nil {
		t.Fatalf("CommandsForEntity(event): %v", err)
	}
	if len(got) != 2 || got[0].Command.Name != "evt" || got[1].Command.Name != "both" {
		t.Fatalf("unexpected event commands: %+v", got)
	}
}

func TestCommandsForEntity_InactiveCommandExcluded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "inactive")
	c := seedCommand(t, db, "ping", 10)
	if _, err := UpsertPermission(ctx, db, c.ID, e.ID, true, "", ""); err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}
	if err := UpdateCommand(ctx, db, c.ID, map[string]any{"active": false}); err != nil {
		t.Fatalf("deactivate command: %v", err)
	}

	got, err := CommandsForEntity(ctx, db, e.ID, domain.TriggerCommand)
	if err != nil {
		t.Fatalf("CommandsForEntity: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("inactive command must be excluded, got %d rows", len(got))
	}
}

func TestUpsertPermission_CreateThenUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "perm")
	c := seedCommand(t, db, "ping", 10)

	p1, err := UpsertPermission(ctx, db, c.ID, e.ID, true, `{"cooldown":"10s"}`, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p2, err := UpsertPermission(ctx, db, c.ID, e.ID, false, `{"cooldown":"30s"}`, `{"roles":["mod"]}`)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatalf("upsert created a second row: %s vs %s", p1.ID, p2.ID)
	}
	if p2.Enabled || p2.ConfigValue("cooldown", "") != "30s" {
		t.Fatalf("update not applied: %+v", p2)
	}
}

func TestUpsertPermission_DisabledOnCreatePersists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "born-disabled")
	c := seedCommand(t, db, "ping", 10)

	// A first-time overlay created with enabled=false must come back
	// disabled on reload, not flipped by the column default.
	if _, err := UpsertPermission(ctx, db, c.ID, e.ID, false, "", ""); err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}

	var got domain.CommandPermission
	if err := db.Where("command_id = ? AND entity_id = ?", c.ID, e.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Enabled {
		t.Fatal("permission created disabled came back enabled")
	}
}

func TestCreateCommand_ZeroFieldsPersist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c, err := CreateCommand(ctx, db, &domain.Command{
		Name:    "draft",
		Address: "http://handler.local/draft",
		Active:  false,
		// Priority 0 sorts ahead of everything and must survive the insert.
		Priority: 0,
	})
	if err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	var got domain.Command
	if err := db.Where("id = ?", c.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Active {
		t.Fatal("command created inactive came back active")
	}
	if got.Priority != 0 {
		t.Fatalf("priority = %d, want 0", got.Priority)
	}
	// Enum fields left empty are filled in code, not by the database.
	if got.PrefixClass != domain.PrefixLocal || got.InvokeKind != domain.InvokeWebhook ||
		got.Method != "POST" || got.TimeoutMS != 5000 ||
		got.ModuleClass != domain.ModuleAction || got.TriggerKind != domain.TriggerCommand ||
		got.ExecMode != domain.ExecSequential {
		t.Fatalf("enum defaults not applied: %+v", got)
	}
}

func TestTouchPermissionUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "touch")
	c := seedCommand(t, db, "ping", 10)
	p, err := UpsertPermission(ctx, db, c.ID, e.ID, true, "", "")
	if err != nil {
		t.Fatalf("UpsertPermission: %v", err)
	}

	now := time.Now().UTC()
	if err := TouchPermissionUsage(ctx, db, p.ID, now); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	if err := TouchPermissionUsage(ctx, db, p.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("second touch: %v", err)
	}

	var got domain.CommandPermission
	if err := db.Where("id = ?", p.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.UseCount != 2 {
		t.Fatalf("use_count = %d, want 2", got.UseCount)
	}
	if got.LastUsed == nil {
		t.Fatal("last_used not stamped")
	}
}

func TestUpdateCommand_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := UpdateCommand(context.Background(), db, "nope", map[string]any{"priority": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCommandsPage_OrderedByPriority(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedCommand(t, db, "c", 30)
	seedCommand(t, db, "a", 10)
	seedCommand(t, db, "b", 20)

	out, total, err := ListCommandsPage(ctx, db, 0, 10)
	if err != nil {
		t.Fatalf("ListCommandsPage: %v", err)
	}
	if total != 3 || len(out) != 3 {
		t.Fatalf("total=%d len=%d, want 3/3", total, len(out))
	}
	if out[0].Name != "a" || out[1].Name != "b" || out[2].Name != "c" {
		t.Fatalf("unexpected order: %s %s %s", out[0].Name, out[1].Name, out[2].Name)
	}
}
