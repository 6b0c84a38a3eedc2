package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-automation-core/internal/domain"
)

func TestRuleCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "rules")

	r, err := CreateRule(ctx, db, &domain.StringMatchRule{
		EntityID:      e.ID,
		Pattern:       "spamword",
		Mode:          domain.MatchSubstring,
		Action:        domain.RuleWarn,
		ActionPayload: `{"message":"watch it"}`,
		Priority:      10,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	if err := UpdateRule(ctx, db, r.ID, map[string]any{"pattern": "worseword", "priority": 5}); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	got, err := GetRule(ctx, db, r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Pattern != "worseword" || got.Priority != 5 {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := DeleteRule(ctx, db, r.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := GetRule(ctx, db, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted rule still readable: %v", err)
	}
	if err := DeleteRule(ctx, db, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete should report ErrNotFound, got %v", err)
	}
}

func TestActiveRulesForEntity_OrderAndFiltering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "ordered-rules")
	other := seedEntity(t, db, "other")

	mk := func(entityID, pattern string, priority int, active bool) {
		t.Helper()
		_, err := CreateRule(ctx, db, &domain.StringMatchRule{
			EntityID: entityID,
			Pattern:  pattern,
			Mode:     domain.MatchSubstring,
			Action:   domain.RuleWarn,
			Priority: priority,
			Active:   active,
		})
		if err != nil {
			t.Fatalf("CreateRule(%s): %v", pattern, err)
		}
	}
	mk(e.ID, "second", 20, true)
	mk(e.ID, "first", 10, true)
	mk(e.ID, "disabled", 1, false)
	mk(other.ID, "foreign", 1, true)

	got, err := ActiveRulesForEntity(ctx, db, e.ID)
	if err != nil {
		t.Fatalf("ActiveRulesForEntity: %v", err)
	}
	if len(got) != 2 || got[0].Pattern != "first" || got[1].Pattern != "second" {
		t.Fatalf("unexpected rules: %+v", got)
	}
}

func TestCreateRule_InactiveOnCreatePersists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "draft-rule")
	r, err := CreateRule(ctx, db, &domain.StringMatchRule{
		EntityID: e.ID,
		Pattern:  "later",
		Active:   false,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	// The draft must come back inactive, not flipped by the column default,
	// and the empty mode/action are filled in code.
	got, err := GetRule(ctx, db, r.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Active {
		t.Fatal("rule created inactive came back active")
	}
	if got.Mode != domain.MatchSubstring || got.Action != domain.RuleWarn {
		t.Fatalf("mode/action defaults not applied: %+v", got)
	}
}

func TestBumpRuleMatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := seedEntity(t, db, "bump")
	r, err := CreateRule(ctx, db, &domain.StringMatchRule{
		EntityID: e.ID,
		Pattern:  "x",
		Mode:     domain.MatchSubstring,
		Action:   domain.RuleWarn,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	now := time.Now().UTC()
	if err := BumpRuleMatch(ctx, db, r.ID, now); err != nil {
		t.Fatalf("first bump: %v", err)
	}
	if err := BumpRuleMatch(ctx, db, r.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("second bump: %v", err)
	}

	got, _ := GetRule(ctx, db, r.ID)
	if got.MatchCount != 2 || got.LastMatched == nil {
		t.Fatalf("match bookkeeping wrong: %+v", got)
	}
}
