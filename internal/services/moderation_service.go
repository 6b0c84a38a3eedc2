// Package services – ModerationService
//
// This file implements the pattern-match moderation engine. It evaluates
// every chat message for an entity against the entity's active string-match
// rules in priority order and fires the first matching rule's action: emit a
// warning payload, emit a block instruction, invoke a command through the
// dispatch engine, or call an arbitrary webhook.
//
// The engine runs independently of command-trigger matching: a message that
// is both a recognized command and matches a moderation rule fires both.
// Neither engine suppresses the other.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// RuleRepo defines the repository contract required by ModerationService.
type RuleRepo interface {
	ActiveRulesForEntity(ctx context.Context, db *gorm.DB, entityID string) ([]domain.StringMatchRule, error)
	BumpRuleMatch(ctx context.Context, db *gorm.DB, id string, now time.Time) error
}

// CommandDispatcher is the slice of the dispatch engine a fired rule with
// action "command" needs.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) ([]ExecutionResult, error)
}

// MatchOutcome describes the rule that fired for a message and the action
// taken. A nil outcome means no rule matched.
type MatchOutcome struct {
	RuleID  string `json:"rule_id"`
	Action  string `json:"action"`
	Pattern string `json:"pattern"`
	// Message carries the warn/block text for those actions.
	Message string `json:"message,omitempty"`
}

// ModerationService evaluates messages against string-match rules.
type ModerationService struct {
	DB         *gorm.DB
	Repo       RuleRepo
	Dispatcher CommandDispatcher // for rules with action "command"

	// WebhookTimeout bounds rule-action webhook calls.
	WebhookTimeout time.Duration

	client *http.Client
	fold   cases.Caser
}

// NewModerationService constructs a ModerationService.
func NewModerationService(db *gorm.DB, r RuleRepo, d CommandDispatcher) *ModerationService {
	return &ModerationService{
		DB:             db,
		Repo:           r,
		Dispatcher:     d,
		WebhookTimeout: 5 * time.Second,
		client:         &http.Client{},
		fold:           cases.Fold(),
	}
}

// Evaluate runs the entity's active rules against a message in priority
// order and fires the first match. It returns nil when no rule matches.
func (s *ModerationService) Evaluate(ctx context.Context, entity *domain.Entity, ev domain.Event) (*MatchOutcome, error) {
	tr := otel.Tracer("services/ModerationService")
	ctx, span := tr.Start(ctx, "Evaluate",
		trace.WithAttributes(attribute.String("entity.id", entity.ID)),
	)
	defer span.End()

	rules, err := s.Repo.ActiveRulesForEntity(ctx, s.DB, entity.ID)
	if err != nil {
		return nil, err
	}

	for i := range rules {
		rule := &rules[i]
		matched, merr := s.matches(rule, ev.Text)
		if merr != nil {
			// A broken regex disables itself until fixed; it must not eat
			// the rest of the chain.
			log.Warn().Err(merr).Str("rule_id", rule.ID).Msg("unmatchable rule skipped")
			continue
		}
		if !matched {
			continue
		}

		if err := s.Repo.BumpRuleMatch(ctx, s.DB, rule.ID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("rule_id", rule.ID).Msg("match counter update failed")
		}
		moderationMatches.WithLabelValues(rule.Action).Inc()

		out := &MatchOutcome{RuleID: rule.ID, Action: rule.Action, Pattern: rule.Pattern}
		s.fire(ctx, rule, ev, out)
		// First matching active rule wins; stop evaluating further rules.
		return out, nil
	}
	return nil, nil
}

// matches applies the rule's configured mode and case sensitivity to text.
func (s *ModerationService) matches(rule *domain.StringMatchRule, text string) (bool, error) {
	pattern := rule.Pattern
	subject := text

	if !rule.CaseSensitive && rule.Mode != domain.MatchRegex {
		pattern = s.fold.String(pattern)
		subject = s.fold.String(subject)
	}

	switch rule.Mode {
	case domain.MatchExact:
		return subject == pattern, nil
	case domain.MatchSubstring:
		// "*" is the documented wildcard: it matches every message and is
		// expected to be ordered last by the operator.
		if pattern == "*" {
			return true, nil
		}
		return strings.Contains(subject, pattern), nil
	case domain.MatchWholeWord:
		for _, w := range strings.Fields(subject) {
			if w == pattern {
				return true, nil
			}
		}
		return false, nil
	case domain.MatchRegex:
		expr := rule.Pattern
		if !rule.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	default:
		return false, nil
	}
}

// fire executes the matched rule's configured action.
func (s *ModerationService) fire(ctx context.Context, rule *domain.StringMatchRule, ev domain.Event, out *MatchOutcome) {
	switch rule.Action {
	case domain.RuleWarn, domain.RuleBlock:
		out.Message = gjson.Get(rule.ActionPayload, "message").String()

	case domain.RuleCommand:
		if s.Dispatcher == nil {
			log.Warn().Str("rule_id", rule.ID).Msg("command action with no dispatcher wired")
			return
		}
		name := gjson.Get(rule.ActionPayload, "command").String()
		if name == "" {
			log.Warn().Str("rule_id", rule.ID).Msg("command action without command name")
			return
		}
		// Re-enter the dispatch engine as if the rule's command had been
		// typed by the offending user.
		trigger := ev
		trigger.Type = domain.EventTypeMessage
		trigger.Text = name
		if _, err := s.Dispatcher.Dispatch(ctx, trigger); err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("rule-triggered dispatch failed")
		}

	case domain.RuleWebhook:
		url := gjson.Get(rule.ActionPayload, "url").String()
		if url == "" {
			log.Warn().Str("rule_id", rule.ID).Msg("webhook action without url")
			return
		}
		s.callWebhook(ctx, rule, ev, url)
	}
}

// callWebhook posts the match context to the rule's webhook, bounded by
// WebhookTimeout. Failures are logged, never propagated: moderation webhook
// targets are best-effort collaborators.
func (s *ModerationService) callWebhook(ctx context.Context, rule *domain.StringMatchRule, ev domain.Event, url string) {
	body, err := json.Marshal(map[string]any{
		"rule_id":   rule.ID,
		"pattern":   rule.Pattern,
		"entity_id": rule.EntityID,
		"user_id":   ev.UserID,
		"text":      ev.Text,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.ID).Msg("moderation webhook failed")
		return
	}
	_ = resp.Body.Close()
}
