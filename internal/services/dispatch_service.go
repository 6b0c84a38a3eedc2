// Package services – DispatchService
//
// This file implements the dispatch engine: it matches a normalized platform
// event against the commands enabled for its entity, enforces per-command
// rate limits, invokes handlers with retry and timeout semantics, and records
// an append-only audit trail of every attempt.
//
// State machine per execution: pending -> running -> {success, failed}.
// Exactly one terminal CommandExecution row is written per matched command
// per event; ModuleResponse rows are written only on success. There is no
// synchronous caller waiting on dispatch outcome in the common case — the
// platform adapter is fire-and-forget and the audit trail is the operator's
// failure surface.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/invoke"
	"github.com/tbourn/go-automation-core/internal/repo"
)

// EntityResolver is the registry contract the dispatch engine depends on.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, platform, serverID, channelID string) (*domain.Entity, error)
	CommandsFor(ctx context.Context, entity *domain.Entity, triggerKind string) ([]repo.CommandWithPermission, error)
}

// DisplayForwarder receives the displayable module responses of successful
// executions (ticker/media/general kinds) for fan-out to overlay surfaces.
// Implementations must not block the dispatch path.
type DisplayForwarder interface {
	Forward(entityID string, responses []domain.ResponsePayload)
}

// ExecutionResult is the per-command outcome of one dispatch.
type ExecutionResult struct {
	ExecutionID string
	CommandID   string
	CommandName string
	Status      string
	FailTag     string
	Err         error
	Responses   []domain.ResponsePayload
	Halt        bool
}

// DispatchService matches events to commands and runs their handlers.
type DispatchService struct {
	DB       *gorm.DB
	Registry EntityResolver
	Invoker  invoke.Invoker
	Display  DisplayForwarder // optional

	// RateWindow is the sliding-window size for per-command quotas.
	RateWindow time.Duration
	// BackoffBase and BackoffCap bound the exponential retry backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Default invocation prefixes; entities may override via config keys
	// "prefix" and "community_prefix".
	PrefixLocal     string
	PrefixCommunity string
}

// NewDispatchService constructs a DispatchService with the conventional
// defaults: one-minute rate windows, 200ms..5s backoff, "!" and "#" prefixes.
func NewDispatchService(db *gorm.DB, reg EntityResolver, inv invoke.Invoker, display DisplayForwarder) *DispatchService {
	return &DispatchService{
		DB:              db,
		Registry:        reg,
		Invoker:         inv,
		Display:         display,
		RateWindow:      time.Minute,
		BackoffBase:     200 * time.Millisecond,
		BackoffCap:      5 * time.Second,
		PrefixLocal:     "!",
		PrefixCommunity: "#",
	}
}

// Dispatch resolves the event's entity, matches commands, and executes them.
// Events for unregistered surfaces are dropped without an audit record. The
// returned slice holds one result per matched command, ordered by priority
// (ascending, ties by command ID) regardless of completion order.
func (s *DispatchService) Dispatch(ctx context.Context, ev domain.Event) ([]ExecutionResult, error) {
	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("platform", ev.Platform),
			attribute.String("event.type", ev.Type),
		),
	)
	defer span.End()

	entity, err := s.Registry.ResolveEntity(ctx, ev.Platform, ev.ServerID, ev.ChannelID)
	if errors.Is(err, ErrEntityNotFound) {
		// Unregistered surface: expected, dropped, not an error.
		log.Debug().
			Str("platform", ev.Platform).
			Str("server_id", ev.ServerID).
			Str("channel_id", ev.ChannelID).
			Msg("event for unregistered surface dropped")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	matched, params, err := s.match(ctx, entity, ev)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	// Partition by execution mode. Parallel commands run concurrently and
	// are all awaited; sequential commands run in priority order and may
	// short-circuit the rest of the sequential set.
	var sequential, parallel []repo.CommandWithPermission
	for _, m := range matched {
		if m.Command.ExecMode == domain.ExecParallel {
			parallel = append(parallel, m)
		} else {
			sequential = append(sequential, m)
		}
	}

	results := make([]ExecutionResult, 0, len(matched))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, m := range parallel {
		wg.Add(1)
		go func(m repo.CommandWithPermission) {
			defer wg.Done()
			res := s.runOne(ctx, entity, ev, m, params)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(m)
	}

	for _, m := range sequential {
		res := s.runOne(ctx, entity, ev, m, params)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		if res.Halt {
			break
		}
	}

	wg.Wait()

	// Deterministic result order for callers and tests: priority asc, ID asc.
	prio := make(map[string]int, len(matched))
	for _, m := range matched {
		prio[m.Command.ID] = m.Command.Priority
	}
	sort.Slice(results, func(i, j int) bool {
		pi, pj := prio[results[i].CommandID], prio[results[j].CommandID]
		if pi != pj {
			return pi < pj
		}
		return results[i].CommandID < results[j].CommandID
	})
	return results, nil
}

// Redispatch re-runs a previously created execution by ID. Replaying an
// already-terminal execution never re-invokes the handler; it returns
// ErrExecutionTerminal so replay workers can drop the duplicate.
func (s *DispatchService) Redispatch(ctx context.Context, executionID string) (*ExecutionResult, error) {
	exec, err := repo.GetExecution(ctx, s.DB, executionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		return nil, ErrExecutionTerminal
	}

	cmd, err := repo.GetCommand(ctx, s.DB, exec.CommandID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommandNotFound
	}
	if err != nil {
		return nil, err
	}

	var env invoke.Envelope
	if uerr := json.Unmarshal([]byte(exec.Request), &env); uerr != nil {
		env = invoke.Envelope{EntityID: exec.EntityID, UserID: exec.UserID, Event: json.RawMessage(exec.RawEvent)}
	}
	res := s.execute(ctx, cmd, nil, exec, env)
	return &res, nil
}

// match classifies the event and returns the commands it addresses, plus the
// parsed command parameters for the envelope (nil for platform events).
func (s *DispatchService) match(ctx context.Context, entity *domain.Entity, ev domain.Event) ([]repo.CommandWithPermission, []string, error) {
	if ev.IsMessage() {
		name, params, class := s.parseCommand(entity, ev.Text)
		if name == "" {
			return nil, nil, nil // plain chat, not a command invocation
		}
		all, err := s.Registry.CommandsFor(ctx, entity, domain.TriggerCommand)
		if err != nil {
			return nil, nil, err
		}
		var matched []repo.CommandWithPermission
		for _, m := range all {
			if strings.EqualFold(m.Command.Name, name) && m.Command.PrefixClass == class {
				matched = append(matched, m)
			}
		}
		return matched, params, nil
	}

	all, err := s.Registry.CommandsFor(ctx, entity, domain.TriggerEvent)
	if err != nil {
		return nil, nil, err
	}
	var matched []repo.CommandWithPermission
	for _, m := range all {
		if m.Command.ReactsTo(ev.Type) {
			matched = append(matched, m)
		}
	}
	return matched, nil, nil
}

// parseCommand splits prefixed chat text into command name, parameters, and
// the prefix class that was used. Empty name means the text is not a command.
func (s *DispatchService) parseCommand(entity *domain.Entity, text string) (name string, params []string, class string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, ""
	}

	local := entity.ConfigValue("prefix", s.PrefixLocal)
	community := entity.ConfigValue("community_prefix", s.PrefixCommunity)

	var rest string
	switch {
	case local != "" && strings.HasPrefix(text, local):
		rest, class = text[len(local):], domain.PrefixLocal
	case community != "" && strings.HasPrefix(text, community):
		rest, class = text[len(community):], domain.PrefixCommunity
	default:
		return "", nil, ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, ""
	}
	return fields[0], fields[1:], class
}

// runOne executes a single matched command end to end: rate-limit check,
// audit row creation, handler invocation with retries, terminal write.
func (s *DispatchService) runOne(ctx context.Context, entity *domain.Entity, ev domain.Event, m repo.CommandWithPermission, params []string) ExecutionResult {
	cmd := m.Command

	quota := cmd.RateQuota
	if v := m.Permission.ConfigValue("rate_quota", ""); v != "" {
		if q, err := parseInt(v); err == nil {
			quota = q
		}
	}

	allowed, err := repo.AllowWindow(ctx, s.DB, cmd.ID, entity.ID, ev.UserID, s.RateWindow, quota)
	if err != nil {
		return ExecutionResult{CommandID: cmd.ID, CommandName: cmd.Name, Status: domain.ExecFailed, Err: err}
	}

	env := invoke.Envelope{
		EntityID: entity.ID,
		UserID:   ev.UserID,
		Event:    json.RawMessage(ev.Raw()),
		Params:   params,
	}
	reqBody, _ := json.Marshal(env)

	exec, err := repo.CreateExecution(ctx, s.DB, &domain.CommandExecution{
		CommandID: cmd.ID,
		EntityID:  entity.ID,
		UserID:    ev.UserID,
		RawEvent:  ev.Raw(),
		Params:    marshalParams(params),
		Address:   cmd.Address,
		Request:   string(reqBody),
	})
	if err != nil {
		return ExecutionResult{CommandID: cmd.ID, CommandName: cmd.Name, Status: domain.ExecFailed, Err: err}
	}

	if !allowed {
		// Policy rejection: recorded, never invoked, never retried.
		_ = repo.FinishExecution(ctx, s.DB, exec.ID, repo.ExecutionOutcome{
			Status:  domain.ExecFailed,
			Error:   ErrRateLimited.Error(),
			FailTag: domain.FailRateLimited,
		})
		dispatchOutcomes.WithLabelValues(domain.ExecFailed, domain.FailRateLimited).Inc()
		return ExecutionResult{
			ExecutionID: exec.ID,
			CommandID:   cmd.ID,
			CommandName: cmd.Name,
			Status:      domain.ExecFailed,
			FailTag:     domain.FailRateLimited,
			Err:         ErrRateLimited,
		}
	}

	res := s.execute(ctx, &cmd, &m.Permission, exec, env)
	return res
}

// execute runs the invocation/retry loop for an already-created execution
// row and writes its terminal state.
func (s *DispatchService) execute(ctx context.Context, cmd *domain.Command, perm *domain.CommandPermission, exec *domain.CommandExecution, env invoke.Envelope) ExecutionResult {
	if err := repo.MarkExecutionRunning(ctx, s.DB, exec.ID); err != nil {
		// Already picked up (or finished) elsewhere: never double-invoke.
		return ExecutionResult{ExecutionID: exec.ID, CommandID: cmd.ID, CommandName: cmd.Name, Status: exec.Status, Err: ErrExecutionTerminal}
	}

	start := time.Now()
	var (
		res     *invoke.Result
		lastErr error
		retries int
	)
	for attempt := 0; ; attempt++ {
		res, lastErr = s.Invoker.Invoke(ctx, cmd, env)
		if lastErr == nil || errors.Is(lastErr, invoke.ErrMalformed) {
			break
		}
		// Timeout and transport failures share one retry policy.
		if attempt >= cmd.RetryMax {
			break
		}
		retries++
		dispatchRetries.Inc()
		if !sleepBackoff(ctx, s.backoff(attempt)) {
			break
		}
	}
	latency := time.Since(start).Milliseconds()

	out := repo.ExecutionOutcome{
		LatencyMS: latency,
		Retries:   retries,
	}
	result := ExecutionResult{
		ExecutionID: exec.ID,
		CommandID:   cmd.ID,
		CommandName: cmd.Name,
	}

	switch {
	case lastErr == nil && res.Success:
		out.Status = domain.ExecSuccess
		out.StatusCode = res.StatusCode
		out.Response = res.Body
		result.Status = domain.ExecSuccess
		result.Responses = res.Responses
		result.Halt = res.Halt
	case lastErr == nil:
		// Conforming reply with success=false: the handler declined. A
		// handler bug is not fixed by retrying.
		out.Status = domain.ExecFailed
		out.StatusCode = res.StatusCode
		out.Response = res.Body
		out.FailTag = domain.FailHandlerError
		out.Error = "handler reported failure"
		result.Status = domain.ExecFailed
		result.FailTag = domain.FailHandlerError
		result.Err = ErrHandlerTransport
	case errors.Is(lastErr, invoke.ErrMalformed):
		out.Status = domain.ExecFailed
		out.FailTag = domain.FailMalformed
		out.Error = lastErr.Error()
		if res != nil {
			out.StatusCode = res.StatusCode
			out.Response = res.Body
		}
		result.Status = domain.ExecFailed
		result.FailTag = domain.FailMalformed
		result.Err = ErrMalformedResponse
	case errors.Is(lastErr, invoke.ErrTimeout):
		out.Status = domain.ExecFailed
		out.FailTag = domain.FailTimeout
		out.Error = lastErr.Error()
		result.Status = domain.ExecFailed
		result.FailTag = domain.FailTimeout
		result.Err = ErrHandlerTimeout
	default:
		out.Status = domain.ExecFailed
		out.FailTag = domain.FailTransport
		out.Error = lastErr.Error()
		if res != nil {
			out.StatusCode = res.StatusCode
			out.Response = res.Body
		}
		result.Status = domain.ExecFailed
		result.FailTag = domain.FailTransport
		result.Err = ErrHandlerTransport
	}

	if err := repo.FinishExecution(ctx, s.DB, exec.ID, out); err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID).Msg("terminal write failed")
	}
	dispatchOutcomes.WithLabelValues(out.Status, out.FailTag).Inc()

	if result.Status == domain.ExecSuccess {
		if _, err := repo.CreateModuleResponses(ctx, s.DB, exec.ID, result.Responses); err != nil {
			log.Error().Err(err).Str("execution_id", exec.ID).Msg("persisting module responses failed")
		}
		if perm != nil {
			if err := repo.TouchPermissionUsage(ctx, s.DB, perm.ID, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Str("permission_id", perm.ID).Msg("usage counter update failed")
			}
		}
		s.forwardDisplayable(exec.EntityID, result.Responses)
	}
	return result
}

// forwardDisplayable hands ticker/media/general responses to the overlay
// forwarder, when one is configured.
func (s *DispatchService) forwardDisplayable(entityID string, responses []domain.ResponsePayload) {
	if s.Display == nil {
		return
	}
	var display []domain.ResponsePayload
	for _, r := range responses {
		if r.Displayable() {
			display = append(display, r)
		}
	}
	if len(display) > 0 {
		s.Display.Forward(entityID, display)
	}
}

// backoff computes the exponential delay for a retry attempt, capped.
func (s *DispatchService) backoff(attempt int) time.Duration {
	base := s.BackoffBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	ceil := s.BackoffCap
	if ceil <= 0 {
		ceil = 5 * time.Second
	}
	d := base << uint(attempt)
	if d > ceil || d <= 0 {
		return ceil
	}
	return d
}

// sleepBackoff waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func marshalParams(params []string) string {
	if len(params) == 0 {
		return "[]"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
