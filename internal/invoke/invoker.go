// Package invoke implements the handler invocation contract: one HTTP
// request per attempt, carrying a standard JSON envelope, against the closed
// set of execution targets (long-lived container, function-as-a-service,
// generic webhook). The dispatch engine owns retry policy; this package
// performs single attempts and classifies their outcomes.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// Attempt-level outcome classification. The dispatch engine maps these onto
// its retry policy: timeouts and transport errors are retryable, a malformed
// body is not.
var (
	// ErrTimeout: the handler did not answer within the command's timeout.
	ErrTimeout = errors.New("invoke: timeout")
	// ErrTransport: connection failure or non-2xx response status.
	ErrTransport = errors.New("invoke: transport error")
	// ErrMalformed: a 2xx response whose body violates the contract.
	ErrMalformed = errors.New("invoke: malformed response")
)

// Envelope is the standard request body sent to every handler, regardless of
// invocation kind.
type Envelope struct {
	EntityID string          `json:"entity_id"`
	UserID   string          `json:"user_id"`
	Event    json.RawMessage `json:"event"`
	Params   []string        `json:"params,omitempty"`
}

// Result is one successful handler reply: a success flag, an optional
// short-circuit signal for sequential command sets, and zero or more typed
// responses.
type Result struct {
	StatusCode int
	Success    bool
	Halt       bool
	Responses  []domain.ResponsePayload
	Body       string
}

// wire is the JSON shape a conforming handler must return.
type wire struct {
	Success   *bool                    `json:"success"`
	Halt      bool                     `json:"halt"`
	Responses []domain.ResponsePayload `json:"responses"`
}

// Invoker performs one invocation attempt against a command's handler.
// Implementations must honor ctx and the command's configured timeout.
type Invoker interface {
	Invoke(ctx context.Context, cmd *domain.Command, env Envelope) (*Result, error)
}

// HTTPInvoker reaches handlers over HTTP. The zero value is not usable; use
// NewHTTPInvoker.
type HTTPInvoker struct {
	client *http.Client

	// AuthToken is attached as a bearer token to commands that require
	// authentication (container and FaaS targets managed by the product).
	AuthToken string
}

// NewHTTPInvoker builds an invoker around a shared client. Per-command
// timeouts are enforced via request contexts, not the client's Timeout, so
// one slow command cannot redefine the budget of another.
func NewHTTPInvoker(authToken string) *HTTPInvoker {
	return &HTTPInvoker{
		client:    &http.Client{},
		AuthToken: authToken,
	}
}

// Invoke performs a single attempt against cmd's configured address using
// its configured method, headers, and timeout. A non-2xx status or transport
// failure yields ErrTransport; a context deadline yields ErrTimeout; a
// non-conforming 2xx body yields ErrMalformed together with a Result carrying
// the offending status and body for the audit trail.
func (h *HTTPInvoker) Invoke(ctx context.Context, cmd *domain.Command, env Envelope) (*Result, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Timeout())
	defer cancel()

	method := cmd.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cmd.Address, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cmd.HeaderMap() {
		req.Header.Set(k, v)
	}
	if cmd.AuthRequired && h.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.AuthToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ErrTransport
	}
	defer resp.Body.Close()

	// Cap reply bodies; handlers returning megabytes of display payload are
	// misbehaving and get truncated rather than ballooning the audit trail.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ErrTransport
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Result{StatusCode: resp.StatusCode, Body: string(raw)}, ErrTransport
	}

	res, perr := parseReply(raw)
	if perr != nil {
		return &Result{StatusCode: resp.StatusCode, Body: string(raw)}, perr
	}
	res.StatusCode = resp.StatusCode
	res.Body = string(raw)
	return res, nil
}

// parseReply validates the handler response contract: a JSON object with a
// boolean "success" and zero or more responses each tagged with a known
// action kind. Any other shape is malformed.
func parseReply(raw []byte) (*Result, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrMalformed
	}
	if w.Success == nil {
		return nil, ErrMalformed
	}
	for _, r := range w.Responses {
		if !domain.ValidAction(r.Action) {
			return nil, ErrMalformed
		}
	}
	return &Result{
		Success:   *w.Success,
		Halt:      w.Halt,
		Responses: w.Responses,
	}, nil
}
