// Package llm implements the LLMGateway: a rate-limited, cost-guarded,
// retrying wrapper around a provider client.
//
// The provider boundary (Client/Message/CallRequest/CallResponse) keeps
// the teacher's LLMClient/GenerateInput vocabulary
// (pkg/agent/llm_client.go) but collapses its streaming-chunk channel
// API to the synchronous call(model, system, messages, maxTokens,
// timeout) boundary the core actually needs. The retry/cost/sanitize
// algorithms are grounded on codeframe/agents/worker_agent.go's
// _call_llm_with_retry, _estimate_cost, and _sanitize_prompt_input.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Role mirrors the teacher's conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the provider.
type Message struct {
	Role    string
	Content string
}

// CallRequest is the synchronous call(model, system, messages, maxTokens,
// timeout) boundary spec.md §6 names as the external LLM provider
// interface.
type CallRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	Timeout   time.Duration
}

// CallResponse is returned by a successful provider call.
type CallResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// ErrorClass classifies a provider error for retry purposes.
type ErrorClass string

const (
	ErrorClassAuthentication ErrorClass = "authentication"
	ErrorClassRateLimit      ErrorClass = "rate_limit"
	ErrorClassConnection     ErrorClass = "connection"
	ErrorClassTimeout        ErrorClass = "timeout"
	ErrorClassValidation     ErrorClass = "validation"
	ErrorClassOther          ErrorClass = "other"
)

// ProviderError carries the classification the gateway's retry policy
// inspects. Providers should wrap their underlying error in a
// ProviderError so the gateway knows whether to retry.
type ProviderError struct {
	Class ErrorClass
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client is the provider boundary the gateway wraps. A real
// implementation talks to Anthropic/OpenAI/etc; tests use a stub.
type Client interface {
	Call(ctx context.Context, req CallRequest) (CallResponse, error)
}

// Gateway-level sentinel errors, returned via GatewayError.
var (
	ErrAgentRateLimitExceeded = errors.New("AGENT_RATE_LIMIT_EXCEEDED")
	ErrCostLimitExceeded      = errors.New("COST_LIMIT_EXCEEDED")
	ErrUnsupportedModel       = errors.New("unsupported model")
)

// GatewayError wraps a gateway-level failure with Unwrap support so
// callers can errors.Is against the sentinels above.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return e.Err.Error() }
func (e *GatewayError) Unwrap() error  { return e.Err }

// ModelPricing is the per-model USD-per-token price table, named
// MODEL_PRICING in the original. The yaml tags let LoadPricing
// unmarshal an operator-supplied override file in the same shape.
type ModelPricing struct {
	InputPricePerToken  float64 `yaml:"input_price_per_token"`
	OutputPricePerToken float64 `yaml:"output_price_per_token"`
}

// DefaultModelPricing mirrors the original's SUPPORTED_MODELS /
// MODEL_PRICING tables for the Claude model family.
var DefaultModelPricing = map[string]ModelPricing{
	"claude-sonnet-4-5":           {InputPricePerToken: 3.0 / 1_000_000, OutputPricePerToken: 15.0 / 1_000_000},
	"claude-opus-4":               {InputPricePerToken: 15.0 / 1_000_000, OutputPricePerToken: 75.0 / 1_000_000},
	"claude-haiku-4":              {InputPricePerToken: 0.8 / 1_000_000, OutputPricePerToken: 4.0 / 1_000_000},
	"claude-3-5-haiku-20241022":   {InputPricePerToken: 0.8 / 1_000_000, OutputPricePerToken: 4.0 / 1_000_000},
	"claude-3-5-sonnet-20241022":  {InputPricePerToken: 3.0 / 1_000_000, OutputPricePerToken: 15.0 / 1_000_000},
	"claude-3-opus-20240229":      {InputPricePerToken: 15.0 / 1_000_000, OutputPricePerToken: 75.0 / 1_000_000},
}

// dangerousPhrases are logged, never blocked, matching spec.md §9's
// prompt-injection design note.
var dangerousPhrases = []string{
	"ignore all previous instructions",
	"disregard",
	"instead, output",
	"forget everything",
}

const maxSanitizedInputChars = 4000

// Gateway wraps a Client with rate limiting, cost guardrails, retry, and
// input sanitization.
type Gateway struct {
	client         Client
	rateLimitN     int
	maxCostPerTask float64
	pricing        map[string]ModelPricing

	windows map[string][]time.Time // agent_id -> call timestamps

	auditFn func(AuditEvent)
}

// AuditEvent is emitted at the start and end of every call, carrying the
// fields spec.md §4.3 names.
type AuditEvent struct {
	Phase        string // "start" or "end"
	AgentID      string
	TaskID       string
	ProjectID    string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Duration     time.Duration
	Err          error

	// Truncated and InjectionPhrase are populated on the "start" event
	// only: Truncated is true if any message was truncated, and
	// InjectionPhrase holds the phrase found in the last message that
	// contained one.
	Truncated       bool
	InjectionPhrase string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRateLimit overrides the default sliding-window capacity (10/min).
func WithRateLimit(n int) Option {
	return func(g *Gateway) { g.rateLimitN = n }
}

// WithMaxCostPerTask overrides the default $1.00 cost guardrail.
func WithMaxCostPerTask(usd float64) Option {
	return func(g *Gateway) { g.maxCostPerTask = usd }
}

// WithPricing overrides the built-in model price table.
func WithPricing(p map[string]ModelPricing) Option {
	return func(g *Gateway) { g.pricing = p }
}

// WithAuditFunc registers a sink for start/end audit events.
func WithAuditFunc(fn func(AuditEvent)) Option {
	return func(g *Gateway) { g.auditFn = fn }
}

// New constructs a Gateway around client with defaults matching
// spec.md §6's environment table.
func New(client Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:         client,
		rateLimitN:     10,
		maxCostPerTask: 1.0,
		pricing:        DefaultModelPricing,
		windows:        make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CallParams bundles the per-call identity the audit trail needs
// alongside the provider-facing CallRequest.
type CallParams struct {
	AgentID   string
	TaskID    string
	ProjectID string
	CallRequest
}

// Call runs the full pipeline: rate limit check, sanitize, cost
// guardrail, retrying timed call.
func (g *Gateway) Call(ctx context.Context, p CallParams) (CallResponse, error) {
	if _, ok := g.pricing[p.Model]; !ok {
		return CallResponse{}, &GatewayError{Err: fmt.Errorf("%w: %s", ErrUnsupportedModel, p.Model)}
	}

	if !g.allow(p.AgentID) {
		return CallResponse{}, &GatewayError{Err: ErrAgentRateLimitExceeded}
	}

	sanitized := make([]Message, len(p.Messages))
	var truncated bool
	var injectionPhrase string
	for i, m := range p.Messages {
		clean := SanitizeInput(m.Content)
		if strings.HasSuffix(clean, "... (truncated)") {
			truncated = true
			slog.Warn("llm input truncated", "agent_id", p.AgentID, "task_id", p.TaskID, "original_chars", len(m.Content))
		}
		if phrase, found := ContainsDangerousPhrase(m.Content); found {
			injectionPhrase = phrase
			slog.Warn("possible prompt injection detected", "agent_id", p.AgentID, "task_id", p.TaskID, "phrase", phrase)
		}
		sanitized[i] = Message{Role: m.Role, Content: clean}
	}
	p.Messages = sanitized

	estimatedInputTokens := estimateTokens(p.System) + sumMessageTokens(p.Messages)
	estimatedCost := g.estimateCost(p.Model, estimatedInputTokens, p.MaxTokens)
	if estimatedCost > g.maxCostPerTask {
		return CallResponse{}, &GatewayError{Err: ErrCostLimitExceeded}
	}

	timeout := ComputeTimeout(p.MaxTokens)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	g.emitAudit(AuditEvent{
		Phase: "start", AgentID: p.AgentID, TaskID: p.TaskID, ProjectID: p.ProjectID, Model: p.Model,
		Truncated: truncated, InjectionPhrase: injectionPhrase,
	})

	resp, err := g.callWithRetry(callCtx, p.CallRequest)

	duration := time.Since(start)
	actualCost := 0.0
	if err == nil {
		actualCost = g.estimateCost(p.Model, resp.InputTokens, resp.OutputTokens)
	}
	g.emitAudit(AuditEvent{
		Phase: "end", AgentID: p.AgentID, TaskID: p.TaskID, ProjectID: p.ProjectID, Model: p.Model,
		InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens, CostUSD: actualCost,
		Duration: duration, Err: err,
	})

	return resp, err
}

// ComputeTimeout returns 30 + (maxTokens/1000)*15 seconds, matching the
// original's exact formula.
func ComputeTimeout(maxTokens int) time.Duration {
	seconds := 30.0 + (float64(maxTokens)/1000.0)*15.0
	return time.Duration(seconds * float64(time.Second))
}

func (g *Gateway) estimateCost(model string, inputTokens, outputTokens int) float64 {
	price, ok := g.pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*price.InputPricePerToken + float64(outputTokens)*price.OutputPricePerToken
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func sumMessageTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	return total
}

// callWithRetry retries on rate-limit/connection/timeout provider
// errors up to 3 attempts total with exponential backoff (2s, 4s,
// capped at 10s), matching the original's tenacity policy. Validation,
// authentication, and unclassified errors never retry. After retries
// are exhausted the final error is returned to the caller rather than
// panicking or propagating a raw exception.
func (g *Gateway) callWithRetry(ctx context.Context, req CallRequest) (CallResponse, error) {
	var resp CallResponse

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall time

	policy := backoff.WithMaxRetries(bo, 2) // 2 retries + the first attempt = 3 total
	policy = backoff.WithContext(policy, ctx)

	operation := func() error {
		r, err := g.client.Call(ctx, req)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return CallResponse{}, perm.Err
		}
		return CallResponse{}, err
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Class {
	case ErrorClassRateLimit, ErrorClassConnection, ErrorClassTimeout:
		return true
	default:
		return false
	}
}

// allow enforces the per-agent sliding window of at most rateLimitN
// calls in the trailing 60 seconds.
func (g *Gateway) allow(agentID string) bool {
	now := time.Now()
	cutoff := now.Add(-60 * time.Second)

	window := g.windows[agentID]
	pruned := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= g.rateLimitN {
		g.windows[agentID] = pruned
		return false
	}

	pruned = append(pruned, now)
	g.windows[agentID] = pruned
	return true
}

func (g *Gateway) emitAudit(ev AuditEvent) {
	if g.auditFn != nil {
		g.auditFn(ev)
	}
}

// SanitizeInput collapses whitespace and truncates to 4000 characters
// (appending a truncation marker), matching _sanitize_prompt_input
// exactly. It does not itself log truncation or injection phrases —
// Gateway.Call does that, running ContainsDangerousPhrase on the raw
// message and checking this function's result for the truncation
// marker, so both events land in the same AuditEvent as the call they
// belong to.
func SanitizeInput(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")

	if len(collapsed) > maxSanitizedInputChars {
		return collapsed[:maxSanitizedInputChars] + "... (truncated)"
	}
	return collapsed
}

// ContainsDangerousPhrase reports whether text contains any of the
// fixed injection-phrase list. Gateway.Call runs it on every outgoing
// message and logs what it finds.
func ContainsDangerousPhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range dangerousPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}
