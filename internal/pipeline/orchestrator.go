package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/contextreg"
	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/observe"
	"github.com/sefton37/kelloggchat/internal/prompts"
	"github.com/sefton37/kelloggchat/internal/ratelimit"
	"github.com/sefton37/kelloggchat/internal/reqlog"
)

// Models names the model used by each tier.
type Models struct {
	Classifier string
	Router     string
	Generator  string
	Verifier   string
}

// Budgets holds the per-stage deadlines, all derived from (and capped by)
// the whole-request deadline.
type Budgets struct {
	// Request is the whole-request deadline.
	Request time.Duration

	// Classify bounds each small-model call (L2, L3/L4, L8).
	Classify time.Duration

	// Generate bounds each L6 generation call.
	Generate time.Duration

	// Revise bounds the L7 call.
	Revise time.Duration
}

// DefaultBudgets derives stage deadlines from a whole-request deadline.
func DefaultBudgets(requestTimeout time.Duration) Budgets {
	return Budgets{
		Request:  requestTimeout,
		Classify: minDuration(5*time.Second, requestTimeout),
		Generate: minDuration(15*time.Second, requestTimeout),
		Revise:   minDuration(8*time.Second, requestTimeout),
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Limits carries the input and history bounds the stages need.
type Limits struct {
	MaxInputLength   int
	MaxHistoryTokens int
	MaxContextTokens int
}

// Input is one raw inbound chat request as the transport hands it over.
// Transport-level validation (JSON shape, content type, body size) has
// already happened; everything here is still untrusted.
type Input struct {
	Message        string
	ConversationID string
	RemoteAddr     string
	ForwardedFor   string
}

// request is the orchestrator-owned state threaded through the stages.
type request struct {
	id             string
	ipHash         string
	raw            string
	sanitized      string
	conversationID string
	history        []convstore.Turn
	intent         Intent
	domain         Domain
	context        string
	draft          string
	final          string
	toolCalls      int
}

// Orchestrator drives L0–L9 in order for each request. It is the only
// component that maps stage verdicts to user-visible results; stages return
// to it, never past it.
type Orchestrator struct {
	gateway  *Gateway
	limiter  *ratelimit.Limiter
	backend  *backend.Client
	registry *contextreg.Provider
	store    *convstore.Store
	tools    *ToolExecutor
	log      *reqlog.Writer
	metrics  *observe.Metrics

	models  Models
	budgets Budgets
	limits  Limits

	groundingThreshold float64
}

// Deps bundles the collaborators an Orchestrator consumes.
type Deps struct {
	Gateway  *Gateway
	Limiter  *ratelimit.Limiter
	Backend  *backend.Client
	Registry *contextreg.Provider
	Store    *convstore.Store
	Tools    *ToolExecutor
	Log      *reqlog.Writer
	Metrics  *observe.Metrics

	Models  Models
	Budgets Budgets
	Limits  Limits

	GroundingThreshold float64
}

// New assembles an Orchestrator.
func New(d Deps) *Orchestrator {
	m := d.Metrics
	if m == nil {
		m = observe.NewNoopMetrics()
	}
	return &Orchestrator{
		gateway:            d.Gateway,
		limiter:            d.Limiter,
		backend:            d.Backend,
		registry:           d.Registry,
		store:              d.Store,
		tools:              d.Tools,
		log:                d.Log,
		metrics:            m,
		models:             d.Models,
		budgets:            d.Budgets,
		limits:             d.Limits,
		groundingThreshold: d.GroundingThreshold,
	}
}

// Handle processes one request through the pipeline and always returns a
// Result — refusals and internal failures included. It never panics: an
// escaped panic from any stage is converted to INTERNAL_ERROR.
func (o *Orchestrator) Handle(ctx context.Context, in Input) (result Result) {
	req := &request{id: uuid.NewString(), raw: in.Message}
	trace := NewTrace(req.id)

	ctx, cancel := context.WithTimeout(ctx, o.budgets.Request)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panic", "request_id", req.id, "panic", r)
			trace.SetBlocked("", "panic")
			result = o.finish(ctx, req, trace, CodeInternalError)
		}
	}()

	// ── L0: network gateway ──────────────────────────────────────────────
	start := time.Now()
	ip := o.gateway.ClientIP(in.RemoteAddr, in.ForwardedFor)
	req.ipHash = o.gateway.HashIP(ip)
	if !o.gateway.CheckLength(in.Message) {
		trace.AddStage("L0", start, "input_too_long")
		trace.SetBlocked("L0", "input_too_long")
		return o.finish(ctx, req, trace, CodeInputTooLong)
	}
	if !o.limiter.Allow(req.ipHash) {
		trace.AddStage("L0", start, "rate_limited")
		trace.SetBlocked("L0", "rate_limited")
		return o.finish(ctx, req, trace, CodeRateLimited)
	}
	trace.AddStage("L0", start, "pass")

	// ── L1: input sanitization ───────────────────────────────────────────
	start = time.Now()
	req.sanitized = Sanitize(in.Message)
	if rule := CheckBlocklist(req.sanitized); rule != "" {
		trace.AddStage("L1", start, rule)
		trace.SetBlocked("L1", rule)
		return o.finish(ctx, req, trace, CodeBlockedInput)
	}
	trace.AddStage("L1", start, "pass")

	// Conversation snapshot feeds the multi-turn classifier and, later,
	// generation. The snapshot is ours; the store keeps the originals.
	req.conversationID, req.history = o.snapshot(in.ConversationID)

	// ── L2: jailbreak classifier ─────────────────────────────────────────
	start = time.Now()
	safe, reason := o.classifyJailbreak(ctx, req.sanitized, req.history, trace)
	if !safe {
		trace.AddStage("L2", start, reason)
		trace.SetBlocked("L2", reason)
		return o.finish(ctx, req, trace, CodeBlockedInput)
	}
	trace.AddStage("L2", start, "safe")

	// ── L3+L4: intent and domain ─────────────────────────────────────────
	start = time.Now()
	req.intent = o.parseIntent(ctx, req.sanitized, trace)
	trace.AddStage("L3", start, req.intent.Topic)

	start = time.Now()
	req.domain = Route(req.intent)
	if req.domain == DomainOutOfScope {
		trace.AddStage("L4", start, string(DomainOutOfScope))
		trace.SetBlocked("L4", "out_of_scope")
		return o.finish(ctx, req, trace, CodeOutOfScope)
	}
	trace.AddStage("L4", start, string(req.domain))

	// ── L5: context retrieval ────────────────────────────────────────────
	start = time.Now()
	req.context = o.registry.Current().Context(string(req.domain), o.limits.MaxContextTokens)
	trace.AddStage("L5", start, "pass")

	// ── L6: generation with tool loop ────────────────────────────────────
	start = time.Now()
	draft, err := o.generate(ctx, req, "", trace)
	if err != nil {
		slog.Warn("generation failed", "request_id", req.id, "err", err)
		trace.AddStage("L6", start, "error")
		trace.SetBlocked("L6", "generation_error")
		return o.finish(ctx, req, trace, o.mapBackendError(err))
	}
	req.draft = draft
	trace.AddStage("L6", start, "pass")

	// ── L7: revision ─────────────────────────────────────────────────────
	start = time.Now()
	req.final = o.revise(ctx, req.draft, req.context, trace)
	trace.AddStage("L7", start, "pass")

	// ── L8: output safety, with one reinforced retry ─────────────────────
	start = time.Now()
	ok, issues := o.checkSafety(ctx, req.final, req.context, trace)
	if !ok {
		trace.AddStage("L8", start, "unsafe")
		final, retried := o.safetyRetry(ctx, req, issues, trace)
		if !retried {
			trace.SetBlocked("L8", "safety_failed")
			return o.finish(ctx, req, trace, CodeSafetyFailed)
		}
		req.final = final
	} else {
		trace.AddStage("L8", start, "safe")
	}

	// ── L9: delivery ─────────────────────────────────────────────────────
	start = time.Now()
	o.deliver(req)
	trace.AddStage("L9", start, "pass")

	return o.finish(ctx, req, trace, "")
}

// safetyRetry regenerates once with a reinforced instruction and re-runs
// revision and the safety check. It returns the new response and whether it
// passed.
func (o *Orchestrator) safetyRetry(ctx context.Context, req *request, issues []string, trace *Trace) (string, bool) {
	draft, err := o.generate(ctx, req, prompts.SafetyRetry(issues), trace)
	if err != nil {
		return "", false
	}
	revised := o.revise(ctx, draft, req.context, trace)

	start := time.Now()
	ok, _ := o.checkSafety(ctx, revised, req.context, trace)
	verdict := "unsafe_after_retry"
	if ok {
		verdict = "safe_after_retry"
	}
	trace.AddStage("L8", start, verdict)
	return revised, ok
}

// snapshot resolves the conversation for this request.
func (o *Orchestrator) snapshot(id string) (string, []convstore.Turn) {
	resolved, snap := o.store.GetOrCreate(id)
	return resolved, snap.Turns
}

// deliver atomically appends the completed exchange to the conversation.
// A failed append (conversation evicted mid-request) is logged and the
// response still ships — the visitor's answer does not depend on it.
func (o *Orchestrator) deliver(req *request) {
	now := time.Now()
	err := o.store.Append(req.conversationID,
		convstore.Turn{Role: convstore.RoleUser, Content: req.sanitized, Timestamp: now},
		convstore.Turn{Role: convstore.RoleAssistant, Content: req.final, Timestamp: now, Domain: string(req.domain)},
	)
	if err != nil {
		slog.Warn("conversation append failed", "request_id", req.id, "err", err)
	}
}

// mapBackendError maps a generation failure to its user-visible code. A
// saturated model gate is backpressure, not breakage.
func (o *Orchestrator) mapBackendError(err error) Code {
	if errors.Is(err, backend.ErrGateBusy) {
		return CodeRateLimited
	}
	return CodeInternalError
}

// finish closes out the request on every path: metrics, request log, and
// the Result envelope.
func (o *Orchestrator) finish(ctx context.Context, req *request, trace *Trace, code Code) Result {
	res := Result{
		Code:           code,
		Domain:         req.domain,
		ConversationID: req.conversationID,
		RequestID:      req.id,
		ResponseTimeMS: time.Since(trace.Started).Milliseconds(),
		LayerTimingsMS: trace.LayerTimingsMS(),
	}
	if code == "" {
		res.Content = req.final
	} else {
		res.Content = CannedMessage(code)
	}

	outcome := "ok"
	if code != "" {
		outcome = string(code)
	}
	o.metrics.RecordOutcome(ctx, outcome)
	for _, s := range trace.Stages() {
		o.metrics.RecordStage(ctx, s.Layer, s.Duration)
	}
	for _, mc := range trace.ModelCalls() {
		o.metrics.RecordModelCall(ctx, mc.Model, time.Duration(mc.DurationMS)*time.Millisecond)
	}

	if o.log != nil {
		rec := trace.Record(req.ipHash, len([]rune(req.raw)), req.domain)
		if err := o.log.Write(rec); err != nil {
			slog.Error("request log write failed", "request_id", req.id, "err", err)
		}
	}
	return res
}
