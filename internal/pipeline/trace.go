package pipeline

import (
	"time"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/reqlog"
)

// Trace records which stages ran for one request, their timing and
// verdicts, and every model call. It is written on every completion path,
// short-circuits included. A Trace is owned by a single request goroutine
// and needs no locking.
type Trace struct {
	RequestID string
	Started   time.Time

	stages  []StageTrace
	calls   []reqlog.ModelCall
	blocked string
	reason  string
}

// StageTrace is one stage's entry in the trace.
type StageTrace struct {
	Layer    string
	Duration time.Duration
	Verdict  string
}

// NewTrace starts a trace for a request.
func NewTrace(requestID string) *Trace {
	return &Trace{RequestID: requestID, Started: time.Now()}
}

// AddStage records a completed stage.
func (t *Trace) AddStage(layer string, start time.Time, verdict string) {
	t.stages = append(t.stages, StageTrace{
		Layer:    layer,
		Duration: time.Since(start),
		Verdict:  verdict,
	})
}

// AddModelCall records one model invocation.
func (t *Trace) AddModelCall(stats backend.CallStats) {
	t.calls = append(t.calls, reqlog.ModelCall{
		Model:      stats.Model,
		DurationMS: stats.Duration.Milliseconds(),
		TokensIn:   stats.TokensIn,
		TokensOut:  stats.TokensOut,
	})
}

// SetBlocked marks the terminating layer and reason.
func (t *Trace) SetBlocked(layer, reason string) {
	t.blocked = layer
	t.reason = reason
}

// Layers returns the names of the stages that ran, in order.
func (t *Trace) Layers() []string {
	out := make([]string, len(t.stages))
	for i, s := range t.stages {
		out[i] = s.Layer
	}
	return out
}

// Stages returns a copy of the per-stage entries.
func (t *Trace) Stages() []StageTrace {
	return append([]StageTrace(nil), t.stages...)
}

// ModelCalls returns a copy of the recorded model calls.
func (t *Trace) ModelCalls() []reqlog.ModelCall {
	return append([]reqlog.ModelCall(nil), t.calls...)
}

// LayerTimingsMS returns stage durations keyed by layer name.
func (t *Trace) LayerTimingsMS() map[string]int64 {
	out := make(map[string]int64, len(t.stages))
	for _, s := range t.stages {
		out[s.Layer] = s.Duration.Milliseconds()
	}
	return out
}

// Record assembles the request-log record for this trace.
func (t *Trace) Record(ipHash string, inputLength int, domain Domain) reqlog.Record {
	rec := reqlog.Record{
		Timestamp:      t.Started.UTC(),
		RequestID:      t.RequestID,
		ClientIPHash:   ipHash,
		InputLength:    inputLength,
		LayersPassed:   t.Layers(),
		BlockedAtLayer: t.blocked,
		BlockReason:    t.reason,
		ResponseTimeMS: time.Since(t.Started).Milliseconds(),
		ModelCalls:     t.ModelCalls(),
	}
	if domain != "" && domain != DomainOutOfScope {
		rec.DomainMatched = string(domain)
	}
	return rec
}
