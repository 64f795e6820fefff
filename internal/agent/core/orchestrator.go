package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gqy20/issuelab-secondme/config"
	"github.com/gqy20/issuelab-secondme/internal/agent/telemetry"
	"github.com/gqy20/issuelab-secondme/internal/helpers"
	"github.com/gqy20/issuelab-secondme/internal/responder"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reasoner runs one stateless structured-output task.
type Reasoner interface {
	RunJSONTask(ctx context.Context, task, system, user string) (map[string]any, error)
}

// Responder is the external conversational system.
type Responder interface {
	Chat(ctx context.Context, req responder.ChatRequest, onSession func(string)) (responder.ChatReply, error)
}

// Orchestrator runs the multi-path debate for one question at a time per
// call. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	rounds        int
	agentsEnabled bool
	logger        *log.Logger
	metrics       *telemetry.Metrics
	reasoner      Reasoner
	responder     Responder
	persistence   PersistenceSink
	strategies    map[Path]Strategy
	now           func() time.Time
}

var orchestratorTracer trace.Tracer = otel.Tracer("issuelab/internal/agent/orchestrator")

// NewOrchestrator wires the orchestrator. A nil persistence sink becomes NopSink.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, metrics *telemetry.Metrics, reasoner Reasoner, resp Responder, persistence PersistenceSink) (*Orchestrator, error) {
	if reasoner == nil || resp == nil {
		return nil, fmt.Errorf("reasoner and responder are required")
	}
	strategies, err := LoadStrategies()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	if persistence == nil {
		persistence = NopSink{}
	}
	return &Orchestrator{
		rounds:        cfg.Debate.Normalize().Rounds,
		agentsEnabled: cfg.Agents.Enabled,
		logger:        logger,
		metrics:       metrics,
		reasoner:      reasoner,
		responder:     resp,
		persistence:   persistence,
		strategies:    strategies,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Rounds returns the effective round count.
func (o *Orchestrator) Rounds() int { return o.rounds }

// RunContext holds everything mutable about one run. Each path goroutine only
// touches its own PathState; events are serialized through emit.
type RunContext struct {
	state *RunState

	mu       sync.Mutex
	sink     EventSink
	doneSent bool
}

func (rc *RunContext) emit(e Event) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.doneSent {
		return
	}
	rc.sink.Emit(e)
	if _, ok := e.(DoneEvent); ok {
		rc.doneSent = true
	}
}

func (rc *RunContext) path(p Path) *PathState { return rc.state.Paths[p] }

func (rc *RunContext) activePaths() []*PathState {
	var out []*PathState
	for _, p := range AllPaths {
		if ps := rc.state.Paths[p]; ps.Status == StatusRunning {
			out = append(out, ps)
		}
	}
	return out
}

func (rc *RunContext) reports() []PathReport {
	var out []PathReport
	for _, p := range AllPaths {
		if r := rc.state.Paths[p].Report; r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Stream runs the orchestration in a goroutine and returns its events. The
// channel is closed after the terminal done event.
func (o *Orchestrator) Stream(ctx context.Context, req RunRequest) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		o.Run(ctx, req, channelSink{ctx: ctx, ch: ch})
	}()
	return ch
}

// Run executes one orchestration synchronously, emitting every event to sink.
// The returned state is final; done is always the last event emitted.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, sink EventSink) *RunState {
	start := time.Now()
	rc := o.newRunContext(req, sink)
	st := rc.state

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("run_id", st.RunID),
		attribute.String("task_id", st.TaskID),
		attribute.Int("rounds", o.rounds),
		attribute.Bool("agents_enabled", o.agentsEnabled),
	))
	defer span.End()

	o.metrics.RunStarted()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("run %s panicked: %v", st.RunID, r)
			o.abort(ctx, rc, fmt.Errorf("unexpected failure: %v", r))
		}
		if st.Status == StatusFailed {
			span.SetStatus(codes.Error, st.Error)
		}
		o.metrics.RunFinished(string(st.Status), time.Since(start))
	}()

	rc.emit(SessionEvent{SessionID: st.SessionID})
	snapshot := *st
	swallow(ctx, o.logger, "create_run", func(wctx context.Context) error {
		return o.persistence.CreateRun(wctx, snapshot)
	})

	if !o.agentsEnabled {
		o.runDirect(ctx, rc)
		return st
	}

	for _, p := range AllPaths {
		st.Paths[p] = &PathState{Path: p, Status: StatusRunning, Turns: []DebateTurn{}}
		swallow(ctx, o.logger, "create_path_run", func(wctx context.Context) error {
			return o.persistence.CreatePathRun(wctx, st.RunID, p)
		})
		rc.emit(PathStatusEvent{Path: p, Status: StatusRunning})
	}

	o.debate(ctx, rc)
	o.buildReports(ctx, rc)
	o.conclude(ctx, rc)
	return st
}

func (o *Orchestrator) newRunContext(req RunRequest, sink EventSink) *RunContext {
	if sink == nil {
		sink = EventSinkFunc(func(Event) {})
	}
	now := o.now()
	st := &RunState{
		RunID:     req.RunID,
		TaskID:    req.TaskID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Question:  req.Question,
		Status:    StatusRunning,
		Paths:     make(map[Path]*PathState, len(AllPaths)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if st.RunID == "" {
		st.RunID = uuid.NewString()
	}
	if st.TaskID == "" {
		st.TaskID = uuid.NewString()
	}
	return &RunContext{state: st, sink: sink}
}

// runDirect answers with a single responder call and nothing else.
func (o *Orchestrator) runDirect(ctx context.Context, rc *RunContext) {
	answer, err := o.answer(ctx, rc, rc.state.Question)
	if err != nil {
		o.abort(ctx, rc, err)
		return
	}
	rc.emit(FinalAnswerEvent{Text: answer})
	o.finish(ctx, rc, StatusDone, false)
}

// conclude runs synthesis, the final answer and evaluation, falling back to a
// direct answer whenever synthesis cannot run.
func (o *Orchestrator) conclude(ctx context.Context, rc *RunContext) {
	st := rc.state
	reports := rc.reports()

	var syn *Synthesis
	if len(reports) == len(AllPaths) {
		s, err := o.synthesize(ctx, st.Question, reports)
		if err != nil {
			o.logger.Printf("run %s synthesis failed: %v", st.RunID, err)
			st.Error = "synthesis failed: " + helpers.SanitizeMessage(err.Error(), 0)
		} else {
			syn = &s
			st.Synthesis = syn
			rc.emit(SynthesisEvent{Synthesis: s})
			swallow(ctx, o.logger, "save_synthesis", func(wctx context.Context) error {
				return o.persistence.SaveSynthesis(wctx, st.RunID, s)
			})
		}
	} else {
		st.Error = fmt.Sprintf("synthesis skipped: %d of %d path reports available", len(reports), len(AllPaths))
		o.logger.Printf("run %s %s", st.RunID, st.Error)
	}

	if syn == nil {
		answer, err := o.answer(ctx, rc, st.Question)
		if err != nil {
			o.abort(ctx, rc, err)
			return
		}
		rc.emit(FinalAnswerEvent{Text: answer})
		o.finish(ctx, rc, StatusFailed, true)
		return
	}

	answer, err := o.answer(ctx, rc, finalAnswerMessage(st.Question, *syn))
	if err != nil {
		o.abort(ctx, rc, err)
		return
	}
	rc.emit(FinalAnswerEvent{Text: answer})

	eval, err := o.evaluate(ctx, st.Question, reports, *syn)
	if err != nil {
		o.logger.Printf("run %s evaluation failed: %v", st.RunID, err)
		st.Error = "evaluation failed: " + helpers.SanitizeMessage(err.Error(), 0)
		o.finish(ctx, rc, StatusFailed, true)
		return
	}
	st.Evaluation = &eval
	rc.emit(EvaluationEvent{Evaluation: eval})
	swallow(ctx, o.logger, "save_evaluation", func(wctx context.Context) error {
		return o.persistence.SaveEvaluation(wctx, st.RunID, eval)
	})
	o.finish(ctx, rc, StatusDone, true)
}

// answer asks the responder on the user's own session. Session changes are
// surfaced as session events.
func (o *Orchestrator) answer(ctx context.Context, rc *RunContext, message string) (string, error) {
	st := rc.state
	reply, err := o.responder.Chat(ctx, responder.ChatRequest{Message: message, SessionID: st.SessionID}, func(id string) {
		st.SessionID = id
		rc.emit(SessionEvent{SessionID: id})
	})
	if err != nil {
		return "", fmt.Errorf("final answer: %w", err)
	}
	if reply.SessionID != "" {
		st.SessionID = reply.SessionID
	}
	st.FinalAnswer = reply.Text
	return reply.Text, nil
}

// finish records the final status and emits the closing events.
func (o *Orchestrator) finish(ctx context.Context, rc *RunContext, status Status, withPaths bool) {
	st := rc.state
	st.Status = status
	st.UpdatedAt = o.now()
	if withPaths {
		global := StatusDone
		if status != StatusDone {
			global = StatusPartialFailed
		}
		rc.emit(PathStatusEvent{Status: global})
	}
	o.persistFinish(ctx, st)
	rc.emit(DoneEvent{SessionID: st.SessionID})
}

// abort handles an orchestrator-level failure: one error event, then done.
func (o *Orchestrator) abort(ctx context.Context, rc *RunContext, err error) {
	st := rc.state
	msg := helpers.SanitizeMessage(err.Error(), 0)
	o.logger.Printf("run %s aborted: %v", st.RunID, err)
	st.Status = StatusFailed
	st.Error = msg
	st.UpdatedAt = o.now()
	rc.emit(ErrorEvent{Message: msg})
	o.persistFinish(ctx, st)
	rc.emit(DoneEvent{SessionID: st.SessionID})
}

func (o *Orchestrator) persistFinish(ctx context.Context, st *RunState) {
	status, session, answer, errMsg := st.Status, st.SessionID, st.FinalAnswer, st.Error
	swallow(ctx, o.logger, "finish_run", func(wctx context.Context) error {
		return o.persistence.FinishRun(wctx, st.RunID, status, session, answer, errMsg)
	})
}
