package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/gqy20/issuelab-secondme/internal/helpers"
	"github.com/gqy20/issuelab-secondme/internal/responder"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Failure stages, also used as metric labels.
const (
	stageCoach     = "coach"
	stageResponder = "responder"
	stageJudge     = "judge"
	stageReport    = "report"
	stageEmpty     = "empty"
)

// debate drives every running path through the configured rounds. Paths
// within a round run concurrently; round r+1 starts only after every path
// has resolved round r, which is marked by one debate_status event.
func (o *Orchestrator) debate(ctx context.Context, rc *RunContext) {
	for round := 1; round <= o.rounds; round++ {
		active := rc.activePaths()
		if len(active) == 0 {
			o.logger.Printf("run %s: no running paths left before round %d", rc.state.RunID, round)
			return
		}

		var wg conc.WaitGroup
		for _, ps := range active {
			ps := ps
			wg.Go(func() { o.playRound(ctx, rc, ps, round) })
		}
		wg.Wait()

		rc.emit(DebateStatusEvent{Round: round, Status: StatusDone})
	}
}

// playRound runs coach, responder and judge for one path. Any failure,
// including a panic, fails only this path.
func (o *Orchestrator) playRound(ctx context.Context, rc *RunContext, ps *PathState, round int) {
	stage := stageCoach
	defer func() {
		if r := recover(); r != nil {
			o.failRound(ctx, rc, ps, round, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.round", trace.WithAttributes(
		attribute.String("path", string(ps.Path)),
		attribute.Int("round", round),
	))
	defer span.End()

	question := rc.state.Question
	strategy := o.strategies[ps.Path]
	constraint := ps.constraint

	raw, err := o.reasoner.RunJSONTask(ctx, stageCoach,
		coachSystemPrompt(ps.Path, strategy),
		coachUserPrompt(question, round, constraint, ps.Turns))
	if err != nil {
		o.failRound(ctx, rc, ps, round, stage, err)
		return
	}
	coach := NormalizeCoach(ps.Path, raw)

	stage = stageResponder
	reply, err := o.responder.Chat(ctx, responder.ChatRequest{
		Message:   responderMessage(question, strategy, coach, round, constraint),
		SessionID: ps.SessionID,
	}, func(id string) { ps.SessionID = id })
	if err != nil {
		o.failRound(ctx, rc, ps, round, stage, err)
		return
	}
	if reply.SessionID != "" {
		ps.SessionID = reply.SessionID
	}
	rc.emit(DebateRoundEvent{Path: ps.Path, Round: round, Coach: &coach, SecondMe: reply.Text})

	stage = stageJudge
	raw, err = o.reasoner.RunJSONTask(ctx, stageJudge,
		judgeSystemPrompt(ps.Path, strategy),
		judgeUserPrompt(question, round, constraint, coach, reply.Text, ps.Turns))
	if err != nil {
		o.failRound(ctx, rc, ps, round, stage, err)
		return
	}
	judge := NormalizeJudge(ps.Path, round, raw)

	turn := DebateTurn{
		Round:         round,
		Coach:         coach,
		ResponderText: reply.Text,
		Judge:         judge,
		SessionID:     ps.SessionID,
		CreatedAt:     o.now(),
	}
	ps.Turns = append(ps.Turns, turn)
	ps.constraint = judge.NextConstraint
	rc.emit(JudgeRoundEvent{Path: ps.Path, Round: round, Judge: &judge})

	runID := rc.state.RunID
	swallow(ctx, o.logger, "append_turn", func(wctx context.Context) error {
		return o.persistence.AppendTurn(wctx, runID, ps.Path, turn)
	})
}

// failRound marks the path failed and reports the error on the event that
// the failing stage would otherwise have produced.
func (o *Orchestrator) failRound(ctx context.Context, rc *RunContext, ps *PathState, round int, stage string, err error) {
	msg := fmt.Sprintf("%s failed: %s", stage, helpers.SanitizeMessage(err.Error(), 0))
	o.logger.Printf("run %s path %s round %d: %s failed: %v", rc.state.RunID, ps.Path, round, stage, err)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
	}

	if stage == stageJudge {
		rc.emit(JudgeRoundEvent{Path: ps.Path, Round: round, Error: msg})
	} else {
		rc.emit(DebateRoundEvent{Path: ps.Path, Round: round, Error: msg})
	}
	o.markPathFailed(ctx, rc, ps, stage, msg)
}

func (o *Orchestrator) markPathFailed(ctx context.Context, rc *RunContext, ps *PathState, stage, msg string) {
	ps.Status = StatusFailed
	ps.Error = msg
	o.metrics.PathFailed(string(ps.Path), stage)
	rc.emit(PathStatusEvent{Path: ps.Path, Status: StatusFailed})

	runID := rc.state.RunID
	swallow(ctx, o.logger, "update_path_status", func(wctx context.Context) error {
		return o.persistence.UpdatePathStatus(wctx, runID, ps.Path, StatusFailed, msg)
	})
}

var errNoTurns = errors.New("no debate turns to summarize")
