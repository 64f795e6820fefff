package core

import (
	"context"
	"log"
	"time"
)

// PersistenceSink mirrors run state transitions into durable storage. Writes
// are advisory: the orchestrator never branches on their outcome.
type PersistenceSink interface {
	CreateRun(ctx context.Context, run RunState) error
	CreatePathRun(ctx context.Context, runID string, path Path) error
	AppendTurn(ctx context.Context, runID string, path Path, turn DebateTurn) error
	UpdatePathStatus(ctx context.Context, runID string, path Path, status Status, errMsg string) error
	UpsertReport(ctx context.Context, runID string, path Path, report PathReport) error
	SaveSynthesis(ctx context.Context, runID string, syn Synthesis) error
	SaveEvaluation(ctx context.Context, runID string, eval Evaluation) error
	FinishRun(ctx context.Context, runID string, status Status, sessionID, finalAnswer, errMsg string) error
}

// NopSink discards every write.
type NopSink struct{}

func (NopSink) CreateRun(context.Context, RunState) error                               { return nil }
func (NopSink) CreatePathRun(context.Context, string, Path) error                       { return nil }
func (NopSink) AppendTurn(context.Context, string, Path, DebateTurn) error              { return nil }
func (NopSink) UpdatePathStatus(context.Context, string, Path, Status, string) error    { return nil }
func (NopSink) UpsertReport(context.Context, string, Path, PathReport) error            { return nil }
func (NopSink) SaveSynthesis(context.Context, string, Synthesis) error                  { return nil }
func (NopSink) SaveEvaluation(context.Context, string, Evaluation) error                { return nil }
func (NopSink) FinishRun(context.Context, string, Status, string, string, string) error { return nil }

const persistTimeout = 5 * time.Second

// swallow runs one persistence write detached from the caller's
// cancellation with its own deadline. Errors and panics are logged and
// discarded.
func swallow(ctx context.Context, logger *log.Logger, op string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("persist %s panicked: %v", op, r)
		}
	}()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		logger.Printf("persist %s failed: %v", op, err)
	}
}
