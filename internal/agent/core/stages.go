package core

import (
	"context"
	"fmt"

	"github.com/gqy20/issuelab-secondme/internal/helpers"
	"github.com/sourcegraph/conc"
)

// buildReports asks the reasoner for one report per surviving path. Paths
// that failed or produced no turns are skipped without a reasoner call.
func (o *Orchestrator) buildReports(ctx context.Context, rc *RunContext) {
	var wg conc.WaitGroup
	for _, p := range AllPaths {
		ps := rc.path(p)
		switch {
		case ps.Status == StatusFailed:
			rc.emit(PathReportEvent{Path: p, Error: ps.Error})
			continue
		case len(ps.Turns) == 0:
			o.markPathFailed(ctx, rc, ps, stageEmpty, errNoTurns.Error())
			rc.emit(PathReportEvent{Path: p, Error: ps.Error})
			continue
		}
		wg.Go(func() { o.reportPath(ctx, rc, ps) })
	}
	wg.Wait()
}

func (o *Orchestrator) reportPath(ctx context.Context, rc *RunContext, ps *PathState) {
	defer func() {
		if r := recover(); r != nil {
			o.reportFailed(ctx, rc, ps, fmt.Errorf("panic: %v", r))
		}
	}()
	raw, err := o.reasoner.RunJSONTask(ctx, stageReport,
		reportSystemPrompt(ps.Path, o.strategies[ps.Path]),
		reportUserPrompt(rc.state.Question, ps.Turns))
	if err != nil {
		o.reportFailed(ctx, rc, ps, err)
		return
	}
	report := NormalizeReport(ps.Path, raw)
	ps.Report = &report
	ps.Status = StatusDone
	rc.emit(PathReportEvent{Path: ps.Path, Report: &report})

	runID := rc.state.RunID
	swallow(ctx, o.logger, "upsert_report", func(wctx context.Context) error {
		return o.persistence.UpsertReport(wctx, runID, ps.Path, report)
	})
	swallow(ctx, o.logger, "update_path_status", func(wctx context.Context) error {
		return o.persistence.UpdatePathStatus(wctx, runID, ps.Path, StatusDone, "")
	})
}

func (o *Orchestrator) reportFailed(ctx context.Context, rc *RunContext, ps *PathState, err error) {
	msg := "report failed: " + helpers.SanitizeMessage(err.Error(), 0)
	o.logger.Printf("run %s path %s: %v", rc.state.RunID, ps.Path, err)
	rc.emit(PathReportEvent{Path: ps.Path, Error: msg})
	o.markPathFailed(ctx, rc, ps, stageReport, msg)
}

func (o *Orchestrator) synthesize(ctx context.Context, question string, reports []PathReport) (Synthesis, error) {
	raw, err := o.reasoner.RunJSONTask(ctx, "synthesis", synthesisSystemPrompt(), synthesisUserPrompt(question, reports))
	if err != nil {
		return Synthesis{}, err
	}
	return NormalizeSynthesis(raw), nil
}

func (o *Orchestrator) evaluate(ctx context.Context, question string, reports []PathReport, syn Synthesis) (Evaluation, error) {
	raw, err := o.reasoner.RunJSONTask(ctx, "evaluation", evaluationSystemPrompt(), evaluationUserPrompt(question, reports, syn))
	if err != nil {
		return Evaluation{}, err
	}
	return NormalizeEvaluation(raw), nil
}
