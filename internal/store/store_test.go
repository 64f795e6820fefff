package store

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db, Dialect: dialect, now: func() time.Time { return fixed }}, mock
}

func TestCreateRun(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	run := core.RunState{RunID: "run-1", TaskID: "task-1", UserID: "u1", SessionID: "s1", Question: "q?", Status: core.StatusRunning, CreatedAt: fixed}

	query := regexp.QuoteMeta(`
INSERT INTO debate_runs (run_id, task_id, user_id, session_id, question, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (run_id) DO NOTHING`)
	mock.ExpectExec(query).
		WithArgs("run-1", "task-1", "u1", "s1", "q?", "running", fixed.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendTurnRebindsForSQLite(t *testing.T) {
	st, mock := mockStore(t, DialectSQLite)
	turn := core.DebateTurn{
		Round:         2,
		Coach:         core.CoachResult{Path: core.PathRadical, Hypothesis: "h"},
		ResponderText: "reply",
		Judge:         core.JudgeResult{Path: core.PathRadical, Round: 2, RoundScore: 70, Verdict: core.VerdictAccept},
		SessionID:     "ps-1",
	}

	query := regexp.QuoteMeta(`
INSERT INTO debate_turns (run_id, path, round, coach, responder_text, judge, session_id, created_at)
VALUES (?1,?2,?3,?4,?5,?6,?7,?8)`)
	mock.ExpectExec(query).
		WithArgs("run-1", "radical", 2, sqlmock.AnyArg(), "reply", sqlmock.AnyArg(), "ps-1", fixed.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := st.AppendTurn(context.Background(), "run-1", core.PathRadical, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	query := regexp.QuoteMeta(`
UPDATE debate_runs SET status=$2, session_id=$3, final_answer=$4, error=$5, updated_at=$6
WHERE run_id=$1`)
	mock.ExpectExec(query).
		WithArgs("run-1", "failed", "s-2", "answer", "synthesis skipped", fixed.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FinishRun(context.Background(), "run-1", core.StatusFailed, "s-2", "answer", "synthesis skipped"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveSynthesis(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE debate_runs SET synthesis=$2, updated_at=$3 WHERE run_id=$1`)).
		WithArgs("run-1", `{"summary":"s","consensus":["c"],"disagreements":null,"recommendation":"r"}`, fixed.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	syn := core.Synthesis{Summary: "s", Consensus: []string{"c"}, Recommendation: "r"}
	if err := st.SaveSynthesis(context.Background(), "run-1", syn); err != nil {
		t.Fatalf("SaveSynthesis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunStateMissing(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM debate_runs WHERE run_id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	got, ok, err := st.GetRunState(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRunState: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected missing run, got %+v", got)
	}
}

func TestGetRunStateAssemblesPaths(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	ms := fixed.UnixMilli()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM debate_runs WHERE run_id=$1`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "task_id", "user_id", "session_id", "question", "status", "final_answer", "error", "synthesis", "evaluation", "created_at", "updated_at"}).
			AddRow("run-1", "task-1", "u1", "s1", "q?", "done", "answer", "", `{"summary":"all"}`, nil, ms, ms))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM debate_path_runs WHERE run_id=$1`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"path", "status", "error", "report"}).
			AddRow("conservative", "done", "", `{"path":"conservative","summary":"careful","confidence":60}`).
			AddRow("cross_domain", "failed", "coach failed: timeout", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM debate_turns WHERE run_id=$1`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"path", "round", "coach", "responder_text", "judge", "session_id", "created_at"}).
			AddRow("conservative", 1, `{"hypothesis":"h1"}`, "r1", `{"round":1,"round_score":55,"verdict":"revise"}`, "ps-9", ms).
			AddRow("conservative", 2, `{"hypothesis":"h2"}`, "r2", `{"round":2,"round_score":80,"verdict":"accept"}`, "ps-9", ms))

	got, ok, err := st.GetRunState(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("GetRunState: ok=%v err=%v", ok, err)
	}
	if got.Status != core.StatusDone || got.Synthesis == nil || got.Synthesis.Summary != "all" {
		t.Fatalf("unexpected run header: %+v", got)
	}
	if got.Evaluation != nil {
		t.Fatalf("expected nil evaluation")
	}
	cons := got.Paths[core.PathConservative]
	if cons == nil || len(cons.Turns) != 2 || cons.Turns[1].Judge.Verdict != core.VerdictAccept {
		t.Fatalf("unexpected conservative path: %+v", cons)
	}
	if cons.Report == nil || cons.Report.Confidence != 60 || cons.SessionID != "ps-9" {
		t.Fatalf("unexpected report/session: %+v", cons)
	}
	if cross := got.Paths[core.PathCrossDomain]; cross.Status != core.StatusFailed || cross.Error == "" {
		t.Fatalf("unexpected cross_domain path: %+v", cross)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Fatalf("expected created_at %v, got %v", fixed, got.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRunsDefaultsLimit(t *testing.T) {
	st, mock := mockStore(t, DialectPostgres)
	ms := fixed.UnixMilli()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM debate_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs("u1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "task_id", "question", "status", "created_at", "updated_at"}).
			AddRow("run-2", "t2", "second", "failed", ms, ms).
			AddRow("run-1", "t1", "first", "done", ms, ms))

	runs, err := st.ListRuns(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || runs[0].Status != core.StatusFailed {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "issuelab.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema twice: %v", err)
	}

	run := core.RunState{RunID: "run-1", TaskID: "task-1", UserID: "u1", Question: "pivot?", Status: core.StatusRunning, CreatedAt: fixed}
	mustOK := func(op string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
	}
	mustOK("CreateRun", st.CreateRun(ctx, run))
	for _, p := range core.AllPaths {
		mustOK("CreatePathRun", st.CreatePathRun(ctx, "run-1", p))
	}
	mustOK("AppendTurn", st.AppendTurn(ctx, "run-1", core.PathRadical, core.DebateTurn{
		Round: 1, Coach: core.CoachResult{Hypothesis: "jump"}, ResponderText: "why not", Judge: core.JudgeResult{Round: 1, RoundScore: 90, NextConstraint: "cost it"},
	}))
	mustOK("UpsertReport", st.UpsertReport(ctx, "run-1", core.PathRadical, core.PathReport{Path: core.PathRadical, Summary: "bold"}))
	mustOK("UpdatePathStatus", st.UpdatePathStatus(ctx, "run-1", core.PathRadical, core.StatusDone, ""))
	mustOK("UpdatePathStatus", st.UpdatePathStatus(ctx, "run-1", core.PathCrossDomain, core.StatusFailed, "coach failed"))
	mustOK("SaveEvaluation", st.SaveEvaluation(ctx, "run-1", core.Evaluation{Score: 77}))
	mustOK("FinishRun", st.FinishRun(ctx, "run-1", core.StatusFailed, "s-final", "direct answer", "synthesis skipped"))

	got, ok, err := st.GetRunState(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("GetRunState: ok=%v err=%v", ok, err)
	}
	if got.Status != core.StatusFailed || got.FinalAnswer != "direct answer" || got.Evaluation.Score != 77 || got.SessionID != "s-final" {
		t.Fatalf("unexpected run: %+v", got)
	}
	rad := got.Paths[core.PathRadical]
	if rad.Status != core.StatusDone || rad.Report.Summary != "bold" || len(rad.Turns) != 1 || rad.Turns[0].Judge.NextConstraint != "cost it" {
		t.Fatalf("unexpected radical path: %+v", rad)
	}
	if got.Paths[core.PathCrossDomain].Error != "coach failed" {
		t.Fatalf("unexpected cross_domain path: %+v", got.Paths[core.PathCrossDomain])
	}

	runs, err := st.ListRuns(ctx, "u1", 10)
	if err != nil || len(runs) != 1 || runs[0].Question != "pivot?" {
		t.Fatalf("ListRuns: %+v err=%v", runs, err)
	}
}
