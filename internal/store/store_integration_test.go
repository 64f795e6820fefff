package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/gqy20/issuelab-secondme/internal/store"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresRunLifecycle(t *testing.T) {
	if testing.Short() || os.Getenv("ISSUELAB_INTEGRATION") != "1" {
		t.Skip("set ISSUELAB_INTEGRATION=1 to run postgres integration tests")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("issuelab"),
		tcPostgres.WithUsername("issuelab"),
		tcPostgres.WithPassword("issuelab"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://issuelab:issuelab@%s:%s/issuelab?sslmode=disable", host, port.Port())

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.Close()

	run := core.RunState{RunID: "run-pg", TaskID: "task-pg", UserID: "u-pg", Question: "expand abroad?", Status: core.StatusRunning}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	// duplicate creates are ignored
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun again: %v", err)
	}
	if err := st.CreatePathRun(ctx, run.RunID, core.PathConservative); err != nil {
		t.Fatalf("CreatePathRun: %v", err)
	}
	turn := core.DebateTurn{Round: 1, Coach: core.CoachResult{Hypothesis: "pilot market"}, ResponderText: "ok", SessionID: "ps-1"}
	if err := st.AppendTurn(ctx, run.RunID, core.PathConservative, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	report := core.PathReport{Path: core.PathConservative, Summary: "first"}
	if err := st.UpsertReport(ctx, run.RunID, core.PathConservative, report); err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}
	report.Summary = "second"
	if err := st.UpsertReport(ctx, run.RunID, core.PathConservative, report); err != nil {
		t.Fatalf("UpsertReport again: %v", err)
	}
	if err := st.SaveSynthesis(ctx, run.RunID, core.Synthesis{Summary: "merge"}); err != nil {
		t.Fatalf("SaveSynthesis: %v", err)
	}
	if err := st.FinishRun(ctx, run.RunID, core.StatusDone, "s-final", "go slowly", ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, ok, err := st.GetRunState(ctx, run.RunID)
	if err != nil || !ok {
		t.Fatalf("GetRunState: ok=%v err=%v", ok, err)
	}
	ps := got.Paths[core.PathConservative]
	if ps == nil || ps.Report == nil || ps.Report.Summary != "second" || ps.SessionID != "ps-1" {
		t.Fatalf("unexpected path state: %+v", ps)
	}
	if got.Synthesis == nil || got.FinalAnswer != "go slowly" || got.Status != core.StatusDone || got.SessionID != "s-final" {
		t.Fatalf("unexpected run: %+v", got)
	}
}
