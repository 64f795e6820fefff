package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/gqy20/issuelab-secondme/config"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// schema is portable between Postgres and SQLite. Timestamps are unix
// milliseconds; structured values are JSON text.
const schema = `
CREATE TABLE IF NOT EXISTS debate_runs (
	run_id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	question TEXT NOT NULL,
	status TEXT NOT NULL,
	final_answer TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	synthesis TEXT NULL,
	evaluation TEXT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_debate_runs_user ON debate_runs(user_id, created_at);

CREATE TABLE IF NOT EXISTS debate_path_runs (
	run_id TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	report TEXT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS debate_turns (
	run_id TEXT NOT NULL,
	path TEXT NOT NULL,
	round INTEGER NOT NULL,
	coach TEXT NOT NULL,
	responder_text TEXT NOT NULL,
	judge TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	PRIMARY KEY (run_id, path, round)
);
`

// Store persists debate runs. It implements core.PersistenceSink.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
	logger  *log.Logger
	now     func() time.Time
}

var _ core.PersistenceSink = (*Store)(nil)

// Open connects to the configured driver and bootstraps the schema. It returns
// nil, nil when storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	switch cfg.Driver {
	case config.StorageDriverPostgres:
		return NewWithDSN(ctx, cfg.Postgres.DSN())
	case config.StorageDriverSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	case config.StorageDriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{DB: db, Dialect: DialectPostgres, logger: newLogger()}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) a local database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}
	s := &Store{DB: db, Dialect: DialectSQLite, logger: newLogger()}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing tables. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func newLogger() *log.Logger {
	return log.New(log.Writer(), "[STORE] ", log.LstdFlags)
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// q rewrites $N placeholders to ?N for SQLite.
func (s *Store) q(query string) string {
	if s.Dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *Store) stamp() int64 {
	if s.now != nil {
		return s.now().UnixMilli()
	}
	return time.Now().UTC().UnixMilli()
}

func (s *Store) warnf(format string, args ...any) {
	if s.logger == nil {
		log.Printf("[STORE] "+format, args...)
		return
	}
	s.logger.Printf(format, args...)
}

func (s *Store) CreateRun(ctx context.Context, run core.RunState) error {
	created := run.CreatedAt.UnixMilli()
	if run.CreatedAt.IsZero() {
		created = s.stamp()
	}
	_, err := s.DB.ExecContext(ctx, s.q(`
INSERT INTO debate_runs (run_id, task_id, user_id, session_id, question, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (run_id) DO NOTHING`),
		run.RunID, run.TaskID, run.UserID, run.SessionID, run.Question, string(run.Status), created)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) CreatePathRun(ctx context.Context, runID string, path core.Path) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
INSERT INTO debate_path_runs (run_id, path, status, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (run_id, path) DO NOTHING`),
		runID, string(path), string(core.StatusRunning), s.stamp())
	if err != nil {
		return fmt.Errorf("create path run: %w", err)
	}
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, runID string, path core.Path, turn core.DebateTurn) error {
	coach, err := json.Marshal(turn.Coach)
	if err != nil {
		return err
	}
	judge, err := json.Marshal(turn.Judge)
	if err != nil {
		return err
	}
	created := turn.CreatedAt.UnixMilli()
	if turn.CreatedAt.IsZero() {
		created = s.stamp()
	}
	_, err = s.DB.ExecContext(ctx, s.q(`
INSERT INTO debate_turns (run_id, path, round, coach, responder_text, judge, session_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`),
		runID, string(path), turn.Round, string(coach), turn.ResponderText, string(judge), turn.SessionID, created)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Store) UpdatePathStatus(ctx context.Context, runID string, path core.Path, status core.Status, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
UPDATE debate_path_runs SET status=$3, error=$4, updated_at=$5
WHERE run_id=$1 AND path=$2`),
		runID, string(path), string(status), errMsg, s.stamp())
	if err != nil {
		return fmt.Errorf("update path status: %w", err)
	}
	return nil
}

func (s *Store) UpsertReport(ctx context.Context, runID string, path core.Path, report core.PathReport) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, s.q(`
INSERT INTO debate_path_runs (run_id, path, status, report, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (run_id, path) DO UPDATE SET report = EXCLUDED.report, updated_at = EXCLUDED.updated_at`),
		runID, string(path), string(core.StatusRunning), string(b), s.stamp())
	if err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

func (s *Store) SaveSynthesis(ctx context.Context, runID string, syn core.Synthesis) error {
	return s.saveRunJSON(ctx, runID, "synthesis", syn)
}

func (s *Store) SaveEvaluation(ctx context.Context, runID string, eval core.Evaluation) error {
	return s.saveRunJSON(ctx, runID, "evaluation", eval)
}

// column is always a compile-time constant from this file.
func (s *Store) saveRunJSON(ctx context.Context, runID, column string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, s.q(`UPDATE debate_runs SET `+column+`=$2, updated_at=$3 WHERE run_id=$1`),
		runID, string(b), s.stamp())
	if err != nil {
		return fmt.Errorf("save %s: %w", column, err)
	}
	return nil
}

// FinishRun records the final status along with the session id the
// responder ended on, which may differ from the one the run started with.
func (s *Store) FinishRun(ctx context.Context, runID string, status core.Status, sessionID, finalAnswer, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
UPDATE debate_runs SET status=$2, session_id=$3, final_answer=$4, error=$5, updated_at=$6
WHERE run_id=$1`),
		runID, string(status), sessionID, finalAnswer, errMsg, s.stamp())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRunState rebuilds a run with its paths, turns and reports.
func (s *Store) GetRunState(ctx context.Context, runID string) (*core.RunState, bool, error) {
	st := &core.RunState{Paths: map[core.Path]*core.PathState{}}
	var status string
	var synthesis, evaluation sql.NullString
	var created, updated int64
	err := s.DB.QueryRowContext(ctx, s.q(`
SELECT run_id, task_id, user_id, session_id, question, status, final_answer, error, synthesis, evaluation, created_at, updated_at
FROM debate_runs WHERE run_id=$1`), runID).
		Scan(&st.RunID, &st.TaskID, &st.UserID, &st.SessionID, &st.Question, &status, &st.FinalAnswer, &st.Error,
			&synthesis, &evaluation, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get run: %w", err)
	}
	st.Status = core.Status(status)
	st.CreatedAt = time.UnixMilli(created).UTC()
	st.UpdatedAt = time.UnixMilli(updated).UTC()
	if synthesis.Valid && synthesis.String != "" {
		var syn core.Synthesis
		if err := json.Unmarshal([]byte(synthesis.String), &syn); err != nil {
			s.warnf("run %s: bad synthesis json: %v", runID, err)
		} else {
			st.Synthesis = &syn
		}
	}
	if evaluation.Valid && evaluation.String != "" {
		var ev core.Evaluation
		if err := json.Unmarshal([]byte(evaluation.String), &ev); err != nil {
			s.warnf("run %s: bad evaluation json: %v", runID, err)
		} else {
			st.Evaluation = &ev
		}
	}

	if err := s.loadPaths(ctx, st); err != nil {
		return nil, false, err
	}
	if err := s.loadTurns(ctx, st); err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func (s *Store) loadPaths(ctx context.Context, st *core.RunState) error {
	rows, err := s.DB.QueryContext(ctx, s.q(`
SELECT path, status, error, report FROM debate_path_runs WHERE run_id=$1 ORDER BY path`), st.RunID)
	if err != nil {
		return fmt.Errorf("get path runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, status, errMsg string
		var report sql.NullString
		if err := rows.Scan(&path, &status, &errMsg, &report); err != nil {
			return err
		}
		ps := &core.PathState{Path: core.Path(path), Status: core.Status(status), Error: errMsg, Turns: []core.DebateTurn{}}
		if report.Valid && report.String != "" {
			var r core.PathReport
			if err := json.Unmarshal([]byte(report.String), &r); err == nil {
				ps.Report = &r
			}
		}
		st.Paths[ps.Path] = ps
	}
	return rows.Err()
}

func (s *Store) loadTurns(ctx context.Context, st *core.RunState) error {
	rows, err := s.DB.QueryContext(ctx, s.q(`
SELECT path, round, coach, responder_text, judge, session_id, created_at
FROM debate_turns WHERE run_id=$1 ORDER BY path, round`), st.RunID)
	if err != nil {
		return fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, coach, judge string
		var created int64
		var t core.DebateTurn
		if err := rows.Scan(&path, &t.Round, &coach, &t.ResponderText, &judge, &t.SessionID, &created); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(coach), &t.Coach); err != nil {
			return fmt.Errorf("decode coach: %w", err)
		}
		if err := json.Unmarshal([]byte(judge), &t.Judge); err != nil {
			return fmt.Errorf("decode judge: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		ps, ok := st.Paths[core.Path(path)]
		if !ok {
			ps = &core.PathState{Path: core.Path(path), Status: core.StatusRunning, Turns: []core.DebateTurn{}}
			st.Paths[ps.Path] = ps
		}
		ps.Turns = append(ps.Turns, t)
		if t.SessionID != "" {
			ps.SessionID = t.SessionID
		}
	}
	return rows.Err()
}

// ListRuns returns the most recent runs for userID, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]core.RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`
SELECT run_id, task_id, question, status, created_at, updated_at
FROM debate_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []core.RunSummary{}
	for rows.Next() {
		var r core.RunSummary
		var status string
		var created, updated int64
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.Question, &status, &created, &updated); err != nil {
			return nil, err
		}
		r.Status = core.Status(status)
		r.CreatedAt = time.UnixMilli(created).UTC()
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
