package core

import (
	"time"
)

// Path identifies one of the three independent reasoning strategies.
type Path string

const (
	PathRadical      Path = "radical"
	PathConservative Path = "conservative"
	PathCrossDomain  Path = "cross_domain"
)

// AllPaths lists every path in canonical order.
var AllPaths = []Path{PathRadical, PathConservative, PathCrossDomain}

// Valid reports whether p is one of the known paths.
func (p Path) Valid() bool {
	switch p {
	case PathRadical, PathConservative, PathCrossDomain:
		return true
	}
	return false
}

// Status is the lifecycle state of a run or a path.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
	StatusPartialFailed Status = "partial_failed"
)

// Verdict is the judge's decision on a round.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictRevise Verdict = "revise"
	VerdictReject Verdict = "reject"
)

// CoachResult is the coach's proposal for one round of one path.
type CoachResult struct {
	Path          Path     `json:"path"`
	Hypothesis    string   `json:"hypothesis"`
	Why           string   `json:"why"`
	NextSteps     []string `json:"next_steps"`
	TestPlan      string   `json:"test_plan"`
	RiskGuardrail string   `json:"risk_guardrail"`
}

// JudgeResult is the judge's critique of one round.
type JudgeResult struct {
	Path           Path    `json:"path"`
	Round          int     `json:"round"`
	RoundScore     int     `json:"round_score"`
	CriticalGap    string  `json:"critical_gap"`
	NextConstraint string  `json:"next_constraint"`
	Verdict        Verdict `json:"verdict"`
}

// DebateTurn is one completed round. Turns are never mutated once appended.
type DebateTurn struct {
	Round         int         `json:"round"`
	Coach         CoachResult `json:"coach"`
	ResponderText string      `json:"secondme"`
	Judge         JudgeResult `json:"judge"`
	SessionID     string      `json:"session_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// PathReport summarizes a path's full transcript.
type PathReport struct {
	Path        Path     `json:"path"`
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
	Risks       []string `json:"risks"`
	ActionPlan  []string `json:"action_plan"`
	Confidence  int      `json:"confidence"`
}

// Synthesis combines the three path reports.
type Synthesis struct {
	Summary        string   `json:"summary"`
	Consensus      []string `json:"consensus"`
	Disagreements  []string `json:"disagreements"`
	Recommendation string   `json:"recommendation"`
}

// Evaluation scores the synthesized recommendation.
type Evaluation struct {
	Score         int      `json:"score"`
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	NextIteration []string `json:"next_iteration"`
}

// PathState is the per-path slice of a run.
type PathState struct {
	Path      Path         `json:"path"`
	Status    Status       `json:"status"`
	Turns     []DebateTurn `json:"turns"`
	Report    *PathReport  `json:"report,omitempty"`
	Error     string       `json:"error,omitempty"`
	SessionID string       `json:"session_id,omitempty"`

	constraint string
}

// Constraint returns the constraint carried into the path's next round.
func (p *PathState) Constraint() string { return p.constraint }

// RunState is the full state of one orchestration run.
type RunState struct {
	RunID       string              `json:"run_id"`
	TaskID      string              `json:"task_id"`
	UserID      string              `json:"user_id,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
	Question    string              `json:"question"`
	Status      Status              `json:"status"`
	Paths       map[Path]*PathState `json:"paths"`
	Synthesis   *Synthesis          `json:"synthesis,omitempty"`
	Evaluation  *Evaluation         `json:"evaluation,omitempty"`
	FinalAnswer string              `json:"final_answer,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// RunSummary is a listing row for persisted runs.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	Question  string    `json:"question"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRequest is one user question submitted to the orchestrator.
// RunID and TaskID are generated when empty.
type RunRequest struct {
	RunID     string `json:"run_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}
