package core

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed paths.toml
var strategiesTOML string

// Strategy describes how one path argues.
type Strategy struct {
	Label            string `toml:"label"`
	Stance           string `toml:"stance"`
	ResponderFraming string `toml:"responder_framing"`
}

// LoadStrategies decodes the embedded strategy pack. Every known path must be
// present and no unknown path may appear.
func LoadStrategies() (map[Path]Strategy, error) {
	return parseStrategies(strategiesTOML)
}

func parseStrategies(doc string) (map[Path]Strategy, error) {
	var raw map[string]Strategy
	if _, err := toml.Decode(doc, &raw); err != nil {
		return nil, fmt.Errorf("decode path strategies: %w", err)
	}
	out := make(map[Path]Strategy, len(raw))
	for name, s := range raw {
		p := Path(name)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown path %q in strategies", name)
		}
		s.Stance = strings.TrimSpace(s.Stance)
		if s.Label == "" {
			s.Label = name
		}
		out[p] = s
	}
	for _, p := range AllPaths {
		if _, ok := out[p]; !ok {
			return nil, fmt.Errorf("missing strategy for path %q", p)
		}
	}
	return out, nil
}

const (
	recentTurnsForCoach = 3

	coachSchema      = `{"hypothesis": string, "why": string, "next_steps": [3-5 strings], "test_plan": string, "risk_guardrail": string}`
	judgeSchema      = `{"round_score": integer 0-100, "critical_gap": string, "next_constraint": string, "verdict": "accept"|"revise"|"reject"}`
	reportSchema     = `{"summary": string, "key_insights": [strings], "risks": [strings], "action_plan": [strings], "confidence": integer 0-100}`
	synthesisSchema  = `{"summary": string, "consensus": [strings], "disagreements": [strings], "recommendation": string}`
	evaluationSchema = `{"score": integer 0-100, "strengths": [strings], "weaknesses": [strings], "next_iteration": [strings]}`
)

func jsonOnly(schema string) string {
	return "Reply with a single JSON object and nothing else, shaped as: " + schema
}

func coachSystemPrompt(path Path, s Strategy) string {
	return fmt.Sprintf("You are the %s coach in a structured debate (path %q).\n%s\n\n%s",
		s.Label, path, s.Stance, jsonOnly(coachSchema))
}

func coachUserPrompt(question string, round int, constraint string, turns []DebateTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nRound: %d\n", question, round)
	if constraint != "" {
		fmt.Fprintf(&b, "Constraint from the judge you must satisfy this round: %s\n", constraint)
	}
	recent := turns
	if len(recent) > recentTurnsForCoach {
		recent = recent[len(recent)-recentTurnsForCoach:]
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent rounds:\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "- round %d: hypothesis=%q score=%d verdict=%s gap=%q\n",
				t.Round, t.Coach.Hypothesis, t.Judge.RoundScore, t.Judge.Verdict, t.Judge.CriticalGap)
		}
	}
	b.WriteString("\nPropose this round's hypothesis.")
	return b.String()
}

func responderMessage(question string, s Strategy, coach CoachResult, round int, constraint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nMy question: %s\n\n", s.ResponderFraming, question)
	fmt.Fprintf(&b, "Current idea (round %d): %s\nReasoning: %s\n", round, coach.Hypothesis, coach.Why)
	if len(coach.NextSteps) > 0 {
		fmt.Fprintf(&b, "Planned steps: %s\n", strings.Join(coach.NextSteps, "; "))
	}
	if constraint != "" {
		fmt.Fprintf(&b, "Constraint for this round: %s\n", constraint)
	}
	b.WriteString("\nWhat do you think? Be concrete about what you would do differently.")
	return b.String()
}

func judgeSystemPrompt(path Path, s Strategy) string {
	return fmt.Sprintf("You judge one round of the %s path (%q) of a debate. Score how well the coach's proposal and the "+
		"responder's reply advance a sound answer to the question, name the most critical gap, and set one "+
		"concrete constraint the next round must satisfy.\n\n%s", s.Label, path, jsonOnly(judgeSchema))
}

func judgeUserPrompt(question string, round int, constraint string, coach CoachResult, reply string, transcript []DebateTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nRound: %d\n", question, round)
	if constraint != "" {
		fmt.Fprintf(&b, "Constraint in force this round: %s\n", constraint)
	}
	fmt.Fprintf(&b, "\nCoach proposal:\n%s\n", mustJSON(coach))
	fmt.Fprintf(&b, "\nResponder reply:\n%s\n", reply)
	if len(transcript) > 0 {
		fmt.Fprintf(&b, "\nPrior transcript:\n%s\n", transcriptText(transcript))
	}
	return b.String()
}

func reportSystemPrompt(path Path, s Strategy) string {
	return fmt.Sprintf("You summarize the full debate transcript of the %s path (%q) into one report.\n\n%s",
		s.Label, path, jsonOnly(reportSchema))
}

func reportUserPrompt(question string, transcript []DebateTurn) string {
	return fmt.Sprintf("Question: %s\n\nTranscript:\n%s", question, transcriptText(transcript))
}

func synthesisSystemPrompt() string {
	return "You combine three independent path reports (radical, conservative, cross_domain) into one recommendation. " +
		"List where they agree and where they disagree.\n\n" + jsonOnly(synthesisSchema)
}

func synthesisUserPrompt(question string, reports []PathReport) string {
	return fmt.Sprintf("Question: %s\n\nReports:\n%s", question, mustJSON(reports))
}

func evaluationSystemPrompt() string {
	return "You review a synthesized recommendation against the path reports it came from. Score its quality and " +
		"risk handling and say what the next iteration should improve.\n\n" + jsonOnly(evaluationSchema)
}

func evaluationUserPrompt(question string, reports []PathReport, syn Synthesis) string {
	return fmt.Sprintf("Question: %s\n\nReports:\n%s\n\nSynthesis:\n%s", question, mustJSON(reports), mustJSON(syn))
}

func finalAnswerMessage(question string, syn Synthesis) string {
	return fmt.Sprintf("My question: %s\n\nThree lines of analysis were combined into this synthesis:\n%s\n\n"+
		"Using it as context, give me your final answer in your own words.", question, mustJSON(syn))
}

func transcriptText(turns []DebateTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d]\ncoach: %s\nresponder: %s\njudge: score=%d verdict=%s gap=%q next_constraint=%q\n",
			t.Round, mustJSON(t.Coach), t.ResponderText, t.Judge.RoundScore, t.Judge.Verdict, t.Judge.CriticalGap, t.Judge.NextConstraint)
	}
	return b.String()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
