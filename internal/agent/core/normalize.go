package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxNextSteps = 5

// NormalizeCoach converts a raw coach object into a CoachResult. Missing
// fields become zero values; next_steps keeps at most five non-blank entries.
func NormalizeCoach(path Path, raw map[string]any) CoachResult {
	steps := stringList(raw, "next_steps")
	if len(steps) > maxNextSteps {
		steps = steps[:maxNextSteps]
	}
	return CoachResult{
		Path:          path,
		Hypothesis:    stringField(raw, "hypothesis"),
		Why:           stringField(raw, "why"),
		NextSteps:     steps,
		TestPlan:      stringField(raw, "test_plan"),
		RiskGuardrail: stringField(raw, "risk_guardrail"),
	}
}

// NormalizeJudge converts a raw judge object. round_score is clamped into
// [0,100] and an unrecognized verdict becomes revise.
func NormalizeJudge(path Path, round int, raw map[string]any) JudgeResult {
	return JudgeResult{
		Path:           path,
		Round:          round,
		RoundScore:     ClampScore(intField(raw, "round_score")),
		CriticalGap:    stringField(raw, "critical_gap"),
		NextConstraint: stringField(raw, "next_constraint"),
		Verdict:        NormalizeVerdict(stringField(raw, "verdict")),
	}
}

// NormalizeVerdict maps free text onto accept/revise/reject.
func NormalizeVerdict(v string) Verdict {
	switch Verdict(strings.ToLower(strings.TrimSpace(v))) {
	case VerdictAccept:
		return VerdictAccept
	case VerdictReject:
		return VerdictReject
	default:
		return VerdictRevise
	}
}

func NormalizeReport(path Path, raw map[string]any) PathReport {
	return PathReport{
		Path:        path,
		Summary:     stringField(raw, "summary"),
		KeyInsights: stringList(raw, "key_insights"),
		Risks:       stringList(raw, "risks"),
		ActionPlan:  stringList(raw, "action_plan"),
		Confidence:  ClampScore(intField(raw, "confidence")),
	}
}

func NormalizeSynthesis(raw map[string]any) Synthesis {
	return Synthesis{
		Summary:        stringField(raw, "summary"),
		Consensus:      stringList(raw, "consensus"),
		Disagreements:  stringList(raw, "disagreements"),
		Recommendation: stringField(raw, "recommendation"),
	}
}

func NormalizeEvaluation(raw map[string]any) Evaluation {
	return Evaluation{
		Score:         ClampScore(intField(raw, "score")),
		Strengths:     stringList(raw, "strengths"),
		Weaknesses:    stringList(raw, "weaknesses"),
		NextIteration: stringList(raw, "next_iteration"),
	}
}

// ClampScore bounds v to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		return strings.Join(stringList(raw, key), "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// stringList accepts an array of scalars or a single string and drops blanks.
func stringList(raw map[string]any, key string) []string {
	out := []string{}
	switch v := raw[key].(type) {
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// intField reads numbers, numeric strings ("87", "87.5", "87/100") and
// rounds fractions. Anything else is 0.
func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return roundToInt(v)
	case int:
		return v
	case string:
		s := strings.TrimSpace(v)
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return roundToInt(f)
	}
	return 0
}

func roundToInt(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(math.Round(f))
}
