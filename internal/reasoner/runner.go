package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gqy20/issuelab-secondme/internal/agent/telemetry"
	"github.com/gqy20/issuelab-secondme/internal/helpers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout applies when no positive timeout is configured.
const DefaultTimeout = 30 * time.Second

const strictJSONInstruction = "\n\nYour previous reply could not be parsed. Respond with ONLY one strictly valid JSON object: " +
	"double-quoted keys and strings, no trailing commas, no comments, no markdown fences, no prose."

var runnerTracer trace.Tracer = otel.Tracer("issuelab/internal/reasoner")

// Runner turns free-form model output into a single JSON object.
type Runner struct {
	completer Completer
	timeout   time.Duration
	logger    *log.Logger
	metrics   *telemetry.Metrics
}

// NewRunner wraps a completer. A non-positive timeout falls back to DefaultTimeout.
func NewRunner(completer Completer, timeout time.Duration, logger *log.Logger, metrics *telemetry.Metrics) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[REASONER] ", log.LstdFlags)
	}
	return &Runner{completer: completer, timeout: timeout, logger: logger, metrics: metrics}
}

// RunJSONTask runs one task with the runner's configured timeout.
func (r *Runner) RunJSONTask(ctx context.Context, task, system, user string) (map[string]any, error) {
	return r.RunJSONTaskTimeout(ctx, task, system, user, r.timeout)
}

// RunJSONTaskTimeout calls the reasoner with a per-attempt deadline, parses
// the reply into a JSON object and retries exactly once with a strict-JSON
// instruction when parsing fails. Transport failures are never retried.
func (r *Runner) RunJSONTaskTimeout(ctx context.Context, task, system, user string, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, span := runnerTracer.Start(ctx, "reasoner.RunJSONTask", trace.WithAttributes(attribute.String("task", task)))
	defer span.End()

	prompt := user
	for attempt := 1; attempt <= 2; attempt++ {
		raw, err := r.call(ctx, system, prompt, timeout)
		if err != nil {
			r.metrics.ReasonerCall(task, Kind(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		obj, perr := ParseObject(raw)
		if perr == nil {
			r.metrics.ReasonerCall(task, "ok")
			span.SetAttributes(attribute.Int("attempts", attempt))
			return obj, nil
		}
		r.logger.Printf("task=%s attempt=%d unparseable output: %v", task, attempt, perr)
		prompt = user + strictJSONInstruction
	}
	r.metrics.ReasonerCall(task, Kind(ErrMalformedOutput))
	span.SetStatus(codes.Error, ErrMalformedOutput.Error())
	return nil, ErrMalformedOutput
}

func (r *Runner) call(ctx context.Context, system, user string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	raw, err := r.completer.Complete(cctx, system, user)
	if err == nil {
		return raw, nil
	}
	if cctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", ErrTimeout
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) || errors.Is(err, ErrTimeout) {
		return "", err
	}
	return "", &HTTPError{Status: 0, Message: helpers.Truncate(err.Error(), maxErrorMessage)}
}

// ParseObject extracts, repairs and decodes a JSON object from model text.
// Arrays and scalars are rejected.
func ParseObject(raw string) (map[string]any, error) {
	text := helpers.RepairJSON(helpers.ExtractJSONObject(raw))
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("reply is not a JSON object")
	}
	return obj, nil
}
