package core

import (
	"context"
	"encoding/json"
)

// Event names on the wire.
const (
	EventSession      = "session"
	EventPathStatus   = "path_status"
	EventDebateStatus = "debate_status"
	EventDebateRound  = "debate_round"
	EventJudgeRound   = "judge_round"
	EventPathReport   = "path_report"
	EventSynthesis    = "synthesis"
	EventEvaluation   = "evaluation"
	EventFinalAnswer  = "final_answer"
	EventError        = "error"
	EventDone         = "done"
)

// Event is the closed set of orchestrator progress events. Each concrete type
// marshals to the event's data payload.
type Event interface {
	Name() string
	isEvent()
}

type SessionEvent struct {
	SessionID string `json:"sessionId"`
}

// PathStatusEvent without a Path is the run-wide status.
type PathStatusEvent struct {
	Path   Path   `json:"path,omitempty"`
	Status Status `json:"status"`
}

type DebateStatusEvent struct {
	Round  int    `json:"round"`
	Status Status `json:"status"`
}

// DebateRoundEvent carries either the coach output and responder reply, or Error.
type DebateRoundEvent struct {
	Path     Path         `json:"path"`
	Round    int          `json:"round"`
	Coach    *CoachResult `json:"coach,omitempty"`
	SecondMe string       `json:"secondme,omitempty"`
	Error    string       `json:"error,omitempty"`
}

type JudgeRoundEvent struct {
	Path  Path         `json:"path"`
	Round int          `json:"round"`
	Judge *JudgeResult `json:"judge,omitempty"`
	Error string       `json:"error,omitempty"`
}

type PathReportEvent struct {
	Path   Path        `json:"path"`
	Report *PathReport `json:"report,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type SynthesisEvent struct {
	Synthesis
}

type EvaluationEvent struct {
	Evaluation
}

type FinalAnswerEvent struct {
	Text string `json:"text"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type DoneEvent struct {
	SessionID string `json:"sessionId"`
}

func (SessionEvent) Name() string      { return EventSession }
func (PathStatusEvent) Name() string   { return EventPathStatus }
func (DebateStatusEvent) Name() string { return EventDebateStatus }
func (DebateRoundEvent) Name() string  { return EventDebateRound }
func (JudgeRoundEvent) Name() string   { return EventJudgeRound }
func (PathReportEvent) Name() string   { return EventPathReport }
func (SynthesisEvent) Name() string    { return EventSynthesis }
func (EvaluationEvent) Name() string   { return EventEvaluation }
func (FinalAnswerEvent) Name() string  { return EventFinalAnswer }
func (ErrorEvent) Name() string        { return EventError }
func (DoneEvent) Name() string         { return EventDone }

func (SessionEvent) isEvent()      {}
func (PathStatusEvent) isEvent()   {}
func (DebateStatusEvent) isEvent() {}
func (DebateRoundEvent) isEvent()  {}
func (JudgeRoundEvent) isEvent()   {}
func (PathReportEvent) isEvent()   {}
func (SynthesisEvent) isEvent()    {}
func (EvaluationEvent) isEvent()   {}
func (FinalAnswerEvent) isEvent()  {}
func (ErrorEvent) isEvent()        {}
func (DoneEvent) isEvent()         {}

// Payload encodes the event's data object.
func Payload(e Event) (json.RawMessage, error) {
	return json.Marshal(e)
}

// EventSink receives events from a single producer, in order.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// Tee fans one event out to several sinks in argument order.
func Tee(sinks ...EventSink) EventSink {
	return EventSinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// channelSink forwards events into ch, dropping them once ctx is done.
type channelSink struct {
	ctx context.Context
	ch  chan<- Event
}

func (s channelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	case <-s.ctx.Done():
	}
}
