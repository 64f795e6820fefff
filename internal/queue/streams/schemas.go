package streams

import (
	"fmt"

	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
)

// Definition pairs an event type with the schema of its data payload.
type Definition struct {
	EventType string
	Schema    []byte
}

var eventDefinitions = []Definition{
	{
		EventType: core.EventSession,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["sessionId"],
  "properties": {"sessionId": {"type": "string"}}
}`),
	},
	{
		EventType: core.EventPathStatus,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status"],
  "properties": {
    "path": {"$ref": "#/$defs/path"},
    "status": {"type": "string", "enum": ["running", "done", "failed", "partial_failed"]}
  },
  "$defs": {"path": {"type": "string", "enum": ["radical", "conservative", "cross_domain"]}}
}`),
	},
	{
		EventType: core.EventDebateStatus,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["round", "status"],
  "properties": {
    "round": {"type": "integer", "minimum": 1},
    "status": {"type": "string", "enum": ["running", "done"]}
  }
}`),
	},
	{
		EventType: core.EventDebateRound,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["path", "round"],
  "properties": {
    "path": {"$ref": "#/$defs/path"},
    "round": {"type": "integer", "minimum": 1},
    "coach": {
      "type": "object",
      "properties": {
        "hypothesis": {"type": "string"},
        "next_steps": {"type": ["array", "null"], "items": {"type": "string"}, "maxItems": 5}
      }
    },
    "secondme": {"type": "string"},
    "error": {"type": "string"}
  },
  "anyOf": [{"required": ["coach"]}, {"required": ["error"]}],
  "$defs": {"path": {"type": "string", "enum": ["radical", "conservative", "cross_domain"]}}
}`),
	},
	{
		EventType: core.EventJudgeRound,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["path", "round"],
  "properties": {
    "path": {"$ref": "#/$defs/path"},
    "round": {"type": "integer", "minimum": 1},
    "judge": {
      "type": "object",
      "required": ["round_score", "verdict"],
      "properties": {
        "round_score": {"type": "integer", "minimum": 0, "maximum": 100},
        "verdict": {"type": "string", "enum": ["accept", "revise", "reject"]},
        "next_constraint": {"type": "string"}
      }
    },
    "error": {"type": "string"}
  },
  "anyOf": [{"required": ["judge"]}, {"required": ["error"]}],
  "$defs": {"path": {"type": "string", "enum": ["radical", "conservative", "cross_domain"]}}
}`),
	},
	{
		EventType: core.EventPathReport,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "enum": ["radical", "conservative", "cross_domain"]},
    "report": {
      "type": "object",
      "required": ["summary"],
      "properties": {
        "summary": {"type": "string"},
        "confidence": {"type": "integer", "minimum": 0, "maximum": 100}
      }
    },
    "error": {"type": "string"}
  },
  "anyOf": [{"required": ["report"]}, {"required": ["error"]}]
}`),
	},
	{
		EventType: core.EventSynthesis,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["summary", "recommendation"],
  "properties": {
    "summary": {"type": "string"},
    "consensus": {"type": ["array", "null"], "items": {"type": "string"}},
    "disagreements": {"type": ["array", "null"], "items": {"type": "string"}},
    "recommendation": {"type": "string"}
  }
}`),
	},
	{
		EventType: core.EventEvaluation,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["score"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "strengths": {"type": ["array", "null"], "items": {"type": "string"}},
    "weaknesses": {"type": ["array", "null"], "items": {"type": "string"}},
    "next_iteration": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`),
	},
	{
		EventType: core.EventFinalAnswer,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["text"],
  "properties": {"text": {"type": "string"}}
}`),
	},
	{
		EventType: core.EventError,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["message"],
  "properties": {"message": {"type": "string"}}
}`),
	},
	{
		EventType: core.EventDone,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["sessionId"],
  "properties": {"sessionId": {"type": "string"}}
}`),
	},
}

// EventDefinitions returns the built-in event schema definitions.
func EventDefinitions() []Definition {
	defs := make([]Definition, len(eventDefinitions))
	copy(defs, eventDefinitions)
	return defs
}

// RegisterEventSchemas loads every event schema into reg.
func RegisterEventSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range eventDefinitions {
		if err := reg.Register(def.EventType, def.Schema); err != nil {
			return fmt.Errorf("register %s: %w", def.EventType, err)
		}
	}
	return nil
}
