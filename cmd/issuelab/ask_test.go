package main

import (
	"bytes"
	"testing"

	"github.com/gqy20/issuelab-secondme/config"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
)

func TestEventPrinterFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := eventPrinter(&buf)
	sink.Emit(core.DebateStatusEvent{Round: 1, Status: core.StatusRunning})
	sink.Emit(core.DoneEvent{SessionID: "s-1"})

	want := "debate_status: {\"round\":1,\"status\":\"running\"}\ndone: {\"sessionId\":\"s-1\"}\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestApplyAskOverrides(t *testing.T) {
	cfg := &config.Config{Debate: config.DebateConfig{Rounds: 10}, Agents: config.AgentsConfig{Enabled: true}}
	applyAskOverrides(cfg, 3, false)
	if cfg.Debate.Rounds != 3 || !cfg.Agents.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	applyAskOverrides(cfg, 40, true)
	if cfg.Debate.Rounds != config.MaxRounds || cfg.Agents.Enabled {
		t.Fatalf("expected clamp and direct mode: %+v", cfg)
	}
	applyAskOverrides(cfg, 0, false)
	if cfg.Debate.Rounds != config.MaxRounds {
		t.Fatalf("zero rounds flag must keep config value")
	}
}
