package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/gqy20/issuelab-secondme/config"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	srv "github.com/gqy20/issuelab-secondme/internal/server"
	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var rounds int
	var direct bool
	var sessionID string
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one debate in-process and print its events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question required")
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			applyAskOverrides(cfg, rounds, direct)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			deps, err := srv.NewDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			req := core.RunRequest{RunID: uuid.NewString(), Question: question, SessionID: sessionID}
			sink := eventPrinter(cmd.OutOrStdout())
			if deps.Mirror != nil {
				sink = core.Tee(sink, deps.Mirror.Sink(ctx, req.RunID))
			}
			st := deps.Orchestrator.Run(ctx, req, sink)
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s\n", st.RunID, st.Status)
			if st.Status != core.StatusDone {
				return fmt.Errorf("run %s ended %s: %s", st.RunID, st.Status, st.Error)
			}
			return nil
		},
	}
	ask.Flags().IntVar(&rounds, "rounds", 0, "debate rounds per path (1-10, default from config)")
	ask.Flags().BoolVar(&direct, "direct", false, "skip the debate and ask the responder directly")
	ask.Flags().StringVar(&sessionID, "session", "", "responder session id to continue")
	return ask
}

func applyAskOverrides(cfg *config.Config, rounds int, direct bool) {
	if rounds != 0 {
		cfg.Debate.Rounds = rounds
		cfg.Debate = cfg.Debate.Normalize()
	}
	if direct {
		cfg.Agents.Enabled = false
	}
}

// eventPrinter writes each event as an "event: data" line.
func eventPrinter(w io.Writer) core.EventSink {
	var mu sync.Mutex
	return core.EventSinkFunc(func(ev core.Event) {
		data, err := core.Payload(ev)
		if err != nil {
			data = []byte(fmt.Sprintf("%q", err.Error()))
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s: %s\n", ev.Name(), data)
	})
}
