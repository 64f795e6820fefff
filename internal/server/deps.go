package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gqy20/issuelab-secondme/config"
	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/gqy20/issuelab-secondme/internal/agent/telemetry"
	"github.com/gqy20/issuelab-secondme/internal/queue/streams"
	"github.com/gqy20/issuelab-secondme/internal/reasoner"
	"github.com/gqy20/issuelab-secondme/internal/responder"
	"github.com/gqy20/issuelab-secondme/internal/store"
	"github.com/redis/go-redis/v9"
)

// Deps is the shared dependency graph used by the HTTP server and the CLI.
type Deps struct {
	Config       *config.Config
	Metrics      *telemetry.Metrics
	Orchestrator *core.Orchestrator
	Store        *store.Store
	Mirror       *streams.Mirror

	redis *redis.Client
}

// NewDeps wires storage, the event mirror and the orchestrator from cfg.
// Storage and Redis are optional.
func NewDeps(ctx context.Context, cfg *config.Config) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	d := &Deps{Config: cfg, Metrics: telemetry.NewMetrics()}

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.Store = st
	var persistence core.PersistenceSink = core.NopSink{}
	if st != nil {
		persistence = st
	}

	if cfg.Storage.Redis.Enabled() {
		rdb, err := streams.NewRedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.redis = rdb
		mirror, err := streams.NewMirror(rdb, cfg.Storage.Redis.StreamMaxLen, cfg.Storage.Redis.StreamTTL, cfg.Storage.Redis.Timeout)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Mirror = mirror
	}

	reasonerLogger := log.New(log.Writer(), "[REASONER] ", log.LstdFlags)
	runner := reasoner.NewRunner(reasoner.NewOpenAICompleter(cfg.Reasoner), cfg.Reasoner.Timeout(), reasonerLogger, d.Metrics)
	client := responder.NewClient(cfg.Responder, d.Metrics)

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch, err := core.NewOrchestrator(cfg, orchLogger, d.Metrics, runner, client, persistence)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Orchestrator = orch
	return d, nil
}

// Close releases the store and Redis connections.
func (d *Deps) Close() {
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}
