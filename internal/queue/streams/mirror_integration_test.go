package streams_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/gqy20/issuelab-secondme/internal/queue/streams"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMirrorSinkAndReplay(t *testing.T) {
	if testing.Short() || os.Getenv("ISSUELAB_INTEGRATION") != "1" {
		t.Skip("set ISSUELAB_INTEGRATION=1 to run redis integration tests")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	mirror, err := streams.NewMirror(client, 100, time.Hour, time.Second)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}

	sink := mirror.Sink(ctx, "run-42")
	sink.Emit(core.SessionEvent{SessionID: "s-1"})
	sink.Emit(core.DebateStatusEvent{Round: 0, Status: core.StatusRunning}) // rejected by schema, logged
	sink.Emit(core.FinalAnswerEvent{Text: "go"})
	sink.Emit(core.DoneEvent{SessionID: "s-1"})

	envs, err := mirror.Replay(ctx, "run-42")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("expected 3 mirrored events, got %d", len(envs))
	}
	wantTypes := []string{core.EventSession, core.EventFinalAnswer, core.EventDone}
	wantSeq := []int64{1, 3, 4}
	for i, env := range envs {
		if env.EventType != wantTypes[i] || env.Seq != wantSeq[i] || env.RunID != "run-42" {
			t.Fatalf("envelope %d: unexpected %+v", i, env)
		}
	}

	ttl, err := client.TTL(ctx, streams.StreamKey("run-42")).Result()
	if err != nil || ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected stream to expire within an hour, got %v err=%v", ttl, err)
	}

	empty, err := mirror.Replay(ctx, "missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty replay, got %d err=%v", len(empty), err)
	}
}
