package server

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	core "github.com/gqy20/issuelab-secondme/internal/agent/core"
	"github.com/labstack/echo/v4"
)

// sseWriter frames events as "event: name" / "data: json" blocks. After the
// first write error (client gone) further events are dropped.
type sseWriter struct {
	mu      sync.Mutex
	resp    *echo.Response
	flusher http.Flusher
	broken  bool
	logger  *log.Logger
}

func newSSEWriter(c echo.Context, logger *log.Logger) (*sseWriter, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{resp: resp, flusher: flusher, logger: logger}, nil
}

// Emit implements core.EventSink.
func (w *sseWriter) Emit(ev core.Event) {
	data, err := core.Payload(ev)
	if err != nil {
		w.logger.Printf("encode %s: %v", ev.Name(), err)
		return
	}
	w.write(ev.Name(), data)
}

func (w *sseWriter) write(name string, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return
	}
	if _, err := fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", name, data); err != nil {
		w.broken = true
		w.logger.Printf("sse write %s: %v", name, err)
		return
	}
	w.flusher.Flush()
}
