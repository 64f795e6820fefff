package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gqy20/issuelab-secondme/config"
	"github.com/gqy20/issuelab-secondme/internal/agent/telemetry"
	"github.com/gqy20/issuelab-secondme/internal/helpers"
)

const chatStreamPath = "/api/secondme/chat/stream"

var (
	// ErrTimeout is returned when the call is aborted by its deadline or the
	// caller's context.
	ErrTimeout = errors.New("responder timeout")
	// ErrEmptyReply is returned when the stream completed without any text.
	ErrEmptyReply = errors.New("responder returned an empty reply")
)

// HTTPError reports a non-success response or an in-stream error event.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("responder http %d: %s", e.Status, e.Message)
}

// ChatRequest is one message to the responder. An empty SessionID starts a
// new conversation.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChatReply is the concatenated streamed reply and the last session id seen.
type ChatReply struct {
	Text      string
	SessionID string
}

// Client calls the streaming chat endpoint.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *log.Logger
	metrics *telemetry.Metrics
}

// NewClient builds a client from responder configuration. The http client has
// no overall timeout; each call carries its own deadline instead.
func NewClient(cfg config.ResponderConfig, metrics *telemetry.Metrics) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultResponderTimeoutMS) * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{},
		logger:  log.New(log.Writer(), "[RESPONDER] ", log.LstdFlags),
		metrics: metrics,
	}
}

// Chat sends req and reads the event stream to completion. onSession, when
// non-nil, is invoked each time the responder assigns a different session id.
func (c *Client) Chat(ctx context.Context, req ChatRequest, onSession func(string)) (ChatReply, error) {
	reply, err := c.chat(ctx, req, onSession)
	c.metrics.ResponderCall(outcome(err))
	if err != nil {
		c.logger.Printf("chat session=%q failed: %v", req.SessionID, err)
	}
	return reply, err
}

func (c *Client) chat(ctx context.Context, req ChatRequest, onSession func(string)) (ChatReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return ChatReply{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatStreamPath, bytes.NewReader(body))
	if err != nil {
		return ChatReply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatReply{}, ErrTimeout
		}
		return ChatReply{}, &HTTPError{Status: 0, Message: helpers.Truncate(err.Error(), 300)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ChatReply{}, &HTTPError{Status: resp.StatusCode, Message: helpers.Truncate(strings.TrimSpace(string(b)), 300)}
	}

	reply := ChatReply{SessionID: req.SessionID}
	setSession := func(id string) {
		if id == "" || id == reply.SessionID {
			return
		}
		reply.SessionID = id
		if onSession != nil {
			onSession(id)
		}
	}

	var text strings.Builder
	err = readEvents(resp.Body, func(ev sseEvent) (bool, error) {
		switch ev.name {
		case "session":
			setSession(sessionIDFrom(ev.data))
			return false, nil
		case "error":
			return true, &HTTPError{Status: http.StatusBadGateway, Message: helpers.Truncate(ev.data, 300)}
		}
		if strings.TrimSpace(ev.data) == "[DONE]" {
			return true, nil
		}
		chunk, sid := decodeChunk(ev.data)
		setSession(sid)
		text.WriteString(chunk)
		return false, nil
	})
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return reply, err
		}
		if ctx.Err() != nil {
			return reply, ErrTimeout
		}
		return reply, &HTTPError{Status: resp.StatusCode, Message: helpers.Truncate(err.Error(), 300)}
	}

	reply.Text = strings.TrimSpace(text.String())
	if reply.Text == "" {
		return reply, ErrEmptyReply
	}
	return reply, nil
}

type sseEvent struct {
	name string
	data string
}

// readEvents splits an SSE body into events and hands each to fn until fn
// reports stop or the body ends.
func readEvents(r io.Reader, fn func(sseEvent) (bool, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	flush := func() (bool, error) {
		if len(data) == 0 {
			name = ""
			return false, nil
		}
		ev := sseEvent{name: name, data: strings.Join(data, "\n")}
		name, data = "", nil
		return fn(ev)
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case line == "":
			if stop, err := flush(); stop || err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	_, err := flush()
	return err
}

func sessionIDFrom(data string) string {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return strings.TrimSpace(data)
	}
	return payload.SessionID
}

// decodeChunk pulls the text delta from an OpenAI-style chunk or a bare
// {"content": ...} object. Non-JSON data is treated as literal text.
func decodeChunk(data string) (string, string) {
	var chunk struct {
		SessionID string `json:"sessionId"`
		Content   string `json:"content"`
		Choices   []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return data, ""
	}
	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		return chunk.Choices[0].Delta.Content, chunk.SessionID
	}
	return chunk.Content, chunk.SessionID
}

func outcome(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyReply):
		return "empty"
	case errors.As(err, &httpErr):
		return "http_error"
	default:
		return "error"
	}
}
