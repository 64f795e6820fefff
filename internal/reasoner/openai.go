package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gqy20/issuelab-secondme/config"
	"github.com/gqy20/issuelab-secondme/internal/helpers"
	"github.com/sashabaranov/go-openai"
)

const maxErrorMessage = 300

// Completer issues one stateless system/user prompt call and returns the raw
// model text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAICompleter talks to any OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAICompleter builds a completer from reasoner configuration.
func NewOpenAICompleter(cfg config.ReasonerConfig) *OpenAICompleter {
	cfg = cfg.Normalize()
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps transport errors onto the closed reasoner error set.
// Cancellation wins over any HTTP detail.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Status: apiErr.HTTPStatusCode, Message: helpers.Truncate(apiErr.Message, maxErrorMessage)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := string(reqErr.Body)
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &HTTPError{Status: reqErr.HTTPStatusCode, Message: helpers.Truncate(msg, maxErrorMessage)}
	}
	return &HTTPError{Status: 0, Message: helpers.Truncate(fmt.Sprint(err), maxErrorMessage)}
}
