package upstream

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/factgate/factgate/pkg/observability/logging"
	"github.com/factgate/factgate/pkg/observability/metrics"
)

// ChatClientOptions configures the chat completion client.
type ChatClientOptions struct {
	Endpoint string // chat completion endpoint
}

// ChatClient calls an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	client openai.Client
}

// NewChatClient creates a client for the given endpoint.
func NewChatClient(options ChatClientOptions) *ChatClient {
	c := openai.NewClient(option.WithBaseURL(options.Endpoint))
	return &ChatClient{
		client: c,
	}
}

// Analyze sends the content to the model and returns the raw response
// text. The caller owns caching and admission; every call here is a
// real upstream request.
func (c *ChatClient) Analyze(ctx context.Context, model, content string) ([]byte, error) {
	logging.Infof("Querying '%s'", model)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(content),
		},
	})
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(model, "error").Inc()
		return nil, fmt.Errorf("error calling chat completions: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.UpstreamRequests.WithLabelValues(model, "empty").Inc()
		return nil, fmt.Errorf("no choices returned")
	}

	metrics.UpstreamRequests.WithLabelValues(model, "ok").Inc()
	return []byte(resp.Choices[0].Message.Content), nil
}
