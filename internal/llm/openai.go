package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/httpkit"
)

// OpenAIClient is a [Client] for the OpenAI chat completions API using
// the legacy functions catalog.
type OpenAIClient struct {
	client          *openai.Client
	model           string
	temperature     float32
	presencePenalty float32
	logger          *slog.Logger
}

// NewOpenAIClient creates a client from cfg. An empty BaseURL targets
// api.openai.com.
func NewOpenAIClient(cfg config.OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "openai")

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(cfg.Timeout()),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)

	return &OpenAIClient{
		client:          openai.NewClientWithConfig(oc),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		presencePenalty: cfg.PresencePenalty,
		logger:          logger,
	}
}

// Ping checks that the provider is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	creq := openai.ChatCompletionRequest{
		Model:           c.model,
		Messages:        toOpenAIMessages(req.System, req.Turns),
		Temperature:     c.temperature,
		PresencePenalty: c.presencePenalty,
		Functions:       toOpenAIFunctions(req.Functions),
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(creq.Messages),
		"functions", len(creq.Functions),
	)
	if c.logger.Enabled(ctx, config.LevelTrace) {
		if payload, err := json.Marshal(creq); err == nil {
			c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(payload))
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("API error", "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	msg := resp.Choices[0].Message
	out := &Response{
		Model:        resp.Model,
		Message:      history.Turn{Role: history.RoleAssistant, Content: msg.Content},
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if msg.FunctionCall != nil {
		out.Message.Action = &history.ActionRequest{
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		}
	}

	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"function_call", out.Message.Action != nil,
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", out.Message.Content)

	return out, nil
}

func toOpenAIMessages(system string, turns []history.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, t := range turns {
		m := openai.ChatCompletionMessage{
			Role:    string(t.Role),
			Content: t.Content,
			Name:    t.Name,
		}
		if t.Action != nil {
			m.FunctionCall = &openai.FunctionCall{
				Name:      t.Action.Name,
				Arguments: t.Action.Arguments,
			}
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func toOpenAIFunctions(defs []FunctionDef) []openai.FunctionDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.FunctionDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
