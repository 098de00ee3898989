package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// OpenAIProvider adapts OpenAI chat completions to the agent.LLMProvider
// contract.
//
// The adapter always streams. Text deltas are forwarded as they arrive, and
// tool-call fragments pass through raw with their upstream indices intact:
// the response processor's accumulator owns reassembly, so this adapter never
// buffers or completes a call itself. Request creation is retried with linear
// backoff for transient failures; once the stream is open, errors terminate
// it through the chunk's Error field.
//
// An OpenAIProvider is safe for concurrent use; each Complete call owns an
// independent stream and goroutine.
type OpenAIProvider struct {
	baseProvider
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider. Only APIKey is required.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible
	// servers.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// MaxRetries bounds request-creation retries. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff between attempts. Default 1s.
	RetryDelay time.Duration
}

// NewOpenAIProvider creates the adapter.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		baseProvider: newBaseProvider(cfg.MaxRetries, cfg.RetryDelay),
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

// Name returns the stable provider identifier used in config and logs.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// SupportsTools reports that structured tool calling is available.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming completion and returns its chunk channel. The
// channel closes when the stream ends; stream-time failures arrive as a chunk
// with Error set.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolDefinitions(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.retry(ctx, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case chunks <- &agent.CompletionChunk{Error: NewProviderError(p.Name(), model, err)}:
			case <-ctx.Done():
			}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		out := &agent.CompletionChunk{Text: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			out.ToolCallDeltas = append(out.ToolCallDeltas, models.ToolCallDelta{
				Index: index,
				ID:    tc.ID,
				Type:  string(tc.Type),
				Function: models.FunctionDelta{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		if choice.FinishReason != "" {
			out.FinishReason = string(choice.FinishReason)
		}
		if out.Text == "" && len(out.ToolCallDeltas) == 0 && out.FinishReason == "" {
			continue
		}
		select {
		case chunks <- out:
		case <-ctx.Done():
			return
		}
	}
}

// convertMessages maps the thread transcript to OpenAI's wire shape. The
// system prompt is injected as the leading message; tool results become
// role=tool messages bound to their call id; image parts use the
// multi-content form.
func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Text(),
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			converted := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, converted)
		default:
			if parts := multiContentParts(msg.Parts); parts != nil {
				out = append(out, openai.ChatCompletionMessage{
					Role:         string(msg.Role),
					MultiContent: parts,
				})
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Text(),
			})
		}
	}
	return out
}

// multiContentParts builds the vision message form. Messages without image
// parts flatten to plain string content instead.
func multiContentParts(parts []models.ContentPart) []openai.ChatMessagePart {
	hasImage := false
	for _, part := range parts {
		if part.Type == models.ContentPartImageURL && part.ImageURL != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}
	converted := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case models.ContentPartText:
			converted = append(converted, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case models.ContentPartImageURL:
			if part.ImageURL == nil {
				continue
			}
			converted = append(converted, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL.URL,
					Detail: imageDetail(part.ImageURL.Detail),
				},
			})
		}
	}
	return converted
}

func imageDetail(detail string) openai.ImageURLDetail {
	switch detail {
	case "low":
		return openai.ImageURLDetailLow
	case "high":
		return openai.ImageURLDetailHigh
	default:
		return openai.ImageURLDetailAuto
	}
}

// convertToolDefinitions maps declarations to OpenAI function tools. A
// definition whose parameter schema fails to decode degrades to an open
// object schema so the rest of the batch still registers.
func convertToolDefinitions(defs []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil || schema == nil {
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

var _ agent.LLMProvider = (*OpenAIProvider)(nil)
