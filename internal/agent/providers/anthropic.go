package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before treating the stream as malformed. Protects against streams that
// flood with empty events.
const maxEmptyStreamEvents = 300

// AnthropicProvider adapts the Anthropic Messages API to the
// agent.LLMProvider contract.
//
// Anthropic streams tool calls as content blocks: a content_block_start
// carries the call id and name, then input_json_delta events stream the
// argument JSON. The adapter translates those into indexed tool-call
// fragments: each tool_use block gets the next ordinal index, the start
// event becomes the id+name fragment, and every input_json_delta becomes an
// arguments fragment at the same index. Reassembly stays with the response
// processor.
//
// Safe for concurrent use; each Complete call owns its own stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig holds construction parameters. APIKey is required;
// everything else defaults.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	// Default "claude-sonnet-4-20250514".
	DefaultModel string

	// MaxTokens is the output token limit applied when a request does not
	// set one. The Messages API requires a limit on every call. Default 4096.
	MaxTokens int

	// MaxRetries bounds the SDK's transport-level retries for transient
	// failures. Default 3.
	MaxRetries int

	// RetryDelay is kept for config symmetry with the other providers; the
	// Anthropic SDK manages its own backoff schedule.
	RetryDelay time.Duration
}

// NewAnthropicProvider creates the adapter.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the stable provider identifier used in config and logs.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// SupportsTools reports that structured tool calling is available.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming completion and returns its chunk channel. The
// returned error covers request construction only; stream-time failures
// arrive as a chunk with Error set.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream converts Anthropic SSE events to the neutral chunk contract.
//
// Tool-use blocks are assigned ordinal indices in arrival order so that
// downstream reassembly sees the same indexed-fragment shape every provider
// emits. A tool block that closes without any input deltas gets a synthetic
// "{}" arguments fragment, since a call with no parameters still has to
// complete.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// Block index in the response -> ordinal tool-call index.
	toolIndex := make(map[int64]int)
	sawInput := make(map[int64]bool)
	nextTool := 0
	emptyEventCount := 0

	send := func(out *agent.CompletionChunk) bool {
		select {
		case chunks <- out:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}

		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			eventProcessed = true

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				ordinal := nextTool
				nextTool++
				toolIndex[start.Index] = ordinal
				out := &agent.CompletionChunk{
					ToolCallDeltas: []models.ToolCallDelta{{
						Index:    ordinal,
						ID:       toolUse.ID,
						Type:     "function",
						Function: models.FunctionDelta{Name: toolUse.Name},
					}},
				}
				if !send(out) {
					return
				}
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					if !send(&agent.CompletionChunk{Text: delta.Delta.Text}) {
						return
					}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.Delta.PartialJSON != "" {
					ordinal, ok := toolIndex[delta.Index]
					if !ok {
						break
					}
					sawInput[delta.Index] = true
					out := &agent.CompletionChunk{
						ToolCallDeltas: []models.ToolCallDelta{{
							Index:    ordinal,
							Function: models.FunctionDelta{Arguments: delta.Delta.PartialJSON},
						}},
					}
					if !send(out) {
						return
					}
					eventProcessed = true
				}
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			if ordinal, ok := toolIndex[stop.Index]; ok && !sawInput[stop.Index] {
				// Parameterless call: no input deltas ever arrive, so
				// complete it with an empty object.
				out := &agent.CompletionChunk{
					ToolCallDeltas: []models.ToolCallDelta{{
						Index:    ordinal,
						Function: models.FunctionDelta{Arguments: "{}"},
					}},
				}
				if !send(out) {
					return
				}
			}
			eventProcessed = true

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if reason := string(messageDelta.Delta.StopReason); reason != "" {
				if !send(&agent.CompletionChunk{FinishReason: mapStopReason(reason)}) {
					return
				}
			}
			eventProcessed = true

		case "message_stop":
			return

		case "error":
			send(&agent.CompletionChunk{
				Error: NewProviderError(p.Name(), model, errors.New("anthropic stream error")),
			})
			return
		}

		if eventProcessed {
			emptyEventCount = 0
			continue
		}
		emptyEventCount++
		if emptyEventCount >= maxEmptyStreamEvents {
			send(&agent.CompletionChunk{
				Error: NewProviderError(p.Name(), model,
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount)),
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(&agent.CompletionChunk{Error: NewProviderError(p.Name(), model, err)})
	}
}

// mapStopReason translates Anthropic stop reasons to the neutral finish
// vocabulary shared by all providers.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// convertAnthropicMessages maps the thread transcript to Anthropic's content
// block format. Tool results ride in user messages as tool_result blocks;
// assistant tool calls become tool_use blocks. System messages are skipped
// because the system prompt travels separately on the request.
func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		if text := msg.Text(); text != "" {
			content = append(content, anthropic.NewTextBlock(text))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Function.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertAnthropicTools maps declarations to Anthropic tool params.
func convertAnthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

var _ agent.LLMProvider = (*AnthropicProvider)(nil)
