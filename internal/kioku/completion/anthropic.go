package completion

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

const (
	defaultAnthropicMaxTokens = 1024
	providerAnthropic         = "anthropic"
)

// AnthropicConfig configures the Anthropic Messages API completer.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Anthropic implements memory.Completer over the Anthropic Messages API.
//
// System messages are lifted into the request's system prompt, in order.
// The SDK's own retries are disabled; wrap with WithRetry instead.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	apiKey    string
	logger    *slog.Logger
}

var _ memory.Completer = (*Anthropic)(nil)

// NewAnthropic constructs an Anthropic completer.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		apiKey:    apiKey,
		logger:    logger,
	}, nil
}

// Complete sends messages to the Messages API and returns the concatenated
// text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	system, turns := splitSystem(messages)

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages:  turns,
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, req)
	if err != nil {
		var sdkErr *anthropic.Error
		if errors.As(err, &sdkErr) {
			err = &APIError{
				Provider:   providerAnthropic,
				StatusCode: sdkErr.StatusCode,
				Message:    sdkErr.Error(),
			}
		}
		return "", endpointError(providerAnthropic, "create message", err, a.apiKey)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(text.Text)
		}
	}
	if reply.Len() == 0 {
		return "", endpointError(providerAnthropic, "read content", ErrEmptyResponse, a.apiKey)
	}

	a.logger.DebugContext(ctx, "completion: anthropic reply",
		"model", a.model,
		"messages", len(messages),
		"duration", time.Since(start),
		"stop_reason", string(msg.StopReason),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return reply.String(), nil
}

// splitSystem moves system messages into a single system prompt. The API
// requires at least one turn, so a request made only of system text (as a
// summarisation request is) is sent as a user turn instead.
func splitSystem(messages []memory.Message) (string, []anthropic.MessageParam) {
	var system []string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case memory.RoleSystem:
			system = append(system, m.Content)
		case memory.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	joined := strings.Join(system, "\n\n")
	if len(turns) == 0 && joined != "" {
		return "", []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(joined))}
	}
	return joined, turns
}
