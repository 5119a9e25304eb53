package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

const (
	defaultOpenAIBase  = "https://openrouter.ai/api/v1"
	defaultOpenAIModel = "deepseek/deepseek-chat-v3-0324:free"
	defaultTimeout     = 120 * time.Second

	providerOpenAI = "openai"
)

// OpenAIConfig configures the OpenAI-compatible completer.
type OpenAIConfig struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Any OpenAI-compatible endpoint
	// works. Defaults to https://openrouter.ai/api/v1 when empty.
	BaseURL string

	// Model is the chat model to use.
	Model string

	// Transform is an OpenRouter prompt transform (e.g. "middle-out") sent
	// with every request. Empty disables it.
	Transform string

	// MaxTokens caps the reply length. Zero leaves it to the provider.
	MaxTokens int

	// Timeout is the HTTP request timeout. Defaults to 120 s.
	Timeout time.Duration

	// HTTPClient replaces the default client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// OpenAI implements memory.Completer over the chat completions API.
// It is safe for concurrent use.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *slog.Logger
}

var _ memory.Completer = (*OpenAI)(nil)

// NewOpenAI returns a completer backed by an OpenAI-compatible chat API.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{cfg: cfg, client: client, logger: logger}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model      string       `json:"model"`
	Messages   []oaiMessage `json:"messages"`
	MaxTokens  int          `json:"max_tokens,omitempty"`
	Transforms []string     `json:"transforms,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage,omitempty"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Complete sends messages to the chat completions endpoint and returns the
// first choice's text.
func (o *OpenAI) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	body := oaiRequest{
		Model:     o.cfg.Model,
		Messages:  make([]oaiMessage, len(messages)),
		MaxTokens: o.cfg.MaxTokens,
	}
	for i, m := range messages {
		body.Messages[i] = oaiMessage{Role: string(m.Role), Content: m.Content}
	}
	if o.cfg.Transform != "" {
		body.Transforms = []string{o.cfg.Transform}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", o.fail("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", o.fail("create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", o.fail("http request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", o.fail("read response body", err)
	}

	var oaiResp oaiResponse
	decodeErr := json.Unmarshal(respBody, &oaiResp)

	if resp.StatusCode != http.StatusOK || oaiResp.Error != nil {
		apiErr := &APIError{Provider: providerOpenAI, StatusCode: resp.StatusCode}
		if oaiResp.Error != nil {
			apiErr.Type = oaiResp.Error.Type
			apiErr.Message = oaiResp.Error.Message
		} else {
			apiErr.Message = fmt.Sprintf("%.200s", strings.TrimSpace(string(respBody)))
		}
		return "", o.fail("call API", apiErr)
	}
	if decodeErr != nil {
		return "", o.fail("decode API response", decodeErr)
	}
	if len(oaiResp.Choices) == 0 {
		return "", o.fail("read choices", ErrEmptyResponse)
	}

	attrs := []any{
		"model", o.cfg.Model,
		"messages", len(messages),
		"duration", time.Since(start),
		"finish_reason", oaiResp.Choices[0].FinishReason,
	}
	if oaiResp.Usage != nil {
		attrs = append(attrs,
			"prompt_tokens", oaiResp.Usage.PromptTokens,
			"completion_tokens", oaiResp.Usage.CompletionTokens,
		)
	}
	o.logger.DebugContext(ctx, "completion: openai reply", attrs...)

	return oaiResp.Choices[0].Message.Content, nil
}

func (o *OpenAI) fail(action string, err error) error {
	return endpointError(providerOpenAI, action, err, o.cfg.APIKey)
}
