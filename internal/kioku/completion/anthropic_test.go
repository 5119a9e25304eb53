package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

const anthropicReply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{"type": "text", "text": "summary "}, {"type": "text", "text": "text"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 12, "output_tokens": 3}
}`

type anthropicWire struct {
	System []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func TestNewAnthropic_Validation(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{Model: "m"}); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewAnthropic(AnthropicConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
}

func TestAnthropic_Complete(t *testing.T) {
	var got anthropicWire
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(anthropicReply))
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: srv.URL, MaxTokens: 256})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	reply, err := c.Complete(context.Background(), []memory.Message{
		{Role: memory.RoleSystem, Content: "Memory Summary:\nearlier"},
		{Role: memory.RoleUser, Content: "q1"},
		{Role: memory.RoleAssistant, Content: "a1"},
		{Role: memory.RoleUser, Content: "q2"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "summary text" {
		t.Errorf("reply = %q", reply)
	}
	if len(got.System) != 1 || got.System[0].Text != "Memory Summary:\nearlier" {
		t.Errorf("system = %+v", got.System)
	}
	if len(got.Messages) != 3 || got.Messages[1].Role != "assistant" || got.Messages[2].Content[0].Text != "q2" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.MaxTokens != 256 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestAnthropic_SystemOnlyBecomesUserTurn(t *testing.T) {
	system, turns := splitSystem([]memory.Message{
		{Role: memory.RoleSystem, Content: "Summarize for future context:\nuser: hi"},
	})
	if system != "" {
		t.Errorf("system = %q, want empty", system)
	}
	if len(turns) != 1 {
		t.Fatalf("expected one turn, got %d", len(turns))
	}
}

func TestAnthropic_RateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "m", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	_, err = c.Complete(context.Background(), []memory.Message{{Role: memory.RoleUser, Content: "x"}})
	if !errors.Is(err, memory.ErrEndpoint) || !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrEndpoint and ErrRateLimit, got %v", err)
	}
	if calls != 1 {
		t.Errorf("SDK retried internally: %d calls", calls)
	}
}
