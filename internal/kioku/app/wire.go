package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/config"
	"github.com/bdobrica/kioku/internal/kioku/importer"
	"github.com/bdobrica/kioku/internal/kioku/jsonblock"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/store"
	"github.com/bdobrica/kioku/internal/kioku/tokens"
)

// New builds an App from configuration: tokenizer, store, model endpoint
// (with retries), importers and JSON extractor. The caller must Close it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter, err := NewCounter(cfg.Memory.Tokenizer)
	if err != nil {
		return nil, err
	}

	st, closer, err := NewStore(ctx, cfg.Memory, logger)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if closer != nil {
		closers = append(closers, closer)
	}
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}

	completer, err := NewCompleter(cfg, logger)
	if err != nil {
		return fail(err)
	}

	mgr, err := memory.New(ctx, memory.Config{
		Budget:    cfg.Memory.MaxHistoryTokens,
		Counter:   counter,
		Completer: completer,
		Store:     st,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	logger.InfoContext(ctx, "memory ready",
		"backend", cfg.Memory.Backend,
		"path", cfg.Memory.Path,
		"messages", len(mgr.History()),
		"budget", cfg.Memory.MaxHistoryTokens,
		"tokenizer", cfg.Memory.Tokenizer,
	)

	return NewApp(Options{
		Memory:    mgr,
		Completer: completer,
		Counter:   counter,
		Files:     importer.Default(logger),
		Images:    importer.NewOCR(cfg.OCR.Lang, cfg.OCR.Args),
		Extractor: jsonblock.New(jsonblock.Config{
			OutputDir:      cfg.JSON.OutputDir,
			UseTopKeyNames: cfg.JSON.UseTopKeyNames,
			ForcedName:     cfg.JSON.ForcedName,
			Repair:         cfg.JSON.Repair,
			Logger:         logger,
		}),
		ContextTokenLimit: cfg.Memory.ContextTokenLimit,
		Logger:            logger,
		Closers:           closers,
	})
}

// NewCounter returns the token counter named by tokenizer: "heuristic" or
// a tiktoken encoding such as cl100k_base.
func NewCounter(tokenizer string) (tokens.Counter, error) {
	if tokenizer == config.TokenizerHeuristic {
		return tokens.Heuristic{}, nil
	}
	t, err := tokens.NewTiktoken(tokenizer)
	if err != nil {
		return nil, fmt.Errorf("app: tokenizer: %w", err)
	}
	return t, nil
}

// NewStore opens the configured memory backend. The returned closer is nil
// for backends that hold no resources.
func NewStore(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (memory.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Path, cfg.Conversation, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		return s, s, nil
	case config.BackendFile:
		s, err := store.NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open file store: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown memory backend %q", cfg.Backend)
	}
}

// NewCompleter returns the configured model endpoint wrapped with retries.
func NewCompleter(cfg config.Config, logger *slog.Logger) (memory.Completer, error) {
	var c memory.Completer
	switch cfg.Provider {
	case config.ProviderAnthropic:
		ac := completion.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   anthropicBaseURL(cfg.BaseURL),
			MaxTokens: cfg.MaxReplyTokens,
			Logger:    logger,
		}
		if cfg.Timeout > 0 {
			ac.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		}
		a, err := completion.NewAnthropic(ac)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		c = a
	case config.ProviderOpenAI:
		c = completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Transform: cfg.Transform,
			MaxTokens: cfg.MaxReplyTokens,
			Timeout:   cfg.Timeout,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("app: unknown provider %q", cfg.Provider)
	}

	rc := cfg.Retry
	rc.Logger = logger
	return completion.WithRetry(c, rc, logger), nil
}

// anthropicBaseURL drops the OpenRouter default so the SDK uses its own
// endpoint unless one was configured explicitly.
func anthropicBaseURL(u string) string {
	if u == config.Default().BaseURL {
		return ""
	}
	return u
}
