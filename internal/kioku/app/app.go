// Package app ties the memory manager, a model endpoint, the attachment
// importers and the JSON extractor together into chat turns.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bdobrica/kioku/common/trace"
	"github.com/bdobrica/kioku/internal/kioku/importer"
	"github.com/bdobrica/kioku/internal/kioku/jsonblock"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/tokens"
)

// ErrNoImageImporter is returned when a turn carries images but no OCR
// importer is configured.
var ErrNoImageImporter = errors.New("app: no image importer configured")

// Options holds the collaborators of an App. Memory, Completer and Counter
// are required.
type Options struct {
	Memory    *memory.Manager
	Completer memory.Completer
	Counter   tokens.Counter

	// Files imports document attachments; Images runs OCR on images.
	Files  importer.Importer
	Images importer.Importer

	// Extractor saves fenced JSON blocks from replies when a request asks
	// for it.
	Extractor *jsonblock.Extractor

	// ContextTokenLimit is the model's context window. A larger request is
	// still sent, with a warning.
	ContextTokenLimit int

	Logger *slog.Logger

	// Closers are released by Close, in order.
	Closers []io.Closer
}

// App runs chat turns against one persisted conversation.
type App struct {
	memory    *memory.Manager
	completer memory.Completer
	counter   tokens.Counter
	files     importer.Importer
	images    importer.Importer
	extractor *jsonblock.Extractor
	limit     int
	logger    *slog.Logger
	closers   []io.Closer
}

// Request is one user turn.
type Request struct {
	Prompt string
	Files  []string
	Images []string

	// ExtractJSON saves fenced JSON blocks found in the reply.
	ExtractJSON bool
}

// Result is the outcome of a turn.
type Result struct {
	Reply string

	// ContextTokens is the size of the request sent to the model.
	ContextTokens int

	// SavedJSON lists the files written by JSON extraction.
	SavedJSON []string
}

// NewApp builds an App from already constructed parts.
func NewApp(opts Options) (*App, error) {
	if opts.Memory == nil {
		return nil, errors.New("app: memory manager is required")
	}
	if opts.Completer == nil {
		return nil, errors.New("app: completer is required")
	}
	if opts.Counter == nil {
		return nil, errors.New("app: token counter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		memory:    opts.Memory,
		completer: opts.Completer,
		counter:   opts.Counter,
		files:     opts.Files,
		images:    opts.Images,
		extractor: opts.Extractor,
		limit:     opts.ContextTokenLimit,
		logger:    logger,
		closers:   opts.Closers,
	}, nil
}

// Chat runs one turn: it imports the attachments, sends the summary,
// history, attachments and prompt to the model, and records the prompt and
// reply in memory.
//
// Nothing is recorded when importing or the model call fails. When the
// reply arrives but recording it fails (compaction or persistence), the
// Result still carries the reply and the error says what went wrong.
func (a *App) Chat(ctx context.Context, req Request) (Result, error) {
	ctx = trace.Ensure(ctx)
	start := time.Now()

	attachments, err := a.importAll(ctx, req)
	if err != nil {
		return Result{}, err
	}

	msgs := a.memory.BuildContextMessages(req.Prompt, attachments...)
	contextTokens := 0
	for _, m := range msgs {
		n, err := a.counter.Count(m.Content)
		if err != nil {
			return Result{}, fmt.Errorf("app: count context tokens: %w", err)
		}
		contextTokens += n
	}
	if a.limit > 0 && contextTokens > a.limit {
		a.logger.WarnContext(ctx, "context exceeds the model's token limit; relying on provider transform",
			"tokens", contextTokens,
			"limit", a.limit,
		)
	}

	reply, err := a.completer.Complete(ctx, msgs)
	if err != nil {
		return Result{}, fmt.Errorf("app: complete: %w", err)
	}
	res := Result{Reply: reply, ContextTokens: contextTokens}

	var errs []error
	if err := a.memory.AppendTurn(ctx, req.Prompt, reply); err != nil {
		errs = append(errs, fmt.Errorf("app: record turn: %w", err))
	}

	if req.ExtractJSON && a.extractor != nil {
		paths, err := a.extractor.ExtractAndSave(reply)
		if err != nil {
			errs = append(errs, fmt.Errorf("app: extract json: %w", err))
		}
		res.SavedJSON = paths
	}

	a.logger.InfoContext(ctx, "chat turn complete",
		"attachments", len(attachments),
		"context_tokens", contextTokens,
		"reply_len", len(reply),
		"history", len(a.memory.History()),
		"duration", time.Since(start),
	)
	return res, errors.Join(errs...)
}

func (a *App) importAll(ctx context.Context, req Request) ([]memory.Attachment, error) {
	out := make([]memory.Attachment, 0, len(req.Files)+len(req.Images))
	if len(req.Files) > 0 && a.files == nil {
		return nil, fmt.Errorf("app: %w: no file importer configured", importer.ErrUnsupportedFormat)
	}
	for _, path := range req.Files {
		text, err := a.files.Import(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("app: import %s: %w", path, err)
		}
		out = append(out, memory.Attachment{Source: path, Kind: memory.AttachmentFile, Text: text})
	}
	if len(req.Images) > 0 && a.images == nil {
		return nil, ErrNoImageImporter
	}
	for _, path := range req.Images {
		text, err := a.images.Import(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("app: import image %s: %w", path, err)
		}
		out = append(out, memory.Attachment{Source: path, Kind: memory.AttachmentImage, Text: text})
	}
	return out, nil
}

// Summary returns the accumulated conversation summary.
func (a *App) Summary() string {
	return a.memory.Summary()
}

// History returns a copy of the retained messages.
func (a *App) History() []memory.Message {
	return a.memory.History()
}

// Close releases the store and any other resources, returning every error.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
