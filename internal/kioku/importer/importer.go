// Package importer turns attachment files into text that can be injected
// into a conversation.
//
// Each format is handled by its own Importer value; a Registry dispatches on
// the lower-cased file extension and may fall back to a catch-all importer
// for everything else.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no importer handles a file.
	ErrUnsupportedFormat = errors.New("importer: unsupported format")

	// ErrMissingDependency is returned when the external tool a format
	// needs is not installed.
	ErrMissingDependency = errors.New("importer: missing dependency")
)

// Importer extracts text from the file at path.
type Importer interface {
	Import(ctx context.Context, path string) (string, error)
}

// Func adapts a plain function to the Importer interface.
type Func func(ctx context.Context, path string) (string, error)

// Import calls f.
func (f Func) Import(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry maps file extensions to importers. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	byExt    map[string]Importer
	fallback Importer
	logger   *slog.Logger
}

var _ Importer = (*Registry)(nil)

// NewRegistry returns an empty registry with no fallback.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byExt: make(map[string]Importer), logger: logger}
}

// Register routes the given extensions (with or without the leading dot,
// any case) to imp, replacing earlier registrations.
func (r *Registry) Register(imp Importer, exts ...string) {
	for _, ext := range exts {
		r.byExt[normalizeExt(ext)] = imp
	}
}

// SetFallback sets the importer used for unregistered extensions. Nil
// removes it.
func (r *Registry) SetFallback(imp Importer) {
	r.fallback = imp
}

// Extensions lists the registered extensions, in no particular order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

// Import dispatches path to the importer registered for its extension.
func (r *Registry) Import(ctx context.Context, path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	imp, ok := r.byExt[ext]
	if !ok {
		if r.fallback == nil {
			return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, ext, filepath.Base(path))
		}
		imp = r.fallback
	}

	text, err := imp.Import(ctx, path)
	if err != nil {
		return "", err
	}
	r.logger.DebugContext(ctx, "importer: file imported",
		"file", filepath.Base(path),
		"ext", ext,
		"fallback", !ok,
		"chars", len(text),
	)
	return text, nil
}

// Default returns a registry covering plain text, Markdown, HTML, DOCX and
// PDF, with the base64 fallback for any other extension.
func Default(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(Text{}, ".txt", ".md")
	r.Register(HTML{}, ".html", ".htm")
	r.Register(DOCX{}, ".docx")
	r.Register(NewPDF(), ".pdf")
	r.SetFallback(Base64{})
	return r
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
