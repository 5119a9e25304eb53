package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// tool runs an external converter that prints its result on stdout.
type tool struct {
	name string
	args func(path string) []string
}

func (t tool) run(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("importer: %w", err)
	}
	bin, err := exec.LookPath(t.name)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrMissingDependency, t.name)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, t.args(path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("importer: %s %s: %w", t.name, path, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return "", fmt.Errorf("importer: %s %s: %w: %s", t.name, path, err, msg)
		}
		return "", fmt.Errorf("importer: %s %s: %w", t.name, path, err)
	}
	return stdout.String(), nil
}

// PDF extracts text with poppler's pdftotext. Pages are separated by a
// newline.
type PDF struct {
	tool tool
}

// NewPDF returns a PDF importer that runs the pdftotext binary from PATH.
func NewPDF() *PDF {
	return &PDF{tool: tool{
		name: "pdftotext",
		args: func(path string) []string { return []string{"-layout", "-enc", "UTF-8", path, "-"} },
	}}
}

func (p *PDF) Import(ctx context.Context, path string) (string, error) {
	out, err := p.tool.run(ctx, path)
	if err != nil {
		return "", err
	}
	// pdftotext ends every page with a form feed.
	pages := strings.Split(strings.TrimRight(out, "\f\n"), "\f")
	for i := range pages {
		pages[i] = strings.TrimRight(pages[i], "\n")
	}
	return strings.Join(pages, "\n"), nil
}

// DefaultOCRConfig selects the LSTM engine and assumes a single uniform
// block of text.
var DefaultOCRConfig = []string{"--oem", "3", "--psm", "6"}

// OCR reads the text in an image with tesseract. Recognised words are
// joined by single spaces. Construct one with NewOCR and share it.
type OCR struct {
	tool tool
}

// NewOCR returns an OCR importer passing config to tesseract. A nil config
// uses DefaultOCRConfig; lang may be empty for tesseract's default.
func NewOCR(lang string, config []string) *OCR {
	if config == nil {
		config = DefaultOCRConfig
	}
	extra := append([]string(nil), config...)
	if lang != "" {
		extra = append(extra, "-l", lang)
	}
	return &OCR{tool: tool{
		name: "tesseract",
		args: func(path string) []string { return append([]string{path, "stdout"}, extra...) },
	}}
}

func (o *OCR) Import(ctx context.Context, path string) (string, error) {
	out, err := o.tool.run(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(out), " "), nil
}
