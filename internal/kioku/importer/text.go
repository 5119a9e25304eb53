package importer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Text reads a UTF-8 text file as-is.
type Text struct{}

func (Text) Import(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("importer: read %s: %w", path, err)
	}
	return string(data), nil
}

// HTML converts an HTML document to Markdown, which keeps headings, lists
// and links while dropping markup the model does not need.
type HTML struct{}

func (HTML) Import(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("importer: read %s: %w", path, err)
	}
	md, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("importer: convert %s to markdown: %w", path, err)
	}
	return md, nil
}

// Base64 embeds any file as base64 under a "<BASE64 name>" header line.
type Base64 struct{}

func (Base64) Import(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("importer: read %s: %w", path, err)
	}
	return fmt.Sprintf("<BASE64 %s>\n%s", filepath.Base(path), base64.StdEncoding.EncodeToString(data)), nil
}
