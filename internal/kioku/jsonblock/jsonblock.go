// Package jsonblock pulls fenced ```json blocks out of model replies and
// writes each one to its own file.
//
// It works on reply text only and has no link to the conversation memory.
package jsonblock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
)

// ErrInvalidJSON is returned when a block cannot be parsed (or repaired).
var ErrInvalidJSON = errors.New("jsonblock: invalid JSON")

var fencePattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// Find returns the raw text of every ```json fenced object in text, in
// order of appearance.
func Find(text string) []string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Config controls where and under which names blocks are saved.
type Config struct {
	// OutputDir receives the files. Created on demand; defaults to ".".
	OutputDir string

	// UseTopKeyNames names a file after the object's key when the object
	// has exactly one top-level key.
	UseTopKeyNames bool

	// ForcedName, when set, is the base name of every file.
	ForcedName string

	// Repair attempts to fix malformed blocks (single quotes, trailing
	// commas, unquoted keys...) before giving up on them.
	Repair bool

	Logger *slog.Logger
}

// Extractor saves JSON blocks found in text.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

// New returns an Extractor for cfg.
func New(cfg Config) *Extractor {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Parse validates every block and returns them as JSON values with their
// original key order. One bad block fails the whole batch.
func (e *Extractor) Parse(blocks []string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(blocks))
	for i, block := range blocks {
		raw, err := e.parseOne(block)
		if err != nil {
			return nil, fmt.Errorf("jsonblock: block %d: %w", i+1, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (e *Extractor) parseOne(block string) (json.RawMessage, error) {
	if json.Valid([]byte(block)) {
		return json.RawMessage(block), nil
	}
	if !e.cfg.Repair {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, syntaxError(block))
	}
	repaired, err := jsonrepair.JSONRepair(block)
	if err != nil {
		return nil, fmt.Errorf("%w: repair: %w", ErrInvalidJSON, err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("%w: repair produced invalid output", ErrInvalidJSON)
	}
	e.logger.Debug("jsonblock: repaired malformed block", "before", len(block), "after", len(repaired))
	return json.RawMessage(repaired), nil
}

func syntaxError(block string) error {
	var v any
	if err := json.Unmarshal([]byte(block), &v); err != nil {
		return err
	}
	return errors.New("malformed")
}

// Save writes each value to OutputDir and returns the paths written, in
// order. Names never overwrite existing files.
func (e *Extractor) Save(values []json.RawMessage) ([]string, error) {
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonblock: create output dir: %w", err)
	}

	paths := make([]string, 0, len(values))
	for i, v := range values {
		var buf bytes.Buffer
		if err := json.Indent(&buf, v, "", "  "); err != nil {
			return paths, fmt.Errorf("jsonblock: format block %d: %w", i+1, err)
		}

		path, err := e.writeUnique(e.baseName(i, v), buf.Bytes())
		if err != nil {
			return paths, fmt.Errorf("jsonblock: save block %d: %w", i+1, err)
		}
		e.logger.Info("saved JSON block", "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}

// ExtractAndSave runs Find, Parse and Save. Text without blocks is not an
// error; nothing is written and no paths are returned.
func (e *Extractor) ExtractAndSave(text string) ([]string, error) {
	blocks := Find(text)
	if len(blocks) == 0 {
		e.logger.Info("no JSON blocks found")
		return nil, nil
	}
	values, err := e.Parse(blocks)
	if err != nil {
		return nil, err
	}
	return e.Save(values)
}

// baseName picks the sanitized file name for the i-th value. A forced or
// key-derived name that sanitizes to nothing falls back to json_block_N.
func (e *Extractor) baseName(i int, v json.RawMessage) string {
	if name := Sanitize(e.cfg.ForcedName); name != "" {
		return name
	}
	if e.cfg.UseTopKeyNames {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil && len(obj) == 1 {
			for k := range obj {
				if name := Sanitize(k); name != "" {
					return name
				}
			}
		}
	}
	return fmt.Sprintf("json_block_%d", i+1)
}

// writeUnique creates base.json, or base_1.json, base_2.json... when taken.
// A failed write removes the partial file.
func (e *Extractor) writeUnique(base string, data []byte) (string, error) {
	name := base + ".json"
	for n := 1; ; n++ {
		path := filepath.Join(e.cfg.OutputDir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			name = fmt.Sprintf("%s_%d.json", base, n)
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", err
		}
		return path, nil
	}
}

// Sanitize lower-cases name and replaces every character other than
// letters, digits, underscore and hyphen with an underscore.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(strings.TrimSpace(name)))
}
