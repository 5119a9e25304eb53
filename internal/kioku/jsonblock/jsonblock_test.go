package jsonblock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const reply = "Here you go:\n" +
	"```json\n{\"user\": {\"name\": \"Ana\", \"age\": 31}}\n```\n" +
	"and also\n" +
	"```json {\"b\": 1, \"a\": 2} ```\n" +
	"```python\nprint('not json')\n```"

func TestFind(t *testing.T) {
	got := Find(reply)
	want := []string{
		`{"user": {"name": "Ana", "age": 31}}`,
		`{"b": 1, "a": 2}`,
	}
	if len(got) != len(want) {
		t.Fatalf("Find returned %d blocks: %q", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %q, want %q", i, got[i], want[i])
		}
	}
	if blocks := Find("no fences here {\"a\": 1}"); len(blocks) != 0 {
		t.Errorf("expected no blocks, got %q", blocks)
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"  User Profile ": "user_profile",
		"a/b\\c.d":        "a_b_c_d",
		"Résumé-2024":     "résumé-2024",
		"snake_case":      "snake_case",
	}
	for in, want := range tests {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractAndSave_Naming(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{OutputDir: dir, UseTopKeyNames: true})

	paths, err := e.ExtractAndSave(reply)
	if err != nil {
		t.Fatalf("ExtractAndSave: %v", err)
	}
	want := []string{filepath.Join(dir, "user.json"), filepath.Join(dir, "json_block_2.json")}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths = %v, want %v", paths, want)
	}

	// Second run must not overwrite.
	paths, err = e.ExtractAndSave(reply)
	if err != nil {
		t.Fatalf("ExtractAndSave: %v", err)
	}
	if filepath.Base(paths[0]) != "user_1.json" || filepath.Base(paths[1]) != "json_block_2_1.json" {
		t.Errorf("second run paths = %v", paths)
	}
}

func TestSave_PreservesKeyOrderAndUnicode(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{OutputDir: dir, ForcedName: "Result"})

	paths, err := e.ExtractAndSave("```json\n{\"zeta\": \"ü\", \"alpha\": [1, 2]}\n```")
	if err != nil {
		t.Fatalf("ExtractAndSave: %v", err)
	}
	if filepath.Base(paths[0]) != "result.json" {
		t.Errorf("path = %s", paths[0])
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"zeta\": \"ü\",\n  \"alpha\": [\n    1,\n    2\n  ]\n}"
	if string(data) != want {
		t.Errorf("file content:\n%s\nwant:\n%s", data, want)
	}
}

func TestForcedNameAppliesToEveryBlock(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{OutputDir: dir, ForcedName: "hello", UseTopKeyNames: true})
	paths, err := e.ExtractAndSave(reply)
	if err != nil {
		t.Fatalf("ExtractAndSave: %v", err)
	}
	if filepath.Base(paths[0]) != "hello.json" || filepath.Base(paths[1]) != "hello_1.json" {
		t.Errorf("paths = %v", paths)
	}
}

func TestBlankNamesFallBackToBlockNumber(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		text string
	}{
		{
			name: "whitespace forced name",
			cfg:  Config{ForcedName: "   "},
			text: "```json\n{\"a\": 1}\n```",
		},
		{
			name: "whitespace top-level key",
			cfg:  Config{UseTopKeyNames: true},
			text: "```json\n{\"  \": 1}\n```",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.OutputDir = t.TempDir()
			paths, err := New(tt.cfg).ExtractAndSave(tt.text)
			if err != nil {
				t.Fatalf("ExtractAndSave: %v", err)
			}
			if len(paths) != 1 || filepath.Base(paths[0]) != "json_block_1.json" {
				t.Errorf("paths = %v, want json_block_1.json", paths)
			}
		})
	}
}

func TestInvalidBlockAbortsBatch(t *testing.T) {
	dir := t.TempDir()
	text := "```json\n{\"ok\": 1}\n```\n```json\n{'bad': 1,}\n```"

	e := New(Config{OutputDir: dir})
	_, err := e.ExtractAndSave(text)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files written despite parse failure: %v", entries)
	}
}

func TestRepairFixesMalformedBlocks(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{OutputDir: dir, Repair: true, UseTopKeyNames: true})

	paths, err := e.ExtractAndSave("```json\n{'config': {'debug': true,}}\n```")
	if err != nil {
		t.Fatalf("ExtractAndSave: %v", err)
	}
	if filepath.Base(paths[0]) != "config.json" {
		t.Errorf("path = %s", paths[0])
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"debug": true`) {
		t.Errorf("repaired content = %s", data)
	}
}

func TestNoBlocksWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := New(Config{OutputDir: dir}).ExtractAndSave("plain reply")
	if err != nil || paths != nil {
		t.Fatalf("got (%v, %v)", paths, err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("output dir created for a reply without blocks")
	}
}
