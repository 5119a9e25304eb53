package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bdobrica/kioku/internal/kioku/importer"
	"github.com/bdobrica/kioku/internal/kioku/jsonblock"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/tokens"
)

type recordingCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]memory.Message
}

func (r *recordingCompleter) Complete(_ context.Context, msgs []memory.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]memory.Message(nil), msgs...))
	return r.reply, r.err
}

type memStore struct {
	state   memory.State
	saveErr error
	saves   int
}

func (s *memStore) Load(context.Context) (memory.State, error) { return s.state.Clone(), nil }

func (s *memStore) Save(_ context.Context, st memory.State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = st.Clone()
	s.saves++
	return nil
}

type fixture struct {
	app       *App
	completer *recordingCompleter
	store     *memStore
	logs      *bytes.Buffer
}

func newFixture(t *testing.T, limit int, opts func(*Options)) *fixture {
	t.Helper()
	fc := &recordingCompleter{reply: "the answer"}
	st := &memStore{}
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	mgr, err := memory.New(context.Background(), memory.Config{
		Budget:    10_000,
		Counter:   tokens.Heuristic{},
		Completer: fc,
		Store:     st,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}

	o := Options{
		Memory:            mgr,
		Completer:         fc,
		Counter:           tokens.Heuristic{},
		ContextTokenLimit: limit,
		Logger:            logger,
		Files: importer.Func(func(_ context.Context, path string) (string, error) {
			return "contents of " + filepath.Base(path), nil
		}),
		Images: importer.Func(func(context.Context, string) (string, error) {
			return "ocr words", nil
		}),
	}
	if opts != nil {
		opts(&o)
	}
	a, err := NewApp(o)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return &fixture{app: a, completer: fc, store: st, logs: logs}
}

func TestNewApp_RequiresCollaborators(t *testing.T) {
	if _, err := NewApp(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestChat_SendsContextAndRecordsTurn(t *testing.T) {
	f := newFixture(t, 0, nil)

	res, err := f.app.Chat(context.Background(), Request{
		Prompt: "summarise these",
		Files:  []string{"/data/report.txt"},
		Images: []string{"/data/scan.png"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Reply != "the answer" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.ContextTokens <= 0 {
		t.Errorf("context tokens = %d", res.ContextTokens)
	}

	sent := f.completer.calls[0]
	want := []memory.Message{
		{Role: memory.RoleUser, Content: "<FILE report.txt>\ncontents of report.txt"},
		{Role: memory.RoleUser, Content: "<IMAGE scan.png>\nocr words"},
		{Role: memory.RoleUser, Content: "summarise these"},
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages: %+v", len(sent), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, sent[i], want[i])
		}
	}

	// Attachments are context for one turn only; history keeps the prompt.
	hist := f.app.History()
	if len(hist) != 2 || hist[0].Content != "summarise these" || hist[1].Content != "the answer" {
		t.Errorf("history = %+v", hist)
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d", f.store.saves)
	}
}

func TestChat_CompleterFailureRecordsNothing(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.completer.err = errors.New("503")

	if _, err := f.app.Chat(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.app.History()) != 0 || f.store.saves != 0 {
		t.Errorf("turn recorded after failed completion: %+v", f.app.History())
	}
}

func TestChat_ImportFailureSkipsModel(t *testing.T) {
	f := newFixture(t, 0, func(o *Options) {
		o.Files = importer.Func(func(context.Context, string) (string, error) {
			return "", importer.ErrMissingDependency
		})
	})
	_, err := f.app.Chat(context.Background(), Request{Prompt: "hi", Files: []string{"a.pdf"}})
	if !errors.Is(err, importer.ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	if len(f.completer.calls) != 0 {
		t.Error("model called despite import failure")
	}
}

func TestChat_ImagesWithoutImporter(t *testing.T) {
	f := newFixture(t, 0, func(o *Options) { o.Images = nil })
	_, err := f.app.Chat(context.Background(), Request{Prompt: "hi", Images: []string{"x.png"}})
	if !errors.Is(err, ErrNoImageImporter) {
		t.Fatalf("expected ErrNoImageImporter, got %v", err)
	}
}

func TestChat_SaveFailureStillReturnsReply(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.store.saveErr = errors.New("read-only filesystem")

	res, err := f.app.Chat(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, memory.ErrPersistenceWrite) {
		t.Fatalf("expected ErrPersistenceWrite, got %v", err)
	}
	if res.Reply != "the answer" {
		t.Errorf("reply lost: %q", res.Reply)
	}
	if len(f.app.History()) != 2 {
		t.Error("in-memory turn lost")
	}
}

func TestChat_WarnsOverContextLimit(t *testing.T) {
	f := newFixture(t, 2, nil)
	if _, err := f.app.Chat(context.Background(), Request{Prompt: strings.Repeat("word ", 50)}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(f.logs.String(), "context exceeds the model's token limit") {
		t.Errorf("missing warning in logs:\n%s", f.logs.String())
	}
	if len(f.completer.calls) != 1 {
		t.Error("request over the limit must still be sent")
	}
}

func TestChat_ExtractsJSON(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 0, func(o *Options) {
		o.Extractor = jsonblock.New(jsonblock.Config{OutputDir: dir, UseTopKeyNames: true})
	})
	f.completer.reply = "Sure:\n```json\n{\"invoice\": {\"total\": 12}}\n```"

	res, err := f.app.Chat(context.Background(), Request{Prompt: "as json", ExtractJSON: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(res.SavedJSON) != 1 || filepath.Base(res.SavedJSON[0]) != "invoice.json" {
		t.Fatalf("saved = %v", res.SavedJSON)
	}
	if _, err := os.Stat(res.SavedJSON[0]); err != nil {
		t.Errorf("file missing: %v", err)
	}

	// Without the flag nothing more is written.
	res, err = f.app.Chat(context.Background(), Request{Prompt: "again"})
	if err != nil || len(res.SavedJSON) != 0 {
		t.Errorf("unexpected extraction: %v %v", res.SavedJSON, err)
	}
}
