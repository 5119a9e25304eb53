package store

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// DefaultFile is the file name used when no path is configured.
const DefaultFile = "chat_memory.json"

//go:embed state.schema.json
var stateSchemaJSON string

var (
	stateSchemaOnce sync.Once
	stateSchema     *jsonschema.Schema
	stateSchemaErr  error
)

func compiledStateSchema() (*jsonschema.Schema, error) {
	stateSchemaOnce.Do(func() {
		stateSchema, stateSchemaErr = jsonschema.CompileString("state.schema.json", stateSchemaJSON)
	})
	return stateSchema, stateSchemaErr
}

// FileStore keeps a conversation as a single JSON document:
//
//	{"summary": "...", "history": [{"role": "user", "content": "..."}]}
//
// Saves replace the file atomically, so a crash mid-write leaves the previous
// version intact.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore returns a store backed by the file at path. The file and its
// parent directory are created on the first Save.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		path = DefaultFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := compiledStateSchema(); err != nil {
		return nil, fmt.Errorf("store: compile state schema: %w", err)
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored state. A missing file yields an empty State; an
// empty, unparsable or schema-violating file is reported as corrupt.
func (s *FileStore) Load(ctx context.Context) (memory.State, error) {
	if err := ctx.Err(); err != nil {
		return memory.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("store: no saved state", "path", s.path)
		return memory.State{History: []memory.Message{}}, nil
	}
	if err != nil {
		return memory.State{}, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	st, err := decodeState(data)
	if err != nil {
		return memory.State{}, fmt.Errorf("store: %s: %w: %w", s.path, memory.ErrPersistenceCorrupt, err)
	}
	return st, nil
}

// Save writes st over the stored state.
func (s *FileStore) Save(ctx context.Context, st memory.State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: save %s: %w: %w", s.path, memory.ErrPersistenceWrite, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeState(st)
	if err != nil {
		return fmt.Errorf("store: encode state: %w: %w", memory.ErrPersistenceWrite, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("store: save %s: %w: %w", s.path, memory.ErrPersistenceWrite, err)
	}
	s.logger.Debug("store: state saved", "path", s.path, "messages", len(st.History), "bytes", len(data))
	return nil
}

func decodeState(data []byte) (memory.State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return memory.State{}, errors.New("empty document")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return memory.State{}, fmt.Errorf("parse: %w", err)
	}
	if dec.More() {
		return memory.State{}, errors.New("parse: trailing data after document")
	}

	schema, err := compiledStateSchema()
	if err != nil {
		return memory.State{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return memory.State{}, fmt.Errorf("validate: %w", err)
	}

	var st memory.State
	if err := json.Unmarshal(data, &st); err != nil {
		return memory.State{}, fmt.Errorf("decode: %w", err)
	}
	if st.History == nil {
		st.History = []memory.Message{}
	}
	return st, nil
}

func encodeState(st memory.State) ([]byte, error) {
	if st.History == nil {
		st.History = []memory.Message{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it, renames
// it into place and syncs the directory so the rename itself is durable.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return d.Close()
}
