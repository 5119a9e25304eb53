package memory_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// byteCounter counts one token per byte so tests can size messages exactly.
type byteCounter struct{}

func (byteCounter) Count(text string) (int, error) { return len(text), nil }

// failingCounter rejects every text.
type failingCounter struct{ err error }

func (f failingCounter) Count(string) (int, error) { return 0, f.err }

// fakeCompleter records every request and answers with reply or err.
type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]memory.Message
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []memory.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]memory.Message, len(msgs))
	copy(cp, msgs)
	f.calls = append(f.calls, cp)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memStore is an in-memory Store that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	state   *memory.State
	loadErr error
	saveErr error
	saves   int

	// honorCtx makes Save fail on a cancelled context, like the real stores.
	honorCtx bool
}

func (s *memStore) Load(context.Context) (memory.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return memory.State{}, s.loadErr
	}
	if s.state == nil {
		return memory.State{History: []memory.Message{}}, nil
	}
	return s.state.Clone(), nil
}

func (s *memStore) Save(ctx context.Context, st memory.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := st.Clone()
	s.state = &cp
	s.saves++
	return nil
}

func (s *memStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// sized returns a message whose content is n bytes long and starts with tag.
func sized(role memory.Role, tag string, n int) memory.Message {
	content := tag
	if len(content) < n {
		content += strings.Repeat("x", n-len(content))
	}
	return memory.Message{Role: role, Content: content}
}

func messagesEqual(a, b []memory.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// cancellingCompleter cancels the turn's context mid-call, the way an
// interrupted CLI does, and reports the cancellation.
type cancellingCompleter struct {
	cancel context.CancelFunc
}

func (c cancellingCompleter) Complete(ctx context.Context, _ []memory.Message) (string, error) {
	c.cancel()
	return "", ctx.Err()
}

var errBoom = errors.New("boom")
