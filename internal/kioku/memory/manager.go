package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/kioku/internal/kioku/tokens"
)

// summaryHeader introduces the running summary in the system message sent
// ahead of the history.
const summaryHeader = "Memory Summary:\n"

// Config holds the collaborators of a Manager.
type Config struct {
	// Budget is the maximum number of tokens the retained history may hold
	// before a turn triggers compaction. Must be positive.
	Budget int

	// Counter sizes message contents in tokens.
	Counter tokens.Counter

	// Completer writes the summaries produced by compaction.
	Completer Completer

	// Store holds the durable copy of the conversation.
	Store Store

	// Logger receives operational events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns one conversation thread. All methods are safe for concurrent
// use; calls are serialized, including the summarisation request made during
// AppendTurn.
type Manager struct {
	mu        sync.Mutex
	state     State
	store     Store
	compactor *Compactor
	logger    *slog.Logger
}

// New restores the conversation held by cfg.Store, or starts an empty one
// when nothing has been saved. A corrupt persisted state is returned as an
// error wrapping ErrPersistenceCorrupt.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("memory: budget must be positive, got %d", cfg.Budget)
	}
	if cfg.Counter == nil {
		return nil, errors.New("memory: token counter is required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("memory: completer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("memory: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: load state: %w", err)
	}

	logger.DebugContext(ctx, "memory: state restored",
		"messages", len(st.History),
		"summary_len", len(st.Summary),
	)

	return &Manager{
		state: st.Clone(),
		store: cfg.Store,
		compactor: &Compactor{
			Budget:    cfg.Budget,
			Counter:   cfg.Counter,
			Completer: cfg.Completer,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

// BuildContextMessages returns the messages to send for the next turn, in
// order: the summary as a system message (when there is one), the history,
// one user message per attachment, and finally the prompt. It does not
// modify the conversation.
func (m *Manager) BuildContextMessages(prompt string, attachments ...Attachment) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]Message, 0, len(m.state.History)+len(attachments)+2)
	if m.state.Summary != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: summaryHeader + m.state.Summary})
	}
	msgs = append(msgs, m.state.History...)
	for _, a := range attachments {
		msgs = append(msgs, a.message())
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return msgs
}

// AppendTurn records a completed turn, compacts the history if it is over
// budget, and saves the result.
//
// The turn itself is always kept. If summarisation fails the history is left
// uncompacted (and still saved) and the returned error wraps ErrEndpoint. If
// saving fails the error wraps ErrPersistenceWrite; the in-memory state
// remains authoritative and Flush may be used to retry. The save ignores
// cancellation of ctx, so a turn interrupted during summarisation is still
// persisted.
func (m *Manager) AppendTurn(ctx context.Context, prompt, reply string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.History = append(m.state.History,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: reply},
	)

	next, changed, compactErr := m.compactor.Compact(ctx, m.state)
	if compactErr != nil {
		m.logger.WarnContext(ctx, "memory: compaction failed; keeping uncompacted history",
			"messages", len(m.state.History),
			"err", compactErr,
		)
	} else if changed {
		m.state = next
	}

	saveErr := m.saveLocked(context.WithoutCancel(ctx))
	return errors.Join(compactErr, saveErr)
}

// Flush writes the current state to the store. It is the retry path after an
// AppendTurn that failed with ErrPersistenceWrite.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ctx)
}

// Summary returns the accumulated summary text.
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Summary
}

// History returns a copy of the retained messages.
func (m *Manager) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone().History
}

// Snapshot returns a copy of the whole conversation state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// saveLocked persists the state. Must be called with mu held.
func (m *Manager) saveLocked(ctx context.Context) error {
	err := m.store.Save(ctx, m.state.Clone())
	if err == nil {
		return nil
	}
	m.logger.ErrorContext(ctx, "memory: save failed; continuing without durability",
		"messages", len(m.state.History),
		"err", err,
	)
	if errors.Is(err, ErrPersistenceWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistenceWrite, err)
}
