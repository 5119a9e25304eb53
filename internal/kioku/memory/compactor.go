package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/kioku/internal/kioku/tokens"
)

// summaryInstruction prefixes the transcript handed to the model when the
// oldest half of the history is compacted.
const summaryInstruction = "Summarize for future context:"

// Compactor keeps a history within Budget tokens by replacing its older half
// with a model-written summary.
//
// A Compact call makes at most one pass: the history is split once at
// len/2, so the retained half may still be over budget. The next turn will
// compact again.
type Compactor struct {
	Budget    int
	Counter   tokens.Counter
	Completer Completer
	Logger    *slog.Logger
}

// Compact returns the state that should replace st and whether it differs
// from st. Under budget it returns st untouched without calling the model.
//
// On any error st is returned unchanged; nothing is partially applied.
func (c *Compactor) Compact(ctx context.Context, st State) (State, bool, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	total, err := historyTokens(c.Counter, st.History)
	if err != nil {
		return st, false, fmt.Errorf("compactor: count history: %w", err)
	}
	if total <= c.Budget {
		return st, false, nil
	}

	half := len(st.History) / 2
	if half == 0 {
		logger.WarnContext(ctx, "compactor: history over budget but too short to split",
			"messages", len(st.History),
			"tokens", total,
			"budget", c.Budget,
		)
		return st, false, nil
	}
	older, newer := st.History[:half], st.History[half:]

	prompt := Message{
		Role:    RoleSystem,
		Content: summaryInstruction + "\n" + formatTranscript(older),
	}
	text, err := c.Completer.Complete(ctx, []Message{prompt})
	if err != nil {
		if errors.Is(err, ErrEndpoint) {
			return st, false, fmt.Errorf("compactor: summarise %d messages: %w", half, err)
		}
		return st, false, fmt.Errorf("compactor: summarise %d messages: %w: %w", half, ErrEndpoint, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return st, false, fmt.Errorf("compactor: summarise %d messages: %w: empty summary", half, ErrEndpoint)
	}

	next := State{
		Summary: appendSummary(st.Summary, text),
		History: make([]Message, len(newer)),
	}
	copy(next.History, newer)

	logger.InfoContext(ctx, "conversation compacted",
		"tokens_before", total,
		"budget", c.Budget,
		"messages_before", len(st.History),
		"messages_after", len(next.History),
		"summary_len", len(next.Summary),
	)
	return next, true, nil
}

// historyTokens sums the token counts of the message contents. Roles are not
// counted.
func historyTokens(counter tokens.Counter, history []Message) (int, error) {
	total := 0
	for _, m := range history {
		n, err := counter.Count(m.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// appendSummary concatenates a new summary paragraph onto the existing one.
func appendSummary(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}
