// Package memory implements token-bounded conversation memory. A Manager
// keeps one conversation thread: a running summary of everything that has
// been compacted away plus the verbatim history of recent turns. When the
// history outgrows its token budget the oldest half is summarised by the
// model and folded into the summary. State is flushed to a Store after every
// turn so a conversation survives process restarts.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single entry in the conversation. Messages are values and are
// never modified after they are appended; their order is chronological.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the persisted form of a conversation.
//
// Summary only ever grows: each compaction appends a new paragraph. History
// only ever loses a prefix, and only through compaction.
type State struct {
	Summary string    `json:"summary"`
	History []Message `json:"history"`
}

// Clone returns a deep copy of s. The returned History is never nil.
func (s State) Clone() State {
	h := make([]Message, len(s.History))
	copy(h, s.History)
	return State{Summary: s.Summary, History: h}
}

// Empty reports whether nothing has been recorded yet.
func (s State) Empty() bool {
	return s.Summary == "" && len(s.History) == 0
}

// Completer is the model endpoint: it turns an ordered message list into the
// assistant's reply text.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Store persists a conversation State. Save always writes the full state.
// Load returns an empty State when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// AttachmentKind selects the provenance tag used when an attachment is
// injected into the context.
type AttachmentKind string

const (
	AttachmentFile  AttachmentKind = "FILE"
	AttachmentImage AttachmentKind = "IMAGE"
)

// Attachment is text extracted from a file that accompanies the next prompt.
type Attachment struct {
	Source string         // path the text was imported from
	Kind   AttachmentKind // defaults to AttachmentFile
	Text   string
}

// message renders the attachment as a user message tagged with its source
// file name.
func (a Attachment) message() Message {
	kind := a.Kind
	if kind == "" {
		kind = AttachmentFile
	}
	return Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("<%s %s>\n%s", kind, filepath.Base(a.Source), a.Text),
	}
}

// formatTranscript renders messages as "role: content" lines.
func formatTranscript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}
