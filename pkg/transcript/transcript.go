// Package transcript implements the in-memory, size-bounded conversation
// log (C6): a discriminated message sequence that keeps tool-call and
// tool-result entries linked across trimming.
package transcript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Role identifies a transcript message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an assistant-issued request to invoke a named tool. ID is
// opaque and must be echoed verbatim by the ToolResult that answers it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one entry in the transcript. Which fields are meaningful
// depends on Role:
//   - system: Text only, exactly one, always first.
//   - user: Text only, non-empty.
//   - assistant: Text and/or ToolCalls (at least one present).
//   - tool: ToolCallID + Text, answering an earlier assistant ToolCalls entry.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Log is the size-bounded transcript of one conversation. It is safe for
// concurrent use, though the conversation driver is the only writer in
// practice (spec.md §5: "Transcript mutations occur only from the driver").
type Log struct {
	mu         sync.RWMutex
	system     Message
	body       []Message
	maxHistory int
}

// New creates a Log with the given constant system prompt and history bound
// (the default is 50 per spec.md §4.6).
func New(systemPrompt string, maxHistory int) *Log {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Log{
		system:     Message{Role: RoleSystem, Text: systemPrompt},
		maxHistory: maxHistory,
	}
}

// AppendUser appends a user message. It panics on empty/whitespace-only
// text — callers (the conversation driver) must never offer an empty
// transcription to the transcript; that's handled one layer up as
// UnintelligibleInput, not a transcript concern.
func (l *Log) AppendUser(text string) {
	if strings.TrimSpace(text) == "" {
		panic("transcript: AppendUser called with empty text")
	}
	l.append(Message{Role: RoleUser, Text: text})
}

// AppendAssistantText appends a plain assistant reply (no tool calls).
func (l *Log) AppendAssistantText(text string) {
	l.append(Message{Role: RoleAssistant, Text: text})
}

// AppendAssistantToolCalls appends an assistant message that requested one
// or more tool calls, optionally alongside text content.
func (l *Log) AppendAssistantToolCalls(text string, calls []ToolCall) {
	if text == "" && len(calls) == 0 {
		panic("transcript: AppendAssistantToolCalls requires text or tool calls")
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
	}
	l.append(Message{Role: RoleAssistant, Text: text, ToolCalls: calls})
}

// AppendToolResult appends the result of executing a tool call. toolCallID
// must match the ID of a ToolCall carried by an earlier assistant message;
// violating that is a programmer error and panics per spec.md §7.
func (l *Log) AppendToolResult(toolCallID string, text string) {
	l.mu.Lock()
	if !l.hasAntecedentLocked(toolCallID) {
		l.mu.Unlock()
		panic(fmt.Sprintf("transcript: tool_result for unknown tool_call_id %q", toolCallID))
	}
	l.mu.Unlock()
	l.append(Message{Role: RoleTool, ToolCallID: toolCallID, Text: text})
}

func (l *Log) hasAntecedentLocked(toolCallID string) bool {
	for _, m := range l.body {
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == toolCallID {
					return true
				}
			}
		}
	}
	return false
}

// Snapshot returns [system] ++ body, safe for the caller to read without
// further locking — it never exposes the Log's internal slice.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, 0, len(l.body)+1)
	out = append(out, l.system)
	out = append(out, l.body...)
	return out
}

func (l *Log) append(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.body = append(l.body, m)
	l.trimLocked()
}

// trimLocked drops messages from the head once body exceeds maxHistory,
// but only at group boundaries: an assistant(tool_calls) message and every
// tool_result answering it are treated as one atomic unit, never split.
func (l *Log) trimLocked() {
	for len(l.body) > l.maxHistory {
		groupLen := l.headGroupLenLocked()
		l.body = l.body[groupLen:]
	}
}

// headGroupLenLocked returns the number of messages at the head of body
// that must be dropped together: 1 for an ordinary message, or
// 1+len(pending tool_results) for an assistant message carrying tool calls.
func (l *Log) headGroupLenLocked() int {
	if len(l.body) == 0 {
		return 0
	}
	head := l.body[0]
	if head.Role != RoleAssistant || len(head.ToolCalls) == 0 {
		return 1
	}

	pending := map[string]bool{}
	for _, tc := range head.ToolCalls {
		pending[tc.ID] = true
	}

	n := 1
	for n < len(l.body) && len(pending) > 0 {
		m := l.body[n]
		if m.Role == RoleTool && pending[m.ToolCallID] {
			delete(pending, m.ToolCallID)
			n++
			continue
		}
		break
	}
	return n
}
