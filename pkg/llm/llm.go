// Package llm defines the model-agnostic chat capability (C8) and the
// heuristic router between a fast local model and a smarter cloud model.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
)

// Response is one assistant turn: text content, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []transcript.ToolCall
}

// Capability is a single chat-completion backend. Implementations must
// translate transcript.Message and tools.Descriptor into their own wire
// format and translate the reply back without loss of tool-call linkage.
type Capability interface {
	Chat(ctx context.Context, messages []transcript.Message, toolDefs []tools.Descriptor) (Response, error)
	Name() string
}

// complexKeywords mirrors the original router's heuristic for queries that
// read as "hard" regardless of length.
var complexKeywords = []string{
	"analyze", "explain", "refactor", "debug", "review",
	"write code", "implement", "architecture", "design",
	"compare", "summarize", "translate", "improve yourself",
	"edit your code", "add a feature", "complex",
}

// Router routes a turn to Cloud when the last user message looks complex
// (long, or matching a complexity keyword) and Local otherwise, falling
// back once to the other capability if the chosen one errors.
type Router struct {
	Local               Capability
	Cloud               Capability
	ComplexityThreshold int
}

// NewRouter constructs a Router with the default complexity threshold of
// 500 characters, matching the original policy. Cloud may be nil, in which
// case every turn goes to Local with no fallback.
func NewRouter(local, cloud Capability) *Router {
	return &Router{Local: local, Cloud: cloud, ComplexityThreshold: 500}
}

// Chat implements Capability so Router can be used anywhere a single
// capability is expected (spec.md §4.8).
func (r *Router) Chat(ctx context.Context, messages []transcript.Message, toolDefs []tools.Descriptor) (Response, error) {
	useCloud := r.Cloud != nil && r.shouldUseCloud(messages)

	if useCloud {
		resp, err := r.Cloud.Chat(ctx, messages, toolDefs)
		if err == nil {
			return resp, nil
		}
		return r.Local.Chat(ctx, messages, toolDefs)
	}

	resp, err := r.Local.Chat(ctx, messages, toolDefs)
	if err == nil {
		return resp, nil
	}
	if r.Cloud != nil {
		return r.Cloud.Chat(ctx, messages, toolDefs)
	}
	return Response{}, fmt.Errorf("llm: local capability failed and no cloud fallback is configured: %w", err)
}

// Name identifies the router itself rather than whichever backend served
// the last turn, since callers may invoke Chat before any turn has run.
func (r *Router) Name() string {
	return "router"
}

func (r *Router) shouldUseCloud(messages []transcript.Message) bool {
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == transcript.RoleUser {
			lastUser = messages[i].Text
			break
		}
	}
	if lastUser == "" {
		return false
	}

	threshold := r.ComplexityThreshold
	if threshold <= 0 {
		threshold = 500
	}
	if len(lastUser) > threshold {
		return true
	}

	lower := strings.ToLower(lastUser)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
