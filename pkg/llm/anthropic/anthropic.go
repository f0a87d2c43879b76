// Package anthropic adapts the Anthropic Messages API to llm.Capability,
// translating between the flat transcript shape and Anthropic's
// content-block (text / tool_use / tool_result) message format.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
)

const defaultMaxTokens = 4096

// Capability implements llm.Capability against the Anthropic Messages API.
type Capability struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New constructs a Capability. model defaults to "claude-3-5-sonnet-20240620"
// if empty.
func New(apiKey, model string) *Capability {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Capability{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

func (c *Capability) Name() string { return "anthropic:" + c.model }

// WithMaxTokens overrides the response token cap (default 4096) and
// returns c for chaining at construction time.
func (c *Capability) WithMaxTokens(n int64) *Capability {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// Chat pulls the system message out to params.System (Anthropic has no
// "system" role in the message list) and translates tool calls/results to
// and from content blocks.
func (c *Capability) Chat(ctx context.Context, messages []transcript.Message, toolDefs []tools.Descriptor) (llm.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	for _, m := range messages {
		if m.Role == transcript.RoleSystem {
			params.System = []anthropic.TextBlockParam{{Text: m.Text}}
			break
		}
	}

	params.Messages = convertMessages(messages)

	for _, td := range toolDefs {
		toolParam := anthropic.ToolParam{
			Name:        td.Name,
			Description: anthropic.String(td.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: td.Parameters["properties"],
			},
		}
		if required, ok := td.Parameters["required"].([]string); ok {
			toolParam.InputSchema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var out llm.Response
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			args, _ := b.Input.(map[string]any)
			out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// convertMessages flattens the transcript into Anthropic's message list,
// folding each tool result into a user message carrying a tool_result
// block (Anthropic has no standalone "tool" role).
func convertMessages(messages []transcript.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem:
			continue // handled via params.System
		case transcript.RoleUser:
			if m.Text == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case transcript.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: tc.ID, Name: tc.Name, Input: input},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		case transcript.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Text, false)))
		}
	}
	return out
}
