// Package openai adapts the OpenAI chat completions API to llm.Capability.
package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
)

// Capability implements llm.Capability against the OpenAI API.
type Capability struct {
	client oai.Client
	model  string
}

// New constructs a Capability. model defaults to "gpt-4o" if empty.
func New(apiKey, model string) *Capability {
	if model == "" {
		model = "gpt-4o"
	}
	return &Capability{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *Capability) Name() string { return "openai:" + c.model }

// Chat sends messages (system message included) and the tool catalogue to
// OpenAI and translates the reply back into llm.Response.
func (c *Capability) Chat(ctx context.Context, messages []transcript.Message, toolDefs []tools.Descriptor) (llm.Response, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(messages),
	}
	for _, td := range toolDefs {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := llm.Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func convertMessages(messages []transcript.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem:
			out = append(out, oai.SystemMessage(m.Text))
		case transcript.RoleUser:
			out = append(out, oai.UserMessage(m.Text))
		case transcript.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			if m.Text != "" {
				asst.Content.OfString = oai.String(m.Text)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Arguments),
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case transcript.RoleTool:
			out = append(out, oai.ToolMessage(m.Text, m.ToolCallID))
		}
	}
	return out
}
