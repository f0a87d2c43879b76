// Package ollama adapts a local Ollama server to llm.Capability, the
// "fast/free/local" side of the router.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/transcript"
)

// Capability implements llm.Capability against a local Ollama server.
type Capability struct {
	client *api.Client
	model  string
}

// New constructs a Capability. baseURL defaults to the local Ollama
// default, model defaults to "qwen3:4b".
func New(baseURL, model string) *Capability {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen3:4b"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Capability{
		client: api.NewClient(parsed, &http.Client{Timeout: 5 * time.Minute}),
		model:  model,
	}
}

func (c *Capability) Name() string { return "ollama:" + c.model }

// Chat issues a non-streaming chat request and collects the final message,
// including any tool calls the model requested.
func (c *Capability) Chat(ctx context.Context, messages []transcript.Message, toolDefs []tools.Descriptor) (llm.Response, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   &stream,
		Tools:    convertTools(toolDefs),
	}

	var out llm.Response
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.Content += resp.Message.Content
		for i, tc := range resp.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, transcript.ToolCall{
				ID:        fmt.Sprintf("ollama-call-%d", i),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments.ToMap(),
			})
		}
		return nil
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("ollama: chat: %w", err)
	}
	return out, nil
}

func convertMessages(messages []transcript.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem:
			out = append(out, api.Message{Role: "system", Content: m.Text})
		case transcript.RoleUser:
			out = append(out, api.Message{Role: "user", Content: m.Text})
		case transcript.RoleAssistant:
			msg := api.Message{Role: "assistant", Content: m.Text}
			for _, tc := range m.ToolCalls {
				args := api.NewToolCallFunctionArguments()
				for k, v := range tc.Arguments {
					args.Set(k, v)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID:       tc.ID,
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, msg)
		case transcript.RoleTool:
			out = append(out, api.Message{Role: "tool", Content: m.Text, ToolCallID: m.ToolCallID})
		}
	}
	return out
}

func convertTools(toolDefs []tools.Descriptor) api.Tools {
	if len(toolDefs) == 0 {
		return nil
	}
	out := make(api.Tools, 0, len(toolDefs))
	for _, td := range toolDefs {
		params := api.ToolFunctionParameters{Type: "object"}
		if props, ok := td.Parameters["properties"].(map[string]any); ok {
			propsMap := api.NewToolPropertiesMap()
			for name, raw := range props {
				if propObj, ok := raw.(map[string]any); ok {
					propsMap.Set(name, convertProperty(propObj))
				}
			}
			params.Properties = propsMap
		}
		if required, ok := td.Parameters["required"].([]string); ok {
			params.Required = required
		}
		out = append(out, api.Tool{
			Type:     "function",
			Function: api.ToolFunction{Name: td.Name, Description: td.Description, Parameters: params},
		})
	}
	return out
}

func convertProperty(prop map[string]any) api.ToolProperty {
	var result api.ToolProperty
	if t, ok := prop["type"].(string); ok {
		result.Type = api.PropertyType{t}
	}
	if desc, ok := prop["description"].(string); ok {
		result.Description = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		result.Enum = enum
	}
	return result
}
