package openai

import "encoding/json"

// encodeArguments renders tool-call arguments as the compact JSON string
// the OpenAI wire format expects for ChatCompletionMessageToolCallFunctionParam.
func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// decodeArguments parses an OpenAI tool call's JSON argument string back
// into a map. An empty or malformed payload yields a nil map rather than an error,
// since transcript.ToolCall carries no error field.
func decodeArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
