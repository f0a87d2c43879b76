// Package mcp wraps a Model Context Protocol server's tool catalogue as
// ordinary tools.Tool values, so external MCP servers can be registered
// into the same Registry/Executor as the builtin tools (spec.md §9 MCP
// addendum: MCP is an optional additional tool source, not a replacement
// for the tool protocol).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malonecentral/malone-agent/pkg/tools"
)

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	Name    string
	Command string   // for stdio transport: executable + args, space separated
	Args    []string // additional args appended to Command
	URL     string   // for streamable-http transport
}

func (c ServerConfig) stdio() bool { return c.Command != "" }

// Source connects to one MCP server and exposes its tools as tools.Tool
// values, ready to pass to Registry.Register.
type Source struct {
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	cfg     ServerConfig
}

// Connect dials the MCP server described by cfg and returns a Source ready
// to enumerate its tools.
func Connect(ctx context.Context, cfg ServerConfig) (*Source, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "malone-agent", Version: "1.0.0"}, nil)

	var transport mcpsdk.Transport
	switch {
	case cfg.stdio():
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("mcp: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], cfg.Args...)...)
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, fmt.Errorf("mcp: server %q needs either Command or URL", cfg.Name)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to connect to server %q: %w", cfg.Name, err)
	}
	return &Source{client: client, session: session, cfg: cfg}, nil
}

// Close disconnects from the MCP server.
func (s *Source) Close() error {
	return s.session.Close()
}

// Tools lists every tool the server offers, wrapped as tools.Tool.
func (s *Source) Tools(ctx context.Context) ([]tools.Tool, error) {
	var out []tools.Tool
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp: failed to list tools for server %q: %w", s.cfg.Name, err)
		}
		out = append(out, &remoteTool{session: s.session, def: *tool})
	}
	return out, nil
}

// remoteTool adapts one remote MCP tool to tools.Tool, forwarding Execute
// to the server's CallTool and flattening its text content blocks.
type remoteTool struct {
	session *mcpsdk.ClientSession
	def     mcpsdk.Tool
}

func (t *remoteTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        t.def.Name,
		Description: t.def.Description,
		Parameters:  schemaToMap(t.def.InputSchema),
	}
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: call to tool %q failed: %w", t.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp: tool %q reported an error: %s", t.def.Name, sb.String())
	}
	return sb.String(), nil
}

// schemaToMap converts the SDK's typed JSON Schema representation into a
// plain map, the shape tools.Descriptor expects (itself converted to
// whichever wire shape the active LLM capability needs).
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
