// Package builtin provides the reference tool set: local system control,
// Home Assistant device control, and process/network introspection,
// translated from the original Python tool plugins into Go Tool
// implementations. Registration is explicit (New* + Registry.Register) per
// call site since Go has no import-time reflection discovery to mirror
// Python's plugin auto-loading.
package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/malonecentral/malone-agent/pkg/tools"
)

// CurrentTimeTool reports the current local date and time.
type CurrentTimeTool struct{}

func (CurrentTimeTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        "get_current_time",
		Description: "Get the current date, time, and day of the week.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}
}

func (CurrentTimeTool) Execute(context.Context, map[string]any) (any, error) {
	return time.Now().Format("Monday, January 2, 2006 at 3:04 PM"), nil
}

// SystemInfoTool reports OS, architecture, and memory about the host
// running the agent.
type SystemInfoTool struct{}

func (SystemInfoTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        "get_system_info",
		Description: "Get system information: OS, architecture, and memory usage.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}
}

func (SystemInfoTool) Execute(context.Context, map[string]any) (any, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return fmt.Sprintf(
		"OS: %s\nArch: %s\nCPUs: %d\nHeap in use: %dMB\nSys memory: %dMB",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), mem.HeapInuse/1024/1024, mem.Sys/1024/1024,
	), nil
}

// ShellCommandTool runs a shell command on the local host and returns its
// combined output. It carries no sandboxing of its own; spec.md leaves
// authorization policy to the deployment, not the tool itself.
type ShellCommandTool struct {
	Timeout time.Duration
}

// NewShellCommandTool builds a ShellCommandTool with the 30s timeout the
// original Python plugin used.
func NewShellCommandTool() *ShellCommandTool {
	return &ShellCommandTool{Timeout: 30 * time.Second}
}

func (t *ShellCommandTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "run_shell_command",
		Description: "Run a shell command on the local system and return its output. " +
			"Use for checking system status, running scripts, managing services, etc.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
			},
			"required": []string{"command"},
		},
	}
}

func (t *ShellCommandTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR: " + stderr.String()
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "Error: command timed out after " + t.Timeout.String(), nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			output += fmt.Sprintf("\nExit code: %d", exitErr.ExitCode())
		}
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
