package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/malonecentral/malone-agent/pkg/tools"
)

// SSHCommandTool runs a command on a remote host over SSH, relying on
// key-based auth already configured on the host (no password prompts).
type SSHCommandTool struct {
	Timeout time.Duration
}

func NewSSHCommandTool() *SSHCommandTool {
	return &SSHCommandTool{Timeout: 30 * time.Second}
}

func (t *SSHCommandTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "ssh_command",
		Description: "Run a command on a remote host via SSH. Requires SSH key-based authentication " +
			"to be configured (no password prompts). Use for managing routers, switches, servers, and other network devices.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"host": map[string]any{
					"type":        "string",
					"description": "Hostname or IP address to connect to (e.g. 'router.local' or '192.168.1.1')",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "The command to execute on the remote host",
				},
				"user": map[string]any{
					"type":        "string",
					"description": "SSH username (defaults to current user if not specified)",
				},
				"port": map[string]any{
					"type":        "integer",
					"description": "SSH port (defaults to 22)",
				},
			},
			"required": []string{"host", "command"},
		},
	}
}

func (t *SSHCommandTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	host, _ := args["host"].(string)
	command, _ := args["command"].(string)
	user, _ := args["user"].(string)
	if host == "" || command == "" {
		return nil, fmt.Errorf("host and command are required")
	}
	port := 22
	switch v := args["port"].(type) {
	case float64:
		port = int(v)
	case int:
		port = v
	}

	sshArgs := []string{
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=10",
		"-o", "BatchMode=yes",
		"-p", strconv.Itoa(port),
	}
	if user != "" {
		sshArgs = append(sshArgs, "-l", user)
	}
	sshArgs = append(sshArgs, host, command)

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ssh", sshArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "Error: SSH command timed out after " + t.Timeout.String(), nil
	}
	if _, ok := err.(*exec.Error); ok {
		return "Error: ssh command not found", nil
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR: " + stderr.String()
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		output += fmt.Sprintf("\nExit code: %d", exitErr.ExitCode())
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}

// KubectlTool runs kubectl against whichever cluster context is current (or
// an explicitly named one).
type KubectlTool struct {
	Timeout time.Duration
}

func NewKubectlTool() *KubectlTool {
	return &KubectlTool{Timeout: 30 * time.Second}
}

func (t *KubectlTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "kubectl",
		Description: "Run kubectl commands to manage the Kubernetes cluster. Can list pods, services, " +
			"deployments, check logs, scale resources, etc. Examples: 'get pods -A', 'logs deploy/myapp', 'get nodes'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"args": map[string]any{
					"type":        "string",
					"description": "kubectl arguments (e.g. 'get pods -n default', 'logs deploy/myapp --tail=50')",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Kubernetes context to use (optional, uses current context if not specified)",
				},
			},
			"required": []string{"args"},
		},
	}
}

func (t *KubectlTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	argsStr, _ := args["args"].(string)
	kubeContext, _ := args["context"].(string)
	if argsStr == "" {
		return nil, fmt.Errorf("args is required")
	}

	fields, err := splitShellWords(argsStr)
	if err != nil {
		return nil, err
	}
	cmdArgs := []string{}
	if kubeContext != "" {
		cmdArgs = append(cmdArgs, "--context", kubeContext)
	}
	cmdArgs = append(cmdArgs, fields...)

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "kubectl", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "Error: kubectl command timed out after " + t.Timeout.String(), nil
	}
	if _, ok := runErr.(*exec.Error); ok {
		return "Error: kubectl not found. Is it installed?", nil
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR: " + stderr.String()
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		output += fmt.Sprintf("\nExit code: %d", exitErr.ExitCode())
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}

// splitShellWords splits a command-line string the way a shell would,
// respecting single and double quotes — a minimal shlex equivalent since
// the standard library has no word-splitter of its own.
func splitShellWords(s string) ([]string, error) {
	var words []string
	var current []rune
	inSingle, inDouble := false, false
	hasContent := false

	for _, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			hasContent = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			hasContent = true
		case r == ' ' && !inSingle && !inDouble:
			if hasContent {
				words = append(words, string(current))
				current = current[:0]
				hasContent = false
			}
		default:
			current = append(current, r)
			hasContent = true
		}
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unbalanced quotes in %q", s)
	}
	if hasContent {
		words = append(words, string(current))
	}
	return words, nil
}
