package builtin

import (
	"context"
	"testing"

	"github.com/malonecentral/malone-agent/pkg/tools"
)

func TestRegisterHasNoDuplicateOrInvalidNames(t *testing.T) {
	r := tools.NewRegistry()
	if err := Register(r, HomeAssistantConfig{}); err != nil {
		t.Fatalf("unexpected error registering builtin tools: %v", err)
	}
	if len(r.Names()) != 8 {
		t.Errorf("expected 8 builtin tools registered, got %d: %v", len(r.Names()), r.Names())
	}
}

func TestHAToolsReportUnconfigured(t *testing.T) {
	list := &HAListEntitiesTool{}
	out, err := list.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(string) == "" {
		t.Error("expected a configuration error message")
	}

	ctl := &HAControlDeviceTool{}
	out, err = ctl.Execute(context.Background(), map[string]any{"entity_id": "light.x", "action": "turn_on"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(string) == "" {
		t.Error("expected a configuration error message")
	}
}

func TestShellCommandToolRunsEcho(t *testing.T) {
	tool := NewShellCommandTool()
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(string) != "hi\n" && out.(string) != "hi" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestShellCommandToolRequiresCommand(t *testing.T) {
	tool := NewShellCommandTool()
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error when command is missing")
	}
}

func TestSplitShellWords(t *testing.T) {
	cases := map[string][]string{
		"get pods -n default":        {"get", "pods", "-n", "default"},
		`logs deploy/myapp --tail=50`: {"logs", "deploy/myapp", "--tail=50"},
		`echo "hello world"`:          {"echo", "hello world"},
	}
	for input, expected := range cases {
		got, err := splitShellWords(input)
		if err != nil {
			t.Fatalf("unexpected error splitting %q: %v", input, err)
		}
		if len(got) != len(expected) {
			t.Fatalf("splitting %q: expected %v, got %v", input, expected, got)
		}
		for i := range expected {
			if got[i] != expected[i] {
				t.Errorf("splitting %q: expected %v, got %v", input, expected, got)
			}
		}
	}
}
