package builtin

import "github.com/malonecentral/malone-agent/pkg/tools"

// Register adds every builtin tool to r. Home Assistant tools are included
// even when unconfigured; they report a clear configuration error at
// execute time rather than being conditionally hidden from the model.
func Register(r *tools.Registry, ha HomeAssistantConfig) error {
	ts := []tools.Tool{
		CurrentTimeTool{},
		SystemInfoTool{},
		NewShellCommandTool(),
		NewSSHCommandTool(),
		NewKubectlTool(),
		&HAListEntitiesTool{Config: ha},
		&HAControlDeviceTool{Config: ha},
		&HATriggerSceneTool{Config: ha},
	}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
