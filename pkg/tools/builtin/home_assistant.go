package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/malonecentral/malone-agent/pkg/tools"
)

// HomeAssistantConfig is the connection info for one Home Assistant
// instance, supplied by internal/config.
type HomeAssistantConfig struct {
	URL   string
	Token string
}

func (c HomeAssistantConfig) configured() bool {
	return c.URL != "" && c.Token != ""
}

type haClient struct {
	cfg    HomeAssistantConfig
	client *http.Client
}

func newHAClient(cfg HomeAssistantConfig) *haClient {
	return &haClient{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *haClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, &reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("home assistant returned status %d", resp.StatusCode)
	}
	return resp, nil
}

type haEntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// HAListEntitiesTool lists Home Assistant entities, optionally filtered by
// domain (light, switch, climate, ...).
type HAListEntitiesTool struct {
	Config HomeAssistantConfig
}

func (t *HAListEntitiesTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "ha_list_entities",
		Description: "List available Home Assistant entities (devices). Optionally filter by domain " +
			"(light, switch, climate, sensor, etc). Returns entity_id, friendly name, and current state.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain": map[string]any{
					"type": "string",
					"description": "Filter by entity domain: light, switch, climate, sensor, binary_sensor, " +
						"media_player, automation, scene, cover, fan, lock. Leave empty to list all.",
				},
			},
			"required": []string{},
		},
	}
}

func (t *HAListEntitiesTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if !t.Config.configured() {
		return "Error: Home Assistant not configured. Set MALONE_HOME_ASSISTANT__URL and MALONE_HOME_ASSISTANT__TOKEN.", nil
	}
	domain, _ := args["domain"].(string)

	resp, err := newHAClient(t.Config).do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var states []haEntityState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, err
	}

	if domain != "" {
		filtered := states[:0]
		for _, s := range states {
			if strings.HasPrefix(s.EntityID, domain+".") {
				filtered = append(filtered, s)
			}
		}
		states = filtered
	}

	if len(states) > 50 {
		states = states[:50]
	}
	if len(states) == 0 {
		if domain != "" {
			return fmt.Sprintf("No entities found for domain %s.", domain), nil
		}
		return "No entities found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d entities:\n", len(states))
	for _, s := range states {
		name, _ := s.Attributes["friendly_name"].(string)
		fmt.Fprintf(&sb, "  %s: %s (%s)\n", s.EntityID, s.State, name)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HAControlDeviceTool issues a service call against a single entity: on,
// off, toggle, or a temperature/brightness set.
type HAControlDeviceTool struct {
	Config HomeAssistantConfig
}

func (t *HAControlDeviceTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "ha_control_device",
		Description: "Control a Home Assistant device. Supports turning on/off lights, switches, fans, covers, " +
			"locks, and setting climate temperature. Use ha_list_entities first to discover available entity IDs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_id": map[string]any{
					"type":        "string",
					"description": "The entity ID to control (e.g. 'light.living_room')",
				},
				"action": map[string]any{
					"type":        "string",
					"description": "Action to perform: 'turn_on', 'turn_off', 'toggle', 'set_temperature', 'set_brightness'",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "Optional value for the action: temperature, brightness 0-255, or color name.",
				},
			},
			"required": []string{"entity_id", "action"},
		},
	}
}

func (t *HAControlDeviceTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if !t.Config.configured() {
		return "Error: Home Assistant not configured.", nil
	}
	entityID, _ := args["entity_id"].(string)
	action, _ := args["action"].(string)
	value, _ := args["value"].(string)
	if entityID == "" || action == "" {
		return nil, fmt.Errorf("entity_id and action are required")
	}

	domain := entityID
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		domain = entityID[:i]
	}

	service := ""
	data := map[string]any{"entity_id": entityID}
	switch {
	case action == "set_temperature" && value != "":
		service = "climate/set_temperature"
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q: %w", value, err)
		}
		data["temperature"] = f
	case action == "set_brightness" && value != "":
		service = domain + "/turn_on"
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid brightness %q: %w", value, err)
		}
		data["brightness"] = n
	case action == "turn_on" || action == "turn_off" || action == "toggle":
		service = domain + "/" + action
	default:
		return fmt.Sprintf("Unknown action %q. Use: turn_on, turn_off, toggle, set_temperature, set_brightness.", action), nil
	}

	resp, err := newHAClient(t.Config).do(ctx, http.MethodPost, "/api/services/"+service, data)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	result := fmt.Sprintf("OK: %s on %s", action, entityID)
	if value != "" {
		result += fmt.Sprintf(" (value: %s)", value)
	}
	return result, nil
}

// HATriggerSceneTool activates a scene or triggers an automation.
type HATriggerSceneTool struct {
	Config HomeAssistantConfig
}

func (t *HATriggerSceneTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name: "ha_trigger_scene",
		Description: "Trigger a Home Assistant scene or automation. Use ha_list_entities with domain " +
			"'scene' or 'automation' to find available ones.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_id": map[string]any{
					"type":        "string",
					"description": "The scene or automation entity_id (e.g. 'scene.movie_night')",
				},
			},
			"required": []string{"entity_id"},
		},
	}
}

func (t *HATriggerSceneTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if !t.Config.configured() {
		return "Error: Home Assistant not configured.", nil
	}
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	domain := entityID
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		domain = entityID[:i]
	}

	var service string
	switch domain {
	case "scene":
		service = "scene/turn_on"
	case "automation":
		service = "automation/trigger"
	default:
		return fmt.Sprintf("Entity %q is not a scene or automation.", entityID), nil
	}

	resp, err := newHAClient(t.Config).do(ctx, http.MethodPost, "/api/services/"+service, map[string]any{"entity_id": entityID})
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return fmt.Sprintf("OK: Triggered %s", entityID), nil
}
