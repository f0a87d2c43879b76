// Package config resolves the agent's settings from environment variables
// (MALONE_-prefixed, double-underscore nested) with an optional config.yaml
// overlay, mirroring the original's pydantic-settings env_prefix/
// env_nested_delimiter behavior (original_source/src/malone/config/
// settings.py) without a direct kwargs-merging equivalent in Go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/malonecentral/malone-agent/pkg/audio"
)

// Audio mirrors settings.AudioSettings.
type Audio struct {
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	BlockSize    int    `yaml:"blocksize"`
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
}

// Format converts Audio into the audio.Format every Source/Sink shares.
func (a Audio) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels, BlockSize: a.BlockSize}
}

// VAD mirrors settings.VADSettings.
type VAD struct {
	Threshold         float64       `yaml:"threshold"`
	SilenceThreshold  time.Duration `yaml:"silence_threshold"`
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`
}

// STT mirrors settings.STTSettings.
type STT struct {
	ModelSize   string `yaml:"model_size"`
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
}

// TTS mirrors settings.TTSSettings, extended with the connection info the
// original's local edge-tts backend didn't need but this module's
// Versa-protocol streaming backend does. APIKey is env-only, like
// Claude.APIKey.
type TTS struct {
	Voice  string  `yaml:"voice"`
	Rate   int     `yaml:"rate"`
	Volume float64 `yaml:"volume"`
	Host   string  `yaml:"host"`
	APIKey string  `yaml:"-"`
}

// Ollama mirrors settings.OllamaSettings — the router's local backend.
type Ollama struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Claude mirrors settings.ClaudeSettings — the router's cloud backend. A
// blank APIKey disables cloud routing entirely (spec.md §6); APIKey is read
// from the environment only and is never serialized back out or logged.
type Claude struct {
	APIKey    string `yaml:"-"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// HomeAssistant mirrors settings.HomeAssistantSettings. Token, like
// Claude.APIKey, is env-only.
type HomeAssistant struct {
	URL   string `yaml:"url"`
	Token string `yaml:"-"`
}

// Conversation mirrors the conversation.Config fields the original exposes
// for configuration rather than leaving as internal constants.
type Conversation struct {
	SystemPrompt string `yaml:"system_prompt"`
	MaxHistory   int    `yaml:"max_history"`
}

// Router mirrors the llm.Router's tunable.
type Router struct {
	ComplexityThreshold int `yaml:"complexity_threshold"`
}

// Config is the fully resolved settings tree, the Go analogue of
// MaloneSettings.
type Config struct {
	Audio         Audio         `yaml:"audio"`
	VAD           VAD           `yaml:"vad"`
	STT           STT           `yaml:"stt"`
	TTS           TTS           `yaml:"tts"`
	Ollama        Ollama        `yaml:"ollama"`
	Claude        Claude        `yaml:"claude"`
	HomeAssistant HomeAssistant `yaml:"home_assistant"`
	Conversation  Conversation  `yaml:"conversation"`
	Router        Router        `yaml:"router"`
}

const defaultSystemPrompt = `You are Malone, a helpful voice assistant. Keep replies brief and ` +
	`conversational — you are being read aloud, not displayed as text.`

// Default returns the settings.py defaults before any env or YAML overlay
// is applied.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate: 16000,
			Channels:   1,
			BlockSize:  480,
		},
		VAD: VAD{
			Threshold:         0.5,
			SilenceThreshold:  800 * time.Millisecond,
			MinSpeechDuration: 300 * time.Millisecond,
		},
		STT: STT{
			ModelSize:   "base",
			Device:      "cpu",
			ComputeType: "int8",
		},
		TTS: TTS{
			Voice:  "",
			Rate:   0,
			Volume: 1.0,
			Host:   "api.versa.voice",
		},
		Ollama: Ollama{
			BaseURL: "http://localhost:11434",
			Model:   "qwen3:4b",
			Timeout: 30 * time.Second,
		},
		Claude: Claude{
			Model:     "claude-3-5-sonnet-20240620",
			MaxTokens: 4096,
		},
		Conversation: Conversation{
			SystemPrompt: defaultSystemPrompt,
			MaxHistory:   50,
		},
		Router: Router{
			ComplexityThreshold: 500,
		},
	}
}

// Load resolves Config the way the original resolves MaloneSettings: start
// from defaults, overlay config.yaml from the working directory if
// present, then overlay MALONE_-prefixed environment variables (env wins,
// matching pydantic-settings' precedence with init kwargs absent here). A
// .env file is loaded first via godotenv so local development doesn't
// require exporting variables into the shell, mirroring the teacher's
// cmd/agent/main.go startup.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse config.yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read config.yaml: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays MALONE_-prefixed, __-nested environment variables onto
// cfg. Unlike pydantic-settings' reflection-based field walk, Go has no
// generic way to map an arbitrary nested struct to env names, so each field
// is listed explicitly — mechanical, but it is the direct equivalent of the
// original's env_prefix="MALONE_"/env_nested_delimiter="__" behavior.
func applyEnv(cfg *Config) {
	str("MALONE_AUDIO__INPUT_DEVICE", &cfg.Audio.InputDevice)
	str("MALONE_AUDIO__OUTPUT_DEVICE", &cfg.Audio.OutputDevice)
	intVal("MALONE_AUDIO__SAMPLE_RATE", &cfg.Audio.SampleRate)
	intVal("MALONE_AUDIO__CHANNELS", &cfg.Audio.Channels)
	intVal("MALONE_AUDIO__BLOCKSIZE", &cfg.Audio.BlockSize)

	floatVal("MALONE_VAD__THRESHOLD", &cfg.VAD.Threshold)
	durationVal("MALONE_VAD__SILENCE_THRESHOLD", &cfg.VAD.SilenceThreshold)
	durationVal("MALONE_VAD__MIN_SPEECH_DURATION", &cfg.VAD.MinSpeechDuration)

	str("MALONE_STT__MODEL_SIZE", &cfg.STT.ModelSize)
	str("MALONE_STT__DEVICE", &cfg.STT.Device)
	str("MALONE_STT__COMPUTE_TYPE", &cfg.STT.ComputeType)

	str("MALONE_TTS__VOICE", &cfg.TTS.Voice)
	intVal("MALONE_TTS__RATE", &cfg.TTS.Rate)
	floatVal("MALONE_TTS__VOLUME", &cfg.TTS.Volume)
	str("MALONE_TTS__HOST", &cfg.TTS.Host)
	str("MALONE_TTS__API_KEY", &cfg.TTS.APIKey)
	str("VERSA_API_KEY", &cfg.TTS.APIKey)

	str("MALONE_OLLAMA__BASE_URL", &cfg.Ollama.BaseURL)
	str("MALONE_OLLAMA__MODEL", &cfg.Ollama.Model)
	durationVal("MALONE_OLLAMA__TIMEOUT", &cfg.Ollama.Timeout)

	// Claude.APIKey and HomeAssistant.Token are secrets: env-only, never
	// logged, and never populated from config.yaml (see the yaml:"-" tag).
	str("MALONE_CLAUDE__API_KEY", &cfg.Claude.APIKey)
	str("ANTHROPIC_API_KEY", &cfg.Claude.APIKey)
	str("MALONE_CLAUDE__MODEL", &cfg.Claude.Model)
	int64Val("MALONE_CLAUDE__MAX_TOKENS", &cfg.Claude.MaxTokens)

	str("MALONE_HOME_ASSISTANT__URL", &cfg.HomeAssistant.URL)
	str("MALONE_HOME_ASSISTANT__TOKEN", &cfg.HomeAssistant.Token)
	str("HA_TOKEN", &cfg.HomeAssistant.Token)

	str("MALONE_CONVERSATION__SYSTEM_PROMPT", &cfg.Conversation.SystemPrompt)
	intVal("MALONE_CONVERSATION__MAX_HISTORY", &cfg.Conversation.MaxHistory)

	intVal("MALONE_ROUTER__COMPLEXITY_THRESHOLD", &cfg.Router.ComplexityThreshold)
}

// CloudEnabled reports whether enough configuration is present to route to
// the cloud model at all (spec.md §6: absent API key disables cloud).
func (c Config) CloudEnabled() bool {
	return c.Claude.APIKey != ""
}

func str(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intVal(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func int64Val(name string, dst *int64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func floatVal(name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func durationVal(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
