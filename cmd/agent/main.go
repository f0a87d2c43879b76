// Command agent runs the voice conversation Driver against a real duplex
// audio device, grounded on the teacher's cmd/agent/main.go (env-var
// provider selection, malgo device setup, signal handling) generalized to
// read internal/config and build a conversation.Driver instead of an
// Orchestrator/ManagedStream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/malonecentral/malone-agent/internal/config"
	"github.com/malonecentral/malone-agent/internal/logging"
	"github.com/malonecentral/malone-agent/pkg/audio/malgo"
	"github.com/malonecentral/malone-agent/pkg/conversation"
	"github.com/malonecentral/malone-agent/pkg/llm"
	"github.com/malonecentral/malone-agent/pkg/llm/anthropic"
	"github.com/malonecentral/malone-agent/pkg/llm/ollama"
	"github.com/malonecentral/malone-agent/pkg/metrics"
	"github.com/malonecentral/malone-agent/pkg/stt"
	sttgroq "github.com/malonecentral/malone-agent/pkg/stt/groq"
	sttopenai "github.com/malonecentral/malone-agent/pkg/stt/openai"
	"github.com/malonecentral/malone-agent/pkg/tools"
	"github.com/malonecentral/malone-agent/pkg/tools/builtin"
	"github.com/malonecentral/malone-agent/pkg/tools/mcp"
	ttsstreaming "github.com/malonecentral/malone-agent/pkg/tts/streaming"
	"github.com/malonecentral/malone-agent/pkg/transcript"
	"github.com/malonecentral/malone-agent/pkg/vad"
)

var (
	sttProviderFlag string
	logLevelFlag    string
	mcpServerFlags  []string
)

func main() {
	root := &cobra.Command{
		Use:   "malone-agent",
		Short: "Voice-driven personal assistant conversation loop",
		RunE:  run,
	}
	root.Flags().StringVar(&sttProviderFlag, "stt-provider", "groq", "transcription backend: groq, openai")
	root.Flags().StringVar(&logLevelFlag, "log-level", "info", "debug, info, warn, error")
	root.Flags().StringArrayVar(&mcpServerFlags, "mcp-server", nil, "name=command[ args...] of an additional MCP tool server; may be repeated")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewDefault(logLevelFlag)

	shutdownMetrics, err := metrics.InitProvider()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())
	driverMetrics, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("initializing driver metrics: %w", err)
	}

	format := cfg.Audio.Format()

	transcriber, err := buildTranscriber(cfg, format.SampleRate)
	if err != nil {
		return err
	}

	router := buildRouter(cfg)

	synth := ttsstreaming.New(cfg.TTS.APIKey, cfg.TTS.Host, 24000)

	registry := tools.NewRegistry()
	if err := builtin.Register(registry, builtin.HomeAssistantConfig{
		URL:   cfg.HomeAssistant.URL,
		Token: cfg.HomeAssistant.Token,
	}); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}
	if err := registerMCPServers(cmd.Context(), registry, mcpServerFlags); err != nil {
		return err
	}
	executor := tools.NewExecutor(registry)

	device, err := malgo.New(format)
	if err != nil {
		return fmt.Errorf("opening audio device: %w", err)
	}
	defer device.Close()

	detector := vad.NewRMSDetector(cfg.VAD.Threshold)
	endpointer := vad.New(detector, format)
	endpointer.SilenceThreshold = cfg.VAD.SilenceThreshold
	endpointer.MinSpeechDuration = cfg.VAD.MinSpeechDuration

	history := transcript.New(cfg.Conversation.SystemPrompt, cfg.Conversation.MaxHistory)

	driver := conversation.New(conversation.Driver{
		Source:      device,
		Sink:        device,
		Endpointer:  endpointer,
		Transcriber: transcriber,
		LLM:         router,
		TTS:         synth,
		Executor:    executor,
		Transcript:  history,
		Logger:      logger,
		Metrics:     driverMetrics,
		Output:      os.Stdout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	go printEvents(driver)

	logger.Info("malone-agent listening",
		"stt", transcriber.Name(), "llm", router.Name(), "sample_rate", format.SampleRate)

	if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("conversation loop: %w", err)
	}
	return nil
}

// printEvents drains the Driver's observability channel and prints a
// status line per event, the CLI analogue of the teacher's colored
// console event-consumption goroutine in cmd/agent/main.go.
func printEvents(d *conversation.Driver) {
	for ev := range d.Events() {
		switch ev.Type {
		case conversation.EventListening:
			fmt.Println("... listening")
		case conversation.EventThinking:
			fmt.Println("... thinking")
		case conversation.EventSpeaking:
			fmt.Println("... speaking")
		case conversation.EventToolCall:
			fmt.Printf("... calling tool %s\n", ev.Data)
		case conversation.EventToolResult:
			fmt.Printf("... tool %s done\n", ev.Data)
		case conversation.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Data)
		}
	}
}

func buildTranscriber(cfg config.Config, sampleRate int) (stt.Transcriber, error) {
	switch sttProviderFlag {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for --stt-provider=openai")
		}
		return sttopenai.New(key, "", sampleRate), nil
	case "groq", "":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for --stt-provider=groq")
		}
		return sttgroq.New(key, "", sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown --stt-provider %q", sttProviderFlag)
	}
}

// buildRouter wires the local (Ollama) and, when configured, cloud
// (Anthropic) capabilities into an llm.Router. Cloud is left nil when no
// API key is configured (spec.md §6), so every turn goes to Local.
func buildRouter(cfg config.Config) *llm.Router {
	local := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Model)

	var cloud llm.Capability
	if cfg.CloudEnabled() {
		cloud = anthropic.New(cfg.Claude.APIKey, cfg.Claude.Model).WithMaxTokens(cfg.Claude.MaxTokens)
	}

	router := llm.NewRouter(local, cloud)
	router.ComplexityThreshold = cfg.Router.ComplexityThreshold
	return router
}

// registerMCPServers connects to each --mcp-server flag value (formatted
// name=command[ arg...]) and registers its tools alongside the builtins.
func registerMCPServers(ctx context.Context, registry *tools.Registry, specs []string) error {
	for _, spec := range specs {
		name, commandLine, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("invalid --mcp-server %q: expected name=command", spec)
		}
		src, err := mcp.Connect(ctx, mcp.ServerConfig{Name: name, Command: commandLine})
		if err != nil {
			return fmt.Errorf("connecting to mcp server %q: %w", name, err)
		}
		remoteTools, err := src.Tools(ctx)
		if err != nil {
			return fmt.Errorf("listing tools from mcp server %q: %w", name, err)
		}
		for _, t := range remoteTools {
			if err := registry.Register(t); err != nil {
				return fmt.Errorf("registering tool from mcp server %q: %w", name, err)
			}
		}
	}
	return nil
}
