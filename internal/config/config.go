// Package config loads the gateway's JSON5 configuration file and overlays
// secrets from the environment, following the teacher's convention: a
// Default() baseline, json5.Unmarshal over it, then an env-var pass that
// always wins over the file (internal/config/config_load.go).
package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str", ...] and [123, ...] in JSON —
// some channels' allow-lists are numeric chat ids written unquoted by hand.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gateway process.
type Config struct {
	DataDir    string           `json:"data_dir,omitempty"`
	WorkingDir string           `json:"working_dir,omitempty"`
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Sessions   SessionsConfig   `json:"sessions"`
	Scheduler  SchedulerConfig  `json:"scheduler,omitempty"`
	Reflector  ReflectorConfig  `json:"reflector,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	Webhooks   WebhooksConfig   `json:"webhooks,omitempty"`
}

// AgentsConfig holds the agent-loop env/config contract from spec §6.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults names exactly the recognized options spec.md §6 requires an
// implementer to honor, plus the provider/model selection needed to run one.
type AgentDefaults struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`

	MaxSessionMessages int `json:"max_session_messages"`
	CompactKeepRecent  int `json:"compact_keep_recent"`
	MaxToolIterations  int `json:"max_tool_iterations"`
	MaxHistoryMessages int `json:"max_history_messages"`

	ShowThinking   bool                `json:"show_thinking"`
	ControlChatIDs FlexibleStringSlice `json:"control_chat_ids"`

	Timezone string `json:"timezone"`

	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`

	// MaxMessageChars bounds an inbound user message before it's handed to
	// the LLM, appending a truncation notice rather than rejecting it
	// (SPEC_FULL.md §C "input-size guard").
	MaxMessageChars int `json:"max_message_chars,omitempty"`
}

// SchedulerConfig configures the scheduler's tick interval (§4.5).
type SchedulerConfig struct {
	TickSeconds int `json:"tick_seconds,omitempty"` // default 60
}

// ReflectorConfig configures the periodic memory extractor (§4.6).
type ReflectorConfig struct {
	Enabled        bool   `json:"enabled"`
	IntervalMins   int    `json:"interval_mins"`   // reflector_interval_mins
	EmbeddingModel string `json:"embedding_model"` // optional OpenAI embedding model for semantic dedup; defaults to text-embedding-3-small
}

// TelemetryConfig holds OTLP exporter settings loaded from config and the
// GOCLAW_TELEMETRY_* env vars. No component reads them: nothing is exported
// to an OTLP backend, and the local DB rows are the only metrics record.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// GatewayConfig holds a host/port pair loaded from config and the
// GOCLAW_HOST/GOCLAW_PORT env vars. No listener reads it: each
// webhook-driven channel (DingTalk, Email, Nostr, QQ, Signal, iMessage,
// WhatsApp meta mode, Feishu) binds its own fixed port.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// WebhooksConfig carries the fixed-header validation token per channel
// (spec §6's "token validated via a fixed header name per channel").
type WebhooksConfig struct {
	DingTalkToken string `json:"-"` // env GOCLAW_WEBHOOK_DINGTALK_TOKEN
	EmailToken    string `json:"-"`
	NostrToken    string `json:"-"`
	QQToken       string `json:"-"`
	SignalToken   string `json:"-"`
	IMessageToken string `json:"-"`
}

// SessionsConfig configures where archived conversations are written.
type SessionsConfig struct {
	Storage string `json:"storage,omitempty"`
}

// Default returns a Config with sensible defaults mirroring spec §6's
// documented fallback behavior for each recognized option.
func Default() *Config {
	return &Config{
		DataDir:    "~/.goclaw/data",
		WorkingDir: "~/.goclaw",
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:           "anthropic",
				Model:              "claude-sonnet-4-5-20250929",
				MaxSessionMessages: 60,
				CompactKeepRecent:  12,
				MaxToolIterations:  20,
				MaxHistoryMessages: 30,
				ShowThinking:       false,
				Timezone:           "UTC",
				MaxTokens:          8192,
				Temperature:        0.7,
				ContextWindow:      200000,
				MaxMessageChars:    32000,
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
		Sessions: SessionsConfig{
			Storage: "~/.goclaw/data/groups",
		},
		Scheduler: SchedulerConfig{
			TickSeconds: 60,
		},
		Reflector: ReflectorConfig{
			Enabled:      true,
			IntervalMins: 30,
		},
	}
}
