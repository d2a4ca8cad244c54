package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars (env always
// wins), matching the teacher's Default()+json5.Unmarshal+env-pass shape.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets and hot-path overrides from the
// environment. Env vars always win over file values, matching the
// teacher's "DSN from env only" convention for anything secret.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("GOCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GOCLAW_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("GOCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GOCLAW_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)

	envStr("GOCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("GOCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("GOCLAW_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("GOCLAW_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("GOCLAW_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("GOCLAW_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("GOCLAW_FEISHU_ENCRYPT_KEY", &c.Channels.Feishu.EncryptKey)
	envStr("GOCLAW_FEISHU_VERIFICATION_TOKEN", &c.Channels.Feishu.VerificationToken)
	envStr("GOCLAW_WHATSAPP_VERIFY_TOKEN", &c.Channels.WhatsApp.VerifyToken)
	envStr("GOCLAW_WHATSAPP_META_APP_SECRET", &c.Channels.WhatsApp.MetaAppSecret)
	envStr("GOCLAW_WHATSAPP_META_PHONE_NUMBER_ID", &c.Channels.WhatsApp.MetaPhoneNumberID)
	envStr("GOCLAW_WHATSAPP_META_ACCESS_TOKEN", &c.Channels.WhatsApp.MetaAccessToken)
	envStr("GOCLAW_MATRIX_ACCESS_TOKEN", &c.Channels.Matrix.AccessToken)
	envStr("GOCLAW_SIGNAL_SEND_URL", &c.Channels.Signal.SendURL)
	envStr("GOCLAW_EMAIL_SMTP_ADDR", &c.Channels.Email.SMTPAddr)
	envStr("GOCLAW_EMAIL_SMTP_FROM", &c.Channels.Email.SMTPFrom)
	envStr("GOCLAW_NOSTR_PRIVATE_KEY", &c.Channels.Nostr.PrivateKey)

	envStr("GOCLAW_WEBHOOK_DINGTALK_TOKEN", &c.Webhooks.DingTalkToken)
	envStr("GOCLAW_WEBHOOK_EMAIL_TOKEN", &c.Webhooks.EmailToken)
	envStr("GOCLAW_WEBHOOK_NOSTR_TOKEN", &c.Webhooks.NostrToken)
	envStr("GOCLAW_WEBHOOK_QQ_TOKEN", &c.Webhooks.QQToken)
	envStr("GOCLAW_WEBHOOK_SIGNAL_TOKEN", &c.Webhooks.SignalToken)
	envStr("GOCLAW_WEBHOOK_IMESSAGE_TOKEN", &c.Webhooks.IMessageToken)

	// Auto-enable channels once their credentials are present via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}

	envStr("GOCLAW_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("GOCLAW_MODEL", &c.Agents.Defaults.Model)
	envStr("GOCLAW_TIMEZONE", &c.Agents.Defaults.Timezone)
	envStr("GOCLAW_DATA_DIR", &c.DataDir)
	envStr("GOCLAW_WORKING_DIR", &c.WorkingDir)

	if v := os.Getenv("GOCLAW_SHOW_THINKING"); v != "" {
		c.Agents.Defaults.ShowThinking = v == "true" || v == "1"
	}
	if v := os.Getenv("GOCLAW_CONTROL_CHAT_IDS"); v != "" {
		c.Agents.Defaults.ControlChatIDs = FlexibleStringSlice(strings.Split(v, ","))
	}
	if v := os.Getenv("GOCLAW_MAX_SESSION_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agents.Defaults.MaxSessionMessages = n
		}
	}
	if v := os.Getenv("GOCLAW_MAX_TOOL_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agents.Defaults.MaxToolIterations = n
		}
	}
	if v := os.Getenv("GOCLAW_REFLECTOR_ENABLED"); v != "" {
		c.Reflector.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GOCLAW_REFLECTOR_INTERVAL_MINS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Reflector.IntervalMins = n
		}
	}
	envStr("GOCLAW_REFLECTOR_EMBEDDING_MODEL", &c.Reflector.EmbeddingModel)

	envStr("GOCLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("GOCLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if v := os.Getenv("GOCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("GOCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GOCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// DataDirPath returns the expanded data directory path.
func (c *Config) DataDirPath() string {
	return ExpandHome(c.DataDir)
}

// WorkingDirPath returns the expanded working directory path.
func (c *Config) WorkingDirPath() string {
	return ExpandHome(c.WorkingDir)
}

// IsControlChat reports whether chatID is in the configured control set,
// which may execute cross-chat tool calls per spec §6.
func (c *Config) IsControlChat(chatID string) bool {
	for _, id := range c.Agents.Defaults.ControlChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
