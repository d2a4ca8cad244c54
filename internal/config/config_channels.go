package config

// ChannelsConfig contains per-channel configuration. Every channel shares
// the DMPolicy/GroupPolicy/RequireMention/AllowFrom shape from the
// teacher's BaseChannel contract (internal/channels/channel.go).
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	Feishu   FeishuConfig   `json:"feishu"`
	DingTalk DingTalkConfig `json:"dingtalk"`
	QQ       QQConfig       `json:"qq"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Matrix   MatrixConfig   `json:"matrix"`
	IRC      IRCConfig      `json:"irc"`
	Email    EmailConfig    `json:"email"`
	Signal   SignalConfig   `json:"signal"`
	Nostr    NostrConfig    `json:"nostr"`
	IMessage IMessageConfig `json:"imessage"`
}

// Common holds the policy fields shared by every adapter config.
type Common struct {
	Enabled        bool                `json:"enabled"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "pairing", "allowlist", "open" (default), "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // default true in groups
}

type TelegramConfig struct {
	Common
	Token string `json:"token"`
}

type DiscordConfig struct {
	Common
	Token string `json:"token"`
}

type SlackConfig struct {
	Common
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type FeishuConfig struct {
	Common
	AppID             string `json:"app_id"`
	AppSecret         string `json:"app_secret"`
	EncryptKey        string `json:"encrypt_key,omitempty"`
	VerificationToken string `json:"verification_token,omitempty"`
	ConnectionMode    string `json:"connection_mode,omitempty"` // not read: the Feishu adapter runs in webhook mode only
	WebhookPath       string `json:"webhook_path,omitempty"`    // default per spec §6 table
}

type DingTalkConfig struct {
	Common
	WebhookPath      string `json:"webhook_path,omitempty"`       // default /dingtalk/events; token lives in WebhooksConfig.DingTalkToken
	OutboundRobotURL string `json:"outbound_robot_url,omitempty"` // custom-robot webhook URL for outbound sends
}

type QQConfig struct {
	Common
	WebhookPath string `json:"webhook_path,omitempty"` // default /qq/events; token lives in WebhooksConfig.QQToken
}

type WhatsAppConfig struct {
	Common
	Mode        string `json:"mode,omitempty"` // "meta" (default, spec §6 Business Cloud API webhook), "whatsmeow" (native multi-device), or "bridge"
	BridgeURL   string `json:"bridge_url,omitempty"`
	WebhookPath string `json:"webhook_path,omitempty"`
	VerifyToken string `json:"verify_token,omitempty"` // Meta webhook subscription handshake (hub.verify_token)

	// Meta Business Cloud API (mode "meta").
	MetaAppSecret     string `json:"meta_app_secret,omitempty"`     // HMAC-SHA256 key for X-Hub-Signature-256
	MetaPhoneNumberID string `json:"meta_phone_number_id,omitempty"`
	MetaAccessToken   string `json:"meta_access_token,omitempty"`
	MetaAPIBase       string `json:"meta_api_base,omitempty"` // default https://graph.facebook.com/v19.0
}

type MatrixConfig struct {
	Common
	HomeserverURL  string   `json:"homeserver_url"`
	UserID         string   `json:"user_id"`
	AccessToken    string   `json:"access_token"`
	AllowedRoomIDs []string `json:"allowed_room_ids,omitempty"`
	SyncTimeoutMs  int      `json:"sync_timeout_ms,omitempty"` // default 30000
}

type IRCConfig struct {
	Common
	Server   string   `json:"server"`
	Port     int      `json:"port,omitempty"`
	TLS      bool     `json:"tls,omitempty"`
	Nick     string   `json:"nick"`
	Channels []string `json:"channels,omitempty"`
}

type EmailConfig struct {
	Common
	WebhookPath string `json:"webhook_path,omitempty"`
	SMTPAddr    string `json:"smtp_addr,omitempty"`
	SMTPFrom    string `json:"smtp_from,omitempty"`
}

type SignalConfig struct {
	Common
	WebhookPath string `json:"webhook_path,omitempty"`
	SendURL     string `json:"send_url,omitempty"` // signal-cli REST API base
}

type NostrConfig struct {
	Common
	WebhookPath string   `json:"webhook_path,omitempty"`
	Relays      []string `json:"relays,omitempty"`
	PrivateKey  string   `json:"-"` // env only
}

type IMessageConfig struct {
	Common
	WebhookPath string `json:"webhook_path,omitempty"`
}

// ProvidersConfig maps provider name to its secret/endpoint config.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider reports whether at least one LLM provider has credentials.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Anthropic.APIKey != "" || c.Providers.OpenAI.APIKey != ""
}
