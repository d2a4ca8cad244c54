package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/dingtalk"
	"github.com/nextlevelbuilder/goclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/goclaw/internal/channels/email"
	"github.com/nextlevelbuilder/goclaw/internal/channels/feishu"
	"github.com/nextlevelbuilder/goclaw/internal/channels/imessage"
	"github.com/nextlevelbuilder/goclaw/internal/channels/irc"
	"github.com/nextlevelbuilder/goclaw/internal/channels/matrix"
	"github.com/nextlevelbuilder/goclaw/internal/channels/nostr"
	"github.com/nextlevelbuilder/goclaw/internal/channels/qq"
	signalchannel "github.com/nextlevelbuilder/goclaw/internal/channels/signal"
	"github.com/nextlevelbuilder/goclaw/internal/channels/slack"
	"github.com/nextlevelbuilder/goclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/goclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/goclaw/internal/commands"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/logging"
	"github.com/nextlevelbuilder/goclaw/internal/observability"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/reflector"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

const inboundGlueWorkers = 4

// runGateway wires every SPEC_FULL.md component together and blocks until
// SIGINT/SIGTERM. Grounded on the teacher's cmd/gateway.go startup
// sequence (slog setup -> config.Load -> store open -> channel
// construction -> signal-driven shutdown), with the teacher's multi-tenant
// onboarding wizard, WebSocket RPC gateway, and pairing/sandbox/permissions
// machinery dropped — none of those have an analog in SPEC_FULL.md
// (see DESIGN.md "Dropped teacher dependencies").
func runGateway() {
	level := "info"
	if verbose {
		level = "debug"
	}
	logging.Setup(logging.Options{Level: level})

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if !cfg.HasAnyProvider() {
		slog.Error("no LLM provider configured: set providers.anthropic.api_key or providers.openai.api_key (or the GOCLAW_ANTHROPIC_API_KEY / GOCLAW_OPENAI_API_KEY env vars)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DataDirPath())
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		slog.Error("provider construction failed", "error", err)
		os.Exit(1)
	}

	tz, err := loadTimezone(cfg.Agents.Defaults.Timezone)
	if err != nil {
		slog.Warn("unrecognized timezone, falling back to UTC", "timezone", cfg.Agents.Defaults.Timezone, "error", err)
	}

	skillsDir := filepath.Join(cfg.WorkingDirPath(), "skills")
	skills, err := tools.NewSkillsCatalog(skillsDir)
	if err != nil {
		slog.Error("skills catalog load failed", "dir", skillsDir, "error", err)
		os.Exit(1)
	}

	router := bus.NewChannelRouter(256)
	registry := channels.NewRegistry()

	registry = registerChannels(cfg, registry, router)

	toolRegistry := tools.NewRegistry()
	registerTools(toolRegistry, cfg, st, tz, skills, registry)

	loop := agent.New(st, toolRegistry, provider, cfg.Agents.Defaults, cfg.DataDirPath(), skills)
	toolRegistry.Register(tools.NewDelegateTool(delegateRunner{loop}))

	dispatcher := commands.New(st, skills, cfg.DataDirPath(), cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model)

	pipeline := &channels.Pipeline{Store: st, Commands: dispatcher, Agent: loop, WorkDir: cfg.WorkingDirPath()}

	manager := channels.NewManager(registry, router, st)
	if err := manager.StartAll(ctx); err != nil {
		slog.Error("failed to start channel adapters", "error", err)
		os.Exit(1)
	}

	for i := 0; i < inboundGlueWorkers; i++ {
		go runInboundWorker(ctx, router, pipeline, st)
	}

	sched := scheduler.New(st, loop, registry, tz, time.Duration(cfg.Scheduler.TickSeconds)*time.Second)
	go sched.Run(ctx)

	if cfg.Reflector.Enabled {
		embed := reflector.ResolveEmbeddingFunc(cfg.Providers, cfg.Reflector.EmbeddingModel)
		refl := reflector.New(st, provider, cfg.Agents.Defaults.Model, time.Duration(cfg.Reflector.IntervalMins)*time.Minute, embed)
		go refl.Run(ctx)
	}

	collector := observability.NewCollector(st, 1*time.Minute)
	go collector.Run(ctx)

	slog.Info("goclaw gateway started", "channels", len(registry.All()), "provider", provider.Name())
	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(shutdownCtx)
}

// runInboundWorker implements the inbound half of spec §4.2's pipeline
// that the teacher's channel adapters publish into but nothing yet
// consumed: drain the router's inbound queue, run the ingress pipeline,
// and publish any reply back through the outbound queue Manager already
// dispatches.
func runInboundWorker(ctx context.Context, router *bus.ChannelRouter, pipeline *channels.Pipeline, st *store.Store) {
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			return
		}

		chatID, err := st.ResolveOrCreateChatID(ctx, msg.Channel, msg.ExternalChatID, msg.ChatTitle, msg.ChatType)
		if err != nil {
			slog.Error("inbound: chat resolution failed", "channel", msg.Channel, "error", err)
			continue
		}

		isGroup := !msg.IsDirectMessage
		reply, shouldSend, err := pipeline.Ingest(ctx, msg, isGroup)
		if err != nil {
			slog.Error("inbound: ingest failed", "channel", msg.Channel, "chat_id", chatID, "error", err)
			router.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: chatID, Text: fmt.Sprintf("Error: %v", err)})
			continue
		}
		if shouldSend {
			router.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: chatID, Text: reply})
		}
	}
}

// delegateRunner adapts agent.Loop.RunOverride to tools.SubAgentRunner's
// Process signature, avoiding the import cycle a direct internal/agent
// dependency inside internal/tools would create.
type delegateRunner struct {
	loop *agent.Loop
}

func (d delegateRunner) Process(ctx context.Context, chatID int64, callerChannel, chatType, overridePrompt string) (string, error) {
	return d.loop.RunOverride(ctx, chatID, callerChannel, chatType, overridePrompt)
}

func newProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.Agents.Defaults.Provider
	var apiKey, apiBase string
	switch name {
	case "openai":
		apiKey, apiBase = cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase
	default:
		name = "anthropic"
		apiKey, apiBase = cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase
	}
	return providers.New(name, apiKey, apiBase, cfg.Agents.Defaults.Model)
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// registerTools populates reg with every capability spec §4.4 names.
func registerTools(reg *tools.Registry, cfg *config.Config, st *store.Store, tz *time.Location, skills *tools.SkillsCatalog, registry *channels.Registry) {
	workDir := cfg.WorkingDirPath()
	reg.Register(tools.NewExecTool(workDir, true))
	reg.Register(tools.NewReadFileTool(workDir, true))
	reg.Register(tools.NewWriteFileTool(workDir, true))
	reg.Register(tools.NewGlobTool(workDir, true))
	reg.Register(tools.NewGrepTool(workDir))
	reg.Register(tools.NewWebFetchTool(8000))
	reg.Register(tools.NewWebSearchTool(os.Getenv("GOCLAW_BRAVE_API_KEY")))
	reg.Register(tools.NewMemoryTool(st))
	reg.Register(tools.NewScheduleTool(st, tz))
	reg.Register(tools.NewSendMessageTool(st, registry))
	reg.Register(tools.NewExportTool(st, cfg.DataDirPath()))
	reg.Register(tools.NewTodoTool())
	reg.Register(tools.NewSkillTool(skills))
	reg.Register(tools.NewMCPProxyTool(nil))
}

// registerChannels constructs and registers every adapter enabled in cfg.
// Construction failures are logged and skipped rather than fatal — a
// misconfigured channel shouldn't take down every other one spec.md names
// (spec §7's "adapter-layer errors are logged" propagation policy).
func registerChannels(cfg *config.Config, registry *channels.Registry, router bus.MessageRouter) *channels.Registry {
	add := func(name string, ch channels.Channel, err error) {
		if err != nil {
			slog.Error("channel construction failed", "channel", name, "error", err)
			return
		}
		registry.Register(ch)
	}

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, router)
		add("telegram", ch, err)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, router)
		add("discord", ch, err)
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := slack.New(cfg.Channels.Slack, router)
		add("slack", ch, err)
	}
	if cfg.Channels.Matrix.Enabled {
		ch, err := matrix.New(cfg.Channels.Matrix, router)
		add("matrix", ch, err)
	}
	if cfg.Channels.IRC.Enabled {
		ch, err := irc.New(cfg.Channels.IRC, router)
		add("irc", ch, err)
	}
	if cfg.Channels.Feishu.Enabled {
		ch, err := feishu.New(cfg.Channels.Feishu, router)
		add("feishu", ch, err)
	}
	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channels.WhatsApp, router, cfg.DataDirPath())
		add("whatsapp", ch, err)
	}
	if cfg.Channels.DingTalk.Enabled {
		ch, err := dingtalk.New(cfg.Channels.DingTalk, cfg.Webhooks.DingTalkToken, router)
		add("dingtalk", ch, err)
	}
	if cfg.Channels.QQ.Enabled {
		ch, err := qq.New(cfg.Channels.QQ, cfg.Webhooks.QQToken, router)
		add("qq", ch, err)
	}
	if cfg.Channels.Email.Enabled {
		ch, err := email.New(cfg.Channels.Email, cfg.Webhooks.EmailToken, router)
		add("email", ch, err)
	}
	if cfg.Channels.Signal.Enabled {
		ch, err := signalchannel.New(cfg.Channels.Signal, cfg.Webhooks.SignalToken, router)
		add("signal", ch, err)
	}
	if cfg.Channels.Nostr.Enabled {
		ch, err := nostr.New(cfg.Channels.Nostr, cfg.Webhooks.NostrToken, router)
		add("nostr", ch, err)
	}
	if cfg.Channels.IMessage.Enabled {
		ch, err := imessage.New(cfg.Channels.IMessage, cfg.Webhooks.IMessageToken, router)
		add("imessage", ch, err)
	}
	return registry
}
