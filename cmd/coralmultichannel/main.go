package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/channel"
	"github.com/nescampos/coralmultichannel/pkg/config"
	"github.com/nescampos/coralmultichannel/pkg/engine"
	"github.com/nescampos/coralmultichannel/pkg/gateway"
	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/mcp"
	"github.com/nescampos/coralmultichannel/pkg/providers"
	"github.com/nescampos/coralmultichannel/pkg/sip"
	"github.com/nescampos/coralmultichannel/pkg/speech"
	"github.com/nescampos/coralmultichannel/pkg/storage"
	"github.com/nescampos/coralmultichannel/pkg/store"
	"github.com/nescampos/coralmultichannel/pkg/tools"
)

func main() {
	configPath := flag.String("config", config.ExpandHome("~/.coral/config.json"), "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Logging.Debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			logger.WarnCF("main", "file logging unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	seeds := make([]store.MCPServer, 0, len(cfg.MCP.DefaultServers))
	for _, s := range cfg.MCP.DefaultServers {
		seeds = append(seeds, store.MCPServer{Name: s.Name, URL: s.URL, Version: s.Version})
	}
	if err := st.SeedServers(ctx, seeds); err != nil {
		logger.WarnCF("main", "seeding mcp servers failed", map[string]interface{}{"error": err.Error()})
	}

	provider, err := providers.New(cfg.Assistant.Provider, cfg.Assistant.Model, cfg.ProviderAPIKey(), cfg.ProviderAPIBase())
	if err != nil {
		return fmt.Errorf("model provider: %w", err)
	}

	transcriber, err := speech.NewTranscriber(speech.Options{
		Provider: cfg.Speech.Transcriber.Provider,
		APIKey:   cfg.Speech.Transcriber.APIKey,
		APIBase:  cfg.Speech.Transcriber.APIBase,
		Model:    cfg.Speech.Transcriber.Model,
		Language: cfg.Speech.Transcriber.Language,
	})
	if err != nil {
		logger.WarnCF("main", "transcription disabled", map[string]interface{}{"error": err.Error()})
	}
	synthesizer, err := speech.NewSynthesizer(speech.Options{
		Provider: cfg.Speech.Synthesizer.Provider,
		APIKey:   cfg.Speech.Synthesizer.APIKey,
		APIBase:  cfg.Speech.Synthesizer.APIBase,
		Model:    cfg.Speech.Synthesizer.Model,
		Voice:    cfg.Speech.Synthesizer.Voice,
	})
	if err != nil {
		logger.WarnCF("main", "speech synthesis disabled", map[string]interface{}{"error": err.Error()})
	}

	uploads, err := storage.NewLocalStore(cfg.UploadsPath(), cfg.Gateway.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("uploads storage: %w", err)
	}

	registry := tools.NewRegistry()

	mcpManager := mcp.NewManager(registry)
	servers, err := st.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list mcp servers: %w", err)
	}
	if err := mcpManager.ConnectAll(ctx, servers); err != nil {
		logger.WarnCF("main", "some capability servers unavailable", map[string]interface{}{"error": err.Error()})
	}
	defer mcpManager.DisconnectAll()

	eng := engine.New(provider, registry, st, engine.Options{
		Model:        cfg.Assistant.Model,
		MaxTokens:    cfg.Assistant.MaxTokens,
		Temperature:  cfg.Assistant.Temperature,
		SystemPrompt: cfg.Assistant.SystemPrompt,
		HistoryLimit: cfg.Assistant.HistoryLimit,
	})

	var calls *sip.Manager
	if cfg.Telephony.Enabled {
		calls = sip.NewManager()
		calls.SetGreeting(func(ctx context.Context, s *sip.CallSession) (string, error) {
			if cfg.Assistant.Greeting != "" {
				return cfg.Assistant.Greeting, nil
			}
			return eng.ProcessMessage(ctx, "voice", s.RemoteParty, "The caller just connected. Greet them briefly.")
		})

		switchProvider := sip.NewSoftswitchProvider(sip.SoftswitchOptions{
			URL:              cfg.Telephony.SwitchURL,
			CallerID:         cfg.Telephony.CallerID,
			EstablishTimeout: time.Duration(cfg.Telephony.OutboundTimeoutSec) * time.Second,
		})
		if err := calls.Initialize(ctx, switchProvider); err != nil {
			logger.WarnCF("main", "telephony unavailable", map[string]interface{}{"error": err.Error()})
			calls = nil
		} else {
			defer calls.Terminate(context.Background())
			registry.Register(tools.NewCallPhoneTool(calls))
			registry.Register(tools.NewEndCallTool(calls))
			registry.Register(tools.NewListCallsTool(calls))
		}
	}

	var smsGateway channel.SMSGateway
	if cfg.Channels.SMS.OutboundURL != "" {
		relay := channel.NewHTTPSMSGateway(cfg.Channels.SMS.OutboundURL)
		smsGateway = relay
		registry.Register(tools.NewSendSMSTool(relay.SendSMS))
	}

	var mailer channel.Mailer
	if cfg.Channels.Mail.SMTPHost != "" {
		mailer = &channel.SMTPMailer{
			Host: cfg.Channels.Mail.SMTPHost,
			Port: cfg.Channels.Mail.SMTPPort,
			From: cfg.Channels.Mail.From,
			User: cfg.Channels.Mail.Username,
			Pass: cfg.Channels.Mail.Password,
		}
	}

	var callSender channel.CallSender
	if calls != nil {
		callSender = calls
	}

	router := channel.NewRouter(
		channel.NewSMSAdapter(channel.SMSOptions{
			Transcriber: transcriber,
			Synthesizer: synthesizer,
			Store:       uploads,
			Gateway:     smsGateway,
		}),
		channel.NewWebRTCAdapter(channel.WebRTCOptions{
			Transcriber: transcriber,
			Synthesizer: synthesizer,
			Store:       uploads,
		}),
		channel.NewVoiceAdapter(channel.VoiceOptions{
			Transcriber: transcriber,
			Synthesizer: synthesizer,
			Store:       uploads,
			Calls:       callSender,
		}),
		channel.NewMailAdapter(channel.MailOptions{Mailer: mailer}),
	)
	router.SetEnabled(channel.KindSMS, cfg.Channels.SMS.Enabled)
	router.SetEnabled(channel.KindVoice, cfg.Channels.Voice.Enabled)
	router.SetEnabled(channel.KindWebRTC, cfg.Channels.WebRTC.Enabled)
	router.SetEnabled(channel.KindMail, cfg.Channels.Mail.Enabled)
	router.SetAllowFrom(channel.KindSMS, cfg.Channels.SMS.AllowFrom)
	router.SetAllowFrom(channel.KindVoice, cfg.Channels.Voice.AllowFrom)
	router.SetAllowFrom(channel.KindWebRTC, cfg.Channels.WebRTC.AllowFrom)
	router.SetAllowFrom(channel.KindMail, cfg.Channels.Mail.AllowFrom)

	srv := gateway.NewServer(router, eng, st, mcpManager, gateway.Options{
		Host:       cfg.Gateway.Host,
		Port:       cfg.Gateway.Port,
		UploadsDir: uploads.LocalDir(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.InfoCF("main", "gateway started", map[string]interface{}{
		"port":  cfg.Gateway.Port,
		"model": cfg.Assistant.Model,
	})

	select {
	case <-ctx.Done():
		logger.InfoC("main", "shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
