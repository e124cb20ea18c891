package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
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

type Config struct {
	Assistant Assistant  `json:"assistant"`
	Channels  Channels   `json:"channels"`
	Providers Providers  `json:"providers"`
	Speech    Speech     `json:"speech"`
	Telephony Telephony  `json:"telephony"`
	Gateway   Gateway    `json:"gateway"`
	Storage   Storage    `json:"storage"`
	Store     Store      `json:"store"`
	MCP       MCPConfig  `json:"mcp"`
	Logging   Logging    `json:"logging"`
	mu        sync.RWMutex
}

type Assistant struct {
	Provider     string  `json:"provider" env:"CORAL_ASSISTANT_PROVIDER"`
	Model        string  `json:"model" env:"CORAL_ASSISTANT_MODEL"`
	MaxTokens    int     `json:"max_tokens" env:"CORAL_ASSISTANT_MAX_TOKENS"`
	Temperature  float64 `json:"temperature" env:"CORAL_ASSISTANT_TEMPERATURE"`
	SystemPrompt string  `json:"system_prompt" env:"CORAL_ASSISTANT_SYSTEM_PROMPT"`
	Greeting     string  `json:"greeting" env:"CORAL_ASSISTANT_GREETING"`
	HistoryLimit int     `json:"history_limit" env:"CORAL_ASSISTANT_HISTORY_LIMIT"`
}

type Channels struct {
	SMS    SMSChannel    `json:"sms"`
	Voice  VoiceChannel  `json:"voice"`
	WebRTC WebRTCChannel `json:"webrtc"`
	Mail   MailChannel   `json:"mail"`
}

type SMSChannel struct {
	Enabled     bool                `json:"enabled" env:"CORAL_CHANNELS_SMS_ENABLED"`
	AllowFrom   FlexibleStringSlice `json:"allow_from" env:"CORAL_CHANNELS_SMS_ALLOW_FROM"`
	OutboundURL string              `json:"outbound_url" env:"CORAL_CHANNELS_SMS_OUTBOUND_URL"`
}

type VoiceChannel struct {
	Enabled   bool                `json:"enabled" env:"CORAL_CHANNELS_VOICE_ENABLED"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CORAL_CHANNELS_VOICE_ALLOW_FROM"`
}

type WebRTCChannel struct {
	Enabled   bool                `json:"enabled" env:"CORAL_CHANNELS_WEBRTC_ENABLED"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CORAL_CHANNELS_WEBRTC_ALLOW_FROM"`
}

type MailChannel struct {
	Enabled   bool                `json:"enabled" env:"CORAL_CHANNELS_MAIL_ENABLED"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CORAL_CHANNELS_MAIL_ALLOW_FROM"`
	SMTPHost  string              `json:"smtp_host" env:"CORAL_CHANNELS_MAIL_SMTP_HOST"`
	SMTPPort  int                 `json:"smtp_port" env:"CORAL_CHANNELS_MAIL_SMTP_PORT"`
	From      string              `json:"from" env:"CORAL_CHANNELS_MAIL_FROM"`
	Username  string              `json:"username" env:"CORAL_CHANNELS_MAIL_USERNAME"`
	Password  string              `json:"password" env:"CORAL_CHANNELS_MAIL_PASSWORD"`
}

type Providers struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
}

type Speech struct {
	Transcriber TranscriberConfig `json:"transcriber"`
	Synthesizer SynthesizerConfig `json:"synthesizer"`
}

type TranscriberConfig struct {
	Provider string `json:"provider" env:"CORAL_SPEECH_TRANSCRIBER_PROVIDER"` // whisper|elevenlabs
	APIKey   string `json:"api_key" env:"CORAL_SPEECH_TRANSCRIBER_API_KEY"`
	APIBase  string `json:"api_base" env:"CORAL_SPEECH_TRANSCRIBER_API_BASE"`
	Model    string `json:"model" env:"CORAL_SPEECH_TRANSCRIBER_MODEL"`
	Language string `json:"language" env:"CORAL_SPEECH_TRANSCRIBER_LANGUAGE"`
}

type SynthesizerConfig struct {
	Provider string `json:"provider" env:"CORAL_SPEECH_SYNTHESIZER_PROVIDER"` // openai|elevenlabs
	APIKey   string `json:"api_key" env:"CORAL_SPEECH_SYNTHESIZER_API_KEY"`
	APIBase  string `json:"api_base" env:"CORAL_SPEECH_SYNTHESIZER_API_BASE"`
	Model    string `json:"model" env:"CORAL_SPEECH_SYNTHESIZER_MODEL"`
	Voice    string `json:"voice" env:"CORAL_SPEECH_SYNTHESIZER_VOICE"`
}

type Telephony struct {
	Enabled            bool   `json:"enabled" env:"CORAL_TELEPHONY_ENABLED"`
	Provider           string `json:"provider" env:"CORAL_TELEPHONY_PROVIDER"` // softswitch
	SwitchURL          string `json:"switch_url" env:"CORAL_TELEPHONY_SWITCH_URL"`
	CallerID           string `json:"caller_id" env:"CORAL_TELEPHONY_CALLER_ID"`
	OutboundTimeoutSec int    `json:"outbound_timeout_sec" env:"CORAL_TELEPHONY_OUTBOUND_TIMEOUT_SEC"`
}

type Gateway struct {
	Host          string `json:"host" env:"CORAL_GATEWAY_HOST"`
	Port          int    `json:"port" env:"CORAL_GATEWAY_PORT"`
	PublicBaseURL string `json:"public_base_url" env:"CORAL_GATEWAY_PUBLIC_BASE_URL"`
}

type Storage struct {
	UploadsDir string `json:"uploads_dir" env:"CORAL_STORAGE_UPLOADS_DIR"`
}

type Store struct {
	Path string `json:"path" env:"CORAL_STORE_PATH"`
}

type MCPConfig struct {
	DefaultServers []MCPServerSeed `json:"default_servers"`
}

// MCPServerSeed is written into the store on first start.
type MCPServerSeed struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

type Logging struct {
	FileEnabled bool   `json:"file_enabled" env:"CORAL_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"CORAL_LOGGING_FILE_PATH"`
	Debug       bool   `json:"debug" env:"CORAL_LOGGING_DEBUG"`
}

func DefaultConfig() *Config {
	return &Config{
		Assistant: Assistant{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			MaxTokens:    1024,
			Temperature:  0.7,
			SystemPrompt: "You are a helpful assistant reachable over phone, text and mail. Keep replies short and conversational.",
			Greeting:     "Hello! How can I help you today?",
			HistoryLimit: 40,
		},
		Channels: Channels{
			SMS:    SMSChannel{Enabled: true, AllowFrom: FlexibleStringSlice{}},
			Voice:  VoiceChannel{Enabled: true, AllowFrom: FlexibleStringSlice{}},
			WebRTC: WebRTCChannel{Enabled: true, AllowFrom: FlexibleStringSlice{}},
			Mail:   MailChannel{Enabled: false, AllowFrom: FlexibleStringSlice{}, SMTPPort: 587},
		},
		Providers: Providers{
			Anthropic: ProviderConfig{},
			OpenAI:    ProviderConfig{},
		},
		Speech: Speech{
			Transcriber: TranscriberConfig{
				Provider: "whisper",
				Model:    "whisper-1",
			},
			Synthesizer: SynthesizerConfig{
				Provider: "openai",
				Model:    "tts-1",
				Voice:    "alloy",
			},
		},
		Telephony: Telephony{
			Enabled:            false,
			Provider:           "softswitch",
			SwitchURL:          "ws://localhost:8089/ws",
			OutboundTimeoutSec: 45,
		},
		Gateway: Gateway{
			Host:          "0.0.0.0",
			Port:          3000,
			PublicBaseURL: "http://localhost:3000",
		},
		Storage: Storage{
			UploadsDir: "~/.coral/uploads",
		},
		Store: Store{
			Path: "~/.coral/coral.db",
		},
		Logging: Logging{
			FileEnabled: false,
			FilePath:    "~/.coral/coral.log",
			Debug:       false,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvOverrides(cfg)
	resolveEnvRefs(cfg)

	return cfg, nil
}

func applyProviderEnvOverrides(cfg *Config) {
	bindings := []struct {
		target *ProviderConfig
		apiKey string
	}{
		{target: &cfg.Providers.Anthropic, apiKey: "CORAL_PROVIDERS_ANTHROPIC_API_KEY"},
		{target: &cfg.Providers.OpenAI, apiKey: "CORAL_PROVIDERS_OPENAI_API_KEY"},
	}

	for _, b := range bindings {
		if v := strings.TrimSpace(os.Getenv(b.apiKey)); v != "" {
			b.target.APIKey = v
		}
	}
}

func resolveEnvRefs(cfg *Config) {
	refs := []*string{
		&cfg.Providers.Anthropic.APIKey,
		&cfg.Providers.Anthropic.APIBase,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.OpenAI.APIBase,
		&cfg.Speech.Transcriber.APIKey,
		&cfg.Speech.Synthesizer.APIKey,
	}
	for _, r := range refs {
		*r = resolveEnvRef(*r)
	}
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ProviderAPIKey returns the key for the configured assistant provider,
// falling back to whichever provider has one set.
func (c *Config) ProviderAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Assistant.Provider {
	case "anthropic":
		if c.Providers.Anthropic.APIKey != "" {
			return c.Providers.Anthropic.APIKey
		}
	case "openai":
		if c.Providers.OpenAI.APIKey != "" {
			return c.Providers.OpenAI.APIKey
		}
	}
	if c.Providers.OpenAI.APIKey != "" {
		return c.Providers.OpenAI.APIKey
	}
	return c.Providers.Anthropic.APIKey
}

// ProviderAPIBase returns the base URL override for the configured
// assistant provider, empty when the default endpoint applies.
func (c *Config) ProviderAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Assistant.Provider {
	case "anthropic":
		return c.Providers.Anthropic.APIBase
	case "openai":
		return c.Providers.OpenAI.APIBase
	}
	return ""
}

func (c *Config) UploadsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Storage.UploadsDir)
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Store.Path)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
