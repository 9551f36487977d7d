package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"ghostwriter/internal/menu"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	defaultProviderName       = ProviderOpenAI
	defaultOpenAIModel        = "gpt-4o-mini"
	defaultOpenAIBaseURL      = "https://api.openai.com/v1"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicVersion   = "2023-06-01"
	defaultTemperature        = 0.7
	defaultMaxTokens          = 1024
	defaultServerAddr         = "127.0.0.1:7420"
	defaultTUITheme           = "dark"
	defaultConfigRelativePath = ".config/ghostwriter/config.toml"
	defaultStateRelativeDir   = ".local/state/ghostwriter"

	envProviderDefault   = "GHOSTWRITER_PROVIDER_DEFAULT"
	envOpenAIAPIKey      = "OPENAI_API_KEY"
	envOpenAIModel       = "GHOSTWRITER_OPENAI_MODEL"
	envOpenAIBaseURL     = "GHOSTWRITER_OPENAI_BASE_URL"
	envAnthropicAPIKey   = "ANTHROPIC_API_KEY"
	envAnthropicModel    = "GHOSTWRITER_ANTHROPIC_MODEL"
	envAnthropicBaseURL  = "GHOSTWRITER_ANTHROPIC_BASE_URL"
	envTemperature       = "GHOSTWRITER_TEMPERATURE"
	envMaxTokens         = "GHOSTWRITER_MAX_TOKENS"
	envStorePath         = "GHOSTWRITER_STORE_PATH"
	envServerAddr        = "GHOSTWRITER_SERVER_ADDR"
	envTranscriptEnabled = "GHOSTWRITER_TRANSCRIPT"
	envTranscriptDir     = "GHOSTWRITER_TRANSCRIPT_DIR"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Provider   ProviderConfig   `toml:"provider"`
	Store      StoreConfig      `toml:"store"`
	Server     ServerConfig     `toml:"server"`
	TUI        TUIConfig        `toml:"tui"`
	Transcript TranscriptConfig `toml:"transcript"`
	// Triggers seed the menu registry on first run; DefaultSeeds when empty.
	Triggers []menu.Seed `toml:"triggers"`
}

// ProviderConfig configures model providers.
type ProviderConfig struct {
	Default   string                  `toml:"default"`
	OpenAI    OpenAIProviderConfig    `toml:"openai"`
	Anthropic AnthropicProviderConfig `toml:"anthropic"`
}

// OpenAIProviderConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIProviderConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// AnthropicProviderConfig configures Anthropic-specific runtime values.
type AnthropicProviderConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	BaseURL     string  `toml:"base_url"`
	Version     string  `toml:"version"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// StoreConfig locates the key-value store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures the HTTP bridge.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// TUIConfig configures terminal UI defaults.
type TUIConfig struct {
	Theme string `toml:"theme"`
}

// TranscriptConfig configures lifecycle message transcripts.
type TranscriptConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// ProviderSettings is a validated snapshot of the selected provider.
type ProviderSettings struct {
	Name        string
	APIKey      string
	Model       string
	BaseURL     string
	Version     string
	Temperature float64
	MaxTokens   int
}

// Default returns application defaults.
func Default() Config {
	stateDir := defaultStateDir()
	return Config{
		Provider: ProviderConfig{
			Default: defaultProviderName,
			OpenAI: OpenAIProviderConfig{
				Model:       defaultOpenAIModel,
				BaseURL:     defaultOpenAIBaseURL,
				Temperature: defaultTemperature,
				MaxTokens:   defaultMaxTokens,
			},
			Anthropic: AnthropicProviderConfig{
				Model:       defaultAnthropicModel,
				Version:     defaultAnthropicVersion,
				Temperature: defaultTemperature,
				MaxTokens:   defaultMaxTokens,
			},
		},
		Store:      StoreConfig{Path: filepath.Join(stateDir, "store.db")},
		Server:     ServerConfig{Addr: defaultServerAddr},
		TUI:        TUIConfig{Theme: defaultTUITheme},
		Transcript: TranscriptConfig{Dir: filepath.Join(stateDir, "transcripts")},
	}
}

// Load reads config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = menu.DefaultSeeds()
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ProviderSettings returns validated settings for the default provider.
func (c Config) ProviderSettings() (ProviderSettings, error) {
	switch strings.ToLower(strings.TrimSpace(c.Provider.Default)) {
	case ProviderOpenAI:
		p := c.Provider.OpenAI
		return checkSettings(ProviderSettings{
			Name:        ProviderOpenAI,
			APIKey:      strings.TrimSpace(p.APIKey),
			Model:       strings.TrimSpace(p.Model),
			BaseURL:     strings.TrimSpace(p.BaseURL),
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
	case ProviderAnthropic:
		p := c.Provider.Anthropic
		return checkSettings(ProviderSettings{
			Name:        ProviderAnthropic,
			APIKey:      strings.TrimSpace(p.APIKey),
			Model:       strings.TrimSpace(p.Model),
			BaseURL:     strings.TrimSpace(p.BaseURL),
			Version:     strings.TrimSpace(p.Version),
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
	default:
		return ProviderSettings{}, fmt.Errorf("%w: unknown provider.default %q", ErrInvalidConfig, c.Provider.Default)
	}
}

func checkSettings(s ProviderSettings) (ProviderSettings, error) {
	if s.Model == "" {
		return ProviderSettings{}, fmt.Errorf("%w: provider.%s.model is required", ErrInvalidConfig, s.Name)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return ProviderSettings{}, fmt.Errorf("%w: provider.%s.temperature must be within [0, 2]", ErrInvalidConfig, s.Name)
	}
	if s.MaxTokens <= 0 {
		return ProviderSettings{}, fmt.Errorf("%w: provider.%s.max_tokens must be > 0", ErrInvalidConfig, s.Name)
	}
	return s, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	setString(envProviderDefault, &cfg.Provider.Default)
	setString(envOpenAIAPIKey, &cfg.Provider.OpenAI.APIKey)
	setString(envOpenAIModel, &cfg.Provider.OpenAI.Model)
	setString(envOpenAIBaseURL, &cfg.Provider.OpenAI.BaseURL)
	setString(envAnthropicAPIKey, &cfg.Provider.Anthropic.APIKey)
	setString(envAnthropicModel, &cfg.Provider.Anthropic.Model)
	setString(envAnthropicBaseURL, &cfg.Provider.Anthropic.BaseURL)
	setString(envStorePath, &cfg.Store.Path)
	setString(envServerAddr, &cfg.Server.Addr)
	setString(envTranscriptDir, &cfg.Transcript.Dir)

	if value, ok := os.LookupEnv(envTemperature); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envTemperature, err)
		}
		cfg.Provider.OpenAI.Temperature = parsed
		cfg.Provider.Anthropic.Temperature = parsed
	}
	if value, ok := os.LookupEnv(envMaxTokens); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envMaxTokens, err)
		}
		cfg.Provider.OpenAI.MaxTokens = parsed
		cfg.Provider.Anthropic.MaxTokens = parsed
	}
	if value, ok := os.LookupEnv(envTranscriptEnabled); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envTranscriptEnabled, err)
		}
		cfg.Transcript.Enabled = parsed
	}
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Provider.Default) == "" {
		return fmt.Errorf("%w: provider.default is required", ErrInvalidConfig)
	}
	if _, err := cfg.ProviderSettings(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(cfg.Triggers))
	for _, seed := range cfg.Triggers {
		id := strings.TrimSpace(seed.ID)
		if id == "" || strings.TrimSpace(seed.Label) == "" {
			return fmt.Errorf("%w: triggers need an id and a label", ErrInvalidConfig)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate trigger id %q", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	return nil
}

// DefaultPath returns the config file location under the user's home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ghostwriter-state"
	}
	return filepath.Join(home, defaultStateRelativeDir)
}
