// Package config loads llmbridge settings and builds provider clients from them.
//
// Settings are layered: built-in defaults, then the YAML config file, then a
// .env file, then the process environment. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/retry"
	"gopkg.in/yaml.v3"
)

// Defaults holds generation defaults. Temperature is a pointer so that an
// explicit 0 in a later layer overrides an earlier non-zero value.
type Defaults struct {
	Temperature        *float64      `yaml:"temperature,omitempty"`
	MaxInputTokens     int           `yaml:"max_input_tokens,omitempty"`
	MaxOutputTokens    int           `yaml:"max_output_tokens,omitempty"`
	System             string        `yaml:"system,omitempty"`
	StreamChunkTimeout time.Duration `yaml:"stream_chunk_timeout,omitempty"`
}

// ProviderConfig represents configuration for one LLM provider.
type ProviderConfig struct {
	APIKey         string   `yaml:"api_key,omitempty"`
	BaseURL        string   `yaml:"base_url,omitempty"`     // Custom base URL (default: official API); Ollama host
	Organization   string   `yaml:"organization,omitempty"` // OpenAI organization ID
	ModelName      string   `yaml:"model_name,omitempty"`   // Model family, e.g. "gpt" or "claude"
	ModelVersion   string   `yaml:"model_version,omitempty"`
	EmbeddingModel string   `yaml:"embedding_model,omitempty"`
	Defaults       Defaults `yaml:"defaults,omitempty"` // Merged over the global defaults
}

// RetryConfig configures the retry layer NewClient puts around each client.
type RetryConfig struct {
	Disabled        bool          `yaml:"disabled,omitempty"`
	MaxRetries      int           `yaml:"max_retries,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time,omitempty"`
}

// Policy converts the configuration into a retry.Policy. A disabled config
// yields the zero policy, which retries nothing.
func (r RetryConfig) Policy() retry.Policy {
	if r.Disabled || r.MaxRetries <= 0 {
		return retry.Policy{}
	}
	p := retry.DefaultPolicy()
	p.MaxRetries = uint64(r.MaxRetries)
	if r.InitialInterval > 0 {
		p.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		p.MaxInterval = r.MaxInterval
	}
	if r.MaxElapsedTime > 0 {
		p.MaxElapsedTime = r.MaxElapsedTime
	}
	return p
}

// Config is the llmbridge configuration file.
type Config struct {
	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`

	// HistoryDB is the sqlite database holding saved chat threads.
	HistoryDB string `yaml:"history_db,omitempty"`

	// Providers lists the enabled providers in order of preference.
	Providers []string    `yaml:"providers,omitempty"`
	Defaults  Defaults    `yaml:"defaults,omitempty"`
	Retry     RetryConfig `yaml:"retry,omitempty"`

	OpenAI    ProviderConfig `yaml:"openai,omitempty"`
	Anthropic ProviderConfig `yaml:"anthropic,omitempty"`
	Mistral   ProviderConfig `yaml:"mistral,omitempty"`
	Google    ProviderConfig `yaml:"google,omitempty"`
	Cohere    ProviderConfig `yaml:"cohere,omitempty"`
	Ollama    ProviderConfig `yaml:"ollama,omitempty"`
}

// Default returns the built-in configuration: every provider enabled and the
// standard generation defaults.
func Default() *Config {
	base := llm.DefaultGenerationConfig()
	temperature := base.Temperature
	return &Config{
		LogLevel:  "info",
		HistoryDB: "~/.llmbridge/history.db",
		Providers: append([]string(nil), llm.KnownProviders...),
		Defaults: Defaults{
			Temperature:        &temperature,
			MaxInputTokens:     base.MaxInputTokens,
			MaxOutputTokens:    base.MaxOutputTokens,
			StreamChunkTimeout: llm.DefaultStreamChunkTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:      retry.DefaultMaxRetries,
			InitialInterval: retry.DefaultInitialInterval,
			MaxInterval:     retry.DefaultMaxInterval,
			MaxElapsedTime:  retry.DefaultMaxElapsedTime,
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via LLMBRIDGE_CONFIG environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LLMBRIDGE_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmbridge/config.yaml"
	}
	return filepath.Join(homeDir, ".llmbridge", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load loads the configuration from path, reading .env from the working
// directory when present. A missing config file is not an error.
func Load(path string) (*Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit .env path. An empty envFile or a
// missing file skips that layer.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	// Step 1: Set defaults
	cfg := Default()

	// Step 2: Merge the YAML file onto the defaults (if it exists)
	expandedPath := expandPath(path)
	if expandedPath != "" {
		data, err := os.ReadFile(expandedPath) //#nosec G304 -- intentional file read for config
		switch {
		case err == nil:
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
			}
			if err := merge(cfg, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to merge config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
	}

	// Step 3: .env and the process environment
	env, err := newEnvironment(expandPath(envFile))
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified path.
func SaveConfig(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// HistoryPath returns HistoryDB with ~ expanded.
func (c *Config) HistoryPath() string {
	return expandPath(c.HistoryDB)
}

// Provider returns the section for the named provider.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	switch name {
	case llm.ProviderOpenAI:
		return &c.OpenAI, true
	case llm.ProviderAnthropic:
		return &c.Anthropic, true
	case llm.ProviderMistral:
		return &c.Mistral, true
	case llm.ProviderGoogle:
		return &c.Google, true
	case llm.ProviderCohere:
		return &c.Cohere, true
	case llm.ProviderOllama:
		return &c.Ollama, true
	default:
		return nil, false
	}
}

// EffectiveDefaults returns the global defaults with the provider's own
// defaults merged on top.
func (c *Config) EffectiveDefaults(provider string) (Defaults, error) {
	merged := c.Defaults
	pc, ok := c.Provider(provider)
	if !ok {
		return merged, fmt.Errorf("unknown provider: %s", provider)
	}
	if err := merge(&merged, &pc.Defaults); err != nil {
		return merged, fmt.Errorf("failed to merge %s defaults: %w", provider, err)
	}
	return merged, nil
}

// Registry builds a provider registry from the enabled list and the provider
// sections.
func (c *Config) Registry() *llm.ProviderRegistry {
	credentials := make(map[string]llm.ProviderCredentials, len(llm.KnownProviders))
	for _, name := range llm.KnownProviders {
		pc, _ := c.Provider(name)
		sep := "-"
		if name == llm.ProviderOllama {
			sep = ":"
		}
		credentials[name] = llm.ProviderCredentials{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			Organization: pc.Organization,
			Model:        llm.ModelKey(pc.ModelName, sep, pc.ModelVersion),
		}
	}
	return llm.NewProviderRegistry(credentials, c.Providers)
}

// float64PtrTransformer makes a non-nil *float64 in src replace dst outright,
// so an explicit zero survives the merge.
type float64PtrTransformer struct{}

func (float64PtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*float64)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if dst.CanSet() && !src.IsNil() {
			v := src.Elem().Float()
			dst.Set(reflect.ValueOf(&v))
		}
		return nil
	}
}

// merge merges override onto base, override taking precedence.
func merge[T any](base, override *T) error {
	return mergo.Merge(base, override, mergo.WithOverride, mergo.WithTransformers(float64PtrTransformer{}))
}
