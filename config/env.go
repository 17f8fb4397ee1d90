package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/joho/godotenv"
)

// environment resolves variables from the process environment first and the
// .env file second.
type environment struct {
	dotenv map[string]string
}

func newEnvironment(envFile string) (*environment, error) {
	env := &environment{dotenv: map[string]string{}}
	if envFile == "" {
		return env, nil
	}
	values, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		env.dotenv = values
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read env file %q: %w", envFile, err)
	}
	return env, nil
}

// get returns the value of the first of keys that is set and non-empty.
func (e *environment) get(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		if v := strings.TrimSpace(e.dotenv[key]); v != "" {
			return v
		}
	}
	return ""
}

// providerEnv names the variables read for one provider section.
type providerEnv struct {
	apiKey         []string
	baseURL        []string
	organization   []string
	modelName      []string
	modelVersion   []string
	embeddingModel []string
}

func vendorEnv(prefix string) providerEnv {
	return providerEnv{
		apiKey:         []string{prefix + "_API_KEY"},
		baseURL:        []string{prefix + "_BASE_URL"},
		modelName:      []string{prefix + "_MODEL_NAME"},
		modelVersion:   []string{prefix + "_MODEL_VERSION"},
		embeddingModel: []string{prefix + "_EMBEDDING_MODEL"},
	}
}

func providerEnvs() map[string]providerEnv {
	openai := vendorEnv("OPENAI")
	openai.organization = []string{"OPENAI_ORG_ID"}

	google := vendorEnv("GEMINI")
	google.apiKey = append(google.apiKey, "GOOGLE_API_KEY")

	ollama := vendorEnv("OLLAMA")
	ollama.apiKey = nil
	ollama.baseURL = []string{"OLLAMA_HOST"}

	return map[string]providerEnv{
		llm.ProviderOpenAI:    openai,
		llm.ProviderAnthropic: vendorEnv("ANTHROPIC"),
		llm.ProviderMistral:   vendorEnv("MISTRAL"),
		llm.ProviderGoogle:    google,
		llm.ProviderCohere:    vendorEnv("COHERE"),
		llm.ProviderOllama:    ollama,
	}
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config, env *environment) error {
	for name, vars := range providerEnvs() {
		pc, _ := cfg.Provider(name)
		setString(&pc.APIKey, env.get(vars.apiKey...))
		setString(&pc.BaseURL, env.get(vars.baseURL...))
		setString(&pc.Organization, env.get(vars.organization...))
		setString(&pc.ModelName, env.get(vars.modelName...))
		setString(&pc.ModelVersion, env.get(vars.modelVersion...))
		setString(&pc.EmbeddingModel, env.get(vars.embeddingModel...))
	}

	setString(&cfg.LogLevel, env.get("LLMBRIDGE_LOG_LEVEL", "LOG_LEVEL"))
	setString(&cfg.LogFile, env.get("LLMBRIDGE_LOG_FILE"))
	setString(&cfg.HistoryDB, env.get("LLMBRIDGE_HISTORY_DB"))
	if providers := env.get("LLMBRIDGE_PROVIDERS"); providers != "" {
		cfg.Providers = splitList(providers)
	}

	if v := env.get("LLMBRIDGE_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLMBRIDGE_TEMPERATURE %q: %w", v, err)
		}
		cfg.Defaults.Temperature = &t
	}
	if err := setInt(&cfg.Defaults.MaxOutputTokens, "LLMBRIDGE_MAX_OUTPUT_TOKENS", env); err != nil {
		return err
	}
	if err := setInt(&cfg.Defaults.MaxInputTokens, "LLMBRIDGE_MAX_INPUT_TOKENS", env); err != nil {
		return err
	}
	if v := env.get("LLMBRIDGE_STREAM_CHUNK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LLMBRIDGE_STREAM_CHUNK_TIMEOUT %q: %w", v, err)
		}
		cfg.Defaults.StreamChunkTimeout = d
	}
	return setInt(&cfg.Retry.MaxRetries, "LLMBRIDGE_MAX_RETRIES", env)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, env *environment) error {
	v := env.get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
