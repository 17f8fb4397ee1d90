package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aschepis/backscratcher/llmbridge/config"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

// logCloser closes the log file opened by loadConfig.
var logCloser io.Closer = io.NopCloser(nil)

var rootCmd = &cobra.Command{
	Use:   "llmctl",
	Short: "Talk to LLM providers through one interface",
	Long: `llmctl sends prompts and embedding requests to OpenAI, Anthropic, Mistral,
Google Gemini, Cohere or a local Ollama server.

Providers are configured in ~/.llmbridge/config.yaml (or LLMBRIDGE_CONFIG),
a .env file, or environment variables such as OPENAI_API_KEY.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to config file (default: $LLMBRIDGE_CONFIG or ~/.llmbridge/config.yaml)")
	pf.String("env-file", ".env", "Path to a .env file")
	pf.StringP("provider", "p", "", "Provider to use (default: first configured provider)")
	pf.StringP("model", "m", "", "Model version within the provider's family, e.g. 4o-mini or sonnet-4-5")
	pf.String("embedding-model", "", "Embedding model name")
	pf.String("system", "", "System prompt")
	pf.Float64P("temperature", "t", 0, "Sampling temperature")
	pf.Int("max-tokens", 0, "Maximum output tokens")
	pf.String("logfile", "", "Path to log file. If not set, logs to stderr")
	pf.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")

	rootCmd.AddCommand(generateCmd, streamCmd, chatCmd, embedCmd, modelsCmd, historyCmd)
}

// session is everything a subcommand needs: the resolved configuration, the
// undecorated vendor client and the decorated one used for calls.
type session struct {
	cfg    *config.Config
	logger zerolog.Logger
	raw    llm.Client
	client llm.Client
}

// loadConfig loads the configuration and initializes logging from the
// persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	flags := cmd.Flags()
	logFile, _ := flags.GetString("logfile")
	pretty, _ := flags.GetBool("pretty")
	if logFile != "" && pretty {
		return nil, zerolog.Nop(), fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	cfgPath, _ := flags.GetString("config")
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	envFile, _ := flags.GetString("env-file")
	cfg, err := config.LoadWithEnvFile(cfgPath, envFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}

	if logFile == "" {
		logFile = cfg.LogFile
	}
	log, closer, err := logger.New(logger.Options{File: logFile, Pretty: pretty, Level: cfg.LogLevel})
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("initializing logger: %w", err)
	}
	logCloser = closer
	return cfg, log, nil
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()

	provider, _ := flags.GetString("provider")
	if provider == "" {
		key, err := cfg.Registry().ResolvePreferred(cfg.Providers)
		if err != nil {
			return nil, err
		}
		provider = key.Provider
	}
	if system, _ := flags.GetString("system"); system != "" {
		if pc, ok := cfg.Provider(provider); ok {
			pc.Defaults.System = system
		}
	}

	raw, err := config.NewProviderClient(cfg, provider, log)
	if err != nil {
		return nil, err
	}
	if model, _ := flags.GetString("model"); model != "" {
		if err := raw.SetGenerationModel(cmd.Context(), model); err != nil {
			return nil, err
		}
	}
	if model, _ := flags.GetString("embedding-model"); model != "" {
		if err := raw.SetEmbeddingModel(cmd.Context(), model); err != nil {
			return nil, err
		}
	}

	log.Debug().Str("provider", provider).Str("model", raw.Identity().Model).Msg("client ready")
	return &session{
		cfg:    cfg,
		logger: log,
		raw:    raw,
		client: config.Decorate(cfg, raw, log),
	}, nil
}

// generateOptions builds per-call overrides from the flags that were set.
func generateOptions(cmd *cobra.Command, history *llm.History) *llm.GenerateOptions {
	opts := &llm.GenerateOptions{History: history}
	flags := cmd.Flags()
	if flags.Changed("temperature") {
		t, _ := flags.GetFloat64("temperature")
		opts.Temperature = &t
	}
	if flags.Changed("max-tokens") {
		n, _ := flags.GetInt("max-tokens")
		opts.MaxOutputTokens = &n
	}
	return opts
}

// promptFrom joins args, or reads stdin when there are none or the only
// argument is "-".
func promptFrom(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}
