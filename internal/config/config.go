package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGrok   = "grok"
)

// DefaultPrompt is asked when no prompt is given on the command line
const DefaultPrompt = `Given the parabola \( y^2 = 16x \), the coordinates of the focus are ________.`

// KeyEnv maps each provider to the environment variable holding its API key
var KeyEnv = map[string]string{
	ProviderGroq:   "GROQ_API_KEY",
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGrok:   "XAI_API_KEY",
}

// Config holds application configuration
type Config struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`    // empty means the provider default
	BaseURL  string `mapstructure:"base_url"` // empty means the provider default
	APIKey   string `mapstructure:"api_key"`
	Prompt   string `mapstructure:"prompt"`
	Debug    bool   `mapstructure:"debug"`

	OutputDir string `mapstructure:"output_dir"` // where transcripts are written
	LogDir    string `mapstructure:"log_dir"`    // logs, traces and metrics

	// Reasoning loop
	MaxSteps    int `mapstructure:"max_steps"`
	StepTokens  int `mapstructure:"step_tokens"`
	FinalTokens int `mapstructure:"final_tokens"`

	// Completion calls
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryWait      time.Duration `mapstructure:"retry_wait"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds the configuration from defaults, an optional config file, a .env
// file and CHAINTHINK_* environment variables, in increasing precedence.
// The provider's own key variable is not consulted here; call ResolveAPIKey
// once the provider is final.
func Load(configFile string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CHAINTHINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// ResolveAPIKey fills an unset API key from the environment variable of the
// configured provider. An explicit key is kept; a missing one stays empty.
func (c *Config) ResolveAPIKey() {
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Provider)
	}
}

// ProviderAPIKey reads the provider-specific API key from the environment
func ProviderAPIKey(provider string) string {
	name, ok := KeyEnv[provider]
	if !ok {
		return ""
	}
	return os.Getenv(name)
}

// Validate checks limits that would otherwise make the loop misbehave
func (c Config) Validate() error {
	if _, ok := KeyEnv[c.Provider]; !ok {
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.StepTokens < 1 || c.FinalTokens < 1 {
		return fmt.Errorf("token budgets must be positive")
	}
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("prompt is empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGroq)
	v.SetDefault("model", "")
	v.SetDefault("base_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("prompt", DefaultPrompt)
	v.SetDefault("debug", false)
	v.SetDefault("output_dir", ".")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("max_steps", 25)
	v.SetDefault("step_tokens", 300)
	v.SetDefault("final_tokens", 1200)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_wait", time.Second)
	v.SetDefault("request_timeout", 60*time.Second)
}
