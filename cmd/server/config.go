package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/chat-search/internal/agent"
	"github.com/MegaGrindStone/chat-search/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	// llm builds a client for one request. apiKey is the key entered in the session, it takes precedence
	// over the configured one.
	llm(apiKey string, logger *slog.Logger) (agent.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port            string                          `yaml:"port"`
	LogLevel        string                          `yaml:"logLevel"`
	LLM             llmConfig                       `yaml:"llm"`
	Agent           agentConfig                     `yaml:"agent"`
	Tools           toolsConfig                     `yaml:"tools"`
	Session         sessionConfig                   `yaml:"session"`
	Telemetry       telemetryConfig                 `yaml:"telemetry"`
	MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
	MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
}

type agentConfig struct {
	MaxIterations int           `yaml:"maxIterations"`
	Timeout       time.Duration `yaml:"timeout"`
}

type toolsConfig struct {
	TopKResults        int           `yaml:"topKResults"`
	DocContentCharsMax int           `yaml:"docContentCharsMax"`
	CachePath          string        `yaml:"cachePath"`
	CacheTTL           time.Duration `yaml:"cacheTTL"`
}

type sessionConfig struct {
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

type telemetryConfig struct {
	NATSURL   string `yaml:"natsURL"`
	NATSToken string `yaml:"natsToken"`
	Subject   string `yaml:"subject"`
}

type groqConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openrouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type mcpSSEServerConfig struct {
	URL string `yaml:"url"`
}

type mcpStdIOServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

const (
	defaultPort          = "8080"
	defaultGroqModel     = "llama3-8b-8192"
	defaultAgentTimeout  = 2 * time.Minute
	defaultCacheTTL      = 24 * time.Hour
	defaultSessionIdle   = 24 * time.Hour
	configPathEnv        = "CHATSEARCH_CONFIG"
	defaultConfigDirName = "chatsearch"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string                          `yaml:"port"`
		LogLevel        string                          `yaml:"logLevel"`
		LLM             map[string]any                  `yaml:"llm"`
		Agent           agentConfig                     `yaml:"agent"`
		Tools           toolsConfig                     `yaml:"tools"`
		Session         sessionConfig                   `yaml:"session"`
		Telemetry       telemetryConfig                 `yaml:"telemetry"`
		MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
		MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.Agent = rawConfig.Agent
	c.Tools = rawConfig.Tools
	c.Session = rawConfig.Session
	c.Telemetry = rawConfig.Telemetry
	c.MCPSSEServers = rawConfig.MCPSSEServers
	c.MCPStdIOServers = rawConfig.MCPStdIOServers

	if len(rawConfig.LLM) == 0 {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "groq":
		llm = &groqConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "openrouter":
		llm = &openrouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// loadConfig reads the config file at path. A missing file is not an error, the defaults apply.
func loadConfig(path string) (config, error) {
	cfg := config{}

	cfgFile, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer cfgFile.Close()
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// configPath returns the path of the config file: $CHATSEARCH_CONFIG, or config.yaml in the user config
// directory.
func configPath() (string, error) {
	if p := os.Getenv(configPathEnv); p != "" {
		return p, nil
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, defaultConfigDirName, "config.yaml"), nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.LLM == nil {
		c.LLM = &groqConfig{BaseLLMConfig: BaseLLMConfig{Provider: "groq"}}
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = agent.DefaultMaxIterations
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = defaultAgentTimeout
	}
	if c.Tools.CachePath != "" && c.Tools.CacheTTL <= 0 {
		c.Tools.CacheTTL = defaultCacheTTL
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = defaultSessionIdle
	}
	if c.Telemetry.Subject == "" {
		c.Telemetry.Subject = services.DefaultTelemetrySubject
	}
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// resolveAPIKey picks the session key, then the configured key, then the environment variable.
func resolveAPIKey(sessionKey, configKey, envVar string) (string, error) {
	for _, k := range []string{sessionKey, configKey, os.Getenv(envVar)} {
		if k != "" {
			return k, nil
		}
	}
	return "", agent.ErrMissingAPIKey
}

func (g groqConfig) llm(apiKey string, logger *slog.Logger) (agent.LLM, error) {
	key, err := resolveAPIKey(apiKey, g.APIKey, "GROQ_API_KEY")
	if err != nil {
		return nil, err
	}

	model := g.Model
	if model == "" {
		model = defaultGroqModel
	}
	baseURL := g.BaseURL
	if baseURL == "" {
		baseURL = services.GroqBaseURL
	}
	return services.NewOpenAI(key, baseURL, model, g.Parameters, logger), nil
}

func (o openaiConfig) llm(apiKey string, logger *slog.Logger) (agent.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := resolveAPIKey(apiKey, o.APIKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewOpenAI(key, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (o openrouterConfig) llm(apiKey string, logger *slog.Logger) (agent.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := resolveAPIKey(apiKey, o.APIKey, "OPENROUTER_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewOpenRouter(key, o.Endpoint, o.Model, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(_ string, _ *slog.Logger) (agent.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters)
}

func (a anthropicConfig) llm(apiKey string, _ *slog.Logger) (agent.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := resolveAPIKey(apiKey, a.APIKey, "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewAnthropic(key, a.BaseURL, a.Model, a.Parameters), nil
}
