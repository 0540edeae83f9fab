package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the retrieval agent service
type Config struct {
	General    GeneralConfig     `mapstructure:"general"`
	Server     ServerConfig      `mapstructure:"server"`
	Agent      AgentConfig       `mapstructure:"agent"`
	LLM        LLMConfig         `mapstructure:"llm"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Index      IndexConfig       `mapstructure:"index"`
	Connectors []ConnectorConfig `mapstructure:"connectors"`
	Fetch      FetchConfig       `mapstructure:"fetch"`
	Telemetry  TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"` // JWT secret for auth
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	CleanupCron  string `mapstructure:"cleanup_cron"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// AgentConfig bounds the retrieval loop
type AgentConfig struct {
	MaxIterations    int           `mapstructure:"max_iterations"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
	// Agents maps an agent id to the scope prompt injected into planning
	// calls made on that agent's behalf.
	Agents map[string]string `mapstructure:"agents"`
}

// Normalize applies defaults for unset agent values.
func (a AgentConfig) Normalize() AgentConfig {
	if a.MaxIterations <= 0 {
		a.MaxIterations = 10
	}
	if a.ToolTimeout <= 0 {
		a.ToolTimeout = 30 * time.Second
	}
	if a.FailureThreshold <= 0 {
		a.FailureThreshold = 2
	}
	if a.MaxPageSize <= 0 {
		a.MaxPageSize = 50
	}
	return a
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration
type LLMProviderConfig struct {
	Type       string              `mapstructure:"type"` // openai, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // Tool selection and answer drafting
	Synthesis string `mapstructure:"synthesis"` // Evidence sufficiency evaluation
	Title     string `mapstructure:"title"`     // Chat title generation
	Embedding string `mapstructure:"embedding"` // Vector index embeddings
	Fallback  string `mapstructure:"fallback"`  // Fallback model
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// IndexConfig controls the workspace search index
type IndexConfig struct {
	EmbeddingEnabled bool `mapstructure:"embedding_enabled"`
	DefaultLimit     int  `mapstructure:"default_limit"`
	RRFK             int  `mapstructure:"rrf_k"`
}

// Normalize applies defaults for unset index values.
func (c IndexConfig) Normalize() IndexConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	return c
}

// ConnectorConfig describes one external MCP connector spawned over stdio.
type ConnectorConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

func (c ConnectorConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("connectors[].name required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("connector %s: command required", c.Name)
	}
	return nil
}

// FetchConfig bounds the page fetch tool
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxChars     int           `mapstructure:"max_chars"`
	UseBrowser   bool          `mapstructure:"use_browser"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

// Normalize applies defaults for unset fetch values.
func (f FetchConfig) Normalize() FetchConfig {
	if f.Timeout <= 0 {
		f.Timeout = 20 * time.Second
	}
	if f.MaxChars <= 0 {
		f.MaxChars = 20000
	}
	if f.MaxRedirects <= 0 {
		f.MaxRedirects = 5
	}
	return f
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("server.cleanup_cron", "0 * * * *")
	viper.SetDefault("server.history_limit", 20)
	viper.SetDefault("agent.max_iterations", 10)
	viper.SetDefault("agent.failure_threshold", 2)
	viper.SetDefault("agent.max_page_size", 50)
	viper.SetDefault("index.rrf_k", 60)
	viper.SetDefault("index.default_limit", 10)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SEEKLY")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (SEEKLY_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Agent = config.Agent.Normalize()
	config.Index = config.Index.Normalize()
	config.Fetch = config.Fetch.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	for _, cc := range config.Connectors {
		if err := cc.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
