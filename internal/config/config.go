// Package config loads and hot-reloads the service configuration from a
// YAML file, environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	OpenAI    OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Uploads   UploadsConfig   `mapstructure:"uploads" yaml:"uploads"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// QueueConfig configures the job dispatcher.
type QueueConfig struct {
	Workers                 int `mapstructure:"workers" yaml:"workers"`
	MaxAttempts             int `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelaySeconds   int `mapstructure:"retry_base_delay_seconds" yaml:"retry_base_delay_seconds"`
	DispatchesPerMinute     int `mapstructure:"dispatches_per_minute" yaml:"dispatches_per_minute"`
	CompletedRetentionHours int `mapstructure:"completed_retention_hours" yaml:"completed_retention_hours"`
	FailedRetentionHours    int `mapstructure:"failed_retention_hours" yaml:"failed_retention_hours"`
}

// ReconcileConfig configures the stuck-item reconciler.
type ReconcileConfig struct {
	ItemThresholdMinutes  int `mapstructure:"item_threshold_minutes" yaml:"item_threshold_minutes"`
	SweepThresholdMinutes int `mapstructure:"sweep_threshold_minutes" yaml:"sweep_threshold_minutes"`
	SweepIntervalMinutes  int `mapstructure:"sweep_interval_minutes" yaml:"sweep_interval_minutes"`
}

// OpenAIConfig configures the transcription, summarization and speech
// clients. APIKey supports ${ENV_VAR} references.
type OpenAIConfig struct {
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	TranscribeModel string `mapstructure:"transcribe_model" yaml:"transcribe_model"`
	SummaryModel    string `mapstructure:"summary_model" yaml:"summary_model"`
	SpeechModel     string `mapstructure:"speech_model" yaml:"speech_model"`
	Voice           string `mapstructure:"voice" yaml:"voice"`
}

// StorageConfig configures blob storage for assembled audiobooks.
type StorageConfig struct {
	SupabaseURL string `mapstructure:"supabase_url" yaml:"supabase_url"`
	SupabaseKey string `mapstructure:"supabase_key" yaml:"supabase_key"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
}

// EventsConfig configures the optional Kafka status-event producer.
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// UploadsConfig configures where uploaded media buffers are spooled.
type UploadsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads the initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("database", defaults.Database)
	viper.SetDefault("queue", defaults.Queue)
	viper.SetDefault("reconcile", defaults.Reconcile)
	viper.SetDefault("openai", defaults.OpenAI)
	viper.SetDefault("storage", defaults.Storage)
	viper.SetDefault("events", defaults.Events)
	viper.SetDefault("uploads", defaults.Uploads)

	// Environment variables with LECTERN_ prefix
	viper.SetEnvPrefix("LECTERN")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.lectern")
	}

	// Config file is optional; defaults and env cover everything.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Lectern configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx SUPABASE_SERVICE_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
