package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything a seedkit command may need. Fields are only
// validated on demand through Require, so a command that never touches the
// generation API does not need its key.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	Generation GenerationConfig `mapstructure:"generation"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Enumerate  EnumerateConfig  `mapstructure:"enumerate"`
	Import     ImportConfig     `mapstructure:"import"`
	Log        LogConfig        `mapstructure:"log"`
	OutputDir  string           `mapstructure:"output_dir"`
}

// DatabaseConfig points at the relational store (postgres://, mysql:// or sqlite://)
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// SupabaseConfig holds the project URL and the two credential tiers.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
	AnonKey    string `mapstructure:"anon_key"`
}

// GenerationConfig configures the chat-style generation API and its pacing.
type GenerationConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	CheckpointEvery   int           `mapstructure:"checkpoint_every"`
}

// TTSConfig configures the text-to-speech API and the audio cache bucket.
type TTSConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	VoiceID         string  `mapstructure:"voice_id"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	Bucket          string  `mapstructure:"bucket"`
	Prefix          string  `mapstructure:"prefix"`
}

// RedisConfig is only used by the redis checkpoint store.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type EnumerateConfig struct {
	PageSize int `mapstructure:"page_size"`
	MaxRows  int `mapstructure:"max_rows"`
}

type ImportConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envAliases lists the environment variables accepted for a key, in order.
// The first one that is set wins.
var envAliases = map[string][]string{
	"database.url":         {"DATABASE_URL", "SUPABASE_DB_URL"},
	"supabase.url":         {"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"},
	"supabase.service_key": {"SUPABASE_SERVICE_ROLE_KEY"},
	"supabase.anon_key":    {"SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY"},
	"generation.api_key":   {"GENERATION_API_KEY", "XAI_API_KEY", "OPENAI_API_KEY"},
	"tts.api_key":          {"ELEVENLABS_API_KEY"},
	"tts.voice_id":         {"ELEVENLABS_VOICE_ID"},
	"redis.url":            {"REDIS_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("generation.base_url", "https://api.x.ai/v1")
	v.SetDefault("generation.model", "grok-3")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.max_tokens", 0)
	v.SetDefault("generation.requests_per_minute", 12.0)
	v.SetDefault("generation.burst", 1)
	v.SetDefault("generation.max_retries", 3)
	v.SetDefault("generation.backoff_initial", 10*time.Second)
	v.SetDefault("generation.backoff_max", 2*time.Minute)
	v.SetDefault("generation.request_timeout", 2*time.Minute)
	v.SetDefault("generation.checkpoint_every", 50)

	v.SetDefault("tts.base_url", "https://api.elevenlabs.io")
	v.SetDefault("tts.model", "eleven_turbo_v2_5")
	v.SetDefault("tts.stability", 0.85)
	v.SetDefault("tts.similarity_boost", 0.3)
	v.SetDefault("tts.bucket", "audio")
	v.SetDefault("tts.prefix", "tts")

	v.SetDefault("enumerate.page_size", 1000)
	v.SetDefault("enumerate.max_rows", 0)
	v.SetDefault("import.batch_size", 100)
	v.SetDefault("output_dir", "./seeding-output")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance with defaults and environment bindings
// applied. Callers may bind flags on it before passing it to Load.
func New() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SEEDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envAliases {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return v, nil
}

// Load reads the optional config file and unmarshals v into a Config.
// An explicit path must exist; without one, seedkit.yaml is searched in
// the working directory and ./config and silently skipped when absent.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("seedkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
