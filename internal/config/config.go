package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken         string         `yaml:"discord_token"`
	OwnerID              string         `yaml:"owner_id"`
	AuditChannelID       string         `yaml:"audit_channel_id"`
	LogLevel             string         `yaml:"log_level"`
	RetentionDays        int            `yaml:"retention_days"`
	HydrationConcurrency int            `yaml:"hydration_concurrency"`
	Footer               string         `yaml:"footer"`
	Database             DatabaseConfig `yaml:"database"`
	Health               HealthConfig   `yaml:"health"`
	Counting             CountingConfig `yaml:"counting"`
	EmbedColors          EmbedColors    `yaml:"embed_colors"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// CountingConfig holds the settings a guild starts with before anyone runs
// /counting_settings.
type CountingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ResetOnWrong        bool    `yaml:"reset_on_wrong"`
	AllowDoubleCounting bool    `yaml:"allow_double_counting"`
	Milestones          []int64 `yaml:"milestones"`
}

type EmbedColors struct {
	Success int `yaml:"success"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:             "info",
		RetentionDays:        30,
		HydrationConcurrency: 4,
		Footer:               "Blackspire Nation Counting System",
		Database:             DatabaseConfig{Driver: "sqlite", Path: "/data/blackspire.db"},
		Health:               HealthConfig{Enabled: false, Addr: ":8080"},
		Counting: CountingConfig{
			Enabled:             true,
			ResetOnWrong:        true,
			AllowDoubleCounting: false,
			Milestones:          []int64{100, 500, 1000, 5000, 10000},
		},
		EmbedColors: EmbedColors{
			Success: 0x00FF00,
			Warning: 0xF59E0B,
			Error:   0xFF0000,
		},
	}
}

// Load builds the configuration from defaults, a .env file, the YAML file at
// path (or CONFIG_PATH, or config.yaml) and finally the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" {
		return Config{}, errors.New("DATABASE_URL is required for the postgres driver")
	}
	if cfg.HydrationConcurrency <= 0 {
		cfg.HydrationConcurrency = 4
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.OwnerID = envString("OWNER_ID", cfg.OwnerID)
	cfg.AuditChannelID = envString("AUDIT_CHANNEL_ID", cfg.AuditChannelID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.HydrationConcurrency = envInt("HYDRATION_CONCURRENCY", cfg.HydrationConcurrency)
	cfg.Footer = envString("EMBED_FOOTER", cfg.Footer)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = envString("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Counting.Enabled = envBool("COUNTING_ENABLED", cfg.Counting.Enabled)
	cfg.Counting.ResetOnWrong = envBool("COUNTING_RESET_ON_WRONG", cfg.Counting.ResetOnWrong)
	cfg.Counting.AllowDoubleCounting = envBool("COUNTING_ALLOW_DOUBLE", cfg.Counting.AllowDoubleCounting)
	cfg.EmbedColors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.EmbedColors.Success)
	cfg.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.EmbedColors.Warning)
	cfg.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.EmbedColors.Error)

	if raw := os.Getenv("COUNTING_MILESTONES"); raw != "" {
		milestones, err := ParseMilestones(raw)
		if err != nil {
			return fmt.Errorf("COUNTING_MILESTONES: %w", err)
		}
		cfg.Counting.Milestones = milestones
	}
	return nil
}

// ParseMilestones reads a comma-separated list such as "100, 500, 1000".
func ParseMilestones(raw string) ([]int64, error) {
	values := []int64{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid milestone %q", part)
		}
		values = append(values, v)
	}
	return values, nil
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	default:
		return "sqlite"
	}
}
