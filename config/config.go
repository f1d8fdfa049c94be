// Package config loads server configuration from .env, the environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hospiverse/clinic-engine/generic"
)

// EnvPrefix is prepended to every environment key, e.g. CLINIC_PORT.
const EnvPrefix = "CLINIC"

// Config holds all configuration for the server.
type Config struct {
	Port           int           `mapstructure:"port"`
	DBPath         string        `mapstructure:"db_path"`
	LogLevel       string        `mapstructure:"log_level"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	// ConsultationFee is a decimal string, e.g. "100" or "85.50".
	ConsultationFee string   `mapstructure:"consultation_fee"`
	CatalogFile     string   `mapstructure:"catalog_file"`
	EnableDemo      bool     `mapstructure:"enable_demo"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// Fee returns the parsed consultation fee.
func (c *Config) Fee() generic.Money {
	return generic.MustParseMoney(c.ConsultationFee)
}

// Load reads an optional .env file then resolves every key through viper.
// Files listed in envFiles are loaded in order; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// entries may carry surrounding spaces
	if raw := v.GetString("allowed_origins"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "clinic.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("session_ttl", 12*time.Hour)
	v.SetDefault("redis_addr", "")
	v.SetDefault("resolve_timeout", 2*time.Second)
	v.SetDefault("consultation_fee", "100")
	v.SetDefault("catalog_file", "")
	v.SetDefault("enable_demo", false)
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.DBPath == "" {
		return errors.New("db_path is required")
	}
	if cfg.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if cfg.ResolveTimeout <= 0 {
		return errors.New("resolve_timeout must be positive")
	}
	fee, err := generic.ParseMoney(cfg.ConsultationFee)
	if err != nil {
		return fmt.Errorf("consultation_fee: %w", err)
	}
	if fee.IsNegative() {
		return errors.New("consultation_fee must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
