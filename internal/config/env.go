package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// DotEnvFile is loaded, when present, before the environment is read.
const DotEnvFile = ".env.local"

// envConfig fields that have no natural "unset" zero value are pointers;
// noinit keeps them nil when the variable is absent.
type envConfig struct {
	Service        string   `env:"GENLECHO_SERVICE"`
	Group          string   `env:"GENLECHO_GROUP"`
	Message        string   `env:"GENLECHO_MESSAGE"`
	Data           *uint32  `env:"GENLECHO_DATA, noinit"`
	Transport      string   `env:"GENLECHO_TRANSPORT"`
	MaxMessageSize *int     `env:"GENLECHO_MAX_MESSAGE_SIZE, noinit"`
	DumpFrames     *bool    `env:"GENLECHO_DUMP_FRAMES, noinit"`
	MetricsAddr    string   `env:"GENLECHO_METRICS_ADDR"`
	RequestRate    *float64 `env:"GENLECHO_REQUEST_RATE, noinit"`
	RequestBurst   *int     `env:"GENLECHO_REQUEST_BURST, noinit"`
}

// ApplyEnv overlays GENLECHO_* variables on cfg. dotenv names an optional file
// loaded first; variables already set in the process win over it.
func ApplyEnv(ctx context.Context, cfg Config, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config load %s: %w", dotenv, err)
		}
	}

	var env envConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	if v := strings.TrimSpace(env.Service); v != "" {
		cfg.Service = v
	}
	if v := strings.TrimSpace(env.Group); v != "" {
		cfg.Group = v
	}
	if env.Message != "" {
		cfg.Message = env.Message
	}
	if env.Data != nil {
		cfg.Data = *env.Data
	}
	if v := strings.TrimSpace(env.Transport); v != "" {
		cfg.Transport = Transport(strings.ToLower(v))
	}
	if env.MaxMessageSize != nil {
		cfg.MaxMessageSize = *env.MaxMessageSize
	}
	if env.DumpFrames != nil {
		cfg.DumpFrames = *env.DumpFrames
	}
	if v := strings.TrimSpace(env.MetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if env.RequestRate != nil {
		cfg.RequestRate = *env.RequestRate
	}
	if env.RequestBurst != nil {
		cfg.RequestBurst = *env.RequestBurst
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
