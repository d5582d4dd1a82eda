package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/genlecho/internal/echo"
)

type Transport string

const (
	TransportBus     Transport = "bus"
	TransportNetlink Transport = "netlink"
)

// Config drives both sides of the exchange and the CLI around them.
type Config struct {
	Service        string
	Group          string
	Message        string
	Data           uint32
	Transport      Transport
	MaxMessageSize int
	DumpFrames     bool
	MetricsAddr    string
	CorsOrigins    []string
	RequestRate    float64
	RequestBurst   int
}

func DefaultConfig() Config {
	return Config{
		Service:        echo.ServiceName,
		Group:          echo.GroupName,
		Message:        "Hello generic netlink!",
		Data:           9527,
		Transport:      TransportBus,
		MaxMessageSize: 8192,
		RequestBurst:   1,
	}
}

type fileConfig struct {
	Service        string   `toml:"service"`
	Group          string   `toml:"group"`
	Message        string   `toml:"message"`
	Data           int64    `toml:"data"`
	Transport      string   `toml:"transport"`
	MaxMessageSize int      `toml:"max_message_size"`
	DumpFrames     bool     `toml:"dump_frames"`
	MetricsAddr    string   `toml:"metrics_addr"`
	CorsOrigins    []string `toml:"cors_origins"`
	RequestRate    float64  `toml:"request_rate"`
	RequestBurst   int      `toml:"request_burst"`
}

// Load reads path over DefaultConfig. Keys absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("service") {
		cfg.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("group") {
		cfg.Group = strings.TrimSpace(raw.Group)
	}
	if meta.IsDefined("message") {
		cfg.Message = raw.Message
	}
	if meta.IsDefined("data") {
		if raw.Data < 0 || raw.Data > 0xffffffff {
			return Config{}, fmt.Errorf("config data out of range: %d", raw.Data)
		}
		cfg.Data = uint32(raw.Data)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("dump_frames") {
		cfg.DumpFrames = raw.DumpFrames
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("request_rate") {
		cfg.RequestRate = raw.RequestRate
	}
	if meta.IsDefined("request_burst") {
		cfg.RequestBurst = raw.RequestBurst
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Service) == "" {
		return fmt.Errorf("config missing service")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return fmt.Errorf("config missing group")
	}
	switch cfg.Transport {
	case TransportBus, TransportNetlink:
	default:
		return fmt.Errorf("config transport %q unsupported (bus|netlink)", cfg.Transport)
	}
	if cfg.MaxMessageSize < 64 {
		return fmt.Errorf("config max_message_size too small: %d", cfg.MaxMessageSize)
	}
	if cfg.RequestRate < 0 {
		return fmt.Errorf("config request_rate negative: %v", cfg.RequestRate)
	}
	if cfg.RequestBurst < 0 {
		return fmt.Errorf("config request_burst negative: %d", cfg.RequestBurst)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
