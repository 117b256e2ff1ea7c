// Package config assembles the publishing client's runtime configuration
// from CLI flags (github.com/alecthomas/kong), an optional .env file
// (github.com/joho/godotenv) for secrets like stream keys, and an optional
// YAML tuning profile (gopkg.in/yaml.v2) for the protocol-level knobs that
// rarely change per invocation but are awkward to carry as flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/ashgrove/rtmp-publish/internal/errors"
)

// CLI is the kong-parsed command line surface for cmd/rtmp-publish.
type CLI struct {
	URL         string        `arg:"" help:"Publish destination, e.g. rtmp://host/app/streamKey."`
	Input       string        `short:"i" help:"Path to a raw AVCC/AAC frame-record file; '-' or empty reads stdin." default:""`
	EnvFile     string        `help:"Path to a .env file providing RTMP_URL/RTMP_STREAM_KEY overrides." default:".env"`
	Profile     string        `help:"Path to a YAML tuning profile (chunk size, window ack size, timeouts)." default:""`
	LogLevel    string        `help:"Log level: debug|info|warn|error." default:"info" enum:"debug,info,warn,error"`
	DialTimeout time.Duration `help:"TCP/TLS connect timeout." default:"10s"`
	IdleTimeout time.Duration `help:"Idle read timeout before the session disconnects." default:"60s"`
	NoColor     bool          `help:"Disable colored status output."`
	Version     bool          `help:"Print version and exit."`
}

// Profile is the optional YAML-sourced tuning block, layered under whatever
// the CLI flags already set (CLI wins on conflicting fields since it is
// applied afterward by the caller).
type Profile struct {
	ChunkSize     uint32 `yaml:"chunk_size"`
	WindowAckSize uint32 `yaml:"window_ack_size"`
	FlashVer      string `yaml:"flash_ver"`
	SwfURL        string `yaml:"swf_url"`
}

// Config is the fully resolved, validated configuration handed to the
// session/publish layers.
type Config struct {
	URL         string
	Input       string
	LogLevel    string
	DialTimeout time.Duration
	IdleTimeout time.Duration
	NoColor     bool

	ChunkSize     uint32
	WindowAckSize uint32
	FlashVer      string
	SwfURL        string
}

// Resolve merges CLI flags, an optional .env file and an optional YAML
// profile into a validated Config. Precedence (lowest to highest): built-in
// defaults, YAML profile, .env-sourced environment variables, explicit CLI
// flags.
func Resolve(cli CLI) (*Config, error) {
	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewArgumentError("config.load_env", fmt.Errorf("load %q: %w", cli.EnvFile, err))
		}
	}

	cfg := &Config{
		URL:           cli.URL,
		Input:         cli.Input,
		LogLevel:      cli.LogLevel,
		DialTimeout:   cli.DialTimeout,
		IdleTimeout:   cli.IdleTimeout,
		NoColor:       cli.NoColor,
		ChunkSize:     4096,
		WindowAckSize: 2_500_000,
	}

	if cli.Profile != "" {
		prof, err := loadProfile(cli.Profile)
		if err != nil {
			return nil, err
		}
		applyProfile(cfg, prof)
	}

	if v := os.Getenv("RTMP_URL"); v != "" && cfg.URL == "" {
		cfg.URL = v
	}
	if v := os.Getenv("RTMP_STREAM_KEY"); v != "" {
		cfg.URL = withStreamKey(cfg.URL, v)
	}

	if cfg.URL == "" {
		return nil, errors.NewArgumentError("config.resolve", fmt.Errorf("no publish URL provided (arg, RTMP_URL, or .env)"))
	}
	if cfg.ChunkSize == 0 || cfg.ChunkSize > 65536 {
		return nil, errors.NewArgumentError("config.resolve", fmt.Errorf("chunk size %d out of range [1,65536]", cfg.ChunkSize))
	}
	return cfg, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewArgumentError("config.load_profile", fmt.Errorf("read %q: %w", path, err))
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.NewArgumentError("config.load_profile", fmt.Errorf("parse %q: %w", path, err))
	}
	return &p, nil
}

func applyProfile(cfg *Config, p *Profile) {
	if p.ChunkSize != 0 {
		cfg.ChunkSize = p.ChunkSize
	}
	if p.WindowAckSize != 0 {
		cfg.WindowAckSize = p.WindowAckSize
	}
	if p.FlashVer != "" {
		cfg.FlashVer = p.FlashVer
	}
	if p.SwfURL != "" {
		cfg.SwfURL = p.SwfURL
	}
}

// withStreamKey replaces the trailing path of an rtmp(s) URL with key,
// used when a key is supplied separately (e.g. via a secret-bearing .env
// file) rather than embedded directly in the URL argument.
func withStreamKey(rawURL, key string) string {
	if rawURL == "" {
		return rawURL
	}
	for i := len(rawURL) - 1; i >= 0; i-- {
		if rawURL[i] == '/' {
			return rawURL[:i+1] + key
		}
	}
	return rawURL
}
