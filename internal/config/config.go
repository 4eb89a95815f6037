// Package config holds the peercall configuration: defaults, an optional YAML
// file, and validation. Flags are applied on top by the command.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that may point at a config file.
const EnvConfigPath = "PEERCALL_CONFIG"

// Mode selects what the process does.
type Mode string

const (
	ModeCall  Mode = "call"
	ModeRelay Mode = "relay"
)

// Defaults.
const (
	DefaultSignalingURL  = "wss://175.121.80.129:5555"
	DefaultSTUNServer    = "stun:stun.l.google.com:19302"
	DefaultVideoOut      = "remote.ivf"
	DefaultRelayListen   = "127.0.0.1:5555"
	DefaultStatsInterval = 10 * time.Second
)

// Config stores all parameters gathered from the config file and CLI flags.
type Config struct {
	Mode Mode `yaml:"mode"`

	// SignalingURL is the WebSocket endpoint (call mode).
	SignalingURL string `yaml:"signaling_url"`

	// STUNServer is the single ICE server handed to the peer connection.
	// Empty means host candidates only.
	STUNServer string `yaml:"stun_server"`

	// OfferOnOpen sends an offer as soon as the socket opens. When false the
	// client waits for the remote side to offer.
	OfferOnOpen bool `yaml:"offer_on_open"`

	// VideoOut is where the remote video is written (IVF).
	VideoOut string `yaml:"video_out"`

	// AudioOut is where the remote audio is written (Ogg/Opus). Empty
	// disables audio output; audio tracks are then dropped.
	AudioOut string `yaml:"audio_out"`

	// RelayListen is the listen address in relay mode.
	RelayListen string `yaml:"relay_listen"`

	// StatsInterval controls the throughput reporter. Zero disables it.
	StatsInterval time.Duration `yaml:"stats_interval"`

	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:          ModeCall,
		SignalingURL:  DefaultSignalingURL,
		STUNServer:    DefaultSTUNServer,
		OfferOnOpen:   true,
		VideoOut:      DefaultVideoOut,
		RelayListen:   DefaultRelayListen,
		StatsInterval: DefaultStatsInterval,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty path
// falls back to $PEERCALL_CONFIG; when that is empty too, the defaults are
// returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the fields relevant to the selected mode.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeCall:
		if _, err := NormalizeWSURL(c.SignalingURL); err != nil {
			errs = append(errs, err)
		}
		if c.VideoOut == "" {
			errs = append(errs, errors.New("video_out must not be empty"))
		}
		if c.STUNServer != "" && !strings.HasPrefix(c.STUNServer, "stun:") {
			errs = append(errs, fmt.Errorf("stun_server must use the stun: scheme, got %q", c.STUNServer))
		}
	case ModeRelay:
		if c.RelayListen == "" {
			errs = append(errs, errors.New("relay_listen must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q: must be 'call' or 'relay'", c.Mode))
	}

	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// NormalizeWSURL validates a raw WebSocket URL. A missing or non-WebSocket
// scheme becomes wss; path and query are kept.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %q", raw)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	return u.String(), nil
}
