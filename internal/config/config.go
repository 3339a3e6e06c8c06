// Package config loads the client configuration from a YAML file.
//
// Command-line flags override file values; see cmd/client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omochice/ircterm/internal/transport"
)

// EnvConfig names the config file when --config is not given.
const EnvConfig = "IRCTERM_CONFIG"

// Config is the complete client configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Identity IdentityConfig `yaml:"identity"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`

	// Transcript, when set, appends every displayed record to this file.
	Transcript string `yaml:"transcript"`
}

// ServerConfig describes where to connect.
type ServerConfig struct {
	// Address is "host:port" for TCP or a ws:// or wss:// URL.
	Address string `yaml:"address"`

	// Transport is "tcp" or "ws". Empty infers it from Address.
	Transport string `yaml:"transport"`

	// Proxy is an optional SOCKS5 proxy.
	Proxy string `yaml:"proxy"`

	// Charset is the wire encoding label. Empty means UTF-8.
	Charset string `yaml:"charset"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// IdentityConfig is sent during registration.
type IdentityConfig struct {
	Nickname string `yaml:"nickname"`
	Username string `yaml:"username"`
	Realname string `yaml:"realname"`
	Password string `yaml:"password"`
}

// SessionConfig controls the session once registered.
type SessionConfig struct {
	// Channels are joined right after registration.
	Channels []string `yaml:"channels"`

	// Target receives plain text until a channel is joined.
	Target string `yaml:"target"`

	QuitMessage     string        `yaml:"quit_message"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig bounds the connection pipeline.
type PipelineConfig struct {
	OutboundQueue        int           `yaml:"outbound_queue"`
	InboundQueue         int           `yaml:"inbound_queue"`
	SubmitTimeout        time.Duration `yaml:"submit_timeout"`
	DeliverTimeout       time.Duration `yaml:"deliver_timeout"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	// File receives log output. Empty means stderr in line mode and no
	// logging in the terminal UI.
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the configuration used before a file is loaded.
func Default() *Config {
	nick := "guest"
	if u := os.Getenv("USER"); u != "" {
		nick = u
	}

	return &Config{
		Server: ServerConfig{
			Address:        "localhost:6667",
			ConnectTimeout: 10 * time.Second,
		},
		Identity: IdentityConfig{
			Nickname: nick,
			Username: nick,
			Realname: nick,
		},
		Session: SessionConfig{
			QuitMessage:     "leaving",
			ShutdownTimeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			OutboundQueue:        64,
			InboundQueue:         256,
			SubmitTimeout:        5 * time.Second,
			DeliverTimeout:       5 * time.Second,
			MaxConsecutiveErrors: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	switch transport.Kind(c.Server.Transport) {
	case "", transport.KindTCP, transport.KindWebSocket:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be %q or %q, got %q",
			transport.KindTCP, transport.KindWebSocket, c.Server.Transport))
	}

	if c.Identity.Nickname == "" {
		errs = append(errs, errors.New("identity.nickname is required"))
	} else if !isMiddleParam(c.Identity.Nickname) {
		errs = append(errs, fmt.Errorf("identity.nickname %q contains invalid characters", c.Identity.Nickname))
	}
	if c.Identity.Username == "" {
		errs = append(errs, errors.New("identity.username is required"))
	} else if !isMiddleParam(c.Identity.Username) {
		errs = append(errs, fmt.Errorf("identity.username %q contains invalid characters", c.Identity.Username))
	}
	if c.Identity.Password != "" && !isMiddleParam(c.Identity.Password) {
		errs = append(errs, errors.New("identity.password contains invalid characters"))
	}
	if strings.ContainsAny(c.Identity.Realname, "\r\n\x00") {
		errs = append(errs, fmt.Errorf("identity.realname %q contains a line break", c.Identity.Realname))
	}

	for _, ch := range c.Session.Channels {
		if ch == "" || strings.ContainsAny(ch, " ,\r\n") {
			errs = append(errs, fmt.Errorf("session.channels: invalid channel %q", ch))
		}
	}

	if c.Pipeline.OutboundQueue < 0 || c.Pipeline.InboundQueue < 0 {
		errs = append(errs, errors.New("pipeline queue sizes must not be negative"))
	}
	if c.Pipeline.MaxConsecutiveErrors < 0 {
		errs = append(errs, errors.New("pipeline.max_consecutive_errors must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}

// isMiddleParam reports whether s can be sent as a single protocol
// parameter that is not the last one.
func isMiddleParam(s string) bool {
	return !strings.ContainsAny(s, " \r\n\x00") && !strings.HasPrefix(s, ":")
}
