package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ircterm.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("USER", "alice")
	cfg := Default()

	if cfg.Server.Address != "localhost:6667" {
		t.Errorf("expected address=localhost:6667, got %s", cfg.Server.Address)
	}
	if cfg.Identity.Nickname != "alice" {
		t.Errorf("expected nickname from $USER, got %s", cfg.Identity.Nickname)
	}
	if cfg.Pipeline.MaxConsecutiveErrors != 3 {
		t.Errorf("expected max_consecutive_errors=3, got %d", cfg.Pipeline.MaxConsecutiveErrors)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: wss://irc.example.org/webirc
  proxy: socks5://127.0.0.1:9050
  charset: iso-8859-1
identity:
  nickname: alice
  username: alice
  realname: Alice A
session:
  channels: ["#go", "#irc"]
  shutdown_timeout: 2s
pipeline:
  submit_timeout: 250ms
log:
  level: debug
transcript: /tmp/alice.log
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Address != "wss://irc.example.org/webirc" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.Proxy != "socks5://127.0.0.1:9050" {
		t.Errorf("proxy = %q", cfg.Server.Proxy)
	}
	if cfg.Identity.Realname != "Alice A" {
		t.Errorf("realname = %q", cfg.Identity.Realname)
	}
	if len(cfg.Session.Channels) != 2 || cfg.Session.Channels[1] != "#irc" {
		t.Errorf("channels = %v", cfg.Session.Channels)
	}
	if cfg.Session.ShutdownTimeout != 2*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Session.ShutdownTimeout)
	}
	if cfg.Pipeline.SubmitTimeout != 250*time.Millisecond {
		t.Errorf("submit_timeout = %v", cfg.Pipeline.SubmitTimeout)
	}
	if cfg.Transcript != "/tmp/alice.log" {
		t.Errorf("transcript = %q", cfg.Transcript)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Pipeline.InboundQueue != 256 {
		t.Errorf("inbound_queue = %d, want default 256", cfg.Pipeline.InboundQueue)
	}
	if cfg.Session.QuitMessage != "leaving" {
		t.Errorf("quit_message = %q, want default", cfg.Session.QuitMessage)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "server: [not, a, mapping\n")
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: "server.address is required",
		},
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.Server.Transport = "udp" },
			wantErr: "server.transport",
		},
		{
			name:    "missing nickname",
			mutate:  func(c *Config) { c.Identity.Nickname = "" },
			wantErr: "identity.nickname is required",
		},
		{
			name:    "nickname with space",
			mutate:  func(c *Config) { c.Identity.Nickname = "al ice" },
			wantErr: "invalid characters",
		},
		{
			name:    "username with space",
			mutate:  func(c *Config) { c.Identity.Username = "al ice" },
			wantErr: "identity.username",
		},
		{
			name:    "username with leading colon",
			mutate:  func(c *Config) { c.Identity.Username = ":alice" },
			wantErr: "identity.username",
		},
		{
			name:    "password with space",
			mutate:  func(c *Config) { c.Identity.Password = "open sesame" },
			wantErr: "identity.password",
		},
		{
			name:    "realname with line break",
			mutate:  func(c *Config) { c.Identity.Realname = "Alice\r\nQUIT" },
			wantErr: "identity.realname",
		},
		{
			name:    "bad channel",
			mutate:  func(c *Config) { c.Session.Channels = []string{"#a,#b"} },
			wantErr: "invalid channel",
		},
		{
			name:    "negative queue",
			mutate:  func(c *Config) { c.Pipeline.InboundQueue = -1 },
			wantErr: "queue sizes",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Identity.Nickname = "alice"
			cfg.Identity.Username = "alice"
			cfg.Identity.Realname = "Alice A"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RealnameMayContainSpaces(t *testing.T) {
	cfg := Default()
	cfg.Identity.Nickname = "alice"
	cfg.Identity.Username = "alice"
	cfg.Identity.Realname = "Alice A"
	cfg.Identity.Password = "s3cret"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
