package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/docease/telecare/internal/models"
)

// Default configuration values
const (
	DefaultServer       = "http://localhost:8080"
	DefaultPollInterval = 3 * time.Second
)

// DefaultSTUN are the public STUN servers used when none is configured.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds client configuration
type Config struct {
	// ServerURL is the base http(s) URL of the telecare server
	ServerURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// Identity for calls and chat
	ParticipantID string
	Role          models.Role
	PeerID        string

	PollInterval time.Duration
	OfferTimeout time.Duration // 0 waits for an answer indefinitely
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server        string
	STUNServers   []string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ParticipantID string
	Role          string
	PeerID        string
	PollInterval  time.Duration
	OfferTimeout  time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := firstNonEmpty(opts.Server, os.Getenv("TELECARE_SERVER"), DefaultServer)
	u, err := url.Parse(server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}

	stun := opts.STUNServers
	if len(stun) == 0 {
		if env := os.Getenv("STUN_SERVER"); env != "" {
			stun = splitList(env)
		}
	}
	if len(stun) == 0 {
		stun = DefaultSTUN
	}

	cfg := &Config{
		ServerURL:     strings.TrimRight(u.String(), "/"),
		STUNServers:   stun,
		TURNServer:    firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:      firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:      firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ParticipantID: firstNonEmpty(opts.ParticipantID, os.Getenv("TELECARE_PARTICIPANT")),
		Role:          models.Role(firstNonEmpty(opts.Role, os.Getenv("TELECARE_ROLE"), string(models.RolePatient))),
		PeerID:        firstNonEmpty(opts.PeerID, os.Getenv("TELECARE_PEER")),
		PollInterval:  opts.PollInterval,
		OfferTimeout:  opts.OfferTimeout,
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.OfferTimeout < 0 {
		return nil, fmt.Errorf("offer timeout must not be negative")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("role must be %q or %q, got %q", models.RolePatient, models.RoleDoctor, cfg.Role)
	}
	if cfg.TURNServer != "" && (cfg.TURNUser == "" || cfg.TURNPass == "") {
		return nil, fmt.Errorf("TURN server %s needs a username and password", cfg.TURNServer)
	}

	return cfg, nil
}

// WebSocketURL returns the relay endpoint derived from the server URL.
func (c *Config) WebSocketURL() string {
	u, _ := url.Parse(c.ServerURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
