package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Presence Presence `json:"presence"`
	Profile  Profile  `json:"profile"`
	Call     Call     `json:"call"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

type Presence struct {
	TTLSec       int `json:"ttl_seconds"`
	HeartbeatSec int `json:"heartbeat_seconds"`
}

type Profile struct {
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url"`
}

// Call configures the media/transport binding.
type Call struct {
	// Mode selects the transport implementation: "native" (Pion WebRTC)
	// or "simulated" (no-op binding, signaling only).
	Mode string `json:"mode"`

	// STUNServers is the fixed list of public reachability-assist servers.
	// No TURN/relay configuration is supported.
	STUNServers []string `json:"stun_servers"`

	// VideoDisabled advertises (via presence) that this peer does not
	// accept video calls.
	VideoDisabled bool `json:"video_disabled"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
}

const (
	ModeNative    = "native"
	ModeSimulated = "simulated"
)

// Default returns a config with sensible defaults for a new peer directory.
func Default() Config {
	return Config{
		Identity: Identity{KeyFile: "data/identity.key"},
		P2P:      P2P{ListenPort: 0, MdnsTag: ""},
		Presence: Presence{TTLSec: 30, HeartbeatSec: 10},
		Profile:  Profile{DisplayName: "anonymous", Username: "anonymous"},
		Call: Call{
			Mode:        ModeNative,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Viewer: Viewer{HTTPAddr: "127.0.0.1:8750"},
	}
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Ensure loads the config at path, creating it with defaults on first run.
// The second return value reports whether the file was created.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	}
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate rejects configs that cannot produce a working peer.
func Validate(cfg Config) error {
	if cfg.Identity.KeyFile == "" {
		return errors.New("identity.key_file is required")
	}
	if cfg.P2P.ListenPort < 0 || cfg.P2P.ListenPort > 65535 {
		return fmt.Errorf("p2p.listen_port out of range: %d", cfg.P2P.ListenPort)
	}
	switch cfg.Call.Mode {
	case ModeNative, ModeSimulated:
	default:
		return fmt.Errorf("call.mode must be %q or %q, got %q", ModeNative, ModeSimulated, cfg.Call.Mode)
	}
	for _, s := range cfg.Call.STUNServers {
		if !strings.HasPrefix(s, "stun:") {
			return fmt.Errorf("call.stun_servers entry %q must use the stun: scheme", s)
		}
	}
	if cfg.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be positive")
	}
	if cfg.Presence.TTLSec <= cfg.Presence.HeartbeatSec {
		return errors.New("presence.ttl_seconds must exceed presence.heartbeat_seconds")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Identity.KeyFile == "" {
		cfg.Identity.KeyFile = def.Identity.KeyFile
	}
	if cfg.Presence.HeartbeatSec == 0 {
		cfg.Presence.HeartbeatSec = def.Presence.HeartbeatSec
	}
	if cfg.Presence.TTLSec == 0 {
		cfg.Presence.TTLSec = def.Presence.TTLSec
	}
	if cfg.Call.Mode == "" {
		cfg.Call.Mode = def.Call.Mode
	}
	if len(cfg.Call.STUNServers) == 0 {
		cfg.Call.STUNServers = def.Call.STUNServers
	}
}
