package rcs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/backkem/rcs/pkg/negotiation"
	"github.com/backkem/rcs/pkg/sharing"
	"github.com/backkem/rcs/pkg/xdm"
	"gopkg.in/yaml.v3"
)

// Config is the file configuration of a Stack.
//
// Durations are strings in time.ParseDuration syntax. Paths may reference
// ${HOME} and other environment variables.
type Config struct {
	// Identity is the public user identity, e.g. "sip:alice@example.com".
	Identity string `yaml:"identity"`

	// LocalHost is the address advertised for media.
	LocalHost string `yaml:"local_host"`

	// LogLevel is the default level: disabled, error, warn, info, debug or trace.
	// Default: info
	LogLevel string `yaml:"log_level"`

	// LogScopes overrides the level per logger scope, e.g. {msrp: debug}.
	LogScopes map[string]string `yaml:"log_scopes,omitempty"`

	// Sharing configures content sharing.
	Sharing SharingConfig `yaml:"sharing"`

	// XDM configures the document-sync client. Optional.
	XDM XDMConfig `yaml:"xdm"`
}

// SharingConfig configures content sharing.
type SharingConfig struct {
	// StorageDir is where received content is written.
	// Default: ${HOME}/.cache/rcs/received
	StorageDir string `yaml:"storage_dir"`

	// MaxSize is the largest accepted payload in bytes. 0 means unlimited.
	MaxSize int64 `yaml:"max_size"`

	// RingingPeriod bounds the wait for an answer. Default: 120s
	RingingPeriod string `yaml:"ringing_period"`

	// AckTimeout bounds the wait for the ACK to our 200 OK. Default: 32s
	AckTimeout string `yaml:"ack_timeout"`

	// SocketTimeout bounds media setup and signaling sends. Default: 30s
	SocketTimeout string `yaml:"socket_timeout"`

	// ChunkSize bounds one MSRP chunk in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// Secured offers MSRP over TLS.
	Secured bool `yaml:"secured"`

	// OfferSetup is the setup role of outgoing offers: active, passive or actpass.
	// Default: active
	OfferSetup string `yaml:"offer_setup"`

	// ActivePort is the placeholder port of an active endpoint. Default: 9
	ActivePort int `yaml:"active_port"`

	// AdmitOnAccept checks size and storage after the user accepts instead
	// of on arrival.
	AdmitOnAccept bool `yaml:"admit_on_accept"`

	// SupportedEncodings lists accepted MIME patterns. Default: [image/*]
	SupportedEncodings []string `yaml:"supported_encodings"`

	// MaxSessions limits concurrent sessions.
	MaxSessions int `yaml:"max_sessions"`
}

// XDMConfig configures the document-sync client.
type XDMConfig struct {
	// Server is the XCAP root. The client is disabled when empty.
	Server string `yaml:"server"`

	// Login and Password are the Digest credentials. Login defaults to
	// the identity.
	Login    string `yaml:"login"`
	Password string `yaml:"password"`

	// Timeout bounds one request. Default: 30s
	Timeout string `yaml:"timeout"`

	// InitializeOnStart provisions the presence documents in Start().
	InitializeOnStart bool `yaml:"initialize_on_start"`
}

// Enabled reports whether a server is configured.
func (c XDMConfig) Enabled() bool {
	return c.Server != ""
}

// Default returns the configuration used as a base before loading a file.
func Default() *Config {
	c := &Config{
		LogLevel: "info",
		Sharing: SharingConfig{
			StorageDir:         filepath.Join("${HOME}", ".cache", "rcs", "received"),
			RingingPeriod:      sharing.DefaultRingingPeriod.String(),
			AckTimeout:         sharing.DefaultAckTimeout.String(),
			SocketTimeout:      sharing.DefaultSocketTimeout.String(),
			OfferSetup:         "active",
			ActivePort:         negotiation.DefaultActivePort,
			SupportedEncodings: []string{"image/*"},
		},
	}
	c.expandVariables()
	return c
}

// LoadFile loads configuration from path over Default and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("rcs: parse config: %w", err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVariables expands ${VAR} in paths.
func (c *Config) expandVariables() {
	c.Sharing.StorageDir = expandVars(c.Sharing.StorageDir)
}

func expandVars(s string) string {
	return os.Expand(s, func(name string) string {
		if name == "HOME" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return os.Getenv(name)
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return ErrIdentityRequired
	}
	if c.LocalHost == "" {
		return ErrLocalHostRequired
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	for scope, level := range c.LogScopes {
		if _, err := ParseLogLevel(level); err != nil {
			return fmt.Errorf("%w (scope %s)", err, scope)
		}
	}
	if _, err := c.Sharing.setupRole(); err != nil {
		return err
	}
	for name, d := range map[string]string{
		"sharing.ringing_period": c.Sharing.RingingPeriod,
		"sharing.ack_timeout":    c.Sharing.AckTimeout,
		"sharing.socket_timeout": c.Sharing.SocketTimeout,
		"xdm.timeout":            c.XDM.Timeout,
	} {
		if _, err := parseDuration(d); err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
	}
	if c.Sharing.MaxSize < 0 {
		return fmt.Errorf("rcs: negative sharing.max_size")
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w %q", ErrInvalidDuration, s)
	}
	return d, nil
}

func (c SharingConfig) setupRole() (negotiation.SetupRole, error) {
	switch strings.ToLower(c.OfferSetup) {
	case "", "active":
		return negotiation.SetupActive, nil
	case "passive":
		return negotiation.SetupPassive, nil
	case "actpass":
		return negotiation.SetupActPass, nil
	default:
		return negotiation.SetupUnspecified, fmt.Errorf("%w %q", ErrInvalidSetup, c.OfferSetup)
	}
}

// SharingManagerConfig maps the file configuration onto a sharing.Config.
// Collaborators (signaling, sink, limits, factory) are left to the caller.
func (c *Config) SharingManagerConfig() sharing.Config {
	role, _ := c.Sharing.setupRole()
	ringing, _ := parseDuration(c.Sharing.RingingPeriod)
	ack, _ := parseDuration(c.Sharing.AckTimeout)
	socket, _ := parseDuration(c.Sharing.SocketTimeout)
	return sharing.Config{
		LocalHost:          c.LocalHost,
		LocalIdentity:      c.Identity,
		Secured:            c.Sharing.Secured,
		OfferRole:          role,
		ActivePort:         c.Sharing.ActivePort,
		ChunkSize:          c.Sharing.ChunkSize,
		RingingPeriod:      ringing,
		AckTimeout:         ack,
		SocketTimeout:      socket,
		AdmitOnAccept:      c.Sharing.AdmitOnAccept,
		SupportedEncodings: c.Sharing.SupportedEncodings,
		MaxSessions:        c.Sharing.MaxSessions,
	}
}

// XDMLogin returns the Digest login, defaulting to the identity.
func (c *Config) XDMLogin() string {
	if c.XDM.Login != "" {
		return c.XDM.Login
	}
	return c.Identity
}

// XDMClientConfig maps the xdm section onto an xdm.Config. The factory and
// logger are left to the caller.
func (c *Config) XDMClientConfig() xdm.Config {
	timeout, _ := parseDuration(c.XDM.Timeout)
	return xdm.Config{
		ServerAddr: c.XDM.Server,
		Login:      c.XDMLogin(),
		Password:   c.XDM.Password,
		PublicURI:  c.Identity,
		Timeout:    timeout,
	}
}
