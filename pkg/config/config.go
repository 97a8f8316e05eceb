// Package config loads the scoreboard configuration from defaults, a YAML
// file and SCOREBOARD_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/tecu23/scoreboard/pkg/game"
)

// Role selects whether this process owns the state or mirrors it
type Role string

// Possible roles
const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Transport selects how updates travel
type Transport string

// Possible transports
const (
	TransportUnicast   Transport = "unicast"
	TransportMulticast Transport = "multicast"
)

// DefaultMulticastAddr is the group scoreboards use when none is configured.
const DefaultMulticastAddr = "227.27.27.27"

// Config is the complete process configuration
type Config struct {
	Role      Role      `yaml:"role"`
	Transport Transport `yaml:"transport"`
	Debug     bool      `yaml:"debug"`

	// Unicast: the address the master listens on and slaves dial.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	MulticastAddr      string `yaml:"multicast_addr"`
	MulticastFromLocal bool   `yaml:"multicast_from_local"`
	MulticastTTL       int    `yaml:"multicast_ttl"`
	MulticastInterface string `yaml:"multicast_interface"`
	MulticastLoopback  bool   `yaml:"multicast_loopback"`

	// StatusAddr serves /health and /state when the transport has no HTTP
	// listener of its own. Empty disables it.
	StatusAddr string `yaml:"status_addr"`

	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	StaleAfterMissed  int           `yaml:"stale_after_missed"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
	MaxMissedSends    int           `yaml:"max_missed_sends"`
	MaxUpdateRate     float64       `yaml:"max_update_rate"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	Extrapolate       bool          `yaml:"extrapolate"`

	Renderer string      `yaml:"renderer"`
	Limits   game.Limits `yaml:"limits"`
}

// ConfigurationError reports an unusable setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid configuration %s=%v: %s", e.Field, e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Role:              RoleMaster,
		Transport:         TransportUnicast,
		Host:              "localhost",
		Port:              2011,
		MulticastAddr:     DefaultMulticastAddr,
		MulticastTTL:      1,
		MulticastLoopback: true,
		BroadcastInterval: time.Second,
		StaleAfterMissed:  3,
		TickInterval:      time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		SendBuffer:        32,
		MaxMissedSends:    3,
		MaxUpdateRate:     20,
		ReconnectDelay:    2 * time.Second,
		Renderer:          "log",
		Limits:            game.DefaultLimits(),
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any), then the environment. Variables in envFile are loaded into the
// environment first; a missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigurationError{Field: "config", Value: path, Reason: "failed to read config file", Err: err}
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigurationError{Field: "config", Value: path, Reason: "failed to parse config", Err: err}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigurationError{Field: "env", Value: envFile, Reason: "failed to load env file", Err: err}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func getEnvAsInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return &ConfigurationError{Field: key, Value: value, Reason: "not an integer", Err: err}
	}
	*dst = v
	return nil
}

func getEnvAsBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return &ConfigurationError{Field: key, Value: value, Reason: "not a boolean", Err: err}
	}
	*dst = v
	return nil
}

func getEnvAsDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return &ConfigurationError{Field: key, Value: value, Reason: "not a duration", Err: err}
	}
	*dst = v
	return nil
}

func getEnvAsFloat(key string, dst *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return &ConfigurationError{Field: key, Value: value, Reason: "not a number", Err: err}
	}
	*dst = v
	return nil
}

// applyEnv overrides every scalar setting from SCOREBOARD_* variables.
// Board limits are only read from the config file.
func (c *Config) applyEnv() error {
	role, transport := string(c.Role), string(c.Transport)
	getEnv("SCOREBOARD_ROLE", &role)
	getEnv("SCOREBOARD_TRANSPORT", &transport)
	c.Role, c.Transport = Role(role), Transport(transport)

	getEnv("SCOREBOARD_HOST", &c.Host)
	getEnv("SCOREBOARD_MULTICAST_ADDR", &c.MulticastAddr)
	getEnv("SCOREBOARD_MULTICAST_INTERFACE", &c.MulticastInterface)
	getEnv("SCOREBOARD_STATUS_ADDR", &c.StatusAddr)
	getEnv("SCOREBOARD_RENDERER", &c.Renderer)

	return multierr.Combine(
		getEnvAsInt("SCOREBOARD_PORT", &c.Port),
		getEnvAsInt("SCOREBOARD_MULTICAST_TTL", &c.MulticastTTL),
		getEnvAsBool("SCOREBOARD_MULTICAST_FROM_LOCAL", &c.MulticastFromLocal),
		getEnvAsBool("SCOREBOARD_MULTICAST_LOOPBACK", &c.MulticastLoopback),
		getEnvAsBool("SCOREBOARD_DEBUG", &c.Debug),
		getEnvAsBool("SCOREBOARD_EXTRAPOLATE", &c.Extrapolate),
		getEnvAsDuration("SCOREBOARD_BROADCAST_INTERVAL", &c.BroadcastInterval),
		getEnvAsInt("SCOREBOARD_STALE_AFTER_MISSED", &c.StaleAfterMissed),
		getEnvAsDuration("SCOREBOARD_TICK_INTERVAL", &c.TickInterval),
		getEnvAsDuration("SCOREBOARD_READ_TIMEOUT", &c.ReadTimeout),
		getEnvAsDuration("SCOREBOARD_WRITE_TIMEOUT", &c.WriteTimeout),
		getEnvAsDuration("SCOREBOARD_PING_INTERVAL", &c.PingInterval),
		getEnvAsInt("SCOREBOARD_SEND_BUFFER", &c.SendBuffer),
		getEnvAsInt("SCOREBOARD_MAX_MISSED_SENDS", &c.MaxMissedSends),
		getEnvAsFloat("SCOREBOARD_MAX_UPDATE_RATE", &c.MaxUpdateRate),
		getEnvAsDuration("SCOREBOARD_RECONNECT_DELAY", &c.ReconnectDelay),
	)
}

// Validate checks every setting the sync engine depends on.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleMaster, RoleSlave:
	default:
		return &ConfigurationError{Field: "role", Value: c.Role, Reason: "must be master or slave"}
	}

	switch c.Transport {
	case TransportUnicast:
		if c.Role == RoleSlave && c.Host == "" {
			return &ConfigurationError{Field: "host", Value: c.Host, Reason: "slaves need the master's host"}
		}
	case TransportMulticast:
		ip := net.ParseIP(c.MulticastAddr)
		if ip == nil || ip.To4() == nil {
			return &ConfigurationError{Field: "multicast_addr", Value: c.MulticastAddr, Reason: "not an IPv4 address"}
		}
		if !ip.IsMulticast() {
			return &ConfigurationError{Field: "multicast_addr", Value: c.MulticastAddr, Reason: "not a multicast address"}
		}
		if c.MulticastTTL < 0 || c.MulticastTTL > 255 {
			return &ConfigurationError{Field: "multicast_ttl", Value: c.MulticastTTL, Reason: "must be between 0 and 255"}
		}
	default:
		return &ConfigurationError{Field: "transport", Value: c.Transport, Reason: "must be unicast or multicast"}
	}

	if c.Port < 1 || c.Port > 65535 {
		return &ConfigurationError{Field: "port", Value: c.Port, Reason: "must be between 1 and 65535"}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"broadcast_interval", c.BroadcastInterval},
		{"tick_interval", c.TickInterval},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"ping_interval", c.PingInterval},
		{"reconnect_delay", c.ReconnectDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &ConfigurationError{Field: d.name, Value: d.d, Reason: "must be positive"}
		}
	}

	counts := []struct {
		name string
		n    int
	}{
		{"stale_after_missed", c.StaleAfterMissed},
		{"send_buffer", c.SendBuffer},
		{"max_missed_sends", c.MaxMissedSends},
	}
	for _, n := range counts {
		if n.n < 1 {
			return &ConfigurationError{Field: n.name, Value: n.n, Reason: "must be at least 1"}
		}
	}

	if c.MaxUpdateRate < 0 {
		return &ConfigurationError{Field: "max_update_rate", Value: c.MaxUpdateRate, Reason: "must not be negative"}
	}
	if err := c.Limits.Validate(); err != nil {
		return &ConfigurationError{Field: "limits", Value: c.Limits, Reason: "inconsistent limits", Err: err}
	}
	return nil
}

// Addr returns the unicast host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ListenAddr returns the address a unicast master binds. Only the port of
// Host is honored so the master accepts slaves on every interface.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// StaleTimeout is how long a slave waits without updates before marking
// its display stale.
func (c *Config) StaleTimeout() time.Duration {
	return c.BroadcastInterval * time.Duration(c.StaleAfterMissed)
}

// GroupAddr returns the multicast group as ip:port. With
// MulticastFromLocal the last octet is taken from this host's first
// non-loopback IPv4 address, so boards on different hosts pick different
// groups.
func (c *Config) GroupAddr() (string, error) {
	ip := net.ParseIP(c.MulticastAddr).To4()
	if ip == nil {
		return "", &ConfigurationError{Field: "multicast_addr", Value: c.MulticastAddr, Reason: "not an IPv4 address"}
	}

	if c.MulticastFromLocal {
		local, err := localIPv4()
		if err != nil {
			return "", &ConfigurationError{Field: "multicast_from_local", Value: true, Reason: "no local IPv4 address", Err: err}
		}
		ip = withLastOctet(ip, local)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(c.Port)), nil
}

func withLastOctet(group, local net.IP) net.IP {
	out := make(net.IP, net.IPv4len)
	copy(out, group.To4())
	out[3] = local.To4()[3]
	return out
}

func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, errors.New("no non-loopback IPv4 interface")
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
