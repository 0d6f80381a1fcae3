// Package config defines the runtime configuration for wearbridge and
// the helpers that parse remote specs and validate the result.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
)

// Config holds every tuneable for one wearbridge invocation.  Field
// tags name the TOML key and the WEARBRIDGE_-prefixed env var.
type Config struct {
	// ── Transport ────────────────────────────────────────────────────
	Port string `toml:"port" env:"PORT"` // serial port; auto-selected if empty
	Baud int    `toml:"baud" env:"BAUD"`

	// ── Remote serial over SSH ───────────────────────────────────────
	RemoteSpec     string `toml:"remote" env:"REMOTE"` // [user@]host[:port]
	RemoteDevice   string `toml:"remote_device" env:"REMOTE_DEVICE"`
	RelayCommand   string `toml:"relay_command" env:"RELAY_COMMAND"`
	SSHKeyPath     string `toml:"ssh_key" env:"SSH_KEY"`
	SSHPassword    bool   `toml:"ssh_password" env:"SSH_PASSWORD"`
	UseSSHAgent    bool   `toml:"ssh_agent" env:"SSH_AGENT"`
	StrictHostKey  bool   `toml:"strict_hostkey" env:"STRICT_HOSTKEY"`
	KnownHostsPath string `toml:"known_hosts" env:"KNOWN_HOSTS"`
	KeepAlive      int    `toml:"keep_alive" env:"KEEP_ALIVE"` // seconds, 0 disables

	RemoteEnabled bool   `toml:"-"`
	RemoteUser    string `toml:"-"`
	RemoteHost    string `toml:"-"`
	RemotePort    int    `toml:"-"`

	// ── Session ──────────────────────────────────────────────────────
	Name            string `toml:"name" env:"NAME"`
	Address         string `toml:"address" env:"ADDRESS"`
	AuthKey         string `toml:"authkey" env:"AUTHKEY"`
	ProtocolVersion uint32 `toml:"protocol_version" env:"PROTOCOL_VERSION"`
	ConnectType     string `toml:"connect_type" env:"CONNECT_TYPE"`
	Retries         int    `toml:"retries" env:"RETRIES"`

	// ── Pairing nudge ────────────────────────────────────────────────
	Pair         bool   `toml:"pair" env:"PAIR"`
	Adapter      string `toml:"adapter" env:"ADAPTER"`
	PairPrefixes string `toml:"pair_prefixes" env:"PAIR_PREFIXES"` // characters; empty means every ASCII letter

	// ── Execution ────────────────────────────────────────────────────
	Execute string `toml:"exec" env:"EXEC"`       // program path
	Command string `toml:"command" env:"COMMAND"` // shell command

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `toml:"verbose" env:"VERBOSE"`
	JSON    bool `toml:"json" env:"JSON"`
	Stats   bool `toml:"stats" env:"STATS"`

	// ── Invocation ───────────────────────────────────────────────────
	ConfigPath string   `toml:"-" env:"CONFIG"`
	Mode       string   `toml:"-"` // ports, pair, relay, classify
	Args       []string `toml:"-"`
}

// Modes accepted on the command line.
const (
	ModePorts    = "ports"
	ModePair     = "pair"
	ModeRelay    = "relay"
	ModeClassify = "classify"
)

// ConnectKind returns the parsed connect type.
func (c *Config) ConnectKind() device.ConnectType {
	return device.ParseConnectType(c.ConnectType)
}

// Prefixes splits PairPrefixes into single-character strings.
func (c *Config) Prefixes() []string {
	var out []string
	for _, r := range c.PairPrefixes {
		if r == ',' || r == ' ' {
			continue
		}
		out = append(out, string(r))
	}
	return out
}

// ── Remote-spec parser ───────────────────────────────────────────────

// remoteRe matches [user@]host[:port].
var remoteRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseRemoteSpec extracts user, host, and port from a string such as
// "pi@gateway.lan:2222".  Port defaults to 22.
func ParseRemoteSpec(spec string) (user, host string, port int, err error) {
	m := remoteRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid remote spec %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid remote port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("remote host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent and
// resolves the remote spec.  Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePorts, ModePair, ModeRelay:
	case ModeClassify:
		if len(c.Args) != 1 {
			return &errors.ConfigError{
				Field:   "classify",
				Message: "expects exactly one file argument",
				Hint:    "wearbridge classify ./face.bin",
			}
		}
	case "":
		return &errors.ConfigError{
			Field:   "command",
			Message: "no command given",
			Hint:    "one of: ports, pair, relay, classify",
		}
	default:
		return &errors.ConfigError{
			Field:   "command",
			Value:   c.Mode,
			Message: "unknown command",
			Hint:    "one of: ports, pair, relay, classify",
		}
	}

	if c.Baud <= 0 {
		return &errors.ConfigError{
			Field:   "baud",
			Value:   c.Baud,
			Message: "must be positive",
			Hint:    fmt.Sprintf("most watches use %d", DefaultBaud),
		}
	}

	if c.Retries < 0 {
		return &errors.ConfigError{Field: "retries", Value: c.Retries, Message: "must not be negative"}
	}

	switch strings.ToUpper(strings.TrimSpace(c.ConnectType)) {
	case "", "SPP", "BLE":
	default:
		return &errors.ConfigError{
			Field:   "connect-type",
			Value:   c.ConnectType,
			Message: "unknown connect type",
			Hint:    "use SPP or BLE",
		}
	}

	if c.Execute != "" && c.Command != "" {
		return &errors.ConfigError{
			Field:   "exec",
			Value:   c.Execute,
			Message: "--exec and --command are mutually exclusive",
		}
	}

	if c.RemoteSpec != "" {
		if c.Port != "" {
			return &errors.ConfigError{
				Field:   "remote",
				Value:   c.RemoteSpec,
				Message: "--remote and --port are mutually exclusive",
				Hint:    "name the gateway's device with --remote-device",
			}
		}
		user, host, port, err := ParseRemoteSpec(c.RemoteSpec)
		if err != nil {
			return &errors.ConfigError{Field: "remote", Value: c.RemoteSpec, Message: err.Error()}
		}
		if c.RemoteDevice == "" {
			return &errors.ConfigError{
				Field:   "remote-device",
				Message: "required with --remote",
				Hint:    "for example --remote-device /dev/ttyUSB0",
			}
		}
		c.RemoteEnabled = true
		c.RemoteUser, c.RemoteHost, c.RemotePort = user, host, port
	}

	if c.KeepAlive < 0 {
		return &errors.ConfigError{Field: "keep-alive", Value: c.KeepAlive, Message: "must not be negative"}
	}
	return nil
}
