package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultBaud is the serial line rate used by the watches.
	DefaultBaud = 115200

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultProtocolVersion is sent in the handshake when none is given.
	DefaultProtocolVersion = 2

	// DefaultConnectType selects the classic serial profile.
	DefaultConnectType = "SPP"

	// DefaultAdapter is the BlueZ adapter used for the pairing nudge.
	DefaultAdapter = "hci0"

	// DefaultConnTimeout is the SSH connection timeout.
	DefaultConnTimeout = 15 * time.Second

	// DefaultRetryBaseDelay is the first backoff delay between connect
	// attempts.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps the exponential backoff between connect
	// attempts.
	DefaultRetryMaxDelay = 10 * time.Second

	// DefaultDotEnv is read, if present, before the environment overlay.
	DefaultDotEnv = ".env"

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "WEARBRIDGE_"
)

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Baud:            DefaultBaud,
		ProtocolVersion: DefaultProtocolVersion,
		ConnectType:     DefaultConnectType,
		Adapter:         DefaultAdapter,
		Verbose:         1,
	}
}
