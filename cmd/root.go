// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"wearbridge/config"
	"wearbridge/internal/core"
	"wearbridge/internal/metrics"
	"wearbridge/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X wearbridge/cmd.version=2.0.0"
var version = "0.3.0" //nolint:gochecknoglobals

// streams are the process endpoints; tests substitute their own.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute parses args and runs the requested wearbridge command.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, streams{os.Stdin, os.Stdout, os.Stderr}, core.Env{})
}

func run(ctx context.Context, args []string, std streams, env core.Env) error {
	// ── file and environment ─────────────────────────────────────
	cfg := config.Default()
	if err := config.Load(cfg, configPath(args)); err != nil {
		return err
	}

	fs := flag.NewFlagSet("wearbridge", flag.ContinueOnError)
	fs.SetOutput(std.stderr)

	// ── transport ────────────────────────────────────────────────
	fs.StringVarP(&cfg.Port, "port", "p", cfg.Port, "Serial port (auto-select if empty)")
	fs.IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Serial baud rate")

	// ── remote serial over SSH ───────────────────────────────────
	fs.StringVarP(&cfg.RemoteSpec, "remote", "R", cfg.RemoteSpec, "Serial device on an SSH gateway: [user@]host[:port]")
	fs.StringVar(&cfg.RemoteDevice, "remote-device", cfg.RemoteDevice, "Device path on the gateway")
	fs.StringVar(&cfg.RelayCommand, "relay-command", cfg.RelayCommand, "Gateway relay command ({device} and {baud} are substituted)")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.IntVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "SSH keepalive interval in seconds (0 disables)")

	// ── session ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.Name, "name", "n", cfg.Name, "Device name (default: probed label)")
	fs.StringVarP(&cfg.Address, "address", "a", cfg.Address, "Address to register the session under")
	fs.StringVarP(&cfg.AuthKey, "authkey", "k", cfg.AuthKey, "Device auth key")
	fs.Uint32Var(&cfg.ProtocolVersion, "protocol-version", cfg.ProtocolVersion, "Protocol version sent in the handshake")
	fs.StringVar(&cfg.ConnectType, "connect-type", cfg.ConnectType, "SPP or BLE")
	fs.IntVarP(&cfg.Retries, "retries", "r", cfg.Retries, "Extra connect attempts with exponential backoff")

	// ── pairing ──────────────────────────────────────────────────
	fs.BoolVar(&cfg.Pair, "pair", cfg.Pair, "Nudge the companion over Bluetooth LE before connecting")
	fs.StringVar(&cfg.Adapter, "adapter", cfg.Adapter, "BlueZ adapter")
	fs.StringVar(&cfg.PairPrefixes, "pair-prefixes", cfg.PairPrefixes, "Accepted first letters of companion names")

	// ── execution ────────────────────────────────────────────────
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Hand the device stream to a program")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Hand the device stream to a shell command")

	// ── output ───────────────────────────────────────────────────
	extraVerbose := fs.CountP("verbose", "v", "Increase verbosity (repeatable)")
	quiet := fs.BoolP("quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "Print records as JSON lines")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print session statistics on exit")
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "TOML config file")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(std.stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp || len(args) == 0 {
		printUsage(std.stderr, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(std.stdout, "wearbridge %s\n", version)
		return nil
	}
	cfg.Verbose += *extraVerbose
	if *quiet {
		cfg.Verbose = int(util.LogQuiet)
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Mode, cfg.Args = rest[0], rest[1:]
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(std.stderr)
	if cfg.ConfigPath != "" {
		logger.Verbose("config loaded from %s", cfg.ConfigPath)
	}
	if dryRun {
		logger.Info("configuration valid for %s", cfg.Mode)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	// Relay owns stdout for device bytes, so its records go to stderr.
	recordsTo := std.stdout
	if cfg.Mode == config.ModeRelay {
		recordsTo = std.stderr
	}
	env.Out = newOutput(recordsTo, cfg.JSON)
	env.Stdin, env.Stdout = std.stdin, std.stdout
	if env.Metrics == nil {
		env.Metrics = metrics.New()
	}

	mode, err := core.Build(cfg, logger, env)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config ahead of the real parse so the file can
// sit below env and flags in precedence.
func configPath(args []string) string {
	pre := flag.NewFlagSet("wearbridge", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	path := pre.String("config", config.ConfigPathFromEnv(), "")
	_ = pre.Parse(args)
	return *path
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `wearbridge – wearable session bridge v%s

Opens a serial link to a watch, runs the protocol handshake and keeps
the session alive until either side hangs up.

Usage:
  wearbridge [options] ports                 List serial ports
  wearbridge [options] pair                  Run the Bluetooth pairing nudge
  wearbridge [options] relay                 Connect and relay stdin/stdout
  wearbridge [options] classify <file>       Identify an install payload

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  Every option can be set as WEARBRIDGE_<NAME>, for example
  WEARBRIDGE_AUTHKEY or WEARBRIDGE_PORT; ./.env is read if present.

Examples:
  wearbridge ports                                 Find the watch
  wearbridge -k 0123abcd relay                     Relay on the USB port
  wearbridge -p /dev/ttyACM0 -r 3 -e ./proto relay External dispatcher
  wearbridge -R pi@gateway --remote-device /dev/ttyUSB0 relay
  wearbridge --json classify face.bin              Payload type as JSON
`)
}
