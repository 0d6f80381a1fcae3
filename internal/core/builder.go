package core

import (
	"fmt"
	"io"
	"os"
	"time"

	"wearbridge/config"
	"wearbridge/internal/api"
	"wearbridge/internal/dispatch"
	"wearbridge/internal/errors"
	"wearbridge/internal/install"
	"wearbridge/internal/metrics"
	"wearbridge/internal/retry"
	"wearbridge/internal/session"
	"wearbridge/internal/transport"
	"wearbridge/tunnel"
	"wearbridge/util"
)

// Env carries the process-level endpoints a mode may use.  Zero fields
// default to the real process streams.
type Env struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Out     Printer
	Metrics *metrics.Collector

	// NewRadio builds the pairing radio.  Defaults to BlueZ.
	NewRadio func(adapter string) (transport.Radio, error)
	// Probe overrides the transport probe built from the config.
	Probe transport.Probe
}

// Build constructs the Mode named by cfg.Mode.  cfg must have passed
// Validate.
func Build(cfg *config.Config, logger *util.Logger, env Env) (Mode, error) {
	env = env.withDefaults()
	switch cfg.Mode {
	case config.ModePorts:
		return &PortsMode{List: transport.ListPorts, Out: env.Out}, nil
	case config.ModePair:
		p, err := buildPairer(cfg, logger, env, true)
		if err != nil {
			return nil, err
		}
		return &PairMode{Nudger: p, Out: env.Out}, nil
	case config.ModeClassify:
		return &ClassifyMode{Path: cfg.Args[0], Out: env.Out}, nil
	case config.ModeRelay:
		return buildRelay(cfg, logger, env)
	default:
		return nil, &errors.ConfigError{Field: "command", Value: cfg.Mode, Message: "unknown command"}
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildRelay(cfg *config.Config, logger *util.Logger, env Env) (Mode, error) {
	probe, closer := buildProbe(cfg, logger, env)
	disp := buildDispatcher(cfg, logger, env)

	opts := []session.Option{
		session.WithBaud(cfg.Baud),
		session.WithLogger(logger),
		session.WithMetrics(env.Metrics),
	}
	if cfg.Pair {
		// The nudge is best effort; a missing radio only skips it.
		if p, err := buildPairer(cfg, logger, env, false); err != nil {
			logger.Warn("pairing nudge disabled: %v", err)
		} else {
			opts = append(opts, session.WithNudger(p))
		}
	}

	mgr := session.NewManager(probe, disp, opts...)
	svc := api.New(mgr, install.New(logger, env.Metrics), logger)

	bo := retry.ForConnect(cfg.Retries, config.DefaultRetryBaseDelay, config.DefaultRetryMaxDelay, errors.IsRetryable)
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("connect attempt %d failed: %v (retrying in %s)", attempt, err, wait.Truncate(time.Millisecond))
	}

	return &RelayMode{
		Service:    svc,
		Dispatcher: disp,
		Request: session.ConnectRequest{
			Name:            cfg.Name,
			Address:         cfg.Address,
			AuthKey:         cfg.AuthKey,
			ProtocolVersion: cfg.ProtocolVersion,
			ConnectType:     cfg.ConnectKind(),
		},
		Backoff: bo,
		Out:     env.Out,
		Logger:  logger,
		Metrics: env.Metrics,
		Stats:   cfg.Stats,
		Closer:  closer,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildProbe selects the local serial probe or the SSH remote probe.
func buildProbe(cfg *config.Config, logger *util.Logger, env Env) (transport.Probe, io.Closer) {
	if env.Probe != nil {
		return env.Probe, nil
	}
	if cfg.RemoteEnabled {
		rp := transport.NewRemoteProbe(&tunnel.SSHConfig{
			User:          cfg.RemoteUser,
			Host:          cfg.RemoteHost,
			Port:          cfg.RemotePort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
			KeepAlive:     time.Duration(cfg.KeepAlive) * time.Second,
		}, cfg.RemoteDevice, cfg.RelayCommand, logger)
		return rp, rp
	}
	return transport.NewSerialProbe(cfg.Port, logger), nil
}

// buildDispatcher selects the per-session byte handler.
func buildDispatcher(cfg *config.Config, logger *util.Logger, env Env) dispatch.Dispatcher {
	if cfg.Execute != "" || cfg.Command != "" {
		return dispatch.NewExec(cfg.Execute, cfg.Command, logger)
	}
	return dispatch.NewRaw(env.Stdin, env.Stdout, logger)
}

func buildPairer(cfg *config.Config, logger *util.Logger, env Env, required bool) (*transport.Pairer, error) {
	radio, err := env.NewRadio(cfg.Adapter)
	if err != nil {
		if required {
			return nil, fmt.Errorf("pair: %w", err)
		}
		return nil, err
	}
	p := transport.NewPairer(radio, logger)
	if prefixes := cfg.Prefixes(); len(prefixes) > 0 {
		p.Prefixes = prefixes
	}
	return p, nil
}

func (e Env) withDefaults() Env {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.NewRadio == nil {
		e.NewRadio = func(adapter string) (transport.Radio, error) {
			r, err := transport.NewBlueZRadio(adapter)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	return e
}
