// Package api is the host-facing surface of the bridge.  Every
// operation resolves the device through the session registry and
// forwards to the device's typed subsystems.
package api

import (
	"context"
	"fmt"
	"strings"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/install"
	"wearbridge/internal/session"
	"wearbridge/util"
)

// Service wraps a session manager and an install pipeline.
type Service struct {
	mgr      *session.Manager
	installs *install.Pipeline
	logger   *util.Logger
}

// New creates a Service.
func New(mgr *session.Manager, installs *install.Pipeline, logger *util.Logger) *Service {
	if logger == nil {
		logger = util.NewLogger(int(util.LogNormal))
	}
	if installs == nil {
		installs = install.New(logger, nil)
	}
	return &Service{mgr: mgr, installs: installs, logger: logger}
}

// ── Sessions ─────────────────────────────────────────────────────────

// Connect opens a new session.  Every existing session is torn down
// first.
func (s *Service) Connect(ctx context.Context, req session.ConnectRequest) (device.ConnectionInfo, error) {
	return s.mgr.Connect(ctx, req)
}

// Disconnect tears down the session at address.  It always succeeds.
func (s *Service) Disconnect(address string) device.ConnectionInfo {
	return s.mgr.Disconnect(address)
}

// ListSessions returns a snapshot of the registered sessions.
func (s *Service) ListSessions() []device.ConnectionInfo {
	return s.mgr.List()
}

// RegisterEventSink installs the connection event sink, replacing any
// previous one.
func (s *Service) RegisterEventSink(sink session.Sink) {
	s.mgr.Notifier().SetSink(sink)
}

// Subscribe returns a channel of connection events, closed when ctx is
// done.
func (s *Service) Subscribe(ctx context.Context) <-chan session.Event {
	return s.mgr.Notifier().Subscribe(ctx)
}

// ── Install ──────────────────────────────────────────────────────────

// Install sends payload to the device as a mass transfer of the given
// resource kind.  progress may be nil.
func (s *Service) Install(ctx context.Context, address string, kind uint8, payload []byte, packageName string, progress func(device.Progress)) error {
	massType, err := device.ParseMassDataType(kind)
	if err != nil {
		return err
	}
	s.logger.Info("installing %s (%d bytes) on %s", massType, len(payload), address)

	return s.installs.Run(ctx, progress, func(notify install.Notify) (<-chan error, error) {
		var result <-chan error
		err := s.mgr.WithDevice(address, func(sys device.Subsystems) error {
			inst, err := sys.RequireInstall(address)
			if err != nil {
				return err
			}
			result, err = inst.SendInstallRequest(massType, payload, packageName, notify)
			return err
		})
		return result, err
	})
}

// ClassifyPayload inspects a file's bytes and name.
func (s *Service) ClassifyPayload(data []byte, filename string) device.FileType {
	return device.ClassifyPayload(data, filename)
}

// ── Device data ──────────────────────────────────────────────────────

// GetData requests "info", "status" or "storage" from the device.
func (s *Service) GetData(ctx context.Context, address, kind string) (any, error) {
	var (
		reply   <-chan device.Reply[any]
		missing string
	)
	lower := strings.ToLower(kind)
	err := s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		info, err := sys.RequireInfo(address)
		if err != nil {
			return err
		}
		switch lower {
		case "info":
			reply, missing = info.RequestDeviceInfo(), "Device info response not received"
		case "status":
			reply, missing = info.RequestDeviceStatus(), "Device status response not received"
		case "storage":
			reply, missing = info.RequestDeviceStorage(), "Device storage response not received"
		default:
			return fmt.Errorf("%w: %s", errors.ErrUnsupportedDataType, lower)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return device.Await(ctx, reply, missing)
}

// ── Watchfaces ───────────────────────────────────────────────────────

// WatchfaceList returns the faces installed on the device.
func (s *Service) WatchfaceList(ctx context.Context, address string) ([]device.Watchface, error) {
	var reply <-chan device.Reply[[]device.Watchface]
	err := s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		res, err := sys.RequireResource(address)
		if err != nil {
			return err
		}
		reply = res.RequestWatchfaceList()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return device.Await(ctx, reply, "Watchface list response not received")
}

// WatchfaceSetCurrent makes id the active face.
func (s *Service) WatchfaceSetCurrent(address, id string) error {
	return s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		w, err := sys.RequireWatchface(address)
		if err != nil {
			return err
		}
		w.SetWatchface(id)
		return nil
	})
}

// WatchfaceUninstall removes face id from the device.
func (s *Service) WatchfaceUninstall(address, id string) error {
	return s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		w, err := sys.RequireWatchface(address)
		if err != nil {
			return err
		}
		w.UninstallWatchface(id)
		return nil
	})
}

// ── Third-party apps ─────────────────────────────────────────────────

// ThirdpartyAppList requests the installed quick apps.
func (s *Service) ThirdpartyAppList(ctx context.Context, address string) ([]device.QuickApp, error) {
	var reply <-chan device.Reply[[]device.QuickApp]
	err := s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		res, err := sys.RequireResource(address)
		if err != nil {
			return err
		}
		reply = res.RequestQuickAppList()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return device.Await(ctx, reply, "Quick app list response not received")
}

// ThirdpartyAppSendMessage delivers data to the app's phone channel.
func (s *Service) ThirdpartyAppSendMessage(address, packageName, data string) error {
	app, err := s.appInfo(address, packageName)
	if err != nil {
		return err
	}
	return s.withThirdparty(address, func(sys device.ThirdpartyAppSystem) {
		sys.SendPhoneMessage(app, []byte(data))
	})
}

// ThirdpartyAppLaunch opens page in the app.
func (s *Service) ThirdpartyAppLaunch(address, packageName, page string) error {
	app, err := s.appInfo(address, packageName)
	if err != nil {
		return err
	}
	return s.withThirdparty(address, func(sys device.ThirdpartyAppSystem) {
		sys.LaunchApp(app, page)
	})
}

// ThirdpartyAppUninstall removes the app, then asks the device for a
// fresh quick-app list.
func (s *Service) ThirdpartyAppUninstall(address, packageName string) error {
	app, err := s.appInfo(address, packageName)
	if err != nil {
		return err
	}
	if err := s.withThirdparty(address, func(sys device.ThirdpartyAppSystem) {
		sys.UninstallApp(app)
	}); err != nil {
		return err
	}

	err = s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		res, err := sys.RequireResource(address)
		if err != nil {
			return err
		}
		res.RequestQuickAppList()
		return nil
	})
	if err != nil {
		s.logger.Verbose("quick app list refresh skipped: %v", err)
	}
	return nil
}

func (s *Service) withThirdparty(address string, fn func(device.ThirdpartyAppSystem)) error {
	return s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		tp, err := sys.RequireThirdpartyApp(address)
		if err != nil {
			return err
		}
		fn(tp)
		return nil
	})
}

// appInfo resolves packageName against the last quick-app list the
// device reported.
func (s *Service) appInfo(address, packageName string) (device.AppInfo, error) {
	var app device.AppInfo
	err := s.mgr.WithDevice(address, func(sys device.Subsystems) error {
		res, err := sys.RequireResource(address)
		if err != nil {
			return err
		}
		var ok bool
		if app, ok = device.FindQuickApp(res.QuickApps(), packageName); !ok {
			return fmt.Errorf("%s: %w", packageName, errors.ErrAppNotFound)
		}
		return nil
	})
	return app, err
}
