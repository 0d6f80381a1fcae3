package device

import (
	"context"

	"wearbridge/internal/errors"
)

// ── Replies ──────────────────────────────────────────────────────────

// Reply carries the asynchronous answer to a subsystem request.
type Reply[T any] struct {
	Value T
	Err   error
}

// Await blocks for the first reply on ch.  A channel closed without a
// reply fails with missing as the message.
func Await[T any](ctx context.Context, ch <-chan Reply[T], missing string) (T, error) {
	var zero T
	if ch == nil {
		return zero, errors.New(missing)
	}
	select {
	case r, ok := <-ch:
		if !ok {
			return zero, errors.New(missing)
		}
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ── Subsystem contracts ──────────────────────────────────────────────

// Watchface describes one face installed on the device.
type Watchface struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsCurrent bool   `json:"is_current"`
	CanRemove bool   `json:"can_remove"`
}

// QuickApp describes an installed third-party app as reported by the
// resource subsystem.
type QuickApp struct {
	PackageName string `json:"package_name"`
	Fingerprint []byte `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
	VersionCode uint32 `json:"version_code,omitempty"`
}

// AppInfo identifies a third-party app for targeted operations.
type AppInfo struct {
	PackageName string
	Fingerprint []byte
}

// InfoSystem answers device information queries.  Values are opaque to
// this layer and serialised as-is at the host boundary.
type InfoSystem interface {
	RequestDeviceInfo() <-chan Reply[any]
	RequestDeviceStatus() <-chan Reply[any]
	RequestDeviceStorage() <-chan Reply[any]
}

// InstallSystem starts mass transfers.  progress is called from the
// dispatcher's own goroutine and must not block.  The returned channel
// yields exactly one terminal result.
type InstallSystem interface {
	SendInstallRequest(kind MassDataType, data []byte, packageName string, progress func(Progress)) (<-chan error, error)
}

// ResourceSystem lists installed resources.
type ResourceSystem interface {
	RequestWatchfaceList() <-chan Reply[[]Watchface]
	RequestQuickAppList() <-chan Reply[[]QuickApp]
	// QuickApps returns the last list received from the device.
	QuickApps() []QuickApp
}

// WatchfaceSystem manages installed faces.
type WatchfaceSystem interface {
	SetWatchface(id string)
	UninstallWatchface(id string)
}

// ThirdpartyAppSystem talks to installed third-party apps.
type ThirdpartyAppSystem interface {
	SendPhoneMessage(app AppInfo, payload []byte)
	LaunchApp(app AppInfo, page string)
	UninstallApp(app AppInfo)
}

// Subsystems is the typed capability set of one device.  A nil field
// means the device does not expose that subsystem.
type Subsystems struct {
	Info          InfoSystem
	Install       InstallSystem
	Resource      ResourceSystem
	Watchface     WatchfaceSystem
	ThirdpartyApp ThirdpartyAppSystem
}

// RequireInfo returns the info subsystem or a SubsystemError.
func (s Subsystems) RequireInfo(addr string) (InfoSystem, error) {
	if s.Info == nil {
		return nil, errors.Subsystem("info", addr)
	}
	return s.Info, nil
}

// RequireInstall returns the install subsystem or a SubsystemError.
func (s Subsystems) RequireInstall(addr string) (InstallSystem, error) {
	if s.Install == nil {
		return nil, errors.Subsystem("install", addr)
	}
	return s.Install, nil
}

// RequireResource returns the resource subsystem or a SubsystemError.
func (s Subsystems) RequireResource(addr string) (ResourceSystem, error) {
	if s.Resource == nil {
		return nil, errors.Subsystem("resource", addr)
	}
	return s.Resource, nil
}

// RequireWatchface returns the watchface subsystem or a SubsystemError.
func (s Subsystems) RequireWatchface(addr string) (WatchfaceSystem, error) {
	if s.Watchface == nil {
		return nil, errors.Subsystem("watchface", addr)
	}
	return s.Watchface, nil
}

// RequireThirdpartyApp returns the third-party app subsystem or a
// SubsystemError.
func (s Subsystems) RequireThirdpartyApp(addr string) (ThirdpartyAppSystem, error) {
	if s.ThirdpartyApp == nil {
		return nil, errors.Subsystem("thirdparty app", addr)
	}
	return s.ThirdpartyApp, nil
}

// FindQuickApp looks up an installed app by package name.
func FindQuickApp(apps []QuickApp, packageName string) (AppInfo, bool) {
	for _, a := range apps {
		if a.PackageName == packageName {
			return AppInfo{PackageName: a.PackageName, Fingerprint: a.Fingerprint}, true
		}
	}
	return AppInfo{}, false
}
