package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattService  = "org.bluez.GattService1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZRadio implements Radio over the BlueZ D-Bus API.
type BlueZRadio struct {
	Adapter      string
	PollInterval time.Duration
	conn         *dbus.Conn
}

// NewBlueZRadio connects to the system bus.  adapter defaults to hci0.
func NewBlueZRadio(adapter string) (*BlueZRadio, error) {
	if adapter == "" {
		adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	return &BlueZRadio{Adapter: adapter, PollInterval: 500 * time.Millisecond, conn: conn}, nil
}

// Discover runs LE discovery on the adapter until a device whose name
// (or alias) satisfies match appears.
func (r *BlueZRadio) Discover(ctx context.Context, match func(string) bool) (Peer, error) {
	adapter := r.conn.Object(bluezBus, r.adapterPath())

	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return Peer{}, fmt.Errorf("set discovery filter: %w", call.Err)
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return Peer{}, fmt.Errorf("start discovery: %w", call.Err)
	}
	defer adapter.Call(bluezAdapter1+".StopDiscovery", 0)

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		objects, err := r.managedObjects(ctx)
		if err == nil {
			if peer, ok := findPeer(objects, r.adapterPath(), match); ok {
				return peer, nil
			}
		}
		select {
		case <-ctx.Done():
			return Peer{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connect connects the device and waits for GATT service resolution.
func (r *BlueZRadio) Connect(ctx context.Context, id string) (bool, error) {
	path := devicePath(r.Adapter, id)
	if connected, err := r.boolProperty(path, bluezDevice1, "Connected"); err == nil && connected {
		return true, nil
	}

	dev := r.conn.Object(bluezBus, path)
	if call := dev.CallWithContext(ctx, bluezDevice1+".Connect", 0); call.Err != nil {
		return false, fmt.Errorf("connect %s: %w", id, call.Err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if resolved, err := r.boolProperty(path, bluezDevice1, "ServicesResolved"); err == nil && resolved {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Write looks up c on the device and writes data without response.
func (r *BlueZRadio) Write(ctx context.Context, id string, c Candidate, data []byte) error {
	objects, err := r.managedObjects(ctx)
	if err != nil {
		return err
	}
	charPath, ok := findCharacteristic(objects, devicePath(r.Adapter, id), c)
	if !ok {
		return fmt.Errorf("characteristic %s not found", c.Characteristic)
	}
	obj := r.conn.Object(bluezBus, charPath)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	return call.Err
}

// Disconnect drops the device link.
func (r *BlueZRadio) Disconnect(ctx context.Context, id string) error {
	dev := r.conn.Object(bluezBus, devicePath(r.Adapter, id))
	return dev.CallWithContext(ctx, bluezDevice1+".Disconnect", 0).Err
}

func (r *BlueZRadio) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + r.Adapter)
}

func (r *BlueZRadio) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	call := r.conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("parse managed objects: %w", err)
	}
	return objects, nil
}

func (r *BlueZRadio) boolProperty(path dbus.ObjectPath, iface, name string) (bool, error) {
	v, err := r.conn.Object(bluezBus, path).GetProperty(iface + "." + name)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.%s has type %T", iface, name, v.Value())
	}
	return b, nil
}

// ── Object tree helpers ──────────────────────────────────────────────

// devicePath maps "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/<adapter>/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(address, ":", "_")))
}

func findPeer(objects managedObjects, adapter dbus.ObjectPath, match func(string) bool) (Peer, bool) {
	prefix := string(adapter) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		addr, _ := variantString(props["Address"])
		name, _ := variantString(props["Name"])
		if name == "" {
			name, _ = variantString(props["Alias"])
		}
		if addr != "" && name != "" && match(name) {
			return Peer{Name: name, ID: addr}, true
		}
	}
	return Peer{}, false
}

func findCharacteristic(objects managedObjects, device dbus.ObjectPath, c Candidate) (dbus.ObjectPath, bool) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := variantString(props["UUID"])
		if !strings.EqualFold(uuid, c.Characteristic) {
			continue
		}
		svcPath, ok := props["Service"].Value().(dbus.ObjectPath)
		if !ok {
			continue
		}
		svcUUID, _ := variantString(objects[svcPath][bluezGattService]["UUID"])
		if strings.EqualFold(svcUUID, c.Service) {
			return path, true
		}
	}
	return "", false
}

func variantString(v dbus.Variant) (string, bool) {
	s, ok := v.Value().(string)
	return s, ok
}
