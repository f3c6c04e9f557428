package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	bluezBus      = "org.bluez"
	bluezAdapter1 = "org.bluez.Adapter1"
)

// BlueZ errors that mean the radio was refused rather than unreachable.
var deniedErrors = map[string]bool{
	"org.freedesktop.DBus.Error.AccessDenied":  true,
	"org.freedesktop.DBus.Error.UnknownObject": true,
	"org.bluez.Error.NotPermitted":             true,
	"org.bluez.Error.Blocked":                  true,
}

// propertyBus is the slice of the system bus the BlueZ platform uses.
type propertyBus interface {
	GetProperty(path dbus.ObjectPath, property string) (dbus.Variant, error)
	SetProperty(path dbus.ObjectPath, property string, value dbus.Variant) error
}

type systemBus struct{}

func (systemBus) GetProperty(path dbus.ObjectPath, property string) (dbus.Variant, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return dbus.Variant{}, err
	}
	// The system bus connection is shared; never close it.
	return conn.Object(bluezBus, path).GetProperty(property)
}

func (systemBus) SetProperty(path dbus.ObjectPath, property string, value dbus.Variant) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	return conn.Object(bluezBus, path).SetProperty(property, value)
}

// BlueZ grants access when the adapter object exists and is powered.
// Prompting powers the adapter on, the equivalent of the OS asking the
// user to turn Bluetooth on.
type BlueZ struct {
	bus  propertyBus
	path dbus.ObjectPath
	log  *zap.Logger
}

// NewPlatform returns the BlueZ platform for adapter (e.g. "hci0").
func NewPlatform(adapter string, log *zap.Logger) Platform {
	return newBlueZ(systemBus{}, adapter, log)
}

func newBlueZ(bus propertyBus, adapter string, log *zap.Logger) *BlueZ {
	if adapter == "" {
		adapter = "hci0"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BlueZ{bus: bus, path: dbus.ObjectPath("/org/bluez/" + adapter), log: log}
}

func (b *BlueZ) Check(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, err := b.bus.GetProperty(b.path, bluezAdapter1+".Powered")
	if err != nil {
		if denied(err) {
			b.log.Debug("permission: adapter unavailable", zap.String("path", string(b.path)), zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("read %s Powered: %w", b.path, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s Powered has unexpected type %T", b.path, v.Value())
	}
	return powered, nil
}

func (b *BlueZ) Prompt(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.log.Info("permission: powering on bluetooth adapter", zap.String("path", string(b.path)))
	if err := b.bus.SetProperty(b.path, bluezAdapter1+".Powered", dbus.MakeVariant(true)); err != nil {
		if denied(err) {
			b.log.Debug("permission: power on refused", zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("power on %s: %w", b.path, err)
	}
	return b.Check(ctx)
}

func denied(err error) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return deniedErrors[derr.Name]
	}
	return false
}
