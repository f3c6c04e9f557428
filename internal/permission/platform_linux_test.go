package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap/zaptest"
)

type fakeBus struct {
	powered  dbus.Variant
	getErr   error
	setErr   error
	setPaths []dbus.ObjectPath
}

func (b *fakeBus) GetProperty(path dbus.ObjectPath, property string) (dbus.Variant, error) {
	if property != "org.bluez.Adapter1.Powered" {
		return dbus.Variant{}, errors.New("unexpected property " + property)
	}
	return b.powered, b.getErr
}

func (b *fakeBus) SetProperty(path dbus.ObjectPath, property string, value dbus.Variant) error {
	if b.setErr != nil {
		return b.setErr
	}
	b.setPaths = append(b.setPaths, path)
	b.powered = value
	return nil
}

func TestBlueZCheck(t *testing.T) {
	tests := []struct {
		name    string
		bus     *fakeBus
		want    bool
		wantErr bool
	}{
		{"powered", &fakeBus{powered: dbus.MakeVariant(true)}, true, false},
		{"off", &fakeBus{powered: dbus.MakeVariant(false)}, false, false},
		{"no adapter", &fakeBus{getErr: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}}, false, false},
		{"bus failure", &fakeBus{getErr: errors.New("connection refused")}, false, true},
		{"wrong type", &fakeBus{powered: dbus.MakeVariant("yes")}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBlueZ(tt.bus, "", zaptest.NewLogger(t))
			got, err := b.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlueZPromptPowersAdapter(t *testing.T) {
	bus := &fakeBus{powered: dbus.MakeVariant(false)}
	b := newBlueZ(bus, "hci1", zaptest.NewLogger(t))

	ok, err := b.Prompt(context.Background())
	if err != nil || !ok {
		t.Fatalf("Prompt() = %v, %v; want true, nil", ok, err)
	}
	if len(bus.setPaths) != 1 || bus.setPaths[0] != "/org/bluez/hci1" {
		t.Errorf("SetProperty paths = %v, want [/org/bluez/hci1]", bus.setPaths)
	}
}

func TestBlueZPromptRefused(t *testing.T) {
	bus := &fakeBus{
		powered: dbus.MakeVariant(false),
		setErr:  dbus.Error{Name: "org.bluez.Error.Blocked", Body: []interface{}{"rfkill"}},
	}
	g := NewGate(newBlueZ(bus, "", nil), zaptest.NewLogger(t))

	ok, err := g.Request(context.Background())
	if err != nil {
		t.Fatalf("Request() error = %v, want a plain denial", err)
	}
	if ok {
		t.Error("Request() = true with the radio blocked")
	}
}
