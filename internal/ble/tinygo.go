package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On macOS device addresses are
// CoreBluetooth UUIDs rather than MAC addresses; both are carried as the
// string form of bluetooth.Address.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger

	// mu protects the fields below.
	mu          sync.Mutex
	enabled     bool
	seen        map[string]bluetooth.Address
	connections map[string]*tinyGoConnection
	dialing     map[string]bool // address -> dropped before Connect returned
}

// NewTinyGoAdapter creates an adapter on the system default radio.
func NewTinyGoAdapter(log *zap.Logger) *TinyGoAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		log:         log,
		seen:        make(map[string]bluetooth.Address),
		connections: make(map[string]*tinyGoConnection),
		dialing:     make(map[string]bool),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// A single adapter-level handler sees every link change; route
	// disconnects to the connection that registered for them.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		if _, pending := a.dialing[id]; pending && !ok {
			a.dialing[id] = true
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	a.enabled = true
	return nil
}

const stopScanRetry = 100 * time.Millisecond

func (a *TinyGoAdapter) Scan(ctx context.Context, handler func(Advertisement)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// StopScan fails until the stack has actually started scanning,
		// so keep asking until Scan returns.
		retry := time.NewTicker(stopScanRetry)
		defer retry.Stop()
		for {
			if err := a.adapter.StopScan(); err != nil {
				a.log.Debug("ble: stop scan", zap.Error(err))
			}
			select {
			case <-done:
				return
			case <-retry.C:
			}
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
		handler(Advertisement{
			Address: addr,
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, address)
	}

	// tinygo's Connect blocks with its own timeout and cannot be
	// cancelled; wrap it so ctx still bounds the caller.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	a.mu.Lock()
	a.dialing[address] = false
	a.mu.Unlock()

	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// Tear down a link that completes after we gave up on it.
		go func() {
			res := <-ch
			a.settle(address, nil)
			if res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			a.settle(address, nil)
			return nil, fmt.Errorf("ble: connect to %s: %w", address, res.err)
		}
		conn := &tinyGoConnection{device: res.device}
		a.settle(address, conn)
		return conn, nil
	}
}

// settle ends the dial for address and tracks conn. A disconnect that
// arrived while the dial was still running marks conn down.
func (a *TinyGoAdapter) settle(address string, conn *tinyGoConnection) {
	a.mu.Lock()
	dropped := a.dialing[address]
	delete(a.dialing, address)
	if conn != nil && !dropped {
		a.connections[address] = conn
	}
	a.mu.Unlock()
	if conn != nil && dropped {
		conn.fireDisconnect()
	}
}

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	down         bool
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	chrUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect registers cb. A link that already dropped fires cb at once.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	down := c.down
	c.mu.Unlock()
	if down && cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

// ParseUUID checks that s is a 128-bit UUID in canonical
// 8-4-4-4-12 form.
func ParseUUID(s string) error {
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return fmt.Errorf("ble: invalid UUID %q: want xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", s)
	}
	if _, err := bluetooth.ParseUUID(s); err != nil {
		return fmt.Errorf("ble: invalid UUID %q: %w", s, err)
	}
	return nil
}
