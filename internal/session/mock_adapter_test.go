package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/chaz8081/pacinglights/internal/ble"
)

// mockCharacteristic records writes. Setting block holds every write until
// the channel is closed.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   []string
	err      error
	block    chan struct{}
	inflight int
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	block := c.block
	c.inflight++
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *mockCharacteristic) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *mockCharacteristic) blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	address      string
	char         *mockCharacteristic
	disconnectCb func()
	disconnected bool
	down         bool
	dropOnLookup bool // link drops while the characteristic is resolved
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	if serviceUUID != ble.ServiceUUID || charUUID != ble.CommandCharUUID {
		return nil, fmt.Errorf("mock: unknown characteristic %s/%s", serviceUUID, charUUID)
	}
	if c.dropOnLookup {
		c.SimulateDisconnect()
	}
	return c.char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	down := c.down
	c.mu.Unlock()
	if down && cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// SimulateDisconnect triggers the disconnect callback as the radio stack
// would on an unsolicited link loss.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	c.down = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE adapter. Scan blocks until cancelled and
// exposes its handler through SimulateAdvertisement.
type mockAdapter struct {
	mu           sync.Mutex
	enableErr    error
	enables      int
	scans        int
	handler      func(ble.Advertisement)
	connectErr   error
	connectBlock chan struct{} // held regardless of ctx, like a stuck stack
	writeErr     error
	writeBlock   chan struct{}
	dropOnLookup bool
	connections  []*mockConnection
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enables++
	return a.enableErr
}

func (a *mockAdapter) Scan(ctx context.Context, handler func(ble.Advertisement)) error {
	a.mu.Lock()
	a.scans++
	a.handler = handler
	a.mu.Unlock()

	<-ctx.Done()

	a.mu.Lock()
	a.handler = nil
	a.mu.Unlock()
	return nil
}

func (a *mockAdapter) Connect(_ context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	block, err := a.connectBlock, a.connectErr
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	conn := &mockConnection{
		address:      address,
		char:         &mockCharacteristic{err: a.writeErr, block: a.writeBlock},
		dropOnLookup: a.dropOnLookup,
	}
	a.connections = append(a.connections, conn)
	return conn, nil
}

// SimulateAdvertisement delivers adv to the running scan. It reports false
// when no scan is running.
func (a *mockAdapter) SimulateAdvertisement(adv ble.Advertisement) bool {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

func (a *mockAdapter) scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler != nil
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func (a *mockAdapter) connection(i int) *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.connections) {
		return nil
	}
	return a.connections[i]
}

func (a *mockAdapter) connectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connections)
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*mockAdapter)(nil)
	var _ ble.Connection = (*mockConnection)(nil)
	var _ ble.Characteristic = (*mockCharacteristic)(nil)
}

// testOptions returns defaults with timeouts short enough for tests.
func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectTimeout = time.Second
	opts.WriteTimeout = time.Second
	return opts
}

func newTestManager(t *testing.T, adapter *mockAdapter, opts Options) *Manager {
	t.Helper()
	m := NewManager(adapter, opts, zaptest.NewLogger(t))
	t.Cleanup(m.Shutdown)
	return m
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startScan starts discovery and waits until the adapter is listening.
func startScan(t *testing.T, m *Manager, adapter *mockAdapter) {
	t.Helper()
	if err := m.StartScan(context.Background()); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	waitFor(t, "scan to start", adapter.scanning)
}

// advertise delivers advs and waits until the manager has stored the last.
func advertise(t *testing.T, m *Manager, adapter *mockAdapter, advs ...ble.Advertisement) {
	t.Helper()
	for _, adv := range advs {
		if !adapter.SimulateAdvertisement(adv) {
			t.Fatalf("SimulateAdvertisement(%s): no scan running", adv.Address)
		}
	}
	last := advs[len(advs)-1]
	waitFor(t, "device "+last.Address, func() bool {
		for _, d := range m.Devices() {
			if d.ID == last.Address && d.Name == last.Name && d.RSSI == last.RSSI {
				return true
			}
		}
		return false
	})
}

// nextEvent receives one link event or fails.
func nextEvent(t *testing.T, ch <-chan LinkEvent) LinkEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("link event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link event")
	}
	return LinkEvent{}
}
