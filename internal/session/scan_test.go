package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/pacinglights/internal/ble"
)

func TestScanUpsertsInFirstSeenOrder(t *testing.T) {
	adapter := newMockAdapter()
	m := newTestManager(t, adapter, testOptions())
	startScan(t, m, adapter)

	advertise(t, m, adapter,
		ble.Advertisement{Address: "AA", RSSI: -70},
		ble.Advertisement{Address: "BB", Name: "Pacer-2", RSSI: -60},
		ble.Advertisement{Address: "AA", Name: "Pacer-1", RSSI: -40},
	)

	got := m.Devices()
	want := []Descriptor{
		{ID: "AA", Name: "Pacer-1", RSSI: -40},
		{ID: "BB", Name: "Pacer-2", RSSI: -60},
	}
	if len(got) != len(want) {
		t.Fatalf("Devices() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Devices()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !m.Scanning() {
		t.Error("Scanning() = false while scanning")
	}
}

func TestStartScanWhileScanningIsNoop(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.ScanPolicy = ClearOnRestart
	m := newTestManager(t, adapter, opts)
	startScan(t, m, adapter)
	advertise(t, m, adapter, ble.Advertisement{Address: "AA", RSSI: -70})

	if err := m.StartScan(context.Background()); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if n := adapter.scanCount(); n != 1 {
		t.Errorf("scan count = %d, want 1", n)
	}
	if got := m.Devices(); len(got) != 1 {
		t.Errorf("Devices() = %+v, want the store untouched", got)
	}
}

func TestScanPolicyOnRestart(t *testing.T) {
	tests := []struct {
		policy ScanPolicy
		want   int
	}{
		{KeepOnRestart, 1},
		{ClearOnRestart, 0},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			adapter := newMockAdapter()
			opts := testOptions()
			opts.ScanPolicy = tt.policy
			m := newTestManager(t, adapter, opts)
			startScan(t, m, adapter)
			advertise(t, m, adapter, ble.Advertisement{Address: "AA", RSSI: -70})

			m.StopScan()
			if m.Scanning() {
				t.Fatal("Scanning() = true after StopScan")
			}
			if got := m.Devices(); len(got) != 1 {
				t.Fatalf("StopScan should keep devices, got %+v", got)
			}

			waitFor(t, "scan to end", func() bool { return !adapter.scanning() })
			startScan(t, m, adapter)
			if got := m.Devices(); len(got) != tt.want {
				t.Errorf("Devices() after restart = %+v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestClearDevices(t *testing.T) {
	adapter := newMockAdapter()
	m := newTestManager(t, adapter, testOptions())
	startScan(t, m, adapter)
	advertise(t, m, adapter, ble.Advertisement{Address: "AA", RSSI: -70})

	m.ClearDevices()
	if got := m.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v, want empty", got)
	}
	if !m.Scanning() {
		t.Error("ClearDevices should not stop the scan")
	}
}

func TestStaleScanResultsDropped(t *testing.T) {
	adapter := newMockAdapter()
	m := newTestManager(t, adapter, testOptions())
	startScan(t, m, adapter)

	adapter.mu.Lock()
	oldHandler := adapter.handler
	adapter.mu.Unlock()

	m.StopScan()
	waitFor(t, "scan to end", func() bool { return !adapter.scanning() })
	startScan(t, m, adapter)

	// A result from the first generation arrives after the restart.
	oldHandler(ble.Advertisement{Address: "CC", RSSI: -30})
	advertise(t, m, adapter, ble.Advertisement{Address: "DD", RSSI: -50})

	for _, d := range m.Devices() {
		if d.ID == "CC" {
			t.Errorf("Devices() contains %+v from a stopped scan", d)
		}
	}
}

func TestNamePrefixFilter(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.NamePrefix = "Pacer"
	m := newTestManager(t, adapter, opts)
	startScan(t, m, adapter)

	adapter.SimulateAdvertisement(ble.Advertisement{Address: "XX", Name: "Headphones", RSSI: -30})
	adapter.SimulateAdvertisement(ble.Advertisement{Address: "YY", RSSI: -30})
	advertise(t, m, adapter, ble.Advertisement{Address: "AA", Name: "Pacer-1", RSSI: -50})

	got := m.Devices()
	if len(got) != 1 || got[0].ID != "AA" {
		t.Errorf("Devices() = %+v, want only AA", got)
	}
}

func TestStartScanRadioFailure(t *testing.T) {
	adapter := newMockAdapter()
	adapter.enableErr = errors.New("bluetooth is powered off")
	m := newTestManager(t, adapter, testOptions())

	err := m.StartScan(context.Background())
	if !errors.Is(err, adapter.enableErr) {
		t.Fatalf("StartScan() error = %v, want the radio failure", err)
	}
	time.Sleep(20 * time.Millisecond)
	if adapter.scanCount() != 0 || m.Scanning() {
		t.Error("scan must not start after a radio failure")
	}
}

func TestStartScanDuringConnectDeferred(t *testing.T) {
	adapter := newMockAdapter()
	adapter.connectErr = errors.New("refused")
	adapter.connectBlock = make(chan struct{})
	m := newTestManager(t, adapter, testOptions())

	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), devAA)
		errc <- err
	}()
	waitFor(t, "connecting state", func() bool { return m.State() == Connecting })

	if err := m.StartScan(context.Background()); err != nil {
		t.Fatalf("StartScan() error = %v", err)
	}
	if adapter.scanCount() != 0 {
		t.Error("scan should wait for the connect attempt")
	}

	close(adapter.connectBlock)
	if err := <-errc; !errors.Is(err, ErrConnectRejected) {
		t.Fatalf("Connect() error = %v, want ErrConnectRejected", err)
	}
	waitFor(t, "deferred scan", adapter.scanning)
}
