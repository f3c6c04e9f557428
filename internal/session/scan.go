package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/ble"
)

// scanRun is one generation of discovery. Results tagged with an older
// generation are dropped.
type scanRun struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// StartScan enables the radio and begins discovery. Calling it while a
// scan is running does nothing. With ClearOnRestart the store is emptied
// when a stopped scan restarts. A scan requested during a connect attempt
// begins once the attempt fails.
func (m *Manager) StartScan(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrShutdown
	default:
	}
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("session: start scan: %w", err)
	}
	done := make(chan struct{})
	if !m.post(startScanReq{done: done}) {
		return ErrShutdown
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopScan ends discovery. Discovered devices are kept.
func (m *Manager) StopScan() {
	done := make(chan struct{})
	_ = m.call(stopScanReq{done: done}, done)
}

// ClearDevices empties the descriptor store.
func (m *Manager) ClearDevices() {
	done := make(chan struct{})
	_ = m.call(clearReq{done: done}, done)
}

// Devices returns the discovered devices in first-seen order.
func (m *Manager) Devices() []Descriptor {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	out := make([]Descriptor, len(m.view.devices))
	copy(out, m.view.devices)
	return out
}

// Scanning reports whether discovery is running.
func (m *Manager) Scanning() bool {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view.scanning
}

func (m *Manager) onStartScan() {
	if m.attempt != nil {
		m.attempt.resumeScan = true
		return
	}
	m.startScan(m.opts.ScanPolicy == ClearOnRestart)
}

func (m *Manager) startScan(clearFirst bool) {
	if m.scan != nil {
		return
	}
	if clearFirst {
		m.clearDevices()
	}
	m.startScanAfter(nil)
}

// startScanAfter begins a new scan generation once prev, a stopped scan's
// done channel, has closed. prev may be nil.
func (m *Manager) startScanAfter(prev <-chan struct{}) {
	m.scanSeq++
	ctx, cancel := context.WithCancel(m.ctx)
	run := &scanRun{gen: m.scanSeq, cancel: cancel, done: make(chan struct{})}
	m.scan = run
	m.log.Info("session: scanning", zap.Uint64("generation", run.gen), zap.String("name_prefix", m.opts.NamePrefix))

	go func() {
		var err error
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
			}
		}
		if ctx.Err() == nil {
			err = m.adapter.Scan(ctx, func(adv ble.Advertisement) {
				m.post(Discovered{Scan: run.gen, Device: descriptorFrom(adv)})
			})
		}
		close(run.done)
		m.post(ScanStopped{Scan: run.gen, Err: err})
	}()
}

// stopScan cancels the running scan and returns a channel closed once the
// adapter has released the radio, or nil when nothing was running.
func (m *Manager) stopScan() <-chan struct{} {
	run := m.scan
	if run == nil {
		return nil
	}
	m.scan = nil
	run.cancel()
	m.log.Debug("session: scan stopped", zap.Uint64("generation", run.gen))
	return run.done
}

func (m *Manager) clearDevices() {
	m.store.Clear()
	m.devicesDirty = true
}

func (m *Manager) onDiscovered(ev Discovered) {
	if m.scan == nil || m.scan.gen != ev.Scan {
		return
	}
	if m.opts.NamePrefix != "" && !strings.HasPrefix(ev.Device.Name, m.opts.NamePrefix) {
		return
	}
	if m.store.Upsert(ev.Device) {
		m.log.Debug("session: discovered",
			zap.String("device", ev.Device.ID),
			zap.String("name", ev.Device.Name),
			zap.Int("rssi", ev.Device.RSSI))
	}
	m.devicesDirty = true
}

func (m *Manager) onScanStopped(ev ScanStopped) {
	if m.scan == nil || m.scan.gen != ev.Scan {
		return
	}
	m.scan = nil
	if ev.Err != nil {
		m.log.Warn("session: scan ended", zap.Uint64("generation", ev.Scan), zap.Error(ev.Err))
	}
}
