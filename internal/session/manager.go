// Package session coordinates discovery, the single connection to a
// pacing-lights controller, and command writes over it.
//
// All state lives on one loop goroutine. Hardware callbacks and API calls
// are turned into Event values and handled in arrival order, so a session's
// Connected is always handled before its Disconnected. Radio calls that can
// block (connect, write, scan) run on their own goroutines and report back
// with events; the manager enforces its own timeouts because the radio
// stack may never complete a failed operation.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/ble"
)

// ScanPolicy decides whether StartScan forgets earlier results.
type ScanPolicy int

const (
	// KeepOnRestart keeps previously discovered devices; callers clear
	// explicitly with ClearDevices.
	KeepOnRestart ScanPolicy = iota
	// ClearOnRestart empties the store whenever a stopped scan restarts.
	ClearOnRestart
)

func (p ScanPolicy) String() string {
	if p == ClearOnRestart {
		return "clear"
	}
	return "keep"
}

// Options configures the manager.
type Options struct {
	ServiceUUID      string
	CommandCharUUID  string
	NamePrefix       string        // only list devices whose name has this prefix
	ConnectTimeout   time.Duration // bound on hardware connect acknowledgement
	WriteTimeout     time.Duration // bound on write acknowledgement
	WriteQueue       int           // writes buffered per session
	ScanPolicy       ScanPolicy
	RescanOnLinkLoss bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:      ble.ServiceUUID,
		CommandCharUUID:  ble.CommandCharUUID,
		ConnectTimeout:   10 * time.Second,
		WriteTimeout:     5 * time.Second,
		WriteQueue:       8,
		ScanPolicy:       KeepOnRestart,
		RescanOnLinkLoss: true,
	}
}

// Session identifies an established connection.
type Session struct {
	ID     uint64
	Device Descriptor
}

const eventBuffer = 256

// Manager owns the radio: the scan, the single connection attempt and the
// single active session.
type Manager struct {
	adapter ble.Adapter
	opts    Options
	log     *zap.Logger

	events   chan Event
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	ctx    context.Context // parent of every radio operation
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   map[chan LinkEvent]struct{}
	closed bool

	viewMu sync.RWMutex
	view   view

	// Loop-owned state.
	state        State
	link         LinkState
	store        *Store
	devicesDirty bool
	scan         *scanRun
	scanSeq      uint64
	attempt      *connectAttempt
	attemptSeq   uint64
	sess         *activeSession
	sessSeq      uint64
	pending      map[uint64]*pendingWrite
	writeSeq     uint64
	deferred     []func()
}

// view is the snapshot readers see between loop iterations.
type view struct {
	state    State
	link     LinkState
	scanning bool
	devices  []Descriptor
	session  *Session
}

type connectAttempt struct {
	id         uint64
	device     Descriptor
	reply      chan connectResult
	cancel     context.CancelFunc
	timer      *time.Timer
	resumeScan bool
}

type activeSession struct {
	Session
	conn   ble.Connection
	char   ble.Characteristic
	writes chan writeJob
	closed chan struct{}
}

// NewManager starts a manager on adapter. Zero option fields take their
// defaults; booleans are used as given. Call Shutdown to release it.
func NewManager(adapter ble.Adapter, opts Options, log *zap.Logger) *Manager {
	def := DefaultOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.CommandCharUUID == "" {
		opts.CommandCharUUID = def.CommandCharUUID
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = def.WriteQueue
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		adapter: adapter,
		opts:    opts,
		log:     log,
		events:  make(chan Event, eventBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[chan LinkEvent]struct{}),
		store:   NewStore(),
		pending: make(map[uint64]*pendingWrite),
	}
	m.publishView()
	go m.run()
	return m
}

// Connect establishes the session to d, closing any session that is
// already Ready first. It fails with a *ConnectError when the hardware does
// not acknowledge within Options.ConnectTimeout, refuses the link, or
// another attempt is in flight. Discovery is paused while connecting.
func (m *Manager) Connect(ctx context.Context, d Descriptor) (Session, error) {
	reply := make(chan connectResult, 1)
	if !m.post(connectReq{device: d, reply: reply}) {
		return Session{}, ErrShutdown
	}
	select {
	case r := <-reply:
		return r.session, r.err
	case <-ctx.Done():
		// The loop answers reply exactly once, either with the outcome it
		// already reached or with the abort.
		if !m.post(abortConnect{reply: reply, err: ctx.Err()}) {
			return Session{}, ErrShutdown
		}
		select {
		case r := <-reply:
			return r.session, r.err
		case <-m.done:
			return Session{}, ErrShutdown
		}
	case <-m.done:
		return Session{}, ErrShutdown
	}
}

// Disconnect closes the active session. It never fails; radio teardown
// continues in the background. A caller-initiated close does not trigger
// a rescan.
func (m *Manager) Disconnect() {
	done := make(chan struct{})
	_ = m.call(disconnectReq{done: done}, done)
}

// Shutdown stops discovery, aborts any connect attempt, closes the session
// and stops the loop. It is safe to call from any state and more than once.
func (m *Manager) Shutdown() {
	m.quitOnce.Do(func() {
		close(m.quit)
	})
	<-m.done
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view.state
}

// Link returns the current link state.
func (m *Manager) Link() LinkState {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view.link
}

// Active returns the Ready session, if any.
func (m *Manager) Active() (Session, bool) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.view.session == nil {
		return Session{}, false
	}
	return *m.view.session, true
}

// Subscribe registers for link events. Slow subscribers miss events rather
// than stall the loop. The returned func unsubscribes and closes the
// channel; the channel is also closed by Shutdown.
func (m *Manager) Subscribe() (<-chan LinkEvent, func()) {
	ch := make(chan LinkEvent, 16)
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

// post hands ev to the loop. It reports false once the loop has exited.
func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// call posts a request and waits for the loop to close done.
func (m *Manager) call(ev Event, done chan struct{}) error {
	if !m.post(ev) {
		return ErrShutdown
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrShutdown
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			m.teardown()
			return
		case ev := <-m.events:
			m.handle(ev)
			m.flush()
		}
	}
}

// after queues f until the view reflects the event being handled, so a
// caller woken by a reply or a link event never reads an older state.
func (m *Manager) after(f func()) {
	m.deferred = append(m.deferred, f)
}

func (m *Manager) complete(done chan struct{}) {
	m.after(func() { close(done) })
}

func (m *Manager) answerConnect(ch chan connectResult, r connectResult) {
	m.after(func() { ch <- r })
}

func (m *Manager) answerWrite(ch chan writeResult, r writeResult) {
	m.after(func() { ch <- r })
}

func (m *Manager) flush() {
	m.publishView()
	for _, f := range m.deferred {
		f()
	}
	clear(m.deferred)
	m.deferred = m.deferred[:0]
}

func (m *Manager) handle(ev Event) {
	switch ev := ev.(type) {
	case Discovered:
		m.onDiscovered(ev)
	case ScanStopped:
		m.onScanStopped(ev)
	case startScanReq:
		m.onStartScan()
		m.complete(ev.done)
	case stopScanReq:
		m.stopScan()
		m.complete(ev.done)
	case clearReq:
		m.clearDevices()
		m.complete(ev.done)
	case connectReq:
		m.onConnectReq(ev)
	case abortConnect:
		if a := m.attempt; a != nil && a.reply == ev.reply {
			m.failAttempt(fmt.Errorf("session: connect to %s: %w", a.device.ID, ev.err))
		}
	case connectTimeout:
		if a := m.attempt; a != nil && a.id == ev.attempt {
			m.log.Warn("session: connect timed out",
				zap.String("device", a.device.ID),
				zap.Duration("timeout", m.opts.ConnectTimeout))
			m.failAttempt(&ConnectError{Kind: ErrConnectTimeout, Device: a.device.ID})
		}
	case Connected:
		m.onConnected(ev)
	case ConnectFailed:
		if a := m.attempt; a != nil && a.id == ev.Attempt {
			m.log.Warn("session: connect rejected", zap.String("device", a.device.ID), zap.Error(ev.Err))
			m.failAttempt(&ConnectError{Kind: ErrConnectRejected, Device: a.device.ID, Err: ev.Err})
		}
	case Disconnected:
		m.onDisconnected(ev)
	case disconnectReq:
		m.endSession(LinkClosed)
		m.complete(ev.done)
	case writeReq:
		m.onWriteReq(ev)
	case WriteAck:
		m.resolveWrite(ev.Write, nil)
	case WriteFailed:
		m.resolveWrite(ev.Write, &SendError{Kind: ErrTransportFailure, Err: ev.Err})
	case writeTimeout:
		m.resolveWrite(ev.write, &SendError{Kind: ErrTransportFailure, Err: ErrWriteTimeout})
	default:
		m.log.Error("session: unhandled event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (m *Manager) setState(s State) {
	if m.state != s {
		m.log.Debug("session: state", zap.Stringer("from", m.state), zap.Stringer("to", s))
		m.state = s
	}
}

func (m *Manager) onConnectReq(req connectReq) {
	if m.attempt != nil {
		m.answerConnect(req.reply, connectResult{err: &ConnectError{Kind: ErrAlreadyConnecting, Device: req.device.ID}})
		return
	}
	if m.sess != nil {
		m.log.Info("session: replacing active session",
			zap.String("old", m.sess.Device.ID),
			zap.String("new", req.device.ID))
		m.endSession(LinkClosed)
	}

	scanDone := m.stopScan()
	m.attemptSeq++
	ctx, cancel := context.WithCancel(m.ctx)
	a := &connectAttempt{
		id:         m.attemptSeq,
		device:     req.device,
		reply:      req.reply,
		cancel:     cancel,
		resumeScan: scanDone != nil,
	}
	id := a.id
	a.timer = time.AfterFunc(m.opts.ConnectTimeout, func() {
		m.post(connectTimeout{attempt: id})
	})
	m.attempt = a
	m.setState(Connecting)
	m.log.Info("session: connecting", zap.String("device", req.device.ID), zap.Uint64("attempt", id))

	go m.dial(ctx, id, req.device, scanDone)
}

// dial runs off-loop: it waits for a paused scan to release the radio,
// then connects and resolves the command characteristic.
func (m *Manager) dial(ctx context.Context, attempt uint64, d Descriptor, scanDone <-chan struct{}) {
	if scanDone != nil {
		select {
		case <-scanDone:
		case <-ctx.Done():
			return
		}
	}
	conn, char, err := m.open(ctx, d)
	if err != nil {
		m.post(ConnectFailed{Attempt: attempt, Err: err})
		return
	}
	if !m.post(Connected{Attempt: attempt, Conn: conn, Char: char}) {
		_ = conn.Disconnect()
	}
}

func (m *Manager) open(ctx context.Context, d Descriptor) (ble.Connection, ble.Characteristic, error) {
	if err := m.adapter.Enable(); err != nil {
		return nil, nil, err
	}
	conn, err := m.adapter.Connect(ctx, d.ID)
	if err != nil {
		return nil, nil, err
	}
	char, err := conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.CommandCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, nil, fmt.Errorf("discover command characteristic: %w", err)
	}
	return conn, char, nil
}

func (m *Manager) failAttempt(err error) {
	a := m.attempt
	m.attempt = nil
	a.timer.Stop()
	a.cancel()
	m.answerConnect(a.reply, connectResult{err: err})
	m.setState(Idle)
	if a.resumeScan {
		m.startScan(false)
	}
}

func (m *Manager) onConnected(ev Connected) {
	a := m.attempt
	if a == nil || a.id != ev.Attempt {
		m.log.Warn("session: discarding late connection", zap.Uint64("attempt", ev.Attempt))
		go func() { _ = ev.Conn.Disconnect() }()
		return
	}
	m.attempt = nil
	a.timer.Stop()
	a.cancel()

	m.sessSeq++
	s := &activeSession{
		Session: Session{ID: m.sessSeq, Device: a.device},
		conn:    ev.Conn,
		char:    ev.Char,
		writes:  make(chan writeJob, m.opts.WriteQueue),
		closed:  make(chan struct{}),
	}
	m.sess = s
	id := s.ID
	// A link that dropped during discovery reports here, on the loop
	// goroutine, so the post must not block it.
	ev.Conn.OnDisconnect(func() {
		go m.post(Disconnected{Session: id})
	})
	go m.writer(s)

	m.link = LinkState{Connected: true}
	m.setState(Ready)
	m.log.Info("session: connected", zap.String("device", a.device.ID), zap.Uint64("session", id))
	m.publish(LinkUp, a.device)
	m.answerConnect(a.reply, connectResult{session: s.Session})
}

func (m *Manager) onDisconnected(ev Disconnected) {
	s := m.sess
	if s == nil || s.ID != ev.Session {
		m.log.Debug("session: ignoring disconnect of stale session", zap.Uint64("session", ev.Session))
		return
	}
	m.log.Warn("session: link lost", zap.String("device", s.Device.ID), zap.Uint64("session", s.ID))
	m.endSession(LinkLost)
	if m.opts.RescanOnLinkLoss {
		// Always a fresh generation, even if a scan was already running.
		prev := m.stopScan()
		m.clearDevices()
		m.startScanAfter(prev)
	}
}

// endSession moves a Ready session to Closed. Only LinkLost marks the
// disconnect as unexpected; other kinds also tear the radio link down.
func (m *Manager) endSession(kind LinkEventKind) {
	s := m.sess
	if s == nil {
		return
	}
	m.sess = nil
	m.setState(Closing)
	close(s.closed)
	m.failPending(s.ID)
	if kind != LinkLost {
		go func() {
			if err := s.conn.Disconnect(); err != nil {
				m.log.Debug("session: radio teardown", zap.String("device", s.Device.ID), zap.Error(err))
			}
		}()
	}
	m.link = LinkState{LastDisconnectWasUnexpected: kind == LinkLost}
	m.setState(Closed)
	if kind != LinkLost {
		m.log.Info("session: disconnected", zap.String("device", s.Device.ID), zap.Uint64("session", s.ID))
	}
	m.publish(kind, s.Device)
}

func (m *Manager) publish(kind LinkEventKind, d Descriptor) {
	ev := LinkEvent{
		Kind:   kind,
		Link:   m.link,
		State:  m.state,
		Device: d,
		At:     time.Now(),
	}
	m.after(func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for ch := range m.subs {
			select {
			case ch <- ev:
			default:
				m.log.Warn("session: subscriber too slow, dropping link event", zap.Stringer("kind", kind))
			}
		}
	})
}

func (m *Manager) publishView() {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	m.view.state = m.state
	m.view.link = m.link
	m.view.scanning = m.scan != nil
	if m.devicesDirty || m.view.devices == nil {
		m.view.devices = m.store.Snapshot()
		m.devicesDirty = false
	}
	if m.sess != nil {
		s := m.sess.Session
		m.view.session = &s
	} else {
		m.view.session = nil
	}
}

func (m *Manager) teardown() {
	m.stopScan()
	if a := m.attempt; a != nil {
		m.attempt = nil
		a.timer.Stop()
		a.cancel()
		m.answerConnect(a.reply, connectResult{err: ErrShutdown})
	}
	m.endSession(LinkClosed)
	for id, p := range m.pending {
		delete(m.pending, id)
		p.timer.Stop()
		m.answerWrite(p.reply, writeResult{err: &SendError{Kind: ErrNotConnected, Err: ErrShutdown}})
	}
	m.cancel()
	m.setState(Idle)
	m.flush()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.closed = true
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	m.log.Debug("session: manager stopped")
}
