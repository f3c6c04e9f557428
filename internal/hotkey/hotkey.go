// Package hotkey provides global start/stop hotkeys using gohook.
// Pressing the start combo emits EventStart; pressing the stop combo
// emits EventStop.
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates whether a wave should start or stop.
type EventType int

const (
	// EventStart signals that the start combo was pressed.
	EventStart EventType = iota
	// EventStop signals that the stop combo was pressed.
	EventStop
)

func (t EventType) String() string {
	if t == EventStop {
		return "stop"
	}
	return "start"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages the two global combos and emits events.
type Listener struct {
	startKeys []string
	stopKeys  []string
	ch        chan Event
	done      chan struct{}
	once      sync.Once
}

// NewListener creates a Listener. Keys should be lowercase key names
// (e.g., ["ctrl", "shift", "s"]).
func NewListener(startKeys, stopKeys []string) *Listener {
	return &Listener{
		startKeys: startKeys,
		stopKeys:  stopKeys,
		ch:        make(chan Event, 16),
		done:      make(chan struct{}),
	}
}

// ParseCombo splits "ctrl+shift+s" into lowercase key names.
func ParseCombo(s string) ([]string, error) {
	var keys []string
	for _, k := range strings.Split(s, "+") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return nil, fmt.Errorf("hotkey: empty key in combo %q", s)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	select {
	case <-l.done:
		close(l.ch)
		return
	default:
	}

	hook.Register(hook.KeyDown, l.startKeys, func(hook.Event) {
		l.emit(EventStart)
	})
	hook.Register(hook.KeyDown, l.stopKeys, func(hook.Event) {
		l.emit(EventStop)
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit never blocks the hook goroutine; presses beyond the buffer are dropped.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
