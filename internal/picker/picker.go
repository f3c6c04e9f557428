// Package picker is the terminal device chooser shown while scanning.
package picker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chaz8081/pacinglights/internal/session"
)

// ErrCancelled is returned by Run when the user leaves without choosing.
var ErrCancelled = errors.New("picker: cancelled")

// Source is the part of the session manager the picker reads.
type Source interface {
	Devices() []session.Descriptor
	Scanning() bool
	StartScan(ctx context.Context) error
	ClearDevices()
}

const refreshInterval = 250 * time.Millisecond

type tickMsg time.Time

type rescanMsg struct{ err error }

// Model is the Bubble Tea model of the picker.
type Model struct {
	src       Source
	title     string
	devices   []session.Descriptor
	scanning  bool
	cursor    int
	chosen    *session.Descriptor
	cancelled bool
	err       error
}

// New returns a picker over src.
func New(src Source, title string) Model {
	return Model{
		src:      src,
		title:    title,
		devices:  src.Devices(),
		scanning: src.Scanning(),
	}
}

// Chosen returns the selected device, if any.
func (m Model) Chosen() (session.Descriptor, bool) {
	if m.chosen == nil {
		return session.Descriptor{}, false
	}
	return *m.chosen, true
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func rescan(src Source) tea.Cmd {
	return func() tea.Msg {
		src.ClearDevices()
		return rescanMsg{err: src.StartScan(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case rescanMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.devices)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.devices) == 0 {
				return m, nil
			}
			d := m.devices[m.cursor]
			m.chosen = &d
			return m, tea.Quit
		case "r":
			m.devices = nil
			m.cursor = 0
			m.err = nil
			return m, rescan(m.src)
		case "q", "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) refresh() {
	m.devices = m.src.Devices()
	m.scanning = m.src.Scanning()
	if m.cursor >= len(m.devices) {
		m.cursor = max(len(m.devices)-1, 0)
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.title)
	if m.scanning {
		b.WriteString("  (scanning)")
	}
	b.WriteString("\n\n")

	if len(m.devices) == 0 {
		b.WriteString("  no lights found yet\n")
	}
	for i, d := range m.devices {
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}
		fmt.Fprintf(&b, "%s %-24s %-17s %4d dBm\n", cursor, d.Label(), d.ID, d.RSSI)
	}

	if m.err != nil {
		fmt.Fprintf(&b, "\nscan failed: %v\n", m.err)
	}
	b.WriteString("\n↑/↓ select • enter connect • r rescan • q quit\n")
	return b.String()
}

// Run shows the picker until the user chooses a device or leaves.
func Run(ctx context.Context, src Source, title string) (session.Descriptor, error) {
	p := tea.NewProgram(New(src, title), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return session.Descriptor{}, ctx.Err()
		}
		return session.Descriptor{}, fmt.Errorf("picker: %w", err)
	}
	d, ok := final.(Model).Chosen()
	if !ok {
		return session.Descriptor{}, ErrCancelled
	}
	return d, nil
}
