package session

import "github.com/chaz8081/pacinglights/internal/ble"

// Descriptor identifies one advertising lights controller.
type Descriptor struct {
	ID   string // hardware address
	Name string // empty when the advertisement carried no name
	RSSI int
}

// HasName reports whether the advertisement carried a display name.
func (d Descriptor) HasName() bool {
	return d.Name != ""
}

// Label returns the display name, or the address when there is none.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func descriptorFrom(adv ble.Advertisement) Descriptor {
	return Descriptor{ID: adv.Address, Name: adv.Name, RSSI: adv.RSSI}
}

// Store holds the descriptors seen during a scan in first-seen order.
// A later advertisement for a known ID replaces the earlier descriptor in
// place so picker rows never move. Store is not safe for concurrent use;
// the manager loop owns it.
type Store struct {
	items []Descriptor
	index map[string]int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Upsert inserts d at the end, or overwrites the descriptor with the same ID.
// It reports whether d was new.
func (s *Store) Upsert(d Descriptor) bool {
	if i, ok := s.index[d.ID]; ok {
		s.items[i] = d
		return false
	}
	s.index[d.ID] = len(s.items)
	s.items = append(s.items, d)
	return true
}

// Len returns the number of distinct devices.
func (s *Store) Len() int {
	return len(s.items)
}

// Clear forgets every descriptor.
func (s *Store) Clear() {
	s.items = nil
	clear(s.index)
}

// Snapshot returns a copy of the descriptors in display order.
func (s *Store) Snapshot() []Descriptor {
	out := make([]Descriptor, len(s.items))
	copy(out, s.items)
	return out
}
