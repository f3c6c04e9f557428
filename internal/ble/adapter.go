// Package ble abstracts the Bluetooth Low Energy radio used to reach the
// pacing-lights controller: discovery, connection and characteristic writes.
package ble

import (
	"context"
	"errors"
)

// Default GATT layout of the lights controller (Nordic UART service).
const (
	ServiceUUID     = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	CommandCharUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

// ErrUnknownDevice is returned by Connect for an address that was never
// seen by a scan.
var ErrUnknownDevice = errors.New("ble: unknown device address")

// Advertisement is one received advertising packet.
type Advertisement struct {
	Address string
	Name    string // empty when the packet carries no local name
	RSSI    int
}

// Characteristic represents a writable GATT characteristic.
type Characteristic interface {
	// Write sends data. On macOS and Windows it returns once the
	// peripheral acknowledged the write; on Linux a nil error only means
	// the local stack accepted it.
	Write(data []byte) error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	// If the link already dropped, the callback runs immediately.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the adapter. It fails when the platform refuses
	// radio access.
	Enable() error
	// Scan reports every advertisement to handler until ctx is cancelled.
	// It blocks for the lifetime of the scan.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
