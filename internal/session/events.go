package session

import "github.com/chaz8081/pacinglights/internal/ble"

// Event is anything dispatched onto the manager loop: hardware
// notifications (the exported variants below) and API requests.
type Event interface {
	event()
}

// Discovered carries one advertisement from scan generation Scan.
type Discovered struct {
	Scan   uint64
	Device Descriptor
}

// ScanStopped reports that scan generation Scan ended; Err is nil when it
// was cancelled.
type ScanStopped struct {
	Scan uint64
	Err  error
}

// Connected reports that connect attempt Attempt was acknowledged.
type Connected struct {
	Attempt uint64
	Conn    ble.Connection
	Char    ble.Characteristic
}

// ConnectFailed reports that the hardware refused attempt Attempt.
type ConnectFailed struct {
	Attempt uint64
	Err     error
}

// Disconnected reports that the link of session Session dropped.
type Disconnected struct {
	Session uint64
}

// WriteAck reports that write Write on session Session was acknowledged.
type WriteAck struct {
	Session uint64
	Write   uint64
}

// WriteFailed reports that write Write on session Session was rejected.
type WriteFailed struct {
	Session uint64
	Write   uint64
	Err     error
}

func (Discovered) event()    {}
func (ScanStopped) event()   {}
func (Connected) event()     {}
func (ConnectFailed) event() {}
func (Disconnected) event()  {}
func (WriteAck) event()      {}
func (WriteFailed) event()   {}

type connectResult struct {
	session Session
	err     error
}

type (
	connectReq struct {
		device Descriptor
		reply  chan connectResult
	}
	// abortConnect cancels the attempt that owns reply.
	abortConnect struct {
		reply chan connectResult
		err   error
	}
	connectTimeout struct {
		attempt uint64
	}
	disconnectReq struct {
		done chan struct{}
	}
	startScanReq struct {
		done chan struct{}
	}
	stopScanReq struct {
		done chan struct{}
	}
	clearReq struct {
		done chan struct{}
	}
	writeReq struct {
		payload []byte
		reply   chan writeResult
	}
	writeTimeout struct {
		write uint64
	}
)

func (connectReq) event()     {}
func (abortConnect) event()   {}
func (connectTimeout) event() {}
func (disconnectReq) event()  {}
func (startScanReq) event()   {}
func (stopScanReq) event()    {}
func (clearReq) event()       {}
func (writeReq) event()       {}
func (writeTimeout) event()   {}
