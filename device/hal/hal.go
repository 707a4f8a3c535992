package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes an endpoint configuration for the HAL.
// This is a minimal, platform-agnostic representation used to configure
// hardware endpoints when a configuration or alternate setting is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsIsochronous returns true for isochronous endpoints.
func (e *EndpointConfig) IsIsochronous() bool {
	return e.Attributes&0x03 == 0x01
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// EventType identifies a controller event reported by [DeviceHAL.Poll].
type EventType uint8

// Controller events.
const (
	EventNone       EventType = iota // Nothing pending
	EventReset                       // Bus reset
	EventSetup                       // SETUP packet buffered on EP0
	EventOut                         // OUT packet buffered on a data endpoint
	EventInComplete                  // IN buffer of a data endpoint drained by the host
	EventSuspend                     // Bus suspended
	EventResume                      // Bus resumed
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventReset:
		return "reset"
	case EventSetup:
		return "setup"
	case EventOut:
		return "out"
	case EventInComplete:
		return "in-complete"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Event is a single controller event. Address is the endpoint address for
// EventOut and EventInComplete and zero otherwise.
type Event struct {
	Type    EventType
	Address uint8
}

// DeviceHAL defines the Hardware Abstraction Layer interface for USB device stacks.
//
// Every method returns without waiting on the bus. The device stack drives
// the controller by calling Poll from its main loop and servicing whatever
// event it reports. Data endpoint operations that cannot complete
// immediately return [github.com/ardnew/usbaudio/pkg.ErrWouldBlock].
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	// The context bounds any clock or PLL settling the platform requires.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// Poll reports the next pending controller event in out.
	// Returns false, leaving out.Type as EventNone, when nothing is pending.
	Poll(out *Event) bool

	// SetAddress sets the device address in hardware.
	// Called after the status stage of SET_ADDRESS has been acknowledged.
	SetAddress(address uint8) error

	// ConfigureEndpoints configures hardware endpoints for the active
	// configuration and alternate settings. Pass nil or an empty slice to
	// unconfigure all data endpoints. An endpoint listed with the same
	// configuration it already has keeps its buffered packet and stall
	// state; endpoints that change or are left out are reset.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// Control Endpoint (EP0) Operations

	// ReadSetup copies the buffered SETUP packet into out.
	// Returns ErrWouldBlock when no SETUP packet is buffered.
	ReadSetup(out *SetupPacket) error

	// WriteEP0 queues data for the control IN data stage.
	WriteEP0(data []byte) error

	// ReadEP0 copies the control OUT data stage into buf.
	// Returns the number of bytes read into buf.
	ReadEP0(buf []byte) (int, error)

	// StallEP0 stalls the control endpoint to indicate an error.
	StallEP0() error

	// AckEP0 queues a zero-length status packet.
	AckEP0() error

	// Data Endpoint Operations

	// Read copies one buffered OUT packet into buf and returns its length.
	// Returns ErrWouldBlock when no packet is buffered.
	Read(address uint8, buf []byte) (int, error)

	// Write queues one IN packet. Returns ErrWouldBlock when the previous
	// packet has not been taken by the host yet.
	Write(address uint8, data []byte) (int, error)

	// Stall stalls the specified endpoint.
	Stall(address uint8) error

	// ClearStall clears a stall condition on the specified endpoint.
	ClearStall(address uint8) error

	// Connection State

	// IsConnected returns true if the device is connected to a host.
	IsConnected() bool

	// GetSpeed returns the negotiated USB connection speed.
	GetSpeed() Speed
}
