package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ardnew/usbaudio/device/hal"
	"github.com/ardnew/usbaudio/pkg"
)

// MaxEndpoints is the number of data endpoints per direction (1-15).
const MaxEndpoints = 15

// MaxPacketSize is the largest packet a data endpoint buffers.
const MaxPacketSize = 1024

// MaxControlSize is the largest control data stage.
const MaxControlSize = 512

// EventQueueSize is the number of controller events held before the
// device polls them.
const EventQueueSize = 64

// controlResult is the outcome of the control transfer in flight.
type controlResult uint8

const (
	controlIdle    controlResult = iota // No transfer in flight
	controlPending                      // SETUP queued, device has not answered
	controlData                         // IN data stage written
	controlAck                          // Status stage acknowledged
	controlStall                        // Request stalled
)

// endpoint is a single-packet hardware buffer.
type endpoint struct {
	config     hal.EndpointConfig
	configured bool
	stalled    bool
	full       bool
	n          int
	buf        [MaxPacketSize]byte
}

// HAL implements hal.DeviceHAL in memory. The device stack drives it
// through Poll like any other controller, while a [Host] obtained from
// [HAL.Host] plays the part of the bus and the host controller.
//
// Every data endpoint buffers one packet. An IN packet stays queued until
// the host receives it and an OUT packet stays buffered until the device
// reads it.
type HAL struct {
	id uuid.UUID

	running   bool
	connected bool
	speed     hal.Speed
	address   uint8

	// Pending controller events (ring buffer)
	events     [EventQueueSize]hal.Event
	eventHead  int
	eventCount int

	// Control transfer in flight
	setup        hal.SetupPacket
	hasSetup     bool
	setupData    [MaxControlSize]byte
	setupDataLen int
	result       controlResult
	resultData   [MaxControlSize]byte
	resultLen    int

	// Data endpoints indexed by number-1
	in  [MaxEndpoints]endpoint
	out [MaxEndpoints]endpoint

	// Signaled whenever the device answers the host
	changed chan struct{}
	mutex   sync.Mutex
}

// New creates a simulated full-speed controller with a random identity.
func New() *HAL {
	return &HAL{
		id:      uuid.New(),
		speed:   hal.SpeedFull,
		changed: make(chan struct{}, 1),
	}
}

// ID returns the controller identity.
func (h *HAL) ID() uuid.UUID {
	return h.id
}

// String returns a short name for logs.
func (h *HAL) String() string {
	return "sim-" + h.id.String()[:8]
}

// signal wakes a host waiting for the device. Must be called with the
// mutex held.
func (h *HAL) signal() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// push appends an event. Must be called with the mutex held.
func (h *HAL) push(typ hal.EventType, address uint8) error {
	if h.eventCount == EventQueueSize {
		return pkg.ErrBusy
	}
	idx := (h.eventHead + h.eventCount) % EventQueueSize
	h.events[idx] = hal.Event{Type: typ, Address: address}
	h.eventCount++
	return nil
}

// endpoint returns the buffer for address, or nil for EP0 and numbers
// out of range. Must be called with the mutex held.
func (h *HAL) endpoint(address uint8) *endpoint {
	num := address & 0x0F
	if num == 0 || num > MaxEndpoints {
		return nil
	}
	if address&0x80 != 0 {
		return &h.in[num-1]
	}
	return &h.out[num-1]
}

// Init resets the controller.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.running {
		return pkg.ErrAlreadyRunning
	}
	h.eventHead, h.eventCount = 0, 0
	h.hasSetup = false
	h.result = controlIdle
	h.address = 0
	h.resetEndpoints()

	pkg.LogDebug(pkg.ComponentSim, "controller initialized",
		"id", h.id.String())
	return nil
}

// Start attaches the device to the simulated bus.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.running {
		return pkg.ErrAlreadyRunning
	}
	h.running = true
	h.connected = true

	pkg.LogDebug(pkg.ComponentSim, "device attached",
		"id", h.id.String())
	return nil
}

// Stop detaches the device and fails any control transfer in flight.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.running = false
	h.connected = false
	h.eventHead, h.eventCount = 0, 0
	if h.result == controlPending {
		h.result = controlStall
	}
	h.signal()

	pkg.LogDebug(pkg.ComponentSim, "device detached",
		"id", h.id.String())
	return nil
}

// Poll reports the next pending controller event.
func (h *HAL) Poll(out *hal.Event) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.eventCount == 0 {
		*out = hal.Event{}
		return false
	}
	*out = h.events[h.eventHead]
	h.eventHead = (h.eventHead + 1) % EventQueueSize
	h.eventCount--
	return true
}

// SetAddress records the device address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.address = address
	return nil
}

// Address returns the address the device was assigned.
func (h *HAL) Address() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.address
}

// ConfigureEndpoints replaces the set of enabled data endpoints. An
// endpoint whose configuration is unchanged keeps its buffered packet and
// stall state; every other endpoint starts empty.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var keepIn, keepOut uint32
	for i := range endpoints {
		cfg := endpoints[i]
		ep := h.endpoint(cfg.Address)
		if ep == nil || int(cfg.MaxPacketSize) > MaxPacketSize {
			return pkg.ErrInvalidEndpoint
		}
		if ep.configured && ep.config == cfg {
			if cfg.Address&0x80 != 0 {
				keepIn |= 1 << (cfg.Address & 0x0F)
			} else {
				keepOut |= 1 << (cfg.Address & 0x0F)
			}
		}
	}

	for i := range h.in {
		if keepIn&(1<<(i+1)) == 0 {
			h.in[i] = endpoint{}
		}
		if keepOut&(1<<(i+1)) == 0 {
			h.out[i] = endpoint{}
		}
	}
	for i := range endpoints {
		ep := h.endpoint(endpoints[i].Address)
		ep.config = endpoints[i]
		ep.configured = true
	}

	pkg.LogDebug(pkg.ComponentSim, "endpoints configured",
		"count", len(endpoints))
	return nil
}

// resetEndpoints disables every data endpoint. Must be called with the
// mutex held.
func (h *HAL) resetEndpoints() {
	for i := range h.in {
		h.in[i] = endpoint{}
		h.out[i] = endpoint{}
	}
}

// ReadSetup copies the buffered SETUP packet into out.
func (h *HAL) ReadSetup(out *hal.SetupPacket) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.hasSetup {
		return pkg.ErrWouldBlock
	}
	*out = h.setup
	h.hasSetup = false
	return nil
}

// WriteEP0 answers the control transfer in flight with an IN data stage.
func (h *HAL) WriteEP0(data []byte) error {
	if len(data) > MaxControlSize {
		return pkg.ErrBufferTooSmall
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.resultLen = copy(h.resultData[:], data)
	h.result = controlData
	h.signal()
	return nil
}

// ReadEP0 copies the OUT data stage of the control transfer in flight.
func (h *HAL) ReadEP0(buf []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return copy(buf, h.setupData[:h.setupDataLen]), nil
}

// StallEP0 rejects the control transfer in flight.
func (h *HAL) StallEP0() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.result = controlStall
	h.signal()
	return nil
}

// AckEP0 completes the status stage of the control transfer in flight.
func (h *HAL) AckEP0() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.result = controlAck
	h.signal()
	return nil
}

// Read takes the OUT packet buffered on address.
func (h *HAL) Read(address uint8, buf []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil || address&0x80 != 0 || !ep.configured {
		return 0, pkg.ErrInvalidEndpoint
	}
	if ep.stalled {
		return 0, pkg.ErrStall
	}
	if !ep.full {
		return 0, pkg.ErrWouldBlock
	}
	if len(buf) < ep.n {
		return 0, pkg.ErrBufferTooSmall
	}
	n := copy(buf, ep.buf[:ep.n])
	ep.full = false
	h.signal()
	return n, nil
}

// Write queues an IN packet on address.
func (h *HAL) Write(address uint8, data []byte) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil || address&0x80 == 0 || !ep.configured {
		return 0, pkg.ErrInvalidEndpoint
	}
	if ep.stalled {
		return 0, pkg.ErrStall
	}
	if ep.full {
		return 0, pkg.ErrWouldBlock
	}
	if len(data) > int(ep.config.MaxPacketSize) {
		return 0, pkg.ErrBufferTooSmall
	}
	ep.n = copy(ep.buf[:], data)
	ep.full = true
	h.signal()
	return ep.n, nil
}

// Stall halts a data endpoint. Stalling EP0 rejects the control transfer
// in flight.
func (h *HAL) Stall(address uint8) error {
	if address&0x70 != 0 {
		return pkg.ErrInvalidEndpoint
	}
	if address&0x0F == 0 {
		return h.StallEP0()
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	ep.stalled = true
	ep.full = false
	return nil
}

// ClearStall resumes a halted data endpoint.
func (h *HAL) ClearStall(address uint8) error {
	if address&0x70 != 0 {
		return pkg.ErrInvalidEndpoint
	}
	if address&0x0F == 0 {
		return nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	ep.stalled = false
	return nil
}

// IsConnected returns true between Start and Stop.
func (h *HAL) IsConnected() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.connected
}

// GetSpeed returns the simulated bus speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.connected {
		return hal.SpeedUnknown
	}
	return h.speed
}

// Compile-time interface check
var _ hal.DeviceHAL = (*HAL)(nil)
