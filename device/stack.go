package device

import (
	"context"
	"sync"

	"github.com/ardnew/usbaudio/device/hal"
	"github.com/ardnew/usbaudio/pkg"
)

// MaxControlDataSize is the maximum data stage size for control transfers.
const MaxControlDataSize = 512

// Class is a class driver that the stack services on every Poll. Beyond
// the ClassDriver contract it receives bus resets and data endpoint
// notifications.
type Class interface {
	ClassDriver

	// Reset returns the class to its unconfigured state after a bus reset.
	Reset()

	// EndpointOut reports that an OUT packet is buffered on address.
	EndpointOut(address uint8)

	// EndpointInComplete reports that the host took the IN packet queued
	// on address.
	EndpointInComplete(address uint8)
}

// Stack manages the USB device stack. It owns no goroutine: the firmware
// main loop calls Poll repeatedly and every call returns without waiting.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	// State
	running bool
	mutex   sync.RWMutex

	// Reusable buffers for zero-allocation polling
	event      hal.Event
	setupBuf   hal.SetupPacket
	setup      SetupPacket
	ep0ReadBuf [MaxControlDataSize]byte
	epConfigs  [MaxActiveEndpoints]hal.EndpointConfig
}

// halSpeedToDeviceSpeed converts hal.Speed to device.Speed.
func halSpeedToDeviceSpeed(s hal.Speed) Speed {
	switch s {
	case hal.SpeedLow:
		return SpeedLow
	case hal.SpeedHigh:
		return SpeedHigh
	default:
		return SpeedFull
	}
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	return &Stack{
		device:  dev,
		hal:     h,
		handler: NewStandardRequestHandler(dev, h),
	}
}

// Start initializes the controller and attaches to the bus.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return pkg.ErrAlreadyRunning
	}

	if err := s.hal.Init(ctx); err != nil {
		return err
	}
	if err := s.hal.Start(); err != nil {
		return err
	}

	s.running = true
	s.device.setState(StatePowered)

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop detaches from the bus.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.hal.Stop(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// Poll services pending controller events: bus resets, control transfers
// on EP0 and data endpoint notifications for classes. At most
// MaxEventsPerPoll events are handled per call. Returns true if any event
// was handled.
func (s *Stack) Poll(classes ...Class) bool {
	handled := false
	for n := 0; n < MaxEventsPerPoll; n++ {
		s.event = hal.Event{}
		if !s.hal.Poll(&s.event) {
			break
		}
		handled = true
		s.dispatch(&s.event, classes)
	}
	return handled
}

// dispatch handles a single controller event.
func (s *Stack) dispatch(ev *hal.Event, classes []Class) {
	switch ev.Type {
	case hal.EventReset:
		s.device.Reset()
		s.device.SetSpeed(halSpeedToDeviceSpeed(s.hal.GetSpeed()))
		if err := s.hal.ConfigureEndpoints(nil); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "error unconfiguring endpoints",
				"error", err)
		}
		for _, c := range classes {
			c.Reset()
		}

	case hal.EventSetup:
		if err := s.hal.ReadSetup(&s.setupBuf); err != nil {
			if !pkg.IsTransient(err) {
				pkg.LogWarn(pkg.ComponentStack, "error reading setup",
					"error", err)
			}
			return
		}
		SetupFromHAL(&s.setupBuf, &s.setup)
		if err := s.handleSetup(&s.setup); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "error handling setup",
				"error", err,
				"request", s.setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "error stalling EP0",
					"error", err)
			}
		}

	case hal.EventOut:
		for _, c := range classes {
			c.EndpointOut(ev.Address)
		}

	case hal.EventInComplete:
		if ep := s.device.GetEndpoint(ev.Address); ep != nil && ep.IsIsochronous() {
			ep.IncrementFrame()
		}
		for _, c := range classes {
			c.EndpointInComplete(ev.Address)
		}

	case hal.EventSuspend:
		s.device.Suspend()

	case hal.EventResume:
		s.device.Resume()
	}
}

// handleSetup processes a single SETUP transaction.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	// Host-to-device data stage is available with the SETUP event
	var data []byte
	if setup.IsHostToDevice() && setup.Length > 0 {
		maxLen := int(setup.Length)
		if maxLen > MaxControlDataSize {
			return pkg.ErrBufferTooSmall
		}
		n, err := s.hal.ReadEP0(s.ep0ReadBuf[:maxLen])
		if err != nil {
			return err
		}
		data = s.ep0ReadBuf[:n]
	}

	if setup.IsStandard() {
		resp, err := s.handler.HandleSetup(setup)
		if err != nil {
			return err
		}
		return s.completeSetup(setup, resp)
	}

	if setup.IsClass() {
		if iface := s.classInterface(setup); iface != nil {
			resp, handled, err := iface.HandleSetup(setup, data)
			if handled {
				if err != nil {
					return err
				}
				return s.completeSetup(setup, resp)
			}
		}
	}

	return pkg.ErrInvalidRequest
}

// classInterface returns the interface a class request is addressed to,
// either directly or through one of its endpoints.
func (s *Stack) classInterface(setup *SetupPacket) *Interface {
	switch setup.Recipient() {
	case RequestRecipientInterface:
		return s.device.GetInterface(setup.InterfaceNumber())
	case RequestRecipientEndpoint:
		return s.device.InterfaceForEndpoint(setup.EndpointAddress())
	default:
		return nil
	}
}

// completeSetup finishes the control transfer and applies any state that
// must only change after the status stage.
func (s *Stack) completeSetup(setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		return s.hal.WriteEP0(data)
	}

	// Endpoints exist before the host sees the status stage; the address
	// changes only after it.
	if setup.IsStandard() {
		switch setup.Request {
		case RequestSetConfiguration, RequestSetInterface:
			if err := s.configureEndpoints(); err != nil {
				return err
			}
		}
	}

	if err := s.hal.AckEP0(); err != nil {
		return err
	}

	if setup.IsStandard() && setup.Request == RequestSetAddress {
		return s.hal.SetAddress(s.device.Address())
	}
	return nil
}

// configureEndpoints hands the endpoints of every active alternate setting
// to the HAL.
func (s *Stack) configureEndpoints() error {
	n := 0
	if config := s.device.ActiveConfiguration(); config != nil {
		for _, iface := range config.Interfaces() {
			for _, ep := range iface.Endpoints() {
				if n == len(s.epConfigs) {
					return pkg.ErrNoMemory
				}
				s.epConfigs[n] = ep.Config()
				n++
			}
		}
	}

	pkg.LogDebug(pkg.ComponentStack, "endpoints configured",
		"count", n)

	return s.hal.ConfigureEndpoints(s.epConfigs[:n])
}

// Speed returns the negotiated USB connection speed.
func (s *Stack) Speed() Speed {
	return halSpeedToDeviceSpeed(s.hal.GetSpeed())
}

// IsConnected returns true if the device is connected to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// Read copies one buffered OUT packet from ep into buf.
// Returns pkg.ErrWouldBlock when nothing is buffered.
func (s *Stack) Read(ep *Endpoint, buf []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	if ep.IsStalled() {
		return 0, pkg.ErrStall
	}
	return s.hal.Read(ep.Address, buf)
}

// Write queues one IN packet on ep.
// Returns pkg.ErrWouldBlock while the previous packet is still queued.
func (s *Stack) Write(ep *Endpoint, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	if ep.IsStalled() {
		return 0, pkg.ErrStall
	}
	if int(ep.MaxPacketSize) < len(data) {
		return 0, pkg.ErrBufferTooSmall
	}
	return s.hal.Write(ep.Address, data)
}
