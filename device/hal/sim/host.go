package sim

import (
	"context"
	"fmt"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/device/hal"
	"github.com/ardnew/usbaudio/pkg"
)

// MaxPumps bounds how often a Host with a pump function polls the device
// for the answer to one control transfer.
const MaxPumps = 64

// Host drives a simulated controller from the bus side.
//
// Control transfers wait for the device stack to answer. When the device
// runs in its own goroutine the host blocks until it does. Single-threaded
// tests pass a pump function that polls the device stack once; the host
// calls it until the transfer completes.
type Host struct {
	hal  *HAL
	pump func()

	setup device.SetupPacket
	buf   [MaxControlSize]byte
}

// Enumeration is what the host learned while enumerating the device.
type Enumeration struct {
	Device       device.DeviceDescriptor
	Config       []byte // Full configuration descriptor
	Manufacturer string
	Product      string
	Serial       string
}

// Host returns the bus side of the controller. pump may be nil.
func (h *HAL) Host(pump func()) *Host {
	return &Host{hal: h, pump: pump}
}

// Reset signals a bus reset to the device.
func (c *Host) Reset() error {
	h := c.hal
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.running {
		return pkg.ErrNotRunning
	}
	h.hasSetup = false
	h.result = controlIdle
	return h.push(hal.EventReset, 0)
}

// Suspend signals that the bus went idle.
func (c *Host) Suspend() error {
	return c.event(hal.EventSuspend)
}

// Resume signals bus activity after a suspend.
func (c *Host) Resume() error {
	return c.event(hal.EventResume)
}

func (c *Host) event(typ hal.EventType) error {
	h := c.hal
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.running {
		return pkg.ErrNotRunning
	}
	return h.push(typ, 0)
}

// Transact performs one control transfer. For host-to-device requests data
// is sent as the data stage. For device-to-host requests the returned slice
// holds the data stage; it is valid until the next call.
// A stalled request returns pkg.ErrStall.
func (c *Host) Transact(ctx context.Context, setup *hal.SetupPacket, data []byte) ([]byte, error) {
	if len(data) > MaxControlSize {
		return nil, pkg.ErrBufferTooSmall
	}

	h := c.hal
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil, pkg.ErrNotRunning
	}
	if err := h.push(hal.EventSetup, 0); err != nil {
		h.mutex.Unlock()
		return nil, err
	}
	h.setup = *setup
	h.hasSetup = true
	h.setupDataLen = copy(h.setupData[:], data)
	h.result = controlPending
	h.mutex.Unlock()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	result := h.result
	h.result = controlIdle
	switch result {
	case controlStall:
		return nil, pkg.ErrStall
	case controlData:
		n := copy(c.buf[:], h.resultData[:h.resultLen])
		return c.buf[:n], nil
	default:
		return nil, nil
	}
}

// wait blocks until the device answers the control transfer in flight.
func (c *Host) wait(ctx context.Context) error {
	return c.waitFor(ctx, func(h *HAL) bool {
		return h.result != controlPending
	})
}

// waitFor pumps the firmware, or waits for the device to signal, until done
// reports true. done is called with the mutex held.
func (c *Host) waitFor(ctx context.Context, done func(h *HAL) bool) error {
	h := c.hal
	for pumps := 0; ; pumps++ {
		h.mutex.Lock()
		ok := done(h)
		h.mutex.Unlock()
		if ok {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if c.pump != nil {
			if pumps == MaxPumps {
				return fmt.Errorf("no answer after %d polls: %w", pumps, pkg.ErrProtocol)
			}
			c.pump()
			continue
		}

		select {
		case <-h.changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Enumerate resets the device, assigns address and selects its first
// configuration, reading every descriptor a host driver needs on the way.
func (c *Host) Enumerate(ctx context.Context, address uint8) (*Enumeration, error) {
	if err := c.Reset(); err != nil {
		return nil, err
	}

	var e Enumeration

	data, err := c.getDescriptor(ctx, device.DescriptorTypeDevice, 0, device.DeviceDescriptorSize)
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if err := device.ParseDeviceDescriptor(data, &e.Device); err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}

	device.GetSetAddressSetup(&c.setup, address)
	if _, err := c.Transact(ctx, c.halSetup(), nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}

	data, err = c.getDescriptor(ctx, device.DescriptorTypeConfiguration, 0, device.ConfigurationDescriptorSize)
	if err != nil {
		return nil, fmt.Errorf("configuration header: %w", err)
	}
	var config device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(data, &config); err != nil {
		return nil, fmt.Errorf("configuration header: %w", err)
	}

	data, err = c.getDescriptor(ctx, device.DescriptorTypeConfiguration, 0, config.TotalLength)
	if err != nil {
		return nil, fmt.Errorf("configuration descriptor: %w", err)
	}
	if len(data) != int(config.TotalLength) {
		return nil, fmt.Errorf("configuration descriptor %d of %d bytes: %w",
			len(data), config.TotalLength, pkg.ErrDescriptorTooShort)
	}
	e.Config = append([]byte(nil), data...)

	for _, s := range [...]struct {
		index uint8
		out   *string
	}{
		{e.Device.ManufacturerIndex, &e.Manufacturer},
		{e.Device.ProductIndex, &e.Product},
		{e.Device.SerialNumberIndex, &e.Serial},
	} {
		if s.index == 0 {
			continue
		}
		if *s.out, err = c.getString(ctx, s.index); err != nil {
			return nil, fmt.Errorf("string %d: %w", s.index, err)
		}
	}

	device.GetSetConfigurationSetup(&c.setup, config.ConfigurationValue)
	if _, err := c.Transact(ctx, c.halSetup(), nil); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}

	pkg.LogDebug(pkg.ComponentSim, "device enumerated",
		"id", c.hal.id.String(),
		"address", address,
		"vendor", e.Device.VendorID,
		"product", e.Device.ProductID,
		"configLength", len(e.Config))

	return &e, nil
}

// SetInterface selects alternate setting alt of interface iface.
func (c *Host) SetInterface(ctx context.Context, iface, alt uint8) error {
	device.GetSetInterfaceSetup(&c.setup, iface, alt)
	_, err := c.Transact(ctx, c.halSetup(), nil)
	return err
}

func (c *Host) getDescriptor(ctx context.Context, descType, index uint8, length uint16) ([]byte, error) {
	device.GetDescriptorSetup(&c.setup, descType, index, length)
	return c.Transact(ctx, c.halSetup(), nil)
}

func (c *Host) getString(ctx context.Context, index uint8) (string, error) {
	device.GetDescriptorSetup(&c.setup, device.DescriptorTypeString, index, 255)
	c.setup.Index = device.LangIDUSEnglish
	data, err := c.Transact(ctx, c.halSetup(), nil)
	if err != nil {
		return "", err
	}
	return device.ParseStringDescriptor(data)
}

func (c *Host) halSetup() *hal.SetupPacket {
	s := c.setup.HAL()
	return &s
}

// SendOut delivers an OUT packet to address. The previous packet must have
// been read by the device; otherwise the packet is dropped and
// pkg.ErrOverrun is returned.
func (c *Host) SendOut(address uint8, data []byte) error {
	h := c.hal
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil || address&0x80 != 0 || !ep.configured {
		return pkg.ErrInvalidEndpoint
	}
	if ep.stalled {
		return pkg.ErrStall
	}
	if ep.full {
		return pkg.ErrOverrun
	}
	if len(data) > int(ep.config.MaxPacketSize) {
		return pkg.ErrBufferTooSmall
	}
	if h.eventCount == EventQueueSize {
		return pkg.ErrBusy
	}

	ep.n = copy(ep.buf[:], data)
	ep.full = true
	return h.push(hal.EventOut, address)
}

// Drain waits until the device has read the packet buffered on OUT
// endpoint address. It returns at once when nothing is buffered, and when
// the endpoint is disabled while waiting.
func (c *Host) Drain(ctx context.Context, address uint8) error {
	h := c.hal
	h.mutex.Lock()
	ep := h.endpoint(address)
	valid := ep != nil && address&0x80 == 0 && ep.configured
	h.mutex.Unlock()
	if !valid {
		return pkg.ErrInvalidEndpoint
	}

	return c.waitFor(ctx, func(h *HAL) bool {
		ep := h.endpoint(address)
		return !ep.configured || !ep.full
	})
}

// ReceiveIn takes the IN packet queued on address into buf.
// Returns pkg.ErrWouldBlock when the device has not queued one.
func (c *Host) ReceiveIn(address uint8, buf []byte) (int, error) {
	h := c.hal
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ep := h.endpoint(address)
	if ep == nil || address&0x80 == 0 || !ep.configured {
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
	if h.eventCount == EventQueueSize {
		return 0, pkg.ErrBusy
	}

	n := copy(buf, ep.buf[:ep.n])
	ep.full = false
	return n, h.push(hal.EventInComplete, address)
}
