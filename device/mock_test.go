package device

import (
	"context"
	"testing"

	"github.com/ardnew/usbaudio/device/hal"
	"github.com/ardnew/usbaudio/pkg"
)

type pendingSetup struct {
	pkt  hal.SetupPacket
	data []byte
}

// mockHAL implements hal.DeviceHAL for testing. Tests queue events and
// control transfers, then inspect what the stack did with them.
type mockHAL struct {
	initCalled  bool
	startCalled bool
	stopCalled  bool
	connected   bool
	speed       hal.Speed

	events  []hal.Event
	setups  []pendingSetup
	current pendingSetup

	ep0In     [][]byte
	acks      int
	ep0Stalls int

	address        uint8
	addressCalls   int
	endpoints      []hal.EndpointConfig
	configureCalls int
	stalled        map[uint8]bool
	readData       map[uint8][]byte
	writeData      map[uint8][]byte

	// calls records control-path operations in order
	calls []string
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		speed:     hal.SpeedFull,
		connected: true,
		stalled:   make(map[uint8]bool),
		readData:  make(map[uint8][]byte),
		writeData: make(map[uint8][]byte),
	}
}

func (m *mockHAL) Init(ctx context.Context) error {
	m.initCalled = true
	return ctx.Err()
}

func (m *mockHAL) Start() error {
	m.startCalled = true
	return nil
}

func (m *mockHAL) Stop() error {
	m.stopCalled = true
	return nil
}

func (m *mockHAL) Poll(out *hal.Event) bool {
	if len(m.events) == 0 {
		*out = hal.Event{}
		return false
	}
	*out = m.events[0]
	m.events = m.events[1:]
	return true
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.address = address
	m.addressCalls++
	m.calls = append(m.calls, "set-address")
	return nil
}

func (m *mockHAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	// Endpoints that change or go away lose their buffered packet
	for addr := range m.readData {
		if !m.unchanged(addr, endpoints) {
			delete(m.readData, addr)
		}
	}
	for addr := range m.writeData {
		if !m.unchanged(addr, endpoints) {
			delete(m.writeData, addr)
		}
	}
	m.endpoints = append(m.endpoints[:0], endpoints...)
	m.configureCalls++
	m.calls = append(m.calls, "configure")
	return nil
}

// unchanged reports whether addr keeps its current configuration in next.
func (m *mockHAL) unchanged(addr uint8, next []hal.EndpointConfig) bool {
	for _, cur := range m.endpoints {
		if cur.Address != addr {
			continue
		}
		for _, cfg := range next {
			if cfg == cur {
				return true
			}
		}
	}
	return false
}

func (m *mockHAL) ReadSetup(out *hal.SetupPacket) error {
	if len(m.setups) == 0 {
		return pkg.ErrWouldBlock
	}
	m.current = m.setups[0]
	m.setups = m.setups[1:]
	*out = m.current.pkt
	return nil
}

func (m *mockHAL) WriteEP0(data []byte) error {
	m.ep0In = append(m.ep0In, append([]byte(nil), data...))
	m.calls = append(m.calls, "in")
	return nil
}

func (m *mockHAL) ReadEP0(buf []byte) (int, error) {
	return copy(buf, m.current.data), nil
}

func (m *mockHAL) StallEP0() error {
	m.ep0Stalls++
	m.calls = append(m.calls, "stall")
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.acks++
	m.calls = append(m.calls, "ack")
	return nil
}

func (m *mockHAL) Read(address uint8, buf []byte) (int, error) {
	data, ok := m.readData[address]
	if !ok {
		return 0, pkg.ErrWouldBlock
	}
	delete(m.readData, address)
	return copy(buf, data), nil
}

func (m *mockHAL) Write(address uint8, data []byte) (int, error) {
	if _, busy := m.writeData[address]; busy {
		return 0, pkg.ErrWouldBlock
	}
	m.writeData[address] = append([]byte(nil), data...)
	return len(data), nil
}

func (m *mockHAL) Stall(address uint8) error {
	m.stalled[address] = true
	return nil
}

func (m *mockHAL) ClearStall(address uint8) error {
	m.stalled[address] = false
	return nil
}

func (m *mockHAL) IsConnected() bool {
	return m.connected
}

func (m *mockHAL) GetSpeed() hal.Speed {
	return m.speed
}

// queueSetup queues a SETUP event with an optional OUT data stage.
func (m *mockHAL) queueSetup(setup *SetupPacket, data []byte) {
	m.setups = append(m.setups, pendingSetup{pkt: setup.HAL(), data: data})
	m.events = append(m.events, hal.Event{Type: hal.EventSetup})
}

func (m *mockHAL) queueEvent(typ hal.EventType, address uint8) {
	m.events = append(m.events, hal.Event{Type: typ, Address: address})
}

// lastIn returns the most recent control IN data stage.
func (m *mockHAL) lastIn(t *testing.T) []byte {
	t.Helper()
	if len(m.ep0In) == 0 {
		t.Fatal("no control IN data stage written")
	}
	return m.ep0In[len(m.ep0In)-1]
}

var _ hal.DeviceHAL = (*mockHAL)(nil)

// mockClass records the calls a stack makes into a class driver.
type mockClass struct {
	initCalls  int
	closeCalls int
	resets     int
	alternates map[uint8]uint8
	outs       []uint8
	ins        []uint8
	setups     []SetupPacket
	lastData   []byte
	response   []byte
	handled    bool
	handleErr  error
	ifaceExtra []byte
	epExtra    []byte
}

func newMockClass() *mockClass {
	return &mockClass{alternates: make(map[uint8]uint8)}
}

func (m *mockClass) Init(iface *Interface) error {
	m.initCalls++
	return nil
}

func (m *mockClass) HandleSetup(iface *Interface, setup *SetupPacket, data []byte) ([]byte, bool, error) {
	m.setups = append(m.setups, *setup)
	m.lastData = append([]byte(nil), data...)
	return m.response, m.handled, m.handleErr
}

func (m *mockClass) SetAlternate(iface *Interface, alt uint8) error {
	m.alternates[iface.Number] = alt
	return nil
}

func (m *mockClass) Close() error {
	m.closeCalls++
	return nil
}

func (m *mockClass) Reset() {
	m.resets++
}

func (m *mockClass) EndpointOut(address uint8) {
	m.outs = append(m.outs, address)
}

func (m *mockClass) EndpointInComplete(address uint8) {
	m.ins = append(m.ins, address)
}

func (m *mockClass) InterfaceDescriptorsTo(iface *Interface, alt uint8, buf []byte) (int, error) {
	if alt != 0 || len(m.ifaceExtra) == 0 {
		return 0, nil
	}
	if len(buf) < len(m.ifaceExtra) {
		return 0, pkg.ErrBufferTooSmall
	}
	return copy(buf, m.ifaceExtra), nil
}

func (m *mockClass) EndpointDescriptorsTo(iface *Interface, ep *Endpoint, buf []byte) (int, error) {
	if len(buf) < len(m.epExtra) {
		return 0, pkg.ErrBufferTooSmall
	}
	return copy(buf, m.epExtra), nil
}

var (
	_ Class                 = (*mockClass)(nil)
	_ ClassDescriptorWriter = (*mockClass)(nil)
)

// testStreamDeviceDescriptorLength is the configuration descriptor length of
// newStreamDevice without class-specific descriptors.
const testStreamDeviceDescriptorLength = 9 + 9 + 3*9 + 3*9

// newStreamDevice builds a device shaped like an audio function: a control
// interface and two streaming interfaces, each with a zero-bandwidth
// alternate setting 0 and an isochronous alternate setting 1.
func newStreamDevice(t *testing.T, drv ClassDriver) *Device {
	t.Helper()
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x16C0, 0x27DD).
		WithStrings("Kiffie Labs", "Audio port", "42").
		AddConfiguration(1).
		AddInterface(ClassAudio, 0x01, 0).
		AddInterface(ClassAudio, 0x02, 0).
		AddAlternate().
		AddIsochronousEndpoint(0x81, IsoSyncAsync, 98, 1).
		AddInterface(ClassAudio, 0x02, 0).
		AddAlternate().
		AddIsochronousEndpoint(0x02, IsoSyncAdaptive, 582, 1).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if drv != nil {
		for _, iface := range dev.GetConfiguration(1).Interfaces() {
			if err := iface.SetClassDriver(drv); err != nil {
				t.Fatalf("SetClassDriver() error = %v", err)
			}
		}
	}
	return dev
}

// configure walks dev through reset, address and configuration directly.
func configure(t *testing.T, dev *Device) {
	t.Helper()
	dev.Reset()
	if err := dev.SetAddress(5); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
}
