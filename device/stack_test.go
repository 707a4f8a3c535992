package device

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/usbaudio/device/hal"
	"github.com/ardnew/usbaudio/pkg"
)

func newTestStack(t *testing.T, drv ClassDriver) (*Stack, *mockHAL) {
	t.Helper()
	m := newMockHAL()
	s := NewStack(newStreamDevice(t, drv), m)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, m
}

// enumerate drives the stack through reset, SET_ADDRESS and
// SET_CONFIGURATION.
func enumerate(t *testing.T, s *Stack, m *mockHAL, classes ...Class) {
	t.Helper()
	var setup SetupPacket

	m.queueEvent(hal.EventReset, 0)
	GetSetAddressSetup(&setup, 7)
	m.queueSetup(&setup, nil)
	GetSetConfigurationSetup(&setup, 1)
	m.queueSetup(&setup, nil)
	for s.Poll(classes...) {
	}

	if !s.Device().IsConfigured() {
		t.Fatalf("device state = %v, want %v", s.Device().State(), StateConfigured)
	}
	m.calls = m.calls[:0]
}

func TestStackStartStop(t *testing.T) {
	m := newMockHAL()
	s := NewStack(newStreamDevice(t, nil), m)

	if s.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.initCalled || !m.startCalled {
		t.Error("Start() did not initialize and start the HAL")
	}
	if s.Device().State() != StatePowered {
		t.Errorf("State() = %v, want %v", s.Device().State(), StatePowered)
	}
	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !m.stopCalled || s.IsRunning() {
		t.Error("Stop() did not stop the HAL")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStackStartCanceled(t *testing.T) {
	m := newMockHAL()
	s := NewStack(newStreamDevice(t, nil), m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want %v", err, context.Canceled)
	}
	if s.IsRunning() || m.startCalled {
		t.Error("stack started with a canceled context")
	}
}

func TestStackPollIdle(t *testing.T) {
	s, _ := newTestStack(t, nil)
	if s.Poll() {
		t.Error("Poll() = true with no pending events")
	}
}

func TestStackPollBoundsEvents(t *testing.T) {
	s, m := newTestStack(t, nil)
	drv := newMockClass()

	for i := 0; i < MaxEventsPerPoll+2; i++ {
		m.queueEvent(hal.EventOut, 0x02)
	}

	if !s.Poll(drv) {
		t.Fatal("Poll() = false with pending events")
	}
	if len(drv.outs) != MaxEventsPerPoll {
		t.Errorf("first Poll() dispatched %d events, want %d", len(drv.outs), MaxEventsPerPoll)
	}
	s.Poll(drv)
	if len(drv.outs) != MaxEventsPerPoll+2 {
		t.Errorf("second Poll() total %d events, want %d", len(drv.outs), MaxEventsPerPoll+2)
	}
}

func TestStackReset(t *testing.T) {
	drv := newMockClass()
	s, m := newTestStack(t, drv)
	m.speed = hal.SpeedHigh

	m.queueEvent(hal.EventReset, 0)
	s.Poll(drv)

	if s.Device().State() != StateDefault {
		t.Errorf("State() = %v, want %v", s.Device().State(), StateDefault)
	}
	if s.Device().Speed() != SpeedHigh || s.Speed() != SpeedHigh {
		t.Errorf("Speed() = %v, want %v", s.Device().Speed(), SpeedHigh)
	}
	if drv.resets != 1 {
		t.Errorf("class resets = %d, want 1", drv.resets)
	}
	if m.configureCalls != 1 || len(m.endpoints) != 0 {
		t.Errorf("ConfigureEndpoints calls %d with %d endpoints, want 1 with 0", m.configureCalls, len(m.endpoints))
	}
}

func TestStackGetDescriptor(t *testing.T) {
	s, m := newTestStack(t, nil)
	m.queueEvent(hal.EventReset, 0)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 64)
	m.queueSetup(&setup, nil)
	GetDescriptorSetup(&setup, DescriptorTypeConfiguration, 0, 9)
	m.queueSetup(&setup, nil)
	s.Poll()

	if len(m.ep0In) != 2 {
		t.Fatalf("IN data stages = %d, want 2", len(m.ep0In))
	}

	var dd DeviceDescriptor
	if err := ParseDeviceDescriptor(m.ep0In[0], &dd); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if dd.VendorID != 0x16C0 || dd.ProductID != 0x27DD {
		t.Errorf("VID:PID = %04X:%04X, want 16C0:27DD", dd.VendorID, dd.ProductID)
	}

	// wLength truncates the configuration descriptor to its header.
	var cd ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(m.ep0In[1], &cd); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if len(m.ep0In[1]) != ConfigurationDescriptorSize || cd.TotalLength != testStreamDeviceDescriptorLength {
		t.Errorf("configuration = %d bytes with TotalLength %d, want %d with %d",
			len(m.ep0In[1]), cd.TotalLength, ConfigurationDescriptorSize, testStreamDeviceDescriptorLength)
	}
}

func TestStackSetAddressAfterStatusStage(t *testing.T) {
	s, m := newTestStack(t, nil)
	m.queueEvent(hal.EventReset, 0)

	var setup SetupPacket
	GetSetAddressSetup(&setup, 7)
	m.queueSetup(&setup, nil)
	s.Poll()

	want := []string{"configure", "ack", "set-address"}
	if strings.Join(m.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", m.calls, want)
	}
	if m.address != 7 || s.Device().Address() != 7 {
		t.Errorf("address hal %d device %d, want 7", m.address, s.Device().Address())
	}
}

func TestStackConfiguresActiveEndpoints(t *testing.T) {
	drv := newMockClass()
	s, m := newTestStack(t, drv)
	enumerate(t, s, m, drv)

	// Every interface sits in its zero-bandwidth setting after configuration.
	if len(m.endpoints) != 0 {
		t.Errorf("endpoints after SET_CONFIGURATION = %v, want none", m.endpoints)
	}

	var setup SetupPacket
	GetSetInterfaceSetup(&setup, 1, 1)
	m.queueSetup(&setup, nil)
	s.Poll(drv)

	want := []string{"configure", "ack"}
	if strings.Join(m.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", m.calls, want)
	}
	if len(m.endpoints) != 1 || m.endpoints[0].Address != 0x81 || !m.endpoints[0].IsIsochronous() {
		t.Fatalf("endpoints = %+v, want isochronous 0x81", m.endpoints)
	}
	if m.endpoints[0].MaxPacketSize != 98 {
		t.Errorf("MaxPacketSize = %d, want 98", m.endpoints[0].MaxPacketSize)
	}
	if drv.alternates[1] != 1 {
		t.Errorf("driver alternate = %d, want 1", drv.alternates[1])
	}

	GetSetInterfaceSetup(&setup, 2, 1)
	m.queueSetup(&setup, nil)
	s.Poll(drv)
	if len(m.endpoints) != 2 {
		t.Errorf("endpoints = %+v, want 2", m.endpoints)
	}

	GetSetInterfaceSetup(&setup, 1, 0)
	m.queueSetup(&setup, nil)
	s.Poll(drv)
	if len(m.endpoints) != 1 || m.endpoints[0].Address != 0x02 {
		t.Errorf("endpoints = %+v, want only 0x02", m.endpoints)
	}
}

func TestStackSetInterfaceKeepsOtherStream(t *testing.T) {
	drv := newMockClass()
	s, m := newTestStack(t, drv)
	enumerate(t, s, m, drv)

	var setup SetupPacket
	GetSetInterfaceSetup(&setup, 2, 1)
	m.queueSetup(&setup, nil)
	s.Poll(drv)
	if len(m.endpoints) != 1 {
		t.Fatalf("endpoints = %+v, want 1", m.endpoints)
	}
	speaker := m.endpoints[0]

	// An OUT packet is buffered when the other interface changes setting
	// in the same poll, before the firmware reads it.
	m.readData[0x02] = []byte{1, 2, 3, 4}
	m.queueEvent(hal.EventOut, 0x02)
	GetSetInterfaceSetup(&setup, 1, 1)
	m.queueSetup(&setup, nil)
	if !s.Poll(drv) {
		t.Fatal("Poll() = false, want true")
	}

	found := false
	for _, cfg := range m.endpoints {
		if cfg.Address == 0x02 {
			found = true
			if cfg != speaker {
				t.Errorf("0x02 config = %+v, want %+v", cfg, speaker)
			}
		}
	}
	if !found || len(m.endpoints) != 2 {
		t.Fatalf("endpoints = %+v, want 0x81 and 0x02", m.endpoints)
	}

	out := s.Device().GetInterface(2).FindEndpoint(0x02)
	buf := make([]byte, 8)
	if n, err := s.Read(out, buf); err != nil || n != 4 {
		t.Errorf("Read() = %d, %v, want 4, nil", n, err)
	}
}

func TestStackClassRequests(t *testing.T) {
	drv := newMockClass()
	drv.handled = true
	s, m := newTestStack(t, drv)
	enumerate(t, s, m, drv)

	t.Run("endpoint OUT with data", func(t *testing.T) {
		var setup SetupPacket
		ClassSetup(&setup, RequestDirectionHostToDevice, RequestRecipientEndpoint, 0x01, 0x0100, 0x0081, 3)
		m.queueSetup(&setup, []byte{0x80, 0xBB, 0x00})
		m.calls = m.calls[:0]
		s.Poll(drv)

		if !bytes.Equal(drv.lastData, []byte{0x80, 0xBB, 0x00}) {
			t.Errorf("class data = % x, want 80 bb 00", drv.lastData)
		}
		if got := drv.setups[len(drv.setups)-1]; got != setup {
			t.Errorf("class setup = %+v, want %+v", got, setup)
		}
		if strings.Join(m.calls, ",") != "ack" {
			t.Errorf("calls = %v, want [ack]", m.calls)
		}
	})

	t.Run("interface IN truncated", func(t *testing.T) {
		drv.response = []byte{1, 2, 3, 4}
		var setup SetupPacket
		ClassSetup(&setup, RequestDirectionDeviceToHost, RequestRecipientInterface, 0x81, 0x0100, 0x0200, 2)
		m.queueSetup(&setup, nil)
		s.Poll(drv)

		if got := m.lastIn(t); !bytes.Equal(got, []byte{1, 2}) {
			t.Errorf("IN data = % x, want 01 02", got)
		}
	})

	t.Run("unknown endpoint stalls", func(t *testing.T) {
		stalls := m.ep0Stalls
		var setup SetupPacket
		ClassSetup(&setup, RequestDirectionDeviceToHost, RequestRecipientEndpoint, 0x81, 0x0100, 0x0085, 3)
		m.queueSetup(&setup, nil)
		s.Poll(drv)

		if m.ep0Stalls != stalls+1 {
			t.Errorf("EP0 stalls = %d, want %d", m.ep0Stalls, stalls+1)
		}
	})

	t.Run("unhandled stalls", func(t *testing.T) {
		drv.handled = false
		defer func() { drv.handled = true }()

		stalls := m.ep0Stalls
		var setup SetupPacket
		ClassSetup(&setup, RequestDirectionDeviceToHost, RequestRecipientInterface, 0x85, 0, 0x0001, 1)
		m.queueSetup(&setup, nil)
		s.Poll(drv)

		if m.ep0Stalls != stalls+1 {
			t.Errorf("EP0 stalls = %d, want %d", m.ep0Stalls, stalls+1)
		}
	})

	t.Run("driver error stalls", func(t *testing.T) {
		drv.handleErr = pkg.ErrInvalidParameter
		defer func() { drv.handleErr = nil }()

		stalls := m.ep0Stalls
		var setup SetupPacket
		ClassSetup(&setup, RequestDirectionHostToDevice, RequestRecipientEndpoint, 0x01, 0x0100, 0x0081, 3)
		m.queueSetup(&setup, []byte{0, 0, 0})
		s.Poll(drv)

		if m.ep0Stalls != stalls+1 {
			t.Errorf("EP0 stalls = %d, want %d", m.ep0Stalls, stalls+1)
		}
	})

	t.Run("vendor stalls", func(t *testing.T) {
		stalls := m.ep0Stalls
		setup := SetupPacket{RequestType: RequestDirectionDeviceToHost | RequestTypeVendor, Request: 0x01, Length: 1}
		m.queueSetup(&setup, nil)
		s.Poll(drv)

		if m.ep0Stalls != stalls+1 {
			t.Errorf("EP0 stalls = %d, want %d", m.ep0Stalls, stalls+1)
		}
	})
}

func TestStackOversizedDataStage(t *testing.T) {
	s, m := newTestStack(t, nil)

	var setup SetupPacket
	ClassSetup(&setup, RequestDirectionHostToDevice, RequestRecipientInterface, 0x01, 0, 0, MaxControlDataSize+1)
	m.queueSetup(&setup, nil)
	s.Poll()

	if m.ep0Stalls != 1 {
		t.Errorf("EP0 stalls = %d, want 1", m.ep0Stalls)
	}
}

func TestStackEndpointEvents(t *testing.T) {
	drv := newMockClass()
	s, m := newTestStack(t, drv)
	enumerate(t, s, m, drv)

	ep := s.Device().GetConfiguration(1).GetInterface(1).FindEndpoint(0x81)
	if err := s.Device().GetInterface(1).SetAlternate(1); err != nil {
		t.Fatalf("SetAlternate(1) error = %v", err)
	}

	m.queueEvent(hal.EventInComplete, 0x81)
	m.queueEvent(hal.EventInComplete, 0x81)
	m.queueEvent(hal.EventOut, 0x02)
	s.Poll(drv)

	if ep.FrameNumber() != 2 {
		t.Errorf("FrameNumber() = %d, want 2", ep.FrameNumber())
	}
	if !bytes.Equal(drv.ins, []byte{0x81, 0x81}) {
		t.Errorf("in-complete notifications = % x, want 81 81", drv.ins)
	}
	if !bytes.Equal(drv.outs, []byte{0x02}) {
		t.Errorf("out notifications = % x, want 02", drv.outs)
	}
}

func TestStackSuspendResume(t *testing.T) {
	s, m := newTestStack(t, nil)
	enumerate(t, s, m)

	m.queueEvent(hal.EventSuspend, 0)
	s.Poll()
	if !s.Device().IsSuspended() {
		t.Fatal("IsSuspended() = false after suspend event")
	}

	m.queueEvent(hal.EventResume, 0)
	s.Poll()
	if !s.Device().IsConfigured() {
		t.Errorf("State() after resume = %v, want %v", s.Device().State(), StateConfigured)
	}
}

func TestStackReadWrite(t *testing.T) {
	s, m := newTestStack(t, nil)
	in := s.Device().GetConfiguration(1).GetInterface(1).FindEndpoint(0x81)
	out := s.Device().GetConfiguration(1).GetInterface(2).FindEndpoint(0x02)
	buf := make([]byte, 1024)

	if _, err := s.Write(in, []byte{1}); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write() before configuration error = %v, want %v", err, pkg.ErrNotConfigured)
	}
	if _, err := s.Read(out, buf); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Read() before configuration error = %v, want %v", err, pkg.ErrNotConfigured)
	}

	enumerate(t, s, m)

	if _, err := s.Write(in, make([]byte, 99)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Write(99 bytes) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}

	packet := make([]byte, 96)
	packet[0] = 0xAB
	if n, err := s.Write(in, packet); err != nil || n != 96 {
		t.Fatalf("Write() = %d, %v, want 96, nil", n, err)
	}
	if _, err := s.Write(in, packet); !pkg.IsTransient(err) {
		t.Errorf("Write() while queued error = %v, want transient", err)
	}
	if got := m.writeData[0x81]; len(got) != 96 || got[0] != 0xAB {
		t.Errorf("queued packet = %d bytes, want 96 starting ab", len(got))
	}

	if _, err := s.Read(out, buf); !pkg.IsTransient(err) {
		t.Errorf("Read() with nothing buffered error = %v, want transient", err)
	}
	m.readData[0x02] = []byte{1, 2, 3, 4}
	if n, err := s.Read(out, buf); err != nil || n != 4 {
		t.Errorf("Read() = %d, %v, want 4, nil", n, err)
	}

	out.SetStall(true)
	if _, err := s.Read(out, buf); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Read() on stalled endpoint error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestStackConnection(t *testing.T) {
	s, m := newTestStack(t, nil)
	if !s.IsConnected() {
		t.Error("IsConnected() = false")
	}
	m.connected = false
	if s.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func BenchmarkStackPollOut(b *testing.B) {
	dev, _ := NewDeviceBuilder().
		WithVendorProduct(0x16C0, 0x27DD).
		AddConfiguration(1).
		AddInterface(ClassAudio, 2, 0).
		Build()
	m := newMockHAL()
	s := NewStack(dev, m)
	_ = s.Start(context.Background())
	drv := newMockClass()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.events = append(m.events[:0], hal.Event{Type: hal.EventOut, Address: 0x02})
		s.Poll(drv)
		drv.outs = drv.outs[:0]
	}
}
