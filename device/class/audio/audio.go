package audio

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/pkg"
)

// StreamingDelay is the internal delay, in frames, reported for each stream.
const StreamingDelay = 1

// EndpointIO moves packets on data endpoints without waiting.
// *device.Stack implements it.
type EndpointIO interface {
	Read(ep *device.Endpoint, buf []byte) (int, error)
	Write(ep *device.Endpoint, data []byte) (int, error)
}

// Stats counts isochronous packets seen by the class.
type Stats struct {
	PacketsRead      uint64 // OUT packets drained by Read
	PacketsWritten   uint64 // IN packets accepted by Write
	OutNotifications uint64 // OUT packets reported by the controller
	InCompletions    uint64 // IN packets taken by the host
}

// stream is the state of one streaming interface.
type stream struct {
	dir     Direction
	config  StreamConfig
	enabled bool

	ifaceNum uint8
	epAddr   uint8
	inTerm   uint8 // Input terminal ID
	outTerm  uint8 // Output terminal ID

	iface *device.Interface
	ep    *device.Endpoint
	rate  uint32
}

// terminals returns the terminal pair of the stream. The USB side of the
// pair is always a streaming terminal.
func (s *stream) terminals() (InputTerminalDescriptor, OutputTerminalDescriptor) {
	it := InputTerminalDescriptor{
		TerminalID:    s.inTerm,
		TerminalType:  USBStreaming,
		Channels:      s.config.Channels,
		ChannelConfig: s.config.ChannelConfig(),
	}
	ot := OutputTerminalDescriptor{
		TerminalID:   s.outTerm,
		TerminalType: USBStreaming,
		SourceID:     s.inTerm,
	}
	if s.dir == StreamInput {
		it.TerminalType = s.config.Terminal
	} else {
		ot.TerminalType = s.config.Terminal
	}
	return it, ot
}

// terminalLink returns the ID of the USB streaming terminal.
func (s *stream) terminalLink() uint8 {
	if s.dir == StreamInput {
		return s.outTerm
	}
	return s.inTerm
}

// Audio implements a USB Audio Class 1.0 function with up to one input
// and one output stream.
type Audio struct {
	controlNum uint8
	control    *device.Interface

	input  stream
	output stream

	// Endpoint transfer path
	io EndpointIO

	// Callbacks
	onSampleRateChange func(dir Direction, rate uint32)

	stats       Stats
	responseBuf [SampleRateSize]byte
	mutex       sync.RWMutex
}

// SetStack sets the transfer path used by Read and Write.
func (a *Audio) SetStack(io EndpointIO) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.io = io
}

// SetOnSampleRateChange sets the callback for host sample rate changes.
func (a *Audio) SetOnSampleRateChange(cb func(dir Direction, rate uint32)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onSampleRateChange = cb
}

// stream returns the state for dir, or nil if the direction is invalid.
func (a *Audio) stream(dir Direction) *stream {
	switch dir {
	case StreamInput:
		return &a.input
	case StreamOutput:
		return &a.output
	default:
		return nil
	}
}

// streamForInterface returns the enabled stream using interface num.
func (a *Audio) streamForInterface(num uint8) *stream {
	for _, s := range [...]*stream{&a.input, &a.output} {
		if s.enabled && s.ifaceNum == num {
			return s
		}
	}
	return nil
}

// streamForEndpoint returns the enabled stream using endpoint address.
func (a *Audio) streamForEndpoint(address uint8) *stream {
	for _, s := range [...]*stream{&a.input, &a.output} {
		if s.enabled && s.epAddr == address {
			return s
		}
	}
	return nil
}

// ControlInterface returns the AudioControl interface number.
func (a *Audio) ControlInterface() uint8 {
	return a.controlNum
}

// StreamInterface returns the AudioStreaming interface number for dir.
func (a *Audio) StreamInterface(dir Direction) (uint8, error) {
	s := a.stream(dir)
	if s == nil || !s.enabled {
		return 0, ErrNoStream
	}
	return s.ifaceNum, nil
}

// EndpointAddress returns the isochronous endpoint address for dir.
func (a *Audio) EndpointAddress(dir Direction) (uint8, error) {
	s := a.stream(dir)
	if s == nil || !s.enabled {
		return 0, ErrNoStream
	}
	return s.epAddr, nil
}

// Config returns the stream configuration for dir.
func (a *Audio) Config(dir Direction) (StreamConfig, error) {
	s := a.stream(dir)
	if s == nil || !s.enabled {
		return StreamConfig{}, ErrNoStream
	}
	return s.config, nil
}

// InputAltSetting returns the alternate setting the host selected for the
// input stream. Alternate setting 0 carries no data.
func (a *Audio) InputAltSetting() (uint8, error) {
	return a.altSetting(StreamInput)
}

// OutputAltSetting returns the alternate setting the host selected for the
// output stream. Alternate setting 0 carries no data.
func (a *Audio) OutputAltSetting() (uint8, error) {
	return a.altSetting(StreamOutput)
}

func (a *Audio) altSetting(dir Direction) (uint8, error) {
	a.mutex.RLock()
	s := a.stream(dir)
	enabled := s.enabled
	iface := s.iface
	a.mutex.RUnlock()

	if !enabled {
		return 0, ErrNoStream
	}
	if iface == nil {
		return 0, nil
	}
	return iface.CurrentAlternate(), nil
}

// SampleRate returns the sampling frequency currently selected for dir.
func (a *Audio) SampleRate(dir Direction) (uint32, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	s := a.stream(dir)
	if s == nil || !s.enabled {
		return 0, ErrNoStream
	}
	return s.rate, nil
}

// Stats returns a snapshot of the packet counters.
func (a *Audio) Stats() Stats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.stats
}

// Read drains one packet of the output stream into buf.
// Returns ErrStreamInactive while the host has not selected alternate
// setting 1, and pkg.ErrWouldBlock when no packet is buffered.
func (a *Audio) Read(buf []byte) (int, error) {
	ep, io, err := a.transferPath(StreamOutput)
	if err != nil {
		return 0, err
	}

	n, err := io.Read(ep, buf)
	if err != nil {
		return n, err
	}

	a.mutex.Lock()
	a.stats.PacketsRead++
	a.mutex.Unlock()
	return n, nil
}

// Write queues one packet on the input stream.
// Returns ErrStreamInactive while the host has not selected alternate
// setting 1, and pkg.ErrWouldBlock while the previous packet is pending.
func (a *Audio) Write(data []byte) (int, error) {
	ep, io, err := a.transferPath(StreamInput)
	if err != nil {
		return 0, err
	}

	n, err := io.Write(ep, data)
	if err != nil {
		return n, err
	}

	a.mutex.Lock()
	a.stats.PacketsWritten++
	a.mutex.Unlock()
	return n, nil
}

func (a *Audio) transferPath(dir Direction) (*device.Endpoint, EndpointIO, error) {
	a.mutex.RLock()
	s := a.stream(dir)
	enabled := s.enabled
	iface := s.iface
	ep := s.ep
	io := a.io
	a.mutex.RUnlock()

	if !enabled {
		return nil, nil, ErrNoStream
	}
	if iface == nil || ep == nil || iface.CurrentAlternate() == 0 {
		return nil, nil, ErrStreamInactive
	}
	if io == nil {
		return nil, nil, pkg.ErrNotConfigured
	}
	return ep, io, nil
}

// Init records the interface and its endpoint.
// This is called by the device stack when the class driver is attached.
func (a *Audio) Init(iface *device.Interface) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if iface.Number == a.controlNum {
		a.control = iface
		return nil
	}

	s := a.streamForInterface(iface.Number)
	if s == nil {
		return pkg.ErrInvalidRequest
	}
	s.iface = iface
	s.ep = iface.FindEndpoint(s.epAddr)
	if s.ep == nil {
		return pkg.ErrInvalidEndpoint
	}

	pkg.LogDebug(pkg.ComponentAudio, "audio stream attached",
		"direction", s.dir.String(),
		"interface", iface.Number,
		"endpoint", s.epAddr,
		"maxPacketSize", s.ep.MaxPacketSize)

	return nil
}

// HandleSetup processes class-specific SETUP requests. The class answers
// sampling frequency requests addressed to its streaming endpoints.
func (a *Audio) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	if !setup.IsClass() || setup.Recipient() != device.RequestRecipientEndpoint {
		return nil, false, nil
	}
	if uint8(setup.Value>>8) != SamplingFreqControl {
		return nil, false, nil
	}

	a.mutex.Lock()
	s := a.streamForEndpoint(setup.EndpointAddress())
	if s == nil {
		a.mutex.Unlock()
		return nil, false, nil
	}

	var rate uint32
	switch setup.Request {
	case RequestSetCur:
		a.mutex.Unlock()
		return a.setSampleRate(s, data)
	case RequestGetCur:
		rate = s.rate
	case RequestGetMin:
		rate = s.config.MinRate()
	case RequestGetMax:
		rate = s.config.MaxRate()
	default:
		a.mutex.Unlock()
		return nil, false, nil
	}
	PutSampleRate(a.responseBuf[:], rate)
	a.mutex.Unlock()

	return a.responseBuf[:], true, nil
}

// setSampleRate handles SET_CUR of the sampling frequency control.
func (a *Audio) setSampleRate(s *stream, data []byte) ([]byte, bool, error) {
	if len(data) < SampleRateSize {
		return nil, true, pkg.ErrBufferTooSmall
	}
	rate := ParseSampleRate(data)

	a.mutex.Lock()
	if !s.config.HasRate(rate) {
		a.mutex.Unlock()
		return nil, true, fmt.Errorf("sample rate %d: %w", rate, pkg.ErrInvalidParameter)
	}
	changed := s.rate != rate
	s.rate = rate
	dir := s.dir
	cb := a.onSampleRateChange
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentAudio, "sample rate set",
		"direction", dir.String(),
		"rate", rate)

	if changed && cb != nil {
		cb(dir, rate)
	}
	return nil, true, nil
}

// SetAlternate handles alternate setting changes.
func (a *Audio) SetAlternate(iface *device.Interface, alt uint8) error {
	a.mutex.RLock()
	s := a.streamForInterface(iface.Number)
	a.mutex.RUnlock()

	if s == nil {
		return nil
	}

	pkg.LogDebug(pkg.ComponentAudio, "audio stream alternate setting",
		"direction", s.dir.String(),
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Reset returns both streams to their default sample rate after a bus reset.
func (a *Audio) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, s := range [...]*stream{&a.input, &a.output} {
		if s.enabled {
			s.rate = s.config.Rates()[0]
		}
	}
}

// EndpointOut counts OUT packets buffered on the output endpoint.
func (a *Audio) EndpointOut(address uint8) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.output.enabled && address == a.output.epAddr {
		a.stats.OutNotifications++
	}
}

// EndpointInComplete counts IN packets the host took from the input endpoint.
func (a *Audio) EndpointInComplete(address uint8) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.input.enabled && address == a.input.epAddr {
		a.stats.InCompletions++
	}
}

// Close releases the interfaces and transfer path held by the class.
func (a *Audio) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.control = nil
	for _, s := range [...]*stream{&a.input, &a.output} {
		s.iface = nil
		s.ep = nil
	}
	a.io = nil
	return nil
}

// InterfaceDescriptorsTo writes the class-specific descriptors that follow
// an interface descriptor of the function.
func (a *Audio) InterfaceDescriptorsTo(iface *device.Interface, alt uint8, buf []byte) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if iface.Number == a.controlNum {
		if alt != 0 {
			return 0, nil
		}
		return a.controlDescriptorsTo(buf)
	}

	s := a.streamForInterface(iface.Number)
	if s == nil || alt == 0 {
		return 0, nil
	}

	general := StreamingGeneralDescriptor{
		TerminalLink: s.terminalLink(),
		Delay:        StreamingDelay,
		FormatTag:    FormatTagPCM,
	}
	format := FormatTypeIDescriptor{
		Channels:      s.config.Channels,
		SubframeSize:  s.config.Format.SubframeSize(),
		BitResolution: s.config.Format.BitResolution(),
		Rates:         s.config.rates,
		RateCount:     uint8(s.config.rateCount),
	}
	if len(buf) < StreamingGeneralDescriptorSize+format.Size() {
		return 0, pkg.ErrBufferTooSmall
	}

	n := general.MarshalTo(buf)
	n += format.MarshalTo(buf[n:])
	return n, nil
}

// controlDescriptorsTo writes the AudioControl header and the terminal
// pair of every stream.
func (a *Audio) controlDescriptorsTo(buf []byte) (int, error) {
	hdr := HeaderDescriptor{ADCVersion: ADCVersion}
	for _, s := range [...]*stream{&a.input, &a.output} {
		if s.enabled {
			hdr.InterfaceNumbers[hdr.InterfaceCount] = s.ifaceNum
			hdr.InterfaceCount++
		}
	}

	total := hdr.Size() + int(hdr.InterfaceCount)*(InputTerminalDescriptorSize+OutputTerminalDescriptorSize)
	if len(buf) < total {
		return 0, pkg.ErrBufferTooSmall
	}
	hdr.TotalLength = uint16(total)

	n := hdr.MarshalTo(buf)
	for _, s := range [...]*stream{&a.input, &a.output} {
		if !s.enabled {
			continue
		}
		it, ot := s.terminals()
		n += it.MarshalTo(buf[n:])
		n += ot.MarshalTo(buf[n:])
	}
	return n, nil
}

// EndpointDescriptorsTo writes the class-specific isochronous endpoint
// descriptor that follows a streaming endpoint.
func (a *Audio) EndpointDescriptorsTo(iface *device.Interface, ep *device.Endpoint, buf []byte) (int, error) {
	a.mutex.RLock()
	s := a.streamForEndpoint(ep.Address)
	a.mutex.RUnlock()

	if s == nil {
		return 0, nil
	}

	desc := EndpointGeneralDescriptor{}
	if len(s.config.Rates()) > 1 {
		desc.Attributes |= EPAttrSamplingFreq
	}
	n := desc.MarshalTo(buf)
	if n == 0 {
		return 0, pkg.ErrBufferTooSmall
	}
	return n, nil
}

// Attach binds the class to its interfaces in configuration configValue.
func (a *Audio) Attach(dev *device.Device, configValue uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	nums := [1 + MaxStreamingInterfaces]uint8{a.controlNum}
	count := 1
	for _, s := range [...]*stream{&a.input, &a.output} {
		if s.enabled {
			nums[count] = s.ifaceNum
			count++
		}
	}

	for _, num := range nums[:count] {
		iface := config.GetInterface(num)
		if iface == nil {
			return pkg.ErrInvalidRequest
		}
		if err := iface.SetClassDriver(a); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time interface checks
var (
	_ device.Class                 = (*Audio)(nil)
	_ device.ClassDescriptorWriter = (*Audio)(nil)
)
