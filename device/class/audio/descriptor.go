package audio

import (
	"encoding/binary"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/pkg"
)

// MaxStreamingInterfaces is the number of streaming interfaces one
// AudioControl interface can reference.
const MaxStreamingInterfaces = 2

// HeaderDescriptor is the class-specific AudioControl interface header.
type HeaderDescriptor struct {
	ADCVersion  uint16 // Audio Device Class release (BCD)
	TotalLength uint16 // Header plus all unit and terminal descriptors

	// Streaming interfaces belonging to this function
	InterfaceNumbers [MaxStreamingInterfaces]uint8
	InterfaceCount   uint8
}

// Size returns the encoded length of the header.
func (h *HeaderDescriptor) Size() int {
	return HeaderDescriptorBaseSize + int(h.InterfaceCount)
}

// MarshalTo serializes the header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *HeaderDescriptor) MarshalTo(buf []byte) int {
	n := h.Size()
	if len(buf) < n || int(h.InterfaceCount) > MaxStreamingInterfaces {
		return 0
	}
	buf[0] = uint8(n)
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = ACHeader
	binary.LittleEndian.PutUint16(buf[3:5], h.ADCVersion)
	binary.LittleEndian.PutUint16(buf[5:7], h.TotalLength)
	buf[7] = h.InterfaceCount
	copy(buf[8:n], h.InterfaceNumbers[:h.InterfaceCount])
	return n
}

// ParseHeaderDescriptor parses an AudioControl header from data into out.
func ParseHeaderDescriptor(data []byte, out *HeaderDescriptor) error {
	if len(data) < HeaderDescriptorBaseSize || len(data) < int(data[0]) {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != device.DescriptorTypeCSInterface || data[2] != ACHeader {
		return pkg.ErrDescriptorTypeMismatch
	}
	count := int(data[7])
	if count > MaxStreamingInterfaces || int(data[0]) < HeaderDescriptorBaseSize+count {
		return pkg.ErrDescriptorTooShort
	}
	out.ADCVersion = binary.LittleEndian.Uint16(data[3:5])
	out.TotalLength = binary.LittleEndian.Uint16(data[5:7])
	out.InterfaceCount = uint8(count)
	copy(out.InterfaceNumbers[:], data[8:8+count])
	return nil
}

// InputTerminalDescriptor describes where audio enters the function.
type InputTerminalDescriptor struct {
	TerminalID    uint8
	TerminalType  TerminalType
	AssocTerminal uint8
	Channels      uint8
	ChannelConfig uint16
	ChannelNames  uint8 // String index of the first channel name
	TerminalIndex uint8 // String index of the terminal name
}

// MarshalTo serializes the input terminal to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (t *InputTerminalDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InputTerminalDescriptorSize {
		return 0
	}
	buf[0] = InputTerminalDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = ACInputTerminal
	buf[3] = t.TerminalID
	binary.LittleEndian.PutUint16(buf[4:6], uint16(t.TerminalType))
	buf[6] = t.AssocTerminal
	buf[7] = t.Channels
	binary.LittleEndian.PutUint16(buf[8:10], t.ChannelConfig)
	buf[10] = t.ChannelNames
	buf[11] = t.TerminalIndex
	return InputTerminalDescriptorSize
}

// OutputTerminalDescriptor describes where audio leaves the function.
type OutputTerminalDescriptor struct {
	TerminalID    uint8
	TerminalType  TerminalType
	AssocTerminal uint8
	SourceID      uint8 // Unit or terminal feeding this terminal
	TerminalIndex uint8
}

// MarshalTo serializes the output terminal to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (t *OutputTerminalDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < OutputTerminalDescriptorSize {
		return 0
	}
	buf[0] = OutputTerminalDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = ACOutputTerminal
	buf[3] = t.TerminalID
	binary.LittleEndian.PutUint16(buf[4:6], uint16(t.TerminalType))
	buf[6] = t.AssocTerminal
	buf[7] = t.SourceID
	buf[8] = t.TerminalIndex
	return OutputTerminalDescriptorSize
}

// StreamingGeneralDescriptor links an AudioStreaming alternate setting to
// its terminal and names the data format.
type StreamingGeneralDescriptor struct {
	TerminalLink uint8
	Delay        uint8 // Frames of internal delay
	FormatTag    uint16
}

// MarshalTo serializes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (g *StreamingGeneralDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < StreamingGeneralDescriptorSize {
		return 0
	}
	buf[0] = StreamingGeneralDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = ASGeneral
	buf[3] = g.TerminalLink
	buf[4] = g.Delay
	binary.LittleEndian.PutUint16(buf[5:7], g.FormatTag)
	return StreamingGeneralDescriptorSize
}

// FormatTypeIDescriptor describes a Type I PCM format with discrete
// sample rates.
type FormatTypeIDescriptor struct {
	Channels      uint8
	SubframeSize  uint8
	BitResolution uint8
	Rates         [MaxRates]uint32
	RateCount     uint8
}

// Size returns the encoded length of the descriptor.
func (f *FormatTypeIDescriptor) Size() int {
	return FormatTypeIDescriptorBaseSize + SampleRateSize*int(f.RateCount)
}

// MarshalTo serializes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (f *FormatTypeIDescriptor) MarshalTo(buf []byte) int {
	n := f.Size()
	if len(buf) < n || int(f.RateCount) > MaxRates {
		return 0
	}
	buf[0] = uint8(n)
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = ASFormatType
	buf[3] = FormatTypeI
	buf[4] = f.Channels
	buf[5] = f.SubframeSize
	buf[6] = f.BitResolution
	buf[7] = f.RateCount
	for i := 0; i < int(f.RateCount); i++ {
		PutSampleRate(buf[8+SampleRateSize*i:], f.Rates[i])
	}
	return n
}

// ParseFormatTypeIDescriptor parses a Type I format descriptor from data
// into out.
func ParseFormatTypeIDescriptor(data []byte, out *FormatTypeIDescriptor) error {
	if len(data) < FormatTypeIDescriptorBaseSize || len(data) < int(data[0]) {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != device.DescriptorTypeCSInterface || data[2] != ASFormatType || data[3] != FormatTypeI {
		return pkg.ErrDescriptorTypeMismatch
	}
	count := int(data[7])
	if count > MaxRates {
		return pkg.ErrNotSupported
	}
	if int(data[0]) < FormatTypeIDescriptorBaseSize+SampleRateSize*count {
		return pkg.ErrDescriptorTooShort
	}
	out.Channels = data[4]
	out.SubframeSize = data[5]
	out.BitResolution = data[6]
	out.RateCount = uint8(count)
	for i := 0; i < count; i++ {
		out.Rates[i] = ParseSampleRate(data[8+SampleRateSize*i:])
	}
	return nil
}

// EndpointGeneralDescriptor is the class-specific isochronous endpoint
// descriptor.
type EndpointGeneralDescriptor struct {
	Attributes     uint8
	LockDelayUnits uint8
	LockDelay      uint16
}

// MarshalTo serializes the descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (e *EndpointGeneralDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointGeneralDescriptorSize {
		return 0
	}
	buf[0] = EndpointGeneralDescriptorSize
	buf[1] = device.DescriptorTypeCSEndpoint
	buf[2] = EPGeneral
	buf[3] = e.Attributes
	buf[4] = e.LockDelayUnits
	binary.LittleEndian.PutUint16(buf[5:7], e.LockDelay)
	return EndpointGeneralDescriptorSize
}

// PutSampleRate encodes rate as a 3-byte little-endian sampling frequency.
func PutSampleRate(buf []byte, rate uint32) {
	_ = buf[2]
	buf[0] = byte(rate)
	buf[1] = byte(rate >> 8)
	buf[2] = byte(rate >> 16)
}

// ParseSampleRate decodes a 3-byte little-endian sampling frequency.
func ParseSampleRate(buf []byte) uint32 {
	_ = buf[2]
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
}
