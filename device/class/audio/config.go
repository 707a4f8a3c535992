package audio

import (
	"errors"
	"fmt"
)

// Audio class errors.
var (
	// ErrInvalidConfig indicates a stream configuration the class cannot
	// describe.
	ErrInvalidConfig = errors.New("invalid audio stream configuration")

	// ErrNoStream indicates the requested direction was not configured.
	ErrNoStream = errors.New("audio stream not configured")

	// ErrStreamInactive indicates the host has not selected an alternate
	// setting with bandwidth for the stream.
	ErrStreamInactive = errors.New("audio stream inactive")
)

// MaxRates is the maximum number of discrete sample rates per stream.
const MaxRates = 8

// MaxSampleRate is the largest rate a 3-byte sampling frequency can carry.
const MaxSampleRate = 0xFFFFFF

// MaxIsochronousPacketSize is the largest full-speed isochronous packet.
const MaxIsochronousPacketSize = 1023

// Direction identifies a stream relative to the host.
type Direction uint8

// Stream directions.
const (
	StreamInput  Direction = iota // Device to host (microphone)
	StreamOutput                  // Host to device (speaker)
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case StreamInput:
		return "input"
	case StreamOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Format is a Type I PCM sample format.
type Format uint8

// Sample formats.
const (
	S16LE Format = iota // Signed 16-bit little-endian
	S24LE               // Signed 24-bit little-endian
)

// SubframeSize returns the bytes per sample per channel.
func (f Format) SubframeSize() uint8 {
	switch f {
	case S24LE:
		return 3
	default:
		return 2
	}
}

// BitResolution returns the number of significant bits per sample.
func (f Format) BitResolution() uint8 {
	return f.SubframeSize() * 8
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case S16LE:
		return "S16LE"
	case S24LE:
		return "S24LE"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// TerminalType is a USB Audio terminal type code.
type TerminalType uint16

// USB terminal types.
const (
	USBUndefined TerminalType = 0x0100
	USBStreaming TerminalType = 0x0101
	USBVendor    TerminalType = 0x01FF
)

// Input terminal types.
const (
	InUndefined                 TerminalType = 0x0200
	InMicrophone                TerminalType = 0x0201
	InDesktopMicrophone         TerminalType = 0x0202
	InPersonalMicrophone        TerminalType = 0x0203
	InOmniDirectionalMicrophone TerminalType = 0x0204
	InMicrophoneArray           TerminalType = 0x0205
	InProcessingMicrophoneArray TerminalType = 0x0206
)

// Output terminal types.
const (
	OutUndefined            TerminalType = 0x0300
	OutSpeaker              TerminalType = 0x0301
	OutHeadphones           TerminalType = 0x0302
	OutHeadMountedDisplay   TerminalType = 0x0303
	OutDesktopSpeaker       TerminalType = 0x0304
	OutRoomSpeaker          TerminalType = 0x0305
	OutCommunicationSpeaker TerminalType = 0x0306
	OutLowFrequencySpeaker  TerminalType = 0x0307
)

// IsInput returns true for terminals that bring audio into the function.
func (t TerminalType) IsInput() bool {
	return t>>8 == 0x02
}

// IsOutput returns true for terminals that take audio out of the function.
func (t TerminalType) IsOutput() bool {
	return t>>8 == 0x03
}

// String returns the terminal type name.
func (t TerminalType) String() string {
	switch t {
	case USBStreaming:
		return "USB streaming"
	case InMicrophone:
		return "microphone"
	case InDesktopMicrophone:
		return "desktop microphone"
	case InPersonalMicrophone:
		return "personal microphone"
	case InOmniDirectionalMicrophone:
		return "omni-directional microphone"
	case InMicrophoneArray:
		return "microphone array"
	case InProcessingMicrophoneArray:
		return "processing microphone array"
	case OutSpeaker:
		return "speaker"
	case OutHeadphones:
		return "headphones"
	case OutHeadMountedDisplay:
		return "head mounted display audio"
	case OutDesktopSpeaker:
		return "desktop speaker"
	case OutRoomSpeaker:
		return "room speaker"
	case OutCommunicationSpeaker:
		return "communication speaker"
	case OutLowFrequencySpeaker:
		return "low frequency effects speaker"
	default:
		return fmt.Sprintf("TerminalType(0x%04X)", uint16(t))
	}
}

// StreamConfig describes one audio stream: its sample format, channel
// count, the discrete rates it offers and the terminal at its far end.
type StreamConfig struct {
	Format   Format
	Channels uint8
	Terminal TerminalType

	rates     [MaxRates]uint32
	rateCount int
}

// NewDiscrete returns a stream configuration offering a fixed set of
// sample rates. The first rate is the one selected after reset.
func NewDiscrete(format Format, channels uint8, rates []uint32, terminal TerminalType) (StreamConfig, error) {
	var cfg StreamConfig

	switch format {
	case S16LE, S24LE:
	default:
		return cfg, fmt.Errorf("format %v: %w", format, ErrInvalidConfig)
	}
	if channels < 1 || channels > 2 {
		return cfg, fmt.Errorf("%d channels: %w", channels, ErrInvalidConfig)
	}
	if len(rates) == 0 || len(rates) > MaxRates {
		return cfg, fmt.Errorf("%d sample rates: %w", len(rates), ErrInvalidConfig)
	}
	if !terminal.IsInput() && !terminal.IsOutput() {
		return cfg, fmt.Errorf("terminal %v: %w", terminal, ErrInvalidConfig)
	}

	for i, rate := range rates {
		if rate == 0 || rate > MaxSampleRate {
			return cfg, fmt.Errorf("sample rate %d: %w", rate, ErrInvalidConfig)
		}
		cfg.rates[i] = rate
	}

	cfg.Format = format
	cfg.Channels = channels
	cfg.Terminal = terminal
	cfg.rateCount = len(rates)

	if n := cfg.packetSize(); n > MaxIsochronousPacketSize {
		return StreamConfig{}, fmt.Errorf("%d-byte packets: %w", n, ErrInvalidConfig)
	}
	return cfg, nil
}

// Rates returns the offered sample rates.
// The returned slice references internal storage; do not modify.
func (c *StreamConfig) Rates() []uint32 {
	return c.rates[:c.rateCount]
}

// HasRate returns true if rate is one of the offered sample rates.
func (c *StreamConfig) HasRate(rate uint32) bool {
	for _, r := range c.Rates() {
		if r == rate {
			return true
		}
	}
	return false
}

// MinRate returns the lowest offered sample rate.
func (c *StreamConfig) MinRate() uint32 {
	low := c.rates[0]
	for _, r := range c.Rates() {
		low = min(low, r)
	}
	return low
}

// MaxRate returns the highest offered sample rate.
func (c *StreamConfig) MaxRate() uint32 {
	var high uint32
	for _, r := range c.Rates() {
		high = max(high, r)
	}
	return high
}

// FrameSize returns the bytes in one sample frame across all channels.
func (c *StreamConfig) FrameSize() int {
	return int(c.Channels) * int(c.Format.SubframeSize())
}

// MaxPacketSize returns the isochronous packet size needed to carry the
// highest rate, with room for one extra frame per millisecond.
func (c *StreamConfig) MaxPacketSize() uint16 {
	return uint16(c.packetSize())
}

func (c *StreamConfig) packetSize() uint32 {
	frames := (c.MaxRate()+999)/1000 + 1
	return frames * uint32(c.FrameSize())
}

// ChannelConfig returns the spatial location bits for the channel count.
func (c *StreamConfig) ChannelConfig() uint16 {
	if c.Channels == 2 {
		return ChannelLeftFront | ChannelRightFront
	}
	return 0
}
