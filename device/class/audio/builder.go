package audio

import (
	"fmt"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/pkg"
)

// Builder lays out an audio function on a device under construction.
type Builder struct {
	input     StreamConfig
	output    StreamConfig
	hasInput  bool
	hasOutput bool
	err       error
}

// NewBuilder creates an audio function builder with no streams.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Input adds a device-to-host stream. The terminal of cfg must be an
// input terminal such as InMicrophone.
func (b *Builder) Input(cfg StreamConfig) *Builder {
	if !cfg.Terminal.IsInput() {
		b.fail(fmt.Errorf("input stream terminal %v: %w", cfg.Terminal, ErrInvalidConfig))
		return b
	}
	b.input = cfg
	b.hasInput = true
	return b
}

// Output adds a host-to-device stream. The terminal of cfg must be an
// output terminal such as OutSpeaker.
func (b *Builder) Output(cfg StreamConfig) *Builder {
	if !cfg.Terminal.IsOutput() {
		b.fail(fmt.Errorf("output stream terminal %v: %w", cfg.Terminal, ErrInvalidConfig))
		return b
	}
	b.output = cfg
	b.hasOutput = true
	return b
}

// Build appends the AudioControl interface and one AudioStreaming interface
// per stream to the current configuration of db. Streaming endpoints are
// numbered from firstEndpoint, input first.
//
// Each streaming interface gets a zero-bandwidth alternate setting 0 and an
// alternate setting 1 holding its isochronous endpoint. The returned class
// must be attached with Attach once the device is built.
func (b *Builder) Build(db *device.DeviceBuilder, firstEndpoint uint8) (*Audio, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.hasInput && !b.hasOutput {
		return nil, fmt.Errorf("no streams: %w", ErrInvalidConfig)
	}
	if db.Configuration() == nil {
		return nil, pkg.ErrInvalidState
	}

	epNum := firstEndpoint & 0x0F
	need := uint8(0)
	if b.hasInput {
		need++
	}
	if b.hasOutput {
		need++
	}
	if epNum == 0 || epNum+need-1 > 0x0F {
		return nil, fmt.Errorf("first endpoint %d: %w", firstEndpoint, pkg.ErrInvalidEndpoint)
	}

	a := &Audio{}
	num, err := addInterface(db, SubclassAudioControl)
	if err != nil {
		return nil, err
	}
	a.controlNum = num

	terminal := uint8(1)
	if b.hasInput {
		a.input = stream{
			dir:     StreamInput,
			config:  b.input,
			enabled: true,
			epAddr:  epNum | device.EndpointDirectionIn,
			inTerm:  terminal,
			outTerm: terminal + 1,
			rate:    b.input.Rates()[0],
		}
		if a.input.ifaceNum, err = addStream(db, &a.input, device.IsoSyncAsync); err != nil {
			return nil, err
		}
		terminal += 2
		epNum++
	}
	if b.hasOutput {
		a.output = stream{
			dir:     StreamOutput,
			config:  b.output,
			enabled: true,
			epAddr:  epNum | device.EndpointDirectionOut,
			inTerm:  terminal,
			outTerm: terminal + 1,
			rate:    b.output.Rates()[0],
		}
		if a.output.ifaceNum, err = addStream(db, &a.output, device.IsoSyncAdaptive); err != nil {
			return nil, err
		}
	}

	pkg.LogDebug(pkg.ComponentAudio, "audio function laid out",
		"control", a.controlNum,
		"input", b.hasInput,
		"output", b.hasOutput)

	return a, nil
}

// addInterface appends an audio interface and returns its number.
func addInterface(db *device.DeviceBuilder, subClass uint8) (uint8, error) {
	db.AddInterface(device.ClassAudio, subClass, 0)
	if err := db.Err(); err != nil {
		return 0, err
	}
	return db.Interface().Number, nil
}

// addStream appends the streaming interface of s.
func addStream(db *device.DeviceBuilder, s *stream, sync uint8) (uint8, error) {
	num, err := addInterface(db, SubclassAudioStreaming)
	if err != nil {
		return 0, err
	}
	db.AddAlternate().
		AddIsochronousEndpoint(s.epAddr, sync, s.config.MaxPacketSize(), 1)
	if err := db.Err(); err != nil {
		return 0, err
	}
	return num, nil
}
