package stream

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/device/class/audio"
	"github.com/ardnew/usbaudio/pkg"
	"github.com/ardnew/usbaudio/tone"
)

// ReportInterval is the number of received packets between reports.
const ReportInterval = 1000

// ScratchSize is the size of the buffer inbound packets are drained into.
const ScratchSize = 1024

// BannerText is written once at startup.
const BannerText = "USB audio test"

// Poller makes USB protocol progress without waiting.
// *device.Stack implements it.
type Poller interface {
	Poll(classes ...device.Class) bool
}

// Handler is the audio function the loop streams through.
// *audio.Audio implements it.
type Handler interface {
	device.Class
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	InputAltSetting() (uint8, error)
	OutputAltSetting() (uint8, error)
}

// Loop is the firmware main loop. It owns the receive counter and the
// last reported alternate settings; nothing else may touch the handler
// while it runs.
type Loop struct {
	transport Poller
	handler   Handler
	sink      io.Writer

	received int // Packets since the last report
	reported int // Reports written
	altIn    uint8
	altOut   uint8

	scratch [ScratchSize]byte
	tone    [tone.ByteLen]byte
	line    [32]byte
}

// New creates a loop that polls transport, streams through handler and
// writes diagnostic lines to sink. A nil sink discards them.
func New(transport Poller, handler Handler, sink io.Writer) (*Loop, error) {
	if transport == nil || handler == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if _, err := handler.InputAltSetting(); err != nil {
		return nil, fmt.Errorf("input alternate setting: %w", err)
	}
	if _, err := handler.OutputAltSetting(); err != nil {
		return nil, fmt.Errorf("output alternate setting: %w", err)
	}
	if sink == nil {
		sink = io.Discard
	}
	return &Loop{
		transport: transport,
		handler:   handler,
		sink:      sink,
		tone:      tone.Bytes(),
	}, nil
}

// Banner writes the startup line to sink.
func Banner(sink io.Writer) error {
	_, err := io.WriteString(sink, BannerText+"\n")
	return err
}

// Run steps the loop forever.
func (l *Loop) Run() {
	for {
		l.Step()
	}
}

// Step performs one iteration: poll, drain at most one inbound packet when
// the poll saw activity, report alternate setting changes and offer one
// tone packet.
func (l *Loop) Step() {
	if l.transport.Poll(l.handler) {
		l.drain()
	}
	l.checkAltSettings()
	l.feed()
}

// drain reads one inbound packet and reports the length of every
// ReportInterval-th one.
func (l *Loop) drain() {
	n, err := l.handler.Read(l.scratch[:])
	switch {
	case err == nil:
	case errors.Is(err, pkg.ErrWouldBlock), errors.Is(err, audio.ErrStreamInactive):
		return
	default:
		pkg.LogDebug(pkg.ComponentStream, "read dropped",
			"error", err)
		return
	}

	l.received++
	if l.received < ReportInterval {
		return
	}
	l.received = 0
	l.reported++

	l.emit(strconv.AppendInt(append(l.line[:0], "RX len = "...), int64(n), 10))
	pkg.LogDebug(pkg.ComponentStream, "receive report",
		"len", n,
		"reports", l.reported)
}

// checkAltSettings emits one line whenever either alternate setting
// differs from the last one reported.
func (l *Loop) checkAltSettings() {
	in, err := l.handler.InputAltSetting()
	if err != nil {
		return
	}
	out, err := l.handler.OutputAltSetting()
	if err != nil {
		return
	}
	if in == l.altIn && out == l.altOut {
		return
	}
	l.altIn, l.altOut = in, out

	b := append(l.line[:0], "Alt. set. "...)
	b = strconv.AppendUint(b, uint64(in), 10)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(out), 10)
	l.emit(b)
	pkg.LogDebug(pkg.ComponentStream, "alternate settings changed",
		"input", in,
		"output", out)
}

// feed offers one tone period to the input stream. The tone runs free of
// the host, so a packet that is not accepted is dropped.
func (l *Loop) feed() {
	_, err := l.handler.Write(l.tone[:])
	switch {
	case err == nil:
	case errors.Is(err, pkg.ErrWouldBlock), errors.Is(err, audio.ErrStreamInactive):
	default:
		pkg.LogDebug(pkg.ComponentStream, "write dropped",
			"error", err)
	}
}

func (l *Loop) emit(b []byte) {
	b = append(b, '\n')
	if _, err := l.sink.Write(b); err != nil {
		pkg.LogDebug(pkg.ComponentStream, "diagnostic sink failed",
			"error", err)
	}
}

// Received returns the packets drained since the last report.
func (l *Loop) Received() int {
	return l.received
}

// Reported returns how many receive reports have been written.
func (l *Loop) Reported() int {
	return l.reported
}

// AltSettings returns the last reported input and output alternate
// settings.
func (l *Loop) AltSettings() (in, out uint8) {
	return l.altIn, l.altOut
}
