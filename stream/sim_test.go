package stream_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbaudio/device"
	"github.com/ardnew/usbaudio/device/class/audio"
	"github.com/ardnew/usbaudio/device/hal/sim"
	"github.com/ardnew/usbaudio/pkg"
	"github.com/ardnew/usbaudio/stream"
	"github.com/ardnew/usbaudio/tone"
)

type rig struct {
	uac  *audio.Audio
	host *sim.Host
	loop *stream.Loop
	sink bytes.Buffer
}

// newRig enumerates a microphone and speaker function with the loop
// itself pumping the device side.
func newRig(t *testing.T) *rig {
	t.Helper()

	mic, err := audio.NewDiscrete(audio.S16LE, 1, []uint32{48000}, audio.InMicrophone)
	require.NoError(t, err)
	spk, err := audio.NewDiscrete(audio.S24LE, 2, []uint32{44100, 48000, 96000}, audio.OutSpeaker)
	require.NoError(t, err)

	db := device.NewDeviceBuilder().
		WithVendorProduct(0x16C0, 0x27DD).
		WithStrings("Kiffie Labs", "Audio port", "42").
		AddConfiguration(1)
	uac, err := audio.NewBuilder().Input(mic).Output(spk).Build(db, 1)
	require.NoError(t, err)
	dev, err := db.Build()
	require.NoError(t, err)
	require.NoError(t, uac.Attach(dev, 1))

	h := sim.New()
	stack := device.NewStack(dev, h)
	uac.SetStack(stack)
	require.NoError(t, stack.Start(context.Background()))
	t.Cleanup(func() { _ = stack.Stop() })

	r := &rig{uac: uac}
	r.loop, err = stream.New(stack, uac, &r.sink)
	require.NoError(t, err)
	r.host = h.Host(r.loop.Step)

	_, err = r.host.Enumerate(context.Background(), 7)
	require.NoError(t, err)
	return r
}

func (r *rig) lines() []string {
	s := strings.TrimSuffix(r.sink.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestLoopIdleUntilStreamsOpen(t *testing.T) {
	r := newRig(t)

	for i := 0; i < 10; i++ {
		r.loop.Step()
	}
	assert.Empty(t, r.lines())
	assert.Zero(t, r.uac.Stats().PacketsWritten)

	ep, err := r.uac.EndpointAddress(audio.StreamInput)
	require.NoError(t, err)
	var buf [sim.MaxPacketSize]byte
	_, err = r.host.ReceiveIn(ep, buf[:])
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

func TestLoopStreamsTone(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	micIface, err := r.uac.StreamInterface(audio.StreamInput)
	require.NoError(t, err)
	require.NoError(t, r.host.SetInterface(ctx, micIface, 1))
	r.loop.Step()

	assert.Equal(t, []string{"Alt. set. 1 0"}, r.lines())

	ep, err := r.uac.EndpointAddress(audio.StreamInput)
	require.NoError(t, err)
	want := tone.Bytes()

	var buf [sim.MaxPacketSize]byte
	for i := 0; i < 3; i++ {
		n, err := r.host.ReceiveIn(ep, buf[:])
		require.NoError(t, err)
		assert.Equal(t, want[:], buf[:n])
		r.loop.Step()
	}
	assert.EqualValues(t, 3, r.uac.Stats().InCompletions)
}

func TestLoopDrainsSpeaker(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	spkIface, err := r.uac.StreamInterface(audio.StreamOutput)
	require.NoError(t, err)
	require.NoError(t, r.host.SetInterface(ctx, spkIface, 1))
	r.loop.Step()

	ep, err := r.uac.EndpointAddress(audio.StreamOutput)
	require.NoError(t, err)
	cfg, err := r.uac.Config(audio.StreamOutput)
	require.NoError(t, err)

	// 48 kHz stereo S24LE: 48 frames of 6 bytes per millisecond
	packet := make([]byte, 288)
	for i := 0; i < stream.ReportInterval; i++ {
		require.NoError(t, r.host.SendOut(ep, packet))
		r.loop.Step()
	}

	assert.LessOrEqual(t, len(packet), int(cfg.MaxPacketSize()))
	assert.Equal(t, []string{"Alt. set. 0 1", "RX len = 288"}, r.lines())
	assert.Equal(t, 0, r.loop.Received())
	assert.EqualValues(t, stream.ReportInterval, r.uac.Stats().PacketsRead)
}

func TestLoopKeepsSpeakerPacketAcrossMicrophoneChange(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	spkIface, err := r.uac.StreamInterface(audio.StreamOutput)
	require.NoError(t, err)
	micIface, err := r.uac.StreamInterface(audio.StreamInput)
	require.NoError(t, err)
	require.NoError(t, r.host.SetInterface(ctx, spkIface, 1))

	ep, err := r.uac.EndpointAddress(audio.StreamOutput)
	require.NoError(t, err)
	require.NoError(t, r.host.SendOut(ep, make([]byte, 288)))

	// The SETUP is polled together with the buffered OUT packet
	require.NoError(t, r.host.SetInterface(ctx, micIface, 1))
	for i := 0; i < 5; i++ {
		r.loop.Step()
	}

	assert.EqualValues(t, 1, r.uac.Stats().PacketsRead)
	assert.Equal(t, 1, r.loop.Received())
	assert.Equal(t, []string{"Alt. set. 0 1", "Alt. set. 1 1"}, r.lines())
}

func TestLoopKeepsMicrophonePacketAcrossSpeakerChange(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	micIface, err := r.uac.StreamInterface(audio.StreamInput)
	require.NoError(t, err)
	spkIface, err := r.uac.StreamInterface(audio.StreamOutput)
	require.NoError(t, err)
	require.NoError(t, r.host.SetInterface(ctx, micIface, 1))
	r.loop.Step()

	// The queued tone packet stays pending, so no second one is written
	written := r.uac.Stats().PacketsWritten
	require.EqualValues(t, 1, written)
	require.NoError(t, r.host.SetInterface(ctx, spkIface, 1))
	assert.Equal(t, written, r.uac.Stats().PacketsWritten)

	ep, err := r.uac.EndpointAddress(audio.StreamInput)
	require.NoError(t, err)
	var buf [sim.MaxPacketSize]byte
	n, err := r.host.ReceiveIn(ep, buf[:])
	require.NoError(t, err)
	want := tone.Bytes()
	assert.Equal(t, want[:], buf[:n])
}

func TestLoopFollowsBusReset(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.host.SetInterface(ctx, 1, 1))
	require.NoError(t, r.host.SetInterface(ctx, 2, 1))
	r.loop.Step()

	require.NoError(t, r.host.Reset())
	r.loop.Step()

	assert.Equal(t, []string{"Alt. set. 1 0", "Alt. set. 1 1", "Alt. set. 0 0"}, r.lines())
}
