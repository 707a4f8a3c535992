package tone

import (
	"encoding/binary"
	"math"

	"github.com/go-audio/audio"
)

const (
	// Samples is the length of one tone period.
	Samples = 48

	// ByteLen is the size of one period on the wire.
	ByteLen = 2 * Samples

	// SampleRate is the rate the table is meant to be played at.
	SampleRate = 48000

	// Frequency is the pitch of the table played at SampleRate.
	Frequency = SampleRate / Samples

	// Peak is the largest sample magnitude.
	Peak = math.MaxInt16

	// BitDepth is the sample width in bits.
	BitDepth = 16
)

// Table is one period of a full-scale sine, quantized toward zero.
var Table = [Samples]int16{
	0, 4276, 8480, 12539, 16383, 19947, 23169, 25995, 28377, 30272, 31650, 32486,
	32767, 32486, 31650, 30272, 28377, 25995, 23169, 19947, 16383, 12539, 8480, 4276,
	0, -4276, -8480, -12539, -16383, -19947, -23169, -25995, -28377, -30272, -31650, -32486,
	-32767, -32486, -31650, -30272, -28377, -25995, -23169, -19947, -16383, -12539, -8480, -4276,
}

var tableLE = func() (b [ByteLen]byte) {
	EncodeLE(b[:], Table[:])
	return b
}()

// Bytes returns Table encoded as signed 16-bit little-endian PCM.
func Bytes() [ByteLen]byte {
	return tableLE
}

// EncodeLE writes samples to dst as 16-bit little-endian values and returns
// the number of bytes written. Encoding stops when either side runs out.
func EncodeLE(dst []byte, samples []int16) int {
	n := min(len(dst)/2, len(samples))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(samples[i]))
	}
	return 2 * n
}

// DecodeLE reads 16-bit little-endian values from src into dst and returns
// the number of samples decoded. A trailing odd byte is ignored.
func DecodeLE(dst []int16, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return n
}

// Generate returns one sine period of n samples with the given peak.
// Samples are truncated toward zero, so Generate(Samples, Peak) equals
// Table.
func Generate(n int, amplitude int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		v := float64(amplitude) * math.Sin(2*math.Pi*float64(i)/float64(n))
		// Drop float noise first so exact peaks and zeros survive truncation.
		v = math.Round(v*1e6) / 1e6
		out[i] = int16(v)
	}
	return out
}

// IntBuffer returns one period of Table as a mono PCM buffer.
func IntBuffer() *audio.IntBuffer {
	data := make([]int, Samples)
	for i, s := range Table {
		data[i] = int(s)
	}
	return NewIntBuffer(data)
}

// NewIntBuffer wraps samples recorded from a tone stream as a mono 16-bit
// PCM buffer at SampleRate. The buffer shares samples.
func NewIntBuffer(samples []int) *audio.IntBuffer {
	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  SampleRate,
		},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
}
