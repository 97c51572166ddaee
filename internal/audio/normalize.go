// Package audio decodes WAV-family containers and normalizes them into the
// canonical recognition format: 16 kHz, mono, float32 amplitudes in [-1, 1].
package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

const (
	// TargetSampleRate is the only sample rate the recognition engine accepts.
	TargetSampleRate = 16000

	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE

	// extensibleFmtSize is the smallest fmt body that carries a subformat
	// GUID: 16 common bytes, cbSize, valid bits, channel mask, 16-byte GUID.
	extensibleFmtSize = 40
)

// Decoded is a container's sample data before normalization. Channels holds
// one slice per channel, already scaled to [-1, 1].
type Decoded struct {
	SampleRate int
	BitDepth   int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (d *Decoded) Frames() int {
	if len(d.Channels) == 0 {
		return 0
	}
	return len(d.Channels[0])
}

// Normalized is audio in the canonical format. It is created per request and
// handed to the transcriber once.
type Normalized struct {
	Samples []float32
}

// SampleRate is always TargetSampleRate.
func (n *Normalized) SampleRate() int { return TargetSampleRate }

// Channels is always 1.
func (n *Normalized) Channels() int { return 1 }

// Duration returns the signal length.
func (n *Normalized) Duration() time.Duration {
	return time.Duration(len(n.Samples)) * time.Second / TargetSampleRate
}

// Normalize decodes a WAV byte buffer and converts it to the canonical format.
func Normalize(data []byte) (*Normalized, error) {
	if len(data) == 0 {
		return nil, &FormatError{Message: "empty input"}
	}
	dec, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return dec.Normalize()
}

// NormalizeFile reads and normalizes the WAV file at path.
func NormalizeFile(path string) (*Normalized, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	return Normalize(data)
}

// Decode parses a RIFF/WAVE container holding integer PCM or 32-bit IEEE
// float samples. WAVE_FORMAT_EXTENSIBLE is resolved through its subformat.
func Decode(r io.ReadSeeker) (*Decoded, error) {
	format, err := payloadFormat(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, &DecodeError{Message: "rewind", Err: err}
	}

	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, &DecodeError{Message: "not a WAV container", Err: err}
	}
	if dec.NumChans == 0 {
		return nil, &DecodeError{Message: "missing fmt chunk"}
	}
	if dec.SampleRate == 0 {
		return nil, &DecodeError{Message: "zero sample rate"}
	}

	var conv func(int) float32
	switch format {
	case formatPCM:
		scale, offset, err := sampleScale(int(dec.BitDepth))
		if err != nil {
			return nil, &DecodeError{Message: "unsupported bit depth", Err: err}
		}
		conv = func(v int) float32 { return float32((float64(v) - offset) / scale) }
	case formatFloat:
		if dec.BitDepth != 32 {
			return nil, &DecodeError{Message: fmt.Sprintf("unsupported float width: %d bits per sample", dec.BitDepth)}
		}
		conv = floatSample
	default:
		return nil, &DecodeError{Message: fmt.Sprintf("unsupported format tag 0x%04x (only PCM and IEEE float)", format)}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Message: "reading PCM data", Err: err}
	}

	return deinterleave(buf, int(dec.SampleRate), int(dec.BitDepth), conv), nil
}

// payloadFormat walks the chunks up to "fmt " and returns the format tag of
// the sample data. For WAVE_FORMAT_EXTENSIBLE that is the leading two bytes
// of the subformat GUID, which go-audio/wav leaves unparsed.
func payloadFormat(r io.Reader) (uint16, error) {
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, &DecodeError{Message: "not a WAV container", Err: err}
	}
	if p.Format != riff.WavFormatID {
		return 0, &DecodeError{Message: fmt.Sprintf("not a WAV container: form type %q", p.Format[:])}
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, &DecodeError{Message: "missing fmt chunk", Err: err}
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		var tag uint16
		if err := ch.ReadLE(&tag); err != nil {
			return 0, &DecodeError{Message: "truncated fmt chunk", Err: err}
		}
		if tag != formatExtensible {
			return tag, nil
		}
		if ch.Size < extensibleFmtSize {
			return 0, &DecodeError{Message: fmt.Sprintf("extensible fmt chunk is %d bytes, want %d", ch.Size, extensibleFmtSize)}
		}
		var ext struct {
			Common      [14]byte
			CbSize      uint16
			ValidBits   uint16
			ChannelMask uint32
			SubFormat   uint16
		}
		if err := ch.ReadLE(&ext); err != nil {
			return 0, &DecodeError{Message: "truncated extensible fmt chunk", Err: err}
		}
		return ext.SubFormat, nil
	}
}

// floatSample reinterprets a 32-bit frame, which go-audio/wav returns as a
// sign-extended int32, as an IEEE float. NaN becomes silence.
func floatSample(v int) float32 {
	f := math.Float32frombits(uint32(int32(v)))
	if math.IsNaN(float64(f)) {
		return 0
	}
	return f
}

// sampleScale returns the divisor and zero offset that map integer samples of
// the given bit depth onto [-1, 1]. 8-bit WAV samples are unsigned.
func sampleScale(bitDepth int) (scale, offset float64, err error) {
	switch bitDepth {
	case 8:
		return 128, 128, nil
	case 16:
		return 1 << 15, 0, nil
	case 24:
		return 1 << 23, 0, nil
	case 32:
		return 1 << 31, 0, nil
	default:
		return 0, 0, fmt.Errorf("%d bits per sample", bitDepth)
	}
}

func deinterleave(buf *goaudio.IntBuffer, sampleRate, bitDepth int, conv func(int) float32) *Decoded {
	numChans := buf.Format.NumChannels
	frames := len(buf.Data) / numChans

	channels := make([][]float32, numChans)
	for c := range channels {
		channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numChans; c++ {
			channels[c][i] = clamp(conv(buf.Data[i*numChans+c]))
		}
	}

	return &Decoded{SampleRate: sampleRate, BitDepth: bitDepth, Channels: channels}
}

// Normalize resamples every channel to TargetSampleRate and averages the
// channels down to mono. Already-canonical input passes through unchanged.
func (d *Decoded) Normalize() (*Normalized, error) {
	if d.Frames() == 0 {
		return nil, &FormatError{Message: "no samples decoded"}
	}

	channels := d.Channels
	if d.SampleRate != TargetSampleRate {
		channels = make([][]float32, len(d.Channels))
		for c, ch := range d.Channels {
			channels[c] = Resample(ch, d.SampleRate, TargetSampleRate)
		}
	}

	mono := Downmix(channels)
	if len(mono) == 0 {
		return nil, &FormatError{Message: "no samples after resampling"}
	}
	return &Normalized{Samples: mono}, nil
}

// Resample converts samples from one rate to another with linear
// interpolation. The output length is the input duration at the new rate,
// rounded to the nearest sample. Interpolated values never leave the range
// spanned by their two neighbours, so the output cannot clip.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]float32, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// Downmix averages channels sample by sample. A single channel is returned
// as is.
func Downmix(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}

	frames := len(channels[0])
	for _, ch := range channels[1:] {
		frames = min(frames, len(ch))
	}

	out := make([]float32, frames)
	inv := 1 / float32(len(channels))
	for i := range out {
		var sum float32
		for _, ch := range channels {
			sum += ch[i]
		}
		out[i] = clamp(sum * inv)
	}
	return out
}

// WriteWAV encodes the samples as a 16 kHz mono 16-bit PCM WAV stream.
func (n *Normalized) WriteWAV(w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, TargetSampleRate, 16, 1, formatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: TargetSampleRate},
		Data:           make([]int, len(n.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range n.Samples {
		buf.Data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav: %w", err)
	}
	return nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
