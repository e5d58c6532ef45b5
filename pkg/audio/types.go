// Package audio holds the audio value types shared by the capture pipeline, the
// live session channel and the playback scheduler, together with the PCM16 wire
// codec used between them.
package audio

import (
	"errors"
	"time"
)

const (
	// InputSampleRate is the rate microphone audio is captured and sent at.
	InputSampleRate = 16000

	// OutputSampleRate is the rate the remote service synthesises speech at.
	OutputSampleRate = 24000

	// FrameSize is the number of samples in one captured frame (256 ms at 16 kHz).
	FrameSize = 4096
)

// ErrDecode is returned when an inbound audio payload cannot be turned into PCM
// samples (bad base64, odd byte count, unusable MIME descriptor).
var ErrDecode = errors.New("audio: decode error")

// AudioFrame is a fixed-size chunk of mono float32 samples in [-1.0, 1.0]
// captured from the input device. Frames are immutable once produced and are
// consumed exactly once by the forwarder.
type AudioFrame struct {
	// Samples holds exactly FrameSize mono samples unless the pipeline was
	// configured otherwise.
	Samples []float32

	// SampleRate in Hz (16000 for microphone input).
	SampleRate int

	// Seq is the capture order of the frame, starting at 0 for each pipeline.
	Seq uint64

	// Timestamp marks when the first sample of the frame was captured,
	// relative to pipeline start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(int64(len(f.Samples)), f.SampleRate)
}

// WireBlob is the transport encoding of one chunk of audio: base64 of 16-bit
// signed little-endian PCM plus its MIME descriptor, e.g. "audio/pcm;rate=16000".
type WireBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Segment is one chunk of decoded mono PCM received from the remote service.
type Segment struct {
	Samples    []float32
	SampleRate int
}

// Duration returns len(Samples) / SampleRate.
func (s Segment) Duration() time.Duration {
	return SamplesDuration(int64(len(s.Samples)), s.SampleRate)
}

// Resample returns the segment at rate using linear interpolation. The segment
// is returned unchanged when it is already at rate.
func (s Segment) Resample(rate int) Segment {
	if rate <= 0 || s.SampleRate == rate {
		return s
	}
	return Segment{Samples: ResampleMono(s.Samples, s.SampleRate, rate), SampleRate: rate}
}

// SamplesDuration is the play time of n samples at rate Hz, rounded to the
// nearest nanosecond.
func SamplesDuration(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	r := int64(rate)
	return time.Duration((n*int64(time.Second) + r/2) / r)
}
