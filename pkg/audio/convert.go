package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"
)

// pcmMIMEBase is the media type of raw 16-bit little-endian PCM on the wire.
const pcmMIMEBase = "audio/pcm"

// MIMEType returns the wire descriptor for PCM16 mono at rate,
// e.g. "audio/pcm;rate=16000".
func MIMEType(rate int) string {
	return pcmMIMEBase + ";rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the sample rate from a PCM MIME descriptor. It returns
// defaultRate when the descriptor carries no rate parameter and an error
// wrapping [ErrDecode] when the descriptor is malformed.
func ParseRate(mimeType string, defaultRate int) (int, error) {
	if mimeType == "" {
		return defaultRate, nil
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("%w: mime type %q: %v", ErrDecode, mimeType, err)
	}
	if mediaType != pcmMIMEBase && mediaType != "audio/l16" {
		return 0, fmt.Errorf("%w: unsupported media type %q", ErrDecode, mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return defaultRate, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: bad rate %q", ErrDecode, raw)
	}
	return rate, nil
}

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM.
//
// Each sample is multiplied by 32768 and truncated toward zero. Out-of-range
// values are not clamped: 1.0 becomes 32768, which wraps to -32768 in two's
// complement. Callers that need saturation must clamp before encoding.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int64(float64(s) * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM to float samples by
// dividing each value by 32768. An odd byte count yields an error wrapping
// [ErrDecode].
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM byte count %d", ErrDecode, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeBlob encodes a captured frame for transport.
func EncodeBlob(frame AudioFrame) WireBlob {
	rate := frame.SampleRate
	if rate <= 0 {
		rate = InputSampleRate
	}
	return WireBlob{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(frame.Samples)),
		MIMEType: MIMEType(rate),
	}
}

// DecodeBlob decodes an inbound audio payload into a [Segment]. When the MIME
// descriptor omits the rate, defaultRate is assumed. All failures wrap
// [ErrDecode].
func DecodeBlob(b WireBlob, defaultRate int) (Segment, error) {
	rate, err := ParseRate(b.MIMEType, defaultRate)
	if err != nil {
		return Segment{}, err
	}
	pcm, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return Segment{}, err
	}
	return Segment{Samples: samples, SampleRate: rate}, nil
}

// ResampleMono resamples mono float samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := float64(samples[srcIdx])
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = float64(samples[srcIdx+1])
		}
		out[i] = float32(s0*(1-frac) + s1*frac)
	}
	return out
}

// Float32FromLE decodes little-endian IEEE-754 float32 samples as delivered by
// audio devices opened in F32 format. Trailing bytes that do not form a whole
// sample are ignored.
func Float32FromLE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// PutFloat32LE writes samples into dst as little-endian float32 and returns the
// number of samples written.
func PutFloat32LE(dst []byte, samples []float32) int {
	n := min(len(dst)/4, len(samples))
	for i := range n {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(samples[i]))
	}
	return n
}
