package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/device"
)

// Compile-time interface assertion.
var _ Source = MalgoSource{}

// MalgoSource captures from the system default input device through miniaudio.
// The operating system may show a microphone permission prompt on first Open.
type MalgoSource struct {
	// PeriodMillis is the device callback period. Zero uses the backend default.
	PeriodMillis uint32
}

// Open implements [Source].
func (s MalgoSource) Open(_ context.Context, format Format, data func([]float32)) (io.Closer, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("capture: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, device.Unavailable("microphone", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(max(format.Channels, 1))
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = s.PeriodMillis
	cfg.Alsa.NoMMap = 1

	channels := int(cfg.Capture.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			samples := audio.Float32FromLE(in)
			if channels > 1 {
				samples = downmix(samples, channels)
			}
			data(samples)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, device.Unavailable("microphone", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, device.Unavailable("microphone", err)
	}
	return &malgoCapture{ctx: mctx, dev: dev}, nil
}

type malgoCapture struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

func (c *malgoCapture) Close() error {
	err := c.dev.Stop()
	c.dev.Uninit()
	if uerr := c.ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	c.ctx.Free()
	if err != nil {
		return fmt.Errorf("capture: malgo close: %w", err)
	}
	return nil
}

// downmix averages interleaved channels into mono.
func downmix(interleaved []float32, channels int) []float32 {
	out := make([]float32, len(interleaved)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
