package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/device"
)

// Compile-time interface assertion.
var _ Output = (*Device)(nil)

// Device is a [Timeline] rendered to the system default speaker through
// miniaudio. The device pulls samples from the timeline on its own thread, so
// the timeline clock follows the hardware clock.
type Device struct {
	*Timeline

	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	scratch []float32

	closeOnce sync.Once
	closeErr  error
}

// OpenDevice opens the default playback device at rate Hz, mono, float32.
// Failures wrap [device.ErrUnavailable].
func OpenDevice(rate int) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("playback: miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, device.Unavailable("speaker", err)
	}

	d := &Device{Timeline: NewTimeline(rate), ctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: d.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, device.Unavailable("speaker", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, device.Unavailable("speaker", err)
	}
	d.dev = dev
	slog.Debug("playback: device opened", "sample_rate", rate)
	return d, nil
}

// onData is called by miniaudio on the device thread.
func (d *Device) onData(out, _ []byte, frames uint32) {
	n := int(frames)
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	buf := d.scratch[:n]
	d.Render(buf)
	audio.PutFloat32LE(out, buf)
}

// Close stops the hardware device and releases the timeline. It is idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		_ = d.Timeline.Close()
		if err := d.dev.Stop(); err != nil {
			d.closeErr = fmt.Errorf("playback: stop device: %w", err)
		}
		d.dev.Uninit()
		_ = d.ctx.Uninit()
		d.ctx.Free()
	})
	return d.closeErr
}
