//go:build linux

package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/MrWong99/neurolink/pkg/device"
)

// V4L2 pixel formats the webcam grabber can decode.
const (
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'

	frameTimeoutSeconds = 5
)

// Compile-time interface assertion.
var _ Camera = Webcam{}

// Webcam is a V4L2 camera, e.g. /dev/video0.
type Webcam struct {
	// Device is the V4L2 device path. Empty means /dev/video0.
	Device string

	// Width and Height request a capture size; the driver picks the closest.
	// Zero uses 640x480.
	Width, Height uint32
}

// Open implements [Camera].
func (w Webcam) Open(_ context.Context) (Grabber, error) {
	path := w.Device
	if path == "" {
		path = "/dev/video0"
	}
	width, height := w.Width, w.Height
	if width == 0 || height == 0 {
		width, height = 640, 480
	}

	cam, err := webcam.Open(path)
	if err != nil {
		return nil, device.Unavailable("camera", err)
	}

	formats := cam.GetSupportedFormats()
	var want webcam.PixelFormat
	switch {
	case formats[pixFmtMJPEG] != "":
		want = pixFmtMJPEG
	case formats[pixFmtYUYV] != "":
		want = pixFmtYUYV
	default:
		_ = cam.Close()
		return nil, device.Unavailable("camera", fmt.Errorf("%s: no MJPEG or YUYV support", path))
	}

	format, gotW, gotH, err := cam.SetImageFormat(want, width, height)
	if err != nil {
		_ = cam.Close()
		return nil, device.Unavailable("camera", err)
	}
	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, device.Unavailable("camera", err)
	}
	slog.Debug("video: webcam streaming", "device", path, "format", formats[format], "width", gotW, "height", gotH)

	return &webcamGrabber{cam: cam, format: format, width: int(gotW), height: int(gotH)}, nil
}

type webcamGrabber struct {
	mu     sync.Mutex
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int
	closed bool
}

func (g *webcamGrabber) Grab(ctx context.Context) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.New("video: webcam closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := g.cam.WaitForFrame(frameTimeoutSeconds); err != nil {
		return nil, fmt.Errorf("video: wait for frame: %w", err)
	}
	frame, err := g.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("video: read frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, errors.New("video: empty frame")
	}

	switch g.format {
	case pixFmtMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, fmt.Errorf("video: decode mjpeg: %w", err)
		}
		return img, nil
	default:
		return yuyvToImage(frame, g.width, g.height)
	}
}

func (g *webcamGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	_ = g.cam.StopStreaming()
	return g.cam.Close()
}
