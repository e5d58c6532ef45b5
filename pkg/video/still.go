package video

import (
	"context"
	"fmt"
	"image"
	"os"

	// Register decoders for LoadStill.
	_ "image/jpeg"
	_ "image/png"

	"github.com/MrWong99/neurolink/pkg/device"
)

// Compile-time interface assertion.
var _ Camera = (*StillCamera)(nil)

// StillCamera serves the same image on every Grab. It stands in for a real
// camera when running the focus probe against a recorded frame.
type StillCamera struct {
	Image image.Image
}

// LoadStill reads a JPEG or PNG file into a StillCamera.
func LoadStill(path string) (*StillCamera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, device.Unavailable("camera", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("video: decode %s: %w", path, err)
	}
	return &StillCamera{Image: img}, nil
}

// Open implements [Camera].
func (c *StillCamera) Open(context.Context) (Grabber, error) {
	if c.Image == nil {
		return nil, device.Unavailable("camera", fmt.Errorf("no still image"))
	}
	return stillGrabber{img: c.Image}, nil
}

type stillGrabber struct{ img image.Image }

func (g stillGrabber) Grab(context.Context) (image.Image, error) { return g.img, nil }
func (stillGrabber) Close() error                                 { return nil }
