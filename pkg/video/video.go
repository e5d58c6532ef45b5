// Package video grabs still frames from a camera and turns them into small
// JPEG snapshots suitable for one-shot classification.
package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// SnapshotWidth and SnapshotHeight are the default snapshot dimensions.
	SnapshotWidth  = 120
	SnapshotHeight = 90

	// SnapshotQuality is the default JPEG quality (1-100).
	SnapshotQuality = 30
)

// Camera acquires a video input device.
type Camera interface {
	// Open starts the device. Failure to acquire it (permission denied, no
	// device) yields an error wrapping device.ErrUnavailable.
	Open(ctx context.Context) (Grabber, error)
}

// Grabber returns the most recent frame of an open camera.
type Grabber interface {
	// Grab returns the current frame.
	Grab(ctx context.Context) (image.Image, error)

	// Close releases the device.
	Close() error
}

// Snapshot scales img to width x height and encodes it as JPEG at quality.
func Snapshot(img image.Image, width, height, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("video: snapshot: nil image")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("video: snapshot: invalid size %dx%d", width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("video: snapshot: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
