//go:build !linux

package video

import (
	"context"
	"errors"

	"github.com/MrWong99/neurolink/pkg/device"
)

// Compile-time interface assertion.
var _ Camera = Webcam{}

// Webcam is only supported on Linux (V4L2). On other platforms Open always
// reports the camera as unavailable.
type Webcam struct {
	Device        string
	Width, Height uint32
}

// Open implements [Camera].
func (Webcam) Open(context.Context) (Grabber, error) {
	return nil, device.Unavailable("camera", errors.New("webcam capture requires linux"))
}
