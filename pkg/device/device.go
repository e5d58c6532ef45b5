// Package device holds the error shared by every local capture device (microphone,
// speaker, camera). A device that cannot be acquired, because the user denied
// permission or because no hardware is present, reports an error wrapping
// [ErrUnavailable]. The affected component stays idle; nothing is retried.
package device

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when a capture or playback device cannot be acquired.
var ErrUnavailable = errors.New("device unavailable")

// Unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds while the
// underlying reason stays visible. kind names the device, e.g. "microphone".
func Unavailable(kind string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", kind, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", kind, ErrUnavailable, cause)
}
