// Package device owns capture device discovery and the lifecycle of the single
// live stream a session may hold.
package device

import (
	"context"
	"errors"
)

var (
	// ErrEnumeration means the platform cannot list capture devices at all.
	ErrEnumeration = errors.New("device enumeration unavailable")
	// ErrPermissionDenied means the platform refused access to the camera.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable means the requested device could not be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrStreamClosed is returned by a Stream that has been stopped or lost its source.
	ErrStreamClosed = errors.New("stream closed")
)

// CaptureDevice identifies one camera as reported by the platform.
type CaptureDevice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Resolution is the preferred frame size requested when opening a stream.
type Resolution struct {
	Width  int
	Height int
}

// Stream is an exclusively owned live video source bound to one device.
type Stream interface {
	DeviceID() string
	// Snapshot returns the current video frame as an encoded still image.
	Snapshot(ctx context.Context) ([]byte, error)
	// Stop releases the hardware. It is safe to call more than once.
	Stop() error
}

// Platform is the camera capability the Manager drives.
type Platform interface {
	Devices(ctx context.Context) ([]CaptureDevice, error)
	// Open starts a stream. An empty deviceID selects the platform default.
	Open(ctx context.Context, deviceID string, hint Resolution) (Stream, error)
}
