package usecase

import (
	"errors"

	"github.com/example/faceid/internal/capture"
	"github.com/example/faceid/internal/device"
	"github.com/example/faceid/internal/outcome"
	"github.com/example/faceid/internal/packager"
	"github.com/example/faceid/internal/verification"
)

var errPackaging = errors.New("packaging failed")

// classify maps any pipeline failure onto exactly one outcome code.
func classify(err error) ErrorInfo {
	var verr *verification.Error
	if errors.As(err, &verr) {
		code := map[verification.Kind]outcome.Code{
			verification.Timeout:            outcome.Timeout,
			verification.NetworkUnreachable: outcome.NetworkUnreachable,
			verification.BackendRejected:    outcome.BackendRejected,
			verification.MalformedResponse:  outcome.MalformedResponse,
		}[verr.Kind]
		if code == "" {
			code = outcome.UnexpectedError
		}
		msg := verr.Message
		if msg == "" {
			msg = code.DefaultMessage()
		}
		return ErrorInfo{Code: code, Message: msg}
	}

	code := outcome.UnexpectedError
	switch {
	case errors.Is(err, device.ErrEnumeration):
		code = outcome.DeviceEnumerationError
	case errors.Is(err, device.ErrPermissionDenied):
		code = outcome.PermissionDenied
	case errors.Is(err, device.ErrDeviceUnavailable):
		code = outcome.DeviceUnavailable
	case errors.Is(err, capture.ErrInterrupted), errors.Is(err, device.ErrStreamClosed):
		code = outcome.CaptureInterrupted
	case errors.Is(err, outcome.ErrMalformed):
		code = outcome.MalformedResponse
	case errors.Is(err, packager.ErrNoFrames), errors.Is(err, errPackaging):
		code = outcome.PackagingError
	}
	return ErrorInfo{Code: code, Message: code.DefaultMessage()}
}
