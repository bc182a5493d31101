package outcome

import "github.com/example/faceid/internal/verification"

// Code is a closed outcome classification. Backend codes and client-side
// failure codes share one namespace so the presentation layer sees one field.
type Code string

// Backend-reported codes.
const (
	Success               Code = "SUCCESS"
	FunctionError         Code = "FUNCTION_ERROR"
	NoFaceDetected        Code = "NO_FACE_DETECTED"
	MultipleFacesDetected Code = "MULTIPLE_FACES_DETECTED"
	SpoofingDetected      Code = "SPOOFING_DETECTED"
	StorageError          Code = "STORAGE_ERROR"
	NoMatch               Code = "NO_MATCH"
	BelowThreshold        Code = "BELOW_THRESHOLD"
	UnexpectedError       Code = "UNEXPECTED_ERROR"
)

// Client-side failure codes.
const (
	DeviceEnumerationError Code = "DEVICE_ENUMERATION_ERROR"
	PermissionDenied       Code = "PERMISSION_DENIED"
	DeviceUnavailable      Code = "DEVICE_UNAVAILABLE"
	CaptureInterrupted     Code = "CAPTURE_INTERRUPTED"
	PackagingError         Code = "PACKAGING_ERROR"
	Timeout                Code = "TIMEOUT"
	NetworkUnreachable     Code = "NETWORK_UNREACHABLE"
	BackendRejected        Code = "BACKEND_REJECTED"
	MalformedResponse      Code = "MALFORMED_RESPONSE"
)

var enrollCodes = []Code{Success, FunctionError, NoFaceDetected, MultipleFacesDetected, SpoofingDetected, StorageError, UnexpectedError}

var authenticateCodes = []Code{Success, FunctionError, NoFaceDetected, MultipleFacesDetected, SpoofingDetected, NoMatch, BelowThreshold, UnexpectedError}

// FromWire maps a numeric backend code for route. Unknown values are the
// route's UNEXPECTED_ERROR.
func FromWire(route verification.Route, n int) Code {
	codes := enrollCodes
	if route == verification.Authenticate {
		codes = authenticateCodes
	}
	if n < 0 || n >= len(codes) {
		return UnexpectedError
	}
	return codes[n]
}

// Wire returns the numeric value of c for route, or -1 when route has no such code.
func (c Code) Wire(route verification.Route) int {
	codes := enrollCodes
	if route == verification.Authenticate {
		codes = authenticateCodes
	}
	for i, candidate := range codes {
		if candidate == c {
			return i
		}
	}
	return -1
}

var defaultMessages = map[Code]string{
	Success:                "Success",
	FunctionError:          "Verification service reported an internal error",
	NoFaceDetected:         "No face detected",
	MultipleFacesDetected:  "Multiple faces detected",
	SpoofingDetected:       "Spoofing detected",
	StorageError:           "Enrollment could not be stored",
	NoMatch:                "No matching identity",
	BelowThreshold:         "Best match is below the acceptance threshold",
	UnexpectedError:        "Unexpected error",
	DeviceEnumerationError: "No camera capability available",
	PermissionDenied:       "Camera permission denied",
	DeviceUnavailable:      "Camera unavailable",
	CaptureInterrupted:     "Capture interrupted",
	PackagingError:         "Captured images could not be prepared",
	Timeout:                "Verification request timed out",
	NetworkUnreachable:     "Verification service unreachable",
	BackendRejected:        "Verification service rejected the request",
	MalformedResponse:      "Verification service returned an unreadable response",
}

// DefaultMessage is the human-readable fallback for c.
func (c Code) DefaultMessage() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return string(c)
}
