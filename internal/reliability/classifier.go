package reliability

import (
	"strings"
	"time"
)

// CaptureErrorKind is the normalized taxonomy for speech capture failures.
type CaptureErrorKind string

const (
	CapturePermissionDenied CaptureErrorKind = "permission_denied"
	CaptureNoMicrophone     CaptureErrorKind = "no_microphone"
	CaptureNoSpeech         CaptureErrorKind = "no_speech"
	CaptureNetwork          CaptureErrorKind = "network"
	CaptureAborted          CaptureErrorKind = "aborted"
	CaptureUnknown          CaptureErrorKind = "unknown"
)

// ClassifyCaptureError maps recognizer error codes (browser Web Speech codes
// and our own normalized names) onto CaptureErrorKind.
func ClassifyCaptureError(code string) CaptureErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "not-allowed", "service-not-allowed", "permission-denied", "permission_denied":
		return CapturePermissionDenied
	case "audio-capture", "no-microphone", "no_microphone":
		return CaptureNoMicrophone
	case "no-speech", "no_speech":
		return CaptureNoSpeech
	case "network":
		return CaptureNetwork
	case "aborted":
		return CaptureAborted
	default:
		return CaptureUnknown
	}
}

// IsTerminalCaptureError reports whether capture must not be restarted
// automatically. Terminal errors need the user to fix something first.
func IsTerminalCaptureError(kind CaptureErrorKind) bool {
	switch kind {
	case CapturePermissionDenied, CaptureNoMicrophone:
		return true
	default:
		return false
	}
}

// ShouldSurfaceCaptureError reports whether the user should be told.
func ShouldSurfaceCaptureError(kind CaptureErrorKind) bool {
	switch kind {
	case CapturePermissionDenied, CaptureNoMicrophone, CaptureNetwork:
		return true
	default:
		return false
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
