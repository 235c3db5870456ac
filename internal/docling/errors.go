package docling

import "errors"

// Sentinel errors for the conversion-service client. Callers branch on these
// with errors.Is; raw transport detail is carried in the wrapped message and
// never shown to users directly.
var (
	// Validation failures, caught before any network call. Never retried.
	ErrFileTooLarge    = errors.New("file exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTransport covers network failures, timeouts, 5xx responses and
	// undecodable bodies. Safe to retry with backoff.
	ErrTransport = errors.New("conversion service unavailable")

	// ErrJobNotFound means the service no longer knows the job. Never retried.
	ErrJobNotFound = errors.New("job not found")

	// ErrResultNotReady means the result is not available yet, or has
	// expired server-side.
	ErrResultNotReady = errors.New("result not ready")

	// ErrUnsupportedFormat flags a download format outside
	// markdown/html/json. Programmer error, never retried.
	ErrUnsupportedFormat = errors.New("unsupported download format")
)

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrUnsupportedType)
}
