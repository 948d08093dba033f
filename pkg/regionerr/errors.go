// Package regionerr defines the error kinds shared by region decoders.
//
// Every failure surfaced by a decoder wraps exactly one of the kinds below, so
// callers classify with errors.Is rather than by message.
package regionerr

import "errors"

var (
	// ErrSourceUnavailable is returned when a locator cannot be opened: missing
	// file, unknown package or resource, or a failing stream.
	ErrSourceUnavailable = errors.New("regiondecoder: source unavailable")

	// ErrPackageNotFound is returned when a packaged-resource locator names a
	// package the host cannot resolve. It is always wrapped together with
	// ErrSourceUnavailable.
	ErrPackageNotFound = errors.New("regiondecoder: package not found")

	// ErrUnsupportedFormat is returned when the codec rejects the byte stream.
	ErrUnsupportedFormat = errors.New("regiondecoder: unsupported format")

	// ErrDecodeFailed is returned when the codec produced no usable pixel data.
	ErrDecodeFailed = errors.New("regiondecoder: decode failed")

	// ErrNotInitialized is returned when a decode is requested before a
	// successful Init or after Recycle.
	ErrNotInitialized = errors.New("regiondecoder: decoder not initialized")

	// ErrAlreadyInitialized is returned by a second Init on the same decoder.
	ErrAlreadyInitialized = errors.New("regiondecoder: decoder already initialized")

	// ErrInvalidRegion is returned for an empty or out-of-bounds rectangle or a
	// sample size below 1.
	ErrInvalidRegion = errors.New("regiondecoder: invalid region")

	// ErrCancelled is returned when the caller lost interest before the result
	// was produced. Subscribers never observe it.
	ErrCancelled = errors.New("regiondecoder: cancelled")
)

// Recoverable reports whether err only affects a single tile. The view layer is
// expected to skip such tiles instead of abandoning the image.
func Recoverable(err error) bool {
	return errors.Is(err, ErrDecodeFailed) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidRegion)
}
