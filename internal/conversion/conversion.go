package conversion

import (
	"context"
	"errors"
	"fmt"
)

// Upload is the image payload sent to the conversion service.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Service converts a schedule image into calendar bytes.
type Service interface {
	// Convert sends the image to the service and returns the raw response body.
	// The body is treated as opaque calendar data.
	Convert(ctx context.Context, up Upload) ([]byte, error)
}

// TransportError reports an unreachable service, a timeout or a non-success status.
type TransportError struct {
	StatusCode int    // zero when no response was received
	Snippet    string // truncated response body for diagnostics
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Snippet != "" {
			return fmt.Sprintf("conversion service status %d: %s", e.StatusCode, e.Snippet)
		}
		return fmt.Sprintf("conversion service status %d", e.StatusCode)
	}
	return fmt.Sprintf("conversion service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError reports a failure turning a successful response into a downloadable calendar.
type ResponseError struct {
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("handle conversion response: %v", e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsResponse reports whether err is, or wraps, a *ResponseError.
func IsResponse(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}
