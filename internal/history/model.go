package history

import (
	"context"
	"time"
)

// Attempt describes one conversion trigger and its outcome.
// It never carries the image or the calendar bytes.
type Attempt struct {
	ID          string    // UUIDv4
	Filename    string    // selected image filename, empty for no_input
	ContentType string    // selected image media type
	ImageSize   int64     // bytes sent to the conversion service
	Outcome     string    // succeeded|failed|no_input
	Error       string    // diagnostic error text for failed attempts
	ResultSize  int64     // calendar bytes handed to the saver
	StartedAt   time.Time // when convert was triggered
	CompletedAt time.Time // when the outcome was known
}

// Store defines persistence for conversion attempts.
type Store interface {
	Record(ctx context.Context, a Attempt) error
	List(ctx context.Context, limit int) ([]Attempt, error)
	Close() error
}
