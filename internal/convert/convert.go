package convert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
	"github.com/jo-hoe/schedule2cal/internal/history"
	"github.com/jo-hoe/schedule2cal/internal/util"
)

var (
	// ErrNoInput is reported when Convert runs before any image was selected.
	ErrNoInput = errors.New("no image selected")
	// ErrBusy is reported when a conversion is already in flight.
	ErrBusy = errors.New("conversion already in progress")
)

// State is the per-interaction lifecycle of a Client.
type State int

const (
	StateIdle State = iota
	StateImageSelected
	StateConverting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateImageSelected:
		return "image_selected"
	case StateConverting:
		return "converting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SelectedImage is the image the user picked. The client takes ownership of Data.
type SelectedImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Download is the calendar handed to a Saver.
type Download struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Preview is a revocable display reference for the selected image.
type Preview struct {
	ID     string
	Path   string
	Format string
	Width  int
	Height int
	Size   int64
	Revoke func() error
}

// Saver performs the platform-specific "save as file" step.
type Saver interface {
	Save(ctx context.Context, d Download) error
}

// Previewer issues preview references for selected images.
type Previewer interface {
	Preview(img SelectedImage) (Preview, error)
}

// Recorder receives one history entry per Convert call.
type Recorder interface {
	Record(ctx context.Context, a history.Attempt) error
}

// Status is what the user sees after an operation, plus the cause for diagnostics.
type Status struct {
	State   State
	Message string
	Err     error
}

// Options configures optional collaborators of a Client.
type Options struct {
	Messages  config.MessagesConfig
	Previewer Previewer
	Recorder  Recorder
	// Validate, when set, checks the response body before it is saved.
	Validate func([]byte) error
	Logger   *zerolog.Logger // nil disables logging
}

// Client orchestrates the image to calendar round trip for one user.
type Client struct {
	svc       conversion.Service
	saver     Saver
	previewer Previewer
	recorder  Recorder
	validate  func([]byte) error
	msgs      config.MessagesConfig
	log       zerolog.Logger

	busy atomic.Bool

	mu      sync.Mutex
	state   State
	image   *SelectedImage
	preview *Preview
	status  Status
}

// New creates a client that sends images to svc and hands results to saver.
func New(svc conversion.Service, saver Saver, opts Options) *Client {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		svc:       svc,
		saver:     saver,
		previewer: opts.Previewer,
		recorder:  opts.Recorder,
		validate:  opts.Validate,
		msgs:      opts.Messages,
		log:       logger,
		state:     StateIdle,
		status:    Status{State: StateIdle},
	}
}

// Select replaces the held image and its preview. It is rejected while a conversion is in flight.
func (c *Client) Select(img SelectedImage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy.Load() {
		return ErrBusy
	}

	c.revokePreviewLocked()
	held := img
	c.image = &held
	c.state = StateImageSelected
	c.status.State = StateImageSelected

	if c.previewer != nil {
		p, err := c.previewer.Preview(held)
		if err != nil {
			c.log.Warn().Err(err).Str("file", img.Filename).Msg("preview unavailable")
		} else {
			c.preview = &p
		}
	}
	c.log.Info().
		Str("file", img.Filename).
		Str("content_type", img.ContentType).
		Int("bytes", len(img.Data)).
		Msg("image selected")
	return nil
}

// Convert sends the held image to the conversion service and saves the calendar.
// Every outcome, including no image and busy, is reported through the returned Status.
func (c *Client) Convert(ctx context.Context) Status {
	if !c.busy.CompareAndSwap(false, true) {
		c.log.Warn().Msg("convert ignored, another conversion is in flight")
		return Status{State: StateConverting, Message: c.msgs.Busy, Err: ErrBusy}
	}
	defer c.busy.Store(false)

	attempt := history.Attempt{ID: util.NewID(), StartedAt: time.Now().UTC()}

	c.mu.Lock()
	if c.image == nil {
		c.status = Status{State: c.state, Message: c.msgs.NoImage, Err: ErrNoInput}
		st := c.status
		c.mu.Unlock()

		c.log.Info().Msg("convert requested without an image")
		attempt.Outcome = common.OutcomeNoInput
		c.record(ctx, attempt)
		return st
	}
	up := conversion.Upload{
		Filename:    c.image.Filename,
		ContentType: c.image.ContentType,
		Data:        c.image.Data,
	}
	c.state = StateConverting
	c.status = Status{State: StateConverting}
	c.mu.Unlock()

	attempt.Filename = up.Filename
	attempt.ContentType = up.ContentType
	attempt.ImageSize = int64(len(up.Data))

	size, err := c.roundTrip(ctx, up)

	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		c.status = Status{State: StateFailed, Message: c.msgs.Failure, Err: err}
	} else {
		c.state = StateSucceeded
		c.status = Status{State: StateSucceeded, Message: c.msgs.Success}
	}
	st := c.status
	c.mu.Unlock()

	attempt.CompletedAt = time.Now().UTC()
	if err != nil {
		c.log.Error().Err(err).
			Str("file", up.Filename).
			Bool("transport", conversion.IsTransport(err)).
			Dur("duration", attempt.CompletedAt.Sub(attempt.StartedAt)).
			Msg("conversion failed")
		attempt.Outcome = common.OutcomeFailed
		attempt.Error = err.Error()
	} else {
		c.log.Info().
			Str("file", up.Filename).
			Int64("calendar_bytes", size).
			Dur("duration", attempt.CompletedAt.Sub(attempt.StartedAt)).
			Msg("calendar saved")
		attempt.Outcome = common.OutcomeSucceeded
		attempt.ResultSize = size
	}
	c.record(ctx, attempt)
	return st
}

// roundTrip performs one request and hands the response to the saver.
// Errors come back as *conversion.TransportError or *conversion.ResponseError.
func (c *Client) roundTrip(ctx context.Context, up conversion.Upload) (int64, error) {
	body, err := c.svc.Convert(ctx, up)
	if err != nil {
		if conversion.IsTransport(err) || conversion.IsResponse(err) {
			return 0, err
		}
		return 0, &conversion.TransportError{Err: err}
	}
	if len(body) == 0 {
		return 0, &conversion.ResponseError{Err: errors.New("empty calendar payload")}
	}
	if c.validate != nil {
		if err := c.validate(body); err != nil {
			return 0, &conversion.ResponseError{Err: err}
		}
	}

	d := Download{
		Filename:  common.CalendarFilename,
		MediaType: common.MediaTypeCalendar,
		Data:      body,
	}
	size := int64(len(body))
	if err := c.saver.Save(ctx, d); err != nil {
		return 0, &conversion.ResponseError{Err: fmt.Errorf("save calendar: %w", err)}
	}
	return size, nil
}

func (c *Client) record(ctx context.Context, a history.Attempt) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), a); err != nil {
		c.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("history record failed")
	}
}

// Status returns the latest status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a conversion is in flight.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Image returns a copy of the held image metadata and whether one is held.
func (c *Client) Image() (SelectedImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image == nil {
		return SelectedImage{}, false
	}
	return *c.image, true
}

// Preview returns the current preview reference, if any.
func (c *Client) Preview() (Preview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return Preview{}, false
	}
	return *c.preview, true
}

// Close drops the held image and revokes its preview.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revokePreviewLocked()
	c.image = nil
}

func (c *Client) revokePreviewLocked() {
	if c.preview == nil {
		return
	}
	if c.preview.Revoke != nil {
		if err := c.preview.Revoke(); err != nil {
			c.log.Warn().Err(err).Str("preview_id", c.preview.ID).Msg("preview revoke failed")
		}
	}
	c.preview = nil
}
