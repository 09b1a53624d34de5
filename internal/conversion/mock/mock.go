package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
)

var _ conversion.Service = (*Client)(nil)

// Client is an offline conversion provider. It never looks at the image and
// answers with a canned calendar after the configured delay.
type Client struct {
	delay    time.Duration
	prodID   string
	calendar string
}

// New creates a mock provider from config.
func New(cfg config.MockSettings) *Client {
	return &Client{
		delay:    cfg.Delay,
		prodID:   cfg.ProdID,
		calendar: cfg.Calendar,
	}
}

func (c *Client) Convert(ctx context.Context, up conversion.Upload) ([]byte, error) {
	if len(up.Data) == 0 {
		return nil, &conversion.TransportError{StatusCode: 400, Snippet: "image is empty"}
	}
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &conversion.TransportError{Err: ctx.Err()}
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, &conversion.TransportError{Err: err}
	}

	if c.calendar != "" {
		data, err := os.ReadFile(filepath.Clean(c.calendar))
		if err != nil {
			return nil, &conversion.TransportError{StatusCode: 500, Err: fmt.Errorf("read canned calendar: %w", err)}
		}
		return data, nil
	}
	return c.emptyCalendar()
}

func (c *Client) emptyCalendar() ([]byte, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(c.prodID)
	out := cal.Serialize()
	if out == "" {
		return nil, &conversion.ResponseError{Err: errors.New("empty calendar serialization")}
	}
	return []byte(out), nil
}
