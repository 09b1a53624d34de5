package mock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
)

func TestMock_Convert_EmptyCalendar(t *testing.T) {
	c := New(config.MockSettings{ProdID: "-//test//EN"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := c.Convert(ctx, conversion.Upload{Filename: "a.png", ContentType: "image/png", Data: []byte("img")})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "BEGIN:VCALENDAR") || !strings.Contains(s, "END:VCALENDAR") {
		t.Fatalf("not a calendar: %q", s)
	}
	if !strings.Contains(s, "-//test//EN") {
		t.Fatalf("prodid missing: %q", s)
	}
}

func TestMock_Convert_CannedFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "canned.ics")
	if err := os.WriteFile(p, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := New(config.MockSettings{Calendar: p})
	out, err := c.Convert(context.Background(), conversion.Upload{Data: []byte("img")})
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if string(out) != "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n" {
		t.Fatalf("unexpected body %q", out)
	}
}

func TestMock_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Convert(ctx, conversion.Upload{Data: []byte("x")})
	if !conversion.IsTransport(err) {
		t.Fatalf("expected transport error on cancellation, got %v", err)
	}
}

func TestMock_RejectsEmptyImage(t *testing.T) {
	c := New(config.MockSettings{})
	if _, err := c.Convert(context.Background(), conversion.Upload{}); err == nil {
		t.Fatalf("expected error for empty image")
	}
}
