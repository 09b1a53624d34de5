package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion/backend"
	"github.com/jo-hoe/schedule2cal/internal/storage"
)

const calendarBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nEND:VCALENDAR\r\n"

type fixture struct {
	app      *httptest.Server
	backend  *httptest.Server
	calls    *int32
	status   *int32
	svc      *Service
	previews *storage.PreviewStore
}

func testConfig(baseURL, dir string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{Provider: "http", BaseURL: baseURL, Timeout: 2 * time.Second},
		Client: config.ClientConfig{Messages: config.MessagesConfig{
			NoImage: "Please upload an image first.",
			Success: "Calendar downloaded successfully!",
			Failure: "Failed to convert schedule. Please try again.",
			Busy:    "A conversion is already in progress.",
		}},
		Server: config.ServerConfig{
			MaxUploadSize:   1024 * 1024,
			StorageDir:      dir,
			SessionTTL:      time.Minute,
			JanitorInterval: time.Minute,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var calls int32
	status := int32(http.StatusOK)
	be := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if code := int(atomic.LoadInt32(&status)); code != http.StatusOK {
			http.Error(w, "boom", code)
			return
		}
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, calendarBody)
	}))
	t.Cleanup(be.Close)

	dir := t.TempDir()
	cfg := testConfig(be.URL, dir)
	previews := storage.NewPreviewStore(dir)
	svc := &Service{
		Log:        zerolog.Nop(),
		Cfg:        cfg,
		Conversion: backend.New(cfg.Backend),
		Previews:   previews,
	}
	app := httptest.NewServer(NewHTTPServer(svc).Handler)
	t.Cleanup(app.Close)
	t.Cleanup(svc.Close)

	return &fixture{app: app, backend: be, calls: &calls, status: &status, svc: svc, previews: previews}
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func uploadImage(t *testing.T, c *http.Client, baseURL, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	resp, err := c.Post(baseURL+"/select", w.FormDataContentType(), &b)
	if err != nil {
		t.Fatalf("POST /select: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.app.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, out)
	}
}

func TestIndex_SetsSessionCookie(t *testing.T) {
	f := newFixture(t)
	c := newBrowser(t)
	resp, err := c.Get(f.app.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Convert to calendar") {
		t.Fatalf("index = %d %q", resp.StatusCode, body)
	}
	found := false
	for _, ck := range resp.Cookies() {
		if ck.Name == "schedule2cal_session" && ck.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Fatalf("session cookie not set")
	}
}

func TestConvert_WithoutImageShowsGuidance(t *testing.T) {
	f := newFixture(t)
	c := newBrowser(t)

	resp, err := c.Post(f.app.URL+"/convert", "", nil)
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "Please upload an image first.") {
		t.Fatalf("guidance message missing: %q", body)
	}
	if atomic.LoadInt32(f.calls) != 0 {
		t.Fatalf("backend should not be called, got %d", *f.calls)
	}
}

func TestSelectPreviewAndConvert_DownloadsCalendar(t *testing.T) {
	f := newFixture(t)
	c := newBrowser(t)

	img := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 2560)
	resp := uploadImage(t, c, f.app.URL, "sched.png", "image/png", img)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "sched.png") {
		t.Fatalf("select did not show the image: %d %q", resp.StatusCode, body)
	}

	resp, err := c.Get(f.app.URL + "/preview")
	if err != nil {
		t.Fatalf("GET /preview: %v", err)
	}
	preview := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || preview != string(img) {
		t.Fatalf("preview = %d, %d bytes", resp.StatusCode, len(preview))
	}

	resp, err = c.Post(f.app.URL+"/convert", "", nil)
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	got := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("convert status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/calendar" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="schedule.ics"` {
		t.Fatalf("content disposition = %q", cd)
	}
	if got != calendarBody {
		t.Fatalf("calendar bytes mismatch: %q", got)
	}
	if atomic.LoadInt32(f.calls) != 1 {
		t.Fatalf("expected one backend call, got %d", *f.calls)
	}

	resp, err = c.Get(f.app.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	if page := readBody(t, resp); !strings.Contains(page, "Calendar downloaded successfully!") {
		t.Fatalf("success message missing: %q", page)
	}
}

func TestConvert_BackendFailureShowsFailureMessage(t *testing.T) {
	f := newFixture(t)
	atomic.StoreInt32(f.status, http.StatusInternalServerError)
	c := newBrowser(t)

	_ = readBody(t, uploadImage(t, c, f.app.URL, "sched.png", "image/png", []byte("png")))
	resp, err := c.Post(f.app.URL+"/convert", "", nil)
	if err != nil {
		t.Fatalf("POST /convert: %v", err)
	}
	body := readBody(t, resp)
	if resp.Header.Get("Content-Disposition") != "" {
		t.Fatalf("no download expected on failure")
	}
	if !strings.Contains(body, "Failed to convert schedule. Please try again.") {
		t.Fatalf("failure message missing: %q", body)
	}
}

func TestSelect_RejectsNonImage(t *testing.T) {
	f := newFixture(t)
	c := newBrowser(t)
	body := readBody(t, uploadImage(t, c, f.app.URL, "notes.txt", "text/plain", []byte("hello")))
	if !strings.Contains(body, invalidUploadMessage) {
		t.Fatalf("expected invalid upload message: %q", body)
	}
	if strings.Contains(body, "notes.txt") {
		t.Fatalf("non-image should not be selected")
	}
}

func TestPreview_WithoutSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.app.URL + "/preview")
	if err != nil {
		t.Fatalf("GET /preview: %v", err)
	}
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSweepSessions_ClosesIdleSessions(t *testing.T) {
	f := newFixture(t)
	c := newBrowser(t)
	_ = readBody(t, uploadImage(t, c, f.app.URL, "sched.png", "image/png", []byte("png")))
	if f.previews.Live() != 1 || f.svc.sessions.len() != 1 {
		t.Fatalf("live previews = %d sessions = %d", f.previews.Live(), f.svc.sessions.len())
	}

	f.svc.sessions.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.svc.SweepSessions()

	if f.svc.sessions.len() != 0 {
		t.Fatalf("idle session not removed")
	}
	if f.previews.Live() != 0 {
		t.Fatalf("preview not revoked on sweep, live = %d", f.previews.Live())
	}
}

func TestStartJanitor(t *testing.T) {
	f := newFixture(t)
	stop, err := f.svc.StartJanitor()
	if err != nil {
		t.Fatalf("StartJanitor: %v", err)
	}
	stop()
}
