package server

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
	"github.com/jo-hoe/schedule2cal/internal/convert"
	"github.com/jo-hoe/schedule2cal/internal/storage"
)

//go:embed templates/index.html
var templateFS embed.FS

const invalidUploadMessage = "Please choose an image file."

// Service wires the web front-end to the conversion service.
type Service struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	Conversion conversion.Service
	// Optional collaborators handed to every session client.
	Previews *storage.PreviewStore
	Recorder convert.Recorder
	Validate func([]byte) error

	once     sync.Once
	sessions *sessionStore
	tmpl     *template.Template
}

func (svc *Service) init() {
	svc.once.Do(func() {
		svc.tmpl = template.Must(template.New("index.html").Funcs(template.FuncMap{
			"bytes": func(n int) string { return humanize.Bytes(uint64(n)) },
		}).ParseFS(templateFS, "templates/index.html"))
		svc.sessions = newSessionStore(svc.newSession)
	})
}

func (svc *Service) newSession(id string) *session {
	slot := &slotSaver{}
	logger := svc.Log.With().Str("session", id[:8]).Logger()
	opts := convert.Options{
		Messages: svc.Cfg.Client.Messages,
		Recorder: svc.Recorder,
		Validate: svc.Validate,
		Logger:   &logger,
	}
	if svc.Previews != nil {
		opts.Previewer = svc.Previews
	}
	return &session{
		id:     id,
		client: convert.New(svc.Conversion, slot, opts),
		slot:   slot,
	}
}

// Close ends every session and revokes their previews.
func (svc *Service) Close() {
	svc.init()
	svc.sessions.closeAll()
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	svc.init()
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodGet+" "+common.PathIndex+"{$}", svc.handleIndex)
	mux.HandleFunc(http.MethodPost+" "+common.PathSelect, svc.withUploadLimit(svc.handleSelect))
	mux.HandleFunc(http.MethodGet+" "+common.PathPreview, svc.handlePreview)
	mux.HandleFunc(http.MethodPost+" "+common.PathConvert, svc.handleConvert)

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

func (svc *Service) withUploadLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			// room for the multipart envelope around the image
			r.Body = http.MaxBytesReader(w, r.Body, max+64*1024)
		}
		next.ServeHTTP(w, r)
	}
}

type pageData struct {
	Message   string
	State     string
	Busy      bool
	HasImage  bool
	Filename  string
	Size      int
	Preview   bool
	PreviewID string
	Width     int
	Height    int
}

func (svc *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	s := svc.sessions.acquire(w, r)
	data := pageData{
		Message: s.message(),
		State:   s.client.State().String(),
		Busy:    s.client.Busy(),
	}
	if img, ok := s.client.Image(); ok {
		data.HasImage = true
		data.Filename = img.Filename
		data.Size = len(img.Data)
	}
	if p, ok := s.client.Preview(); ok {
		data.Preview = true
		data.PreviewID = p.ID
		data.Width, data.Height = p.Width, p.Height
	}

	w.Header().Set(common.HeaderContentType, common.ContentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	if err := svc.tmpl.Execute(w, data); err != nil {
		svc.Log.Error().Err(err).Msg("render index")
	}
}

func (svc *Service) handleSelect(w http.ResponseWriter, r *http.Request) {
	s := svc.sessions.acquire(w, r)
	max := safeInt64(svc.Cfg.Server.MaxUploadSize)

	if err := r.ParseMultipartForm(max); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[common.FormFieldImage]
	if len(files) == 0 {
		s.setFlash(svc.Cfg.Client.Messages.NoImage)
		redirectIndex(w, r)
		return
	}
	img, err := storage.ReadMultipartImage(files[0], max)
	if err != nil {
		svc.Log.Warn().Err(err).Str("file", files[0].Filename).Msg("upload rejected")
		if errors.Is(err, storage.ErrTooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.setFlash(invalidUploadMessage)
		redirectIndex(w, r)
		return
	}

	if err := s.client.Select(img); err != nil {
		if errors.Is(err, convert.ErrBusy) {
			s.setFlash(svc.Cfg.Client.Messages.Busy)
			redirectIndex(w, r)
			return
		}
		svc.Log.Error().Err(err).Msg("select image")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	redirectIndex(w, r)
}

func (svc *Service) handlePreview(w http.ResponseWriter, r *http.Request) {
	s, ok := svc.sessions.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	p, ok := s.client.Preview()
	if !ok || p.Path == "" {
		http.NotFound(w, r)
		return
	}
	if img, ok := s.client.Image(); ok && img.ContentType != "" {
		w.Header().Set(common.HeaderContentType, img.ContentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, p.Path)
}

func (svc *Service) handleConvert(w http.ResponseWriter, r *http.Request) {
	s := svc.sessions.acquire(w, r)
	st := s.client.Convert(r.Context())
	if st.Err != nil {
		if errors.Is(st.Err, convert.ErrBusy) {
			s.setFlash(st.Message)
		}
		redirectIndex(w, r)
		return
	}

	d, err := s.slot.take()
	if err != nil {
		svc.Log.Error().Err(err).Msg("calendar missing after successful conversion")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set(common.HeaderContentType, d.MediaType)
	w.Header().Set(common.HeaderContentDisposition, `attachment; filename="`+d.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(d.Data); err != nil {
		svc.Log.Warn().Err(err).Msg("stream calendar")
	}
}

func redirectIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, common.PathIndex, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.code).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http")
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
