package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/convert"
	"github.com/jo-hoe/schedule2cal/internal/util"
)

var errNoDownload = errors.New("no download pending")

// slotSaver keeps the last saved calendar in memory until the handler streams it.
type slotSaver struct {
	mu sync.Mutex
	d  *convert.Download
}

func (s *slotSaver) Save(ctx context.Context, d convert.Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = &d
	return nil
}

// take returns the pending download and clears the slot.
func (s *slotSaver) take() (convert.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d == nil {
		return convert.Download{}, errNoDownload
	}
	d := *s.d
	s.d = nil
	return d, nil
}

type session struct {
	id     string
	client *convert.Client
	slot   *slotSaver

	mu       sync.Mutex
	lastSeen time.Time
	flash    string
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *session) setFlash(msg string) {
	s.mu.Lock()
	s.flash = msg
	s.mu.Unlock()
}

// message returns the text shown on the page: a pending flash or the client's last status.
func (s *session) message() string {
	s.mu.Lock()
	flash := s.flash
	s.flash = ""
	s.mu.Unlock()
	if flash != "" {
		return flash
	}
	return s.client.Status().Message
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	newFn    func(id string) *session
	now      func() time.Time
}

func newSessionStore(newFn func(id string) *session) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*session),
		newFn:    newFn,
		now:      time.Now,
	}
}

// acquire returns the caller's session, creating one and setting the cookie when needed.
func (st *sessionStore) acquire(w http.ResponseWriter, r *http.Request) *session {
	now := st.now()
	if c, err := r.Cookie(common.SessionCookieName); err == nil && util.IsID(c.Value) {
		st.mu.Lock()
		s, ok := st.sessions[c.Value]
		st.mu.Unlock()
		if ok {
			s.touch(now)
			return s
		}
	}

	id := util.NewID()
	s := st.newFn(id)
	s.lastSeen = now
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// lookup returns an existing session without creating one.
func (st *sessionStore) lookup(r *http.Request) (*session, bool) {
	c, err := r.Cookie(common.SessionCookieName)
	if err != nil || !util.IsID(c.Value) {
		return nil, false
	}
	st.mu.Lock()
	s, ok := st.sessions[c.Value]
	st.mu.Unlock()
	if ok {
		s.touch(st.now())
	}
	return s, ok
}

// sweep closes sessions idle for longer than ttl and returns how many were removed.
// Sessions with a conversion in flight are kept.
func (st *sessionStore) sweep(ttl time.Duration) int {
	cutoff := st.now().Add(-ttl)
	var expired []*session

	st.mu.Lock()
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) && !s.client.Busy() {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.client.Close()
	}
	return len(expired)
}

func (st *sessionStore) closeAll() {
	st.mu.Lock()
	all := st.sessions
	st.sessions = make(map[string]*session)
	st.mu.Unlock()
	for _, s := range all {
		s.client.Close()
	}
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
