package server

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJanitorInterval = 5 * time.Minute

// StartJanitor schedules the idle-session sweep. The returned func stops the
// scheduler and waits for a running sweep to finish.
func (svc *Service) StartJanitor() (func(), error) {
	svc.init()
	interval := svc.Cfg.Server.JanitorInterval
	if interval <= 0 {
		interval = defaultJanitorInterval
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), svc.SweepSessions); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	svc.Log.Info().Dur("interval", interval).Dur("session_ttl", svc.Cfg.Server.SessionTTL).Msg("session janitor started")

	return func() {
		ctx := c.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
		}
	}, nil
}

// SweepSessions closes sessions idle for longer than the configured TTL.
func (svc *Service) SweepSessions() {
	svc.init()
	ttl := svc.Cfg.Server.SessionTTL
	if ttl <= 0 {
		return
	}
	if n := svc.sessions.sweep(ttl); n > 0 {
		svc.Log.Info().Int("closed", n).Int("remaining", svc.sessions.len()).Msg("idle sessions closed")
	}
}
