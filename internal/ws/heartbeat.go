package ws

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace period after Interval before eviction (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat runs sweep every Interval until the server shuts down.
func startHeartbeat(s *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				sweep(s, config, time.Now())
			}
		}
	}()
}

// sweep evicts connections silent for longer than Interval+Timeout and pings
// the rest. Eviction goes through RemoveConnection, so the user is
// unregistered and presence rebroadcast. Live connections get their session
// TTL refreshed.
func sweep(s *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range s.conns.All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			s.log.Info("ws: heartbeat timeout",
				zap.String("session", c.ID()),
				zap.String("user", c.UserID),
				zap.Duration("idle", idle.Round(time.Second)))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			s.log.Info("ws: heartbeat ping failed",
				zap.String("session", c.ID()),
				zap.Error(err))
			s.RemoveConnection(c)
			continue
		}

		if s.sessions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.sessions.Refresh(ctx, c.ID()); err != nil {
				s.log.Debug("ws: session refresh failed",
					zap.String("session", c.ID()),
					zap.Error(err))
			}
			cancel()
		}
	}
}
