package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/proto"
)

// Monitor evicts unresponsive connections. Every interval it snapshots the
// registry and walks the snapshot, so it never holds the registry lock for
// the duration of a sweep; connections added mid-sweep are picked up on the
// next cycle.
type Monitor struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	log       *zerolog.Logger
	now       func() time.Time
}

// NewMonitor builds a monitor. threshold of zero defaults to twice the
// interval (two missed heartbeats).
func NewMonitor(registry *Registry, interval, threshold time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 2 * interval
	}
	return &Monitor{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		log:       logger,
		now:       time.Now,
	}
}

// Run sweeps until the context is cancelled. Call in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Dur("threshold", m.threshold).Msg("health monitor started")
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			m.log.Info().Msg("health monitor stopped")
			return
		}
	}
}

func (m *Monitor) sweep() {
	now := m.now()
	for _, c := range m.registry.Snapshot() {
		idle := now.Sub(c.LastActive())
		switch {
		case idle > m.threshold:
			m.registry.Unregister(c.Handle)
			_ = c.Close()
			m.log.Warn().
				Str("conn", c.Handle).
				Str("role", c.Role().String()).
				Str("user", c.UserID()).
				Dur("idle", idle).
				Msg("connection evicted")
		case idle > m.interval:
			// One missed heartbeat: probe before giving up on it.
			if err := c.Send(proto.New(proto.TypeHeartbeat, "ping")); err != nil {
				m.log.Debug().Err(err).Str("conn", c.Handle).Msg("heartbeat probe failed")
			}
		}
	}
}
