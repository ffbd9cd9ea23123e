// Package daemon runs the background sync loop: a periodic full cycle plus
// on-demand triggers, skipping work while the backend is unreachable.
package daemon

import (
	"context"
	"errors"
	"log"
	"time"

	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

// Config configures the daemon.
type Config struct {
	// Interval between automatic sync cycles. Default 30s.
	Interval time.Duration

	// Logger receives daemon lifecycle messages.
	Logger *log.Logger
}

// Daemon owns the periodic sync loop.
type Daemon struct {
	engine   *syncengine.Engine
	conn     *syncengine.Connectivity
	interval time.Duration
	logger   *log.Logger
	trigger  chan struct{}
}

// New creates a daemon around an engine and its connectivity tracker.
func New(engine *syncengine.Engine, conn *syncengine.Connectivity, cfg Config) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[daemon] ", log.LstdFlags)
	}
	d := &Daemon{
		engine:   engine,
		conn:     conn,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		trigger:  make(chan struct{}, 1),
	}
	// Coming back online is worth an immediate cycle instead of waiting
	// out the ticker.
	conn.OnChange(func(online bool) {
		if online {
			d.TriggerSync()
		}
	})
	return d
}

// TriggerSync requests a cycle outside the regular interval. Requests
// arriving while one is already queued coalesce.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until the context is canceled, syncing on the interval and on
// triggers. The connectivity tracker runs alongside it.
func (d *Daemon) Run(ctx context.Context) {
	d.logger.Printf("starting sync daemon (interval %v)", d.interval)

	go d.conn.Run(ctx)

	// First cycle right away so a fresh start does not sit idle for a
	// full interval.
	d.runCycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("sync daemon stopped")
			return
		case <-ticker.C:
			d.runCycle(ctx)
		case <-d.trigger:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	if !d.conn.Current().Online {
		d.logger.Printf("offline, skipping sync cycle")
		return
	}

	if _, err := d.engine.RunFullCycle(ctx); err != nil {
		if errors.Is(err, syncengine.ErrSyncInProgress) || errors.Is(err, context.Canceled) {
			return
		}
		d.logger.Printf("sync cycle error: %v", err)
	}
}
