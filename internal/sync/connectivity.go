package sync

import (
	"context"
	"log"
	stdsync "sync"
	"time"
)

// Pinger probes whether the remote endpoint is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State is a connectivity snapshot.
type State struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
}

// Connectivity tracks reachability of the remote endpoint by probing it
// periodically. Callers read the cached state instead of paying for a probe
// on every decision.
type Connectivity struct {
	pinger   Pinger
	interval time.Duration
	logger   *log.Logger

	mu       stdsync.Mutex
	state    State
	onChange func(online bool)
}

// NewConnectivity creates a connectivity tracker. The first probe happens on
// Refresh or when Run starts.
func NewConnectivity(pinger Pinger, interval time.Duration, logger *log.Logger) *Connectivity {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[connectivity] ", log.LstdFlags)
	}
	return &Connectivity{pinger: pinger, interval: interval, logger: logger}
}

// OnChange registers a callback invoked whenever the online state flips.
// Must be called before Run.
func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Current returns the last observed state without probing.
func (c *Connectivity) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Refresh probes the remote now and returns the updated state.
func (c *Connectivity) Refresh(ctx context.Context) State {
	online := c.pinger.Ping(ctx) == nil

	c.mu.Lock()
	changed := online != c.state.Online
	c.state = State{Online: online, CheckedAt: time.Now().UTC()}
	fn := c.onChange
	c.mu.Unlock()

	if changed {
		if online {
			c.logger.Printf("connection restored")
		} else {
			c.logger.Printf("connection lost")
		}
		if fn != nil {
			fn(online)
		}
	}
	return c.Current()
}

// Run probes on a ticker until the context is canceled.
func (c *Connectivity) Run(ctx context.Context) {
	c.Refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
