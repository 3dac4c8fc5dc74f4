package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pomosync/pomosync/internal/orchestrator"
)

// Syncer is the part of the orchestrator the daemon drives.
type Syncer interface {
	PerformFullSync(ctx context.Context) (orchestrator.Status, error)
	Busy() bool
	Flush(ctx context.Context) error
}

// EndpointSetter is the transport's live-reload surface.
type EndpointSetter interface {
	Endpoint() string
	SetEndpoint(endpoint string)
}

// Config holds configuration for the daemon.
type Config struct {
	// InitialDelay is how long to wait after Start before the first sync.
	InitialDelay time.Duration

	// Interval is the period between background syncs.
	Interval time.Duration

	// ShutdownTimeout bounds the queue flush in Stop.
	ShutdownTimeout time.Duration

	// Endpoint, if set, receives endpoint changes from SetEndpoint.
	Endpoint EndpointSetter

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InitialDelay:    2 * time.Second,
		Interval:        60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts daemon activity.
type Stats struct {
	Runs     int
	Skipped  int
	Failures int
}

// Daemon schedules full syncs and flushes the queue on shutdown.
type Daemon struct {
	syncer Syncer
	config *Config

	trigger chan string

	mu    sync.Mutex
	stats Stats

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// New creates a daemon. Zero fields in config take their defaults.
func New(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:  syncer,
		config:  &cfg,
		trigger: make(chan string, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs the trigger loop. It blocks until ctx is cancelled or Stop is
// called, and stops the daemon before returning.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.config.Logger.Printf("Starting daemon (initial delay %s, interval %s)", d.config.InitialDelay, d.config.Interval)

	d.wg.Add(1)
	go d.loop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels the loop, waits for it and flushes pending operations.
// Safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		d.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
		defer cancel()
		if err = d.syncer.Flush(ctx); err != nil {
			d.config.Logger.Printf("Warning: queue flush on shutdown failed: %v", err)
			err = fmt.Errorf("flush on shutdown: %w", err)
		}
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// Trigger requests a sync as soon as possible. It reports false when a
// request is already waiting.
func (d *Daemon) Trigger(reason string) bool {
	select {
	case d.trigger <- reason:
		return true
	default:
		return false
	}
}

// SetEndpoint applies a new row-store endpoint and requests a sync when it
// changed.
func (d *Daemon) SetEndpoint(endpoint string) {
	ep := d.config.Endpoint
	if ep == nil || ep.Endpoint() == endpoint {
		return
	}
	ep.SetEndpoint(endpoint)
	if endpoint == "" {
		d.config.Logger.Println("Endpoint cleared, sync disabled")
		return
	}
	d.config.Logger.Printf("Endpoint changed to %s", endpoint)
	d.Trigger("endpoint changed")
}

// Stats returns activity counters.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	initial := time.NewTimer(d.config.InitialDelay)
	defer initial.Stop()

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-initial.C:
			d.runSync("initial")
			ticker = time.NewTicker(d.config.Interval)
			tick = ticker.C

		case <-tick:
			if d.syncer.Busy() {
				d.config.Logger.Println("Sync still running, skipping periodic sync")
				d.count(func(s *Stats) { s.Skipped++ })
				continue
			}
			d.runSync("periodic")

		case reason := <-d.trigger:
			d.runSync(reason)
		}
	}
}

func (d *Daemon) runSync(reason string) {
	d.config.Logger.Printf("Sync triggered: %s", reason)
	status, err := d.syncer.PerformFullSync(d.ctx)
	switch {
	case errors.Is(err, orchestrator.ErrSyncInProgress):
		d.count(func(s *Stats) { s.Skipped++ })
	case err != nil:
		d.config.Logger.Printf("Error during sync: %v", err)
		d.count(func(s *Stats) { s.Failures++ })
	default:
		d.count(func(s *Stats) {
			s.Runs++
			if status.State == orchestrator.StateError {
				s.Failures++
			}
		})
	}
}

func (d *Daemon) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
