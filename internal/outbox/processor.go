// Package outbox retries remote pushes that could not be delivered
// inline. Dirty users are coalesced in the local database, so a retry
// always pushes the latest cached bundle rather than a stale snapshot.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mealtrack/internal/core"
	"mealtrack/internal/kv/sqlite"
	"mealtrack/internal/log"
)

// Pusher delivers a bundle to the remote endpoint.
type Pusher interface {
	Push(ctx context.Context, userID string, b core.Bundle) error
}

// Config holds configuration for the push processor.
type Config struct {
	// PollInterval is how often to check for dirty users (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of users to push per poll cycle (default: 10)
	BatchSize int

	// MaxAttempts is the number of attempts before a user is parked as
	// failed (default: 3). A later local save re-arms the user.
	MaxAttempts int

	// ReportInterval is how often parked failures are logged (default: 1h)
	ReportInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Second,
		BatchSize:      10,
		MaxAttempts:    3,
		ReportInterval: 1 * time.Hour,
	}
}

// Processor drains the outbox against the remote endpoint.
type Processor struct {
	store  *sqlite.Store
	remote Pusher
	config Config
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProcessor(store *sqlite.Store, remote Pusher, config Config, logger *log.Logger) *Processor {
	return &Processor{
		store:  store,
		remote: remote,
		config: config,
		logger: logger.WithComponent(log.ComponentOutbox),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Outbox processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning reports whether the processor loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	reportTicker := time.NewTicker(p.config.ReportInterval)
	defer reportTicker.Stop()

	// Process immediately on startup
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-reportTicker.C:
			p.reportFailures(ctx)
		}
	}
}

// ProcessBatch pushes one batch of dirty users. It is exported so a
// caller can force a drain outside the poll cycle.
func (p *Processor) ProcessBatch(ctx context.Context) {
	pending, err := p.store.PendingPushes(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list pending pushes", "error", err)
		return
	}

	if len(pending) == 0 {
		return
	}

	p.logger.DebugContext(ctx, "Processing push batch", "count", len(pending))

	for _, item := range pending {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.pushUser(ctx, item.UserID); err != nil {
			p.logger.WarnContext(ctx, "Push failed",
				log.FieldUserID, item.UserID,
				"attempt", item.Attempts+1,
				"error", err)
			if markErr := p.store.MarkPushError(ctx, item.UserID, p.config.MaxAttempts, err); markErr != nil {
				p.logger.ErrorContext(ctx, "Failed to record push error",
					log.FieldUserID, item.UserID, "error", markErr)
			}
			continue
		}

		if err := p.store.MarkPushed(ctx, item.UserID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to clear pushed user",
				log.FieldUserID, item.UserID, "error", err)
			continue
		}
		p.logger.InfoContext(ctx, "Push delivered", log.FieldUserID, item.UserID)
	}
}

// pushUser reads the current cached bundle and delivers it. The bundle
// is re-read at push time so only the latest state travels.
func (p *Processor) pushUser(ctx context.Context, userID string) error {
	payload, err := p.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("read cached bundle: %w", err)
	}
	if payload == nil {
		// Nothing cached anymore; nothing to deliver.
		return nil
	}

	var b core.Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return fmt.Errorf("decode cached bundle: %w", err)
	}

	return p.remote.Push(ctx, userID, b)
}

func (p *Processor) reportFailures(ctx context.Context) {
	failed, err := p.store.FailedPushes(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list parked pushes", "error", err)
		return
	}
	if len(failed) == 0 {
		return
	}
	for _, userID := range failed {
		p.logger.WarnContext(ctx, "Push parked after repeated failures",
			log.FieldUserID, userID)
	}
}
