package projection

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/averill/shopstream/internal/notify"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

const (
	defaultBatchSize    = 200
	defaultPollInterval = 250 * time.Millisecond
)

// Daemon is the background catch-up task for one async projection. Exactly
// one daemon owns a projection's checkpoint at a time.
type Daemon struct {
	engine       *Engine
	def          Definition
	batchSize    int
	pollInterval time.Duration
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithBatchSize bounds how many events one batch reads.
func WithBatchSize(size int) DaemonOption {
	return func(d *Daemon) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithPollInterval sets how long the daemon waits when caught up.
func WithPollInterval(interval time.Duration) DaemonOption {
	return func(d *Daemon) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// Daemon builds the catch-up daemon for a registered async projection.
func (e *Engine) Daemon(projection string, opts ...DaemonOption) (*Daemon, error) {
	def, err := e.Definition(projection)
	if err != nil {
		return nil, err
	}
	if def.Lifecycle != LifecycleAsync {
		return nil, apperrors.New(apperrors.CodeLifecycleNotSupported,
			"only async projections run a catch-up daemon")
	}
	d := &Daemon{
		engine:       e,
		def:          def,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Daemons builds one daemon per registered async projection.
func (e *Engine) Daemons(opts ...DaemonOption) ([]*Daemon, error) {
	var daemons []*Daemon
	for _, def := range e.definitionsByLifecycle(LifecycleAsync) {
		d, err := e.Daemon(def.Name, opts...)
		if err != nil {
			return nil, err
		}
		daemons = append(daemons, d)
	}
	return daemons, nil
}

// Run processes batches until the context is canceled. Each batch's record
// writes and checkpoint advance commit atomically, so stopping between
// batches loses nothing; a crash mid-batch replays the batch, which the
// per-record high-water marks make idempotent. Transient storage failures
// retry with exponential backoff without advancing the checkpoint.
func (d *Daemon) Run(ctx context.Context) error {
	log.Printf("projection %s: catch-up daemon started", d.def.Name)
	for {
		processed, err := d.runBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("projection %s: catch-up daemon stopped", d.def.Name)
				return nil
			}
			return err
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			log.Printf("projection %s: catch-up daemon stopped", d.def.Name)
			return nil
		case <-time.After(d.pollInterval):
		}
	}
}

// runBatch processes one batch, retrying failures with backoff. It reports
// whether any events were consumed.
func (d *Daemon) runBatch(ctx context.Context) (bool, error) {
	notifications, err := backoff.Retry(ctx, func() ([]notify.Notification, error) {
		return d.attemptBatch(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.engine.metrics.RecordBatchRetry(ctx, d.def.Name)
			log.Printf("projection %s: batch failed, retrying in %s: %v", d.def.Name, wait, err)
		}),
	)
	if err != nil {
		return false, err
	}
	if notifications == nil {
		return false, nil
	}
	d.engine.emit(ctx, notifications)
	return true, nil
}

// attemptBatch returns nil notifications when the daemon is caught up, a
// non-nil (possibly empty) slice when a batch was consumed.
func (d *Daemon) attemptBatch(ctx context.Context) ([]notify.Notification, error) {
	checkpoint, err := d.engine.store.GetCheckpoint(ctx, d.def.Name)
	if err != nil {
		return nil, err
	}
	next, touched, err := d.engine.processBatch(ctx, d.def, checkpoint, d.batchSize)
	if err != nil {
		return nil, err
	}
	if next == checkpoint {
		return nil, nil
	}
	if touched == nil {
		touched = []notify.Notification{}
	}
	return touched, nil
}

// CatchUp drives an async projection to the log's current end without
// starting a daemon, one batch at a time. Seeding uses it to materialize
// projections deterministically before the daemons take over.
func (e *Engine) CatchUp(ctx context.Context, projection string) error {
	def, err := e.Definition(projection)
	if err != nil {
		return err
	}
	if def.Lifecycle != LifecycleAsync {
		return apperrors.New(apperrors.CodeLifecycleNotSupported,
			"only async projections catch up from a checkpoint")
	}
	for {
		checkpoint, err := e.store.GetCheckpoint(ctx, def.Name)
		if err != nil {
			return err
		}
		next, touched, err := e.processBatch(ctx, def, checkpoint, defaultBatchSize)
		if err != nil {
			return err
		}
		if next == checkpoint {
			return nil
		}
		e.emit(ctx, touched)
	}
}

// Lag reports how far the projection trails the log's latest global sequence.
func (d *Daemon) Lag(ctx context.Context) (uint64, error) {
	latest, err := d.engine.store.LatestGlobalSeq(ctx)
	if err != nil {
		return 0, err
	}
	checkpoint, err := d.engine.store.GetCheckpoint(ctx, d.def.Name)
	if err != nil {
		return 0, err
	}
	if checkpoint >= latest {
		return 0, nil
	}
	return latest - checkpoint, nil
}
