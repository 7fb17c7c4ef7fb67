package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/averill/shopstream/internal/notify"
	"github.com/averill/shopstream/internal/platform/telemetry"
	"github.com/averill/shopstream/internal/projection"
	"github.com/averill/shopstream/internal/storage/sqlite"
	"github.com/averill/shopstream/internal/views"
)

// RuntimeConfig tunes the assembled runtime.
type RuntimeConfig struct {
	DatabasePath string
	BatchSize    int
	PollInterval time.Duration
	NotifyBuffer int
}

// Runtime wires the store, engine, projections, notifier, and command layer
// into one unit with a shared lifecycle.
type Runtime struct {
	Store   *sqlite.Store
	Engine  *projection.Engine
	Bus     *notify.Bus
	App     *App
	Metrics *telemetry.Metrics

	daemonOpts []projection.DaemonOption
}

// NewRuntime opens storage and registers the shop's projections.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	bus := notify.NewBus(cfg.NotifyBuffer, notify.WithDropHandler(func(n notify.Notification) {
		metrics.RecordNotificationDropped(context.Background(), n.Projection)
	}))

	engine, err := projection.NewEngine(store,
		projection.WithNotifier(bus),
		projection.WithMetrics(metrics),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, def := range []projection.Definition{
		views.OrderSummary(),
		views.ItemCatalog(),
		views.ItemOrdersLookup(),
		views.OrderDetails(views.ItemOrdersResolver(store)),
		views.ItemHistory(),
		views.ItemAvailabilityLive(),
	} {
		if err := engine.Register(def); err != nil {
			store.Close()
			return nil, fmt.Errorf("register projection %s: %w", def.Name, err)
		}
	}

	commands, err := New(engine)
	if err != nil {
		store.Close()
		return nil, err
	}

	var daemonOpts []projection.DaemonOption
	if cfg.BatchSize > 0 {
		daemonOpts = append(daemonOpts, projection.WithBatchSize(cfg.BatchSize))
	}
	if cfg.PollInterval > 0 {
		daemonOpts = append(daemonOpts, projection.WithPollInterval(cfg.PollInterval))
	}

	return &Runtime{
		Store:      store,
		Engine:     engine,
		Bus:        bus,
		App:        commands,
		Metrics:    metrics,
		daemonOpts: daemonOpts,
	}, nil
}

// Run starts one catch-up daemon per async projection and blocks until the
// context is canceled or a daemon fails. Daemons stop cooperatively at batch
// boundaries, so resuming later loses nothing.
func (r *Runtime) Run(ctx context.Context) error {
	daemons, err := r.Engine.Daemons(r.daemonOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(daemons))
	for _, daemon := range daemons {
		wg.Add(1)
		go func(d *projection.Daemon) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				errs <- err
				cancel()
			}
		}(daemon)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// CheckpointLag logs how far each async projection trails the event log.
func (r *Runtime) CheckpointLag(ctx context.Context) error {
	checkpoints, err := r.Store.ListCheckpoints(ctx)
	if err != nil {
		return err
	}
	latest, err := r.Store.LatestGlobalSeq(ctx)
	if err != nil {
		return err
	}
	for _, cp := range checkpoints {
		lag := uint64(0)
		if latest > cp.GlobalSeq {
			lag = latest - cp.GlobalSeq
		}
		log.Printf("projection %s: checkpoint %d, lag %d", cp.Projection, cp.GlobalSeq, lag)
	}
	return nil
}

// Close releases the runtime's resources.
func (r *Runtime) Close() error {
	return r.Store.Close()
}
