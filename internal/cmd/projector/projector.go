// Package projector parses projector command flags and launches the
// projection runtime.
package projector

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/averill/shopstream/internal/app"
	entrypoint "github.com/averill/shopstream/internal/platform/cmd"
)

// Config holds projector command configuration.
type Config struct {
	DBPath       string        `env:"SHOPSTREAM_PROJECTOR_DB_PATH" envDefault:"data/shopstream.db"`
	BatchSize    int           `env:"SHOPSTREAM_PROJECTOR_BATCH_SIZE" envDefault:"200"`
	PollInterval time.Duration `env:"SHOPSTREAM_PROJECTOR_POLL_INTERVAL" envDefault:"250ms"`
	NotifyBuffer int           `env:"SHOPSTREAM_PROJECTOR_NOTIFY_BUFFER" envDefault:"64"`

	// Rebuild names projections to rebuild from sequence zero before the
	// daemons start, comma separated.
	Rebuild string
	// ShowLag prints checkpoint lag per projection and exits.
	ShowLag bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events per catch-up batch")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Daemon wait when caught up")
	fs.IntVar(&cfg.NotifyBuffer, "notify-buffer", cfg.NotifyBuffer, "Change notification buffer size")
	fs.StringVar(&cfg.Rebuild, "rebuild", cfg.Rebuild, "Projections to rebuild before starting, comma separated")
	fs.BoolVar(&cfg.ShowLag, "lag", cfg.ShowLag, "Print checkpoint lag per projection and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the projection runtime.
func Run(ctx context.Context, cfg Config) error {
	runtime, err := app.NewRuntime(app.RuntimeConfig{
		DatabasePath: cfg.DBPath,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		NotifyBuffer: cfg.NotifyBuffer,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	if cfg.ShowLag {
		return runtime.CheckpointLag(ctx)
	}

	for _, name := range strings.Split(cfg.Rebuild, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		log.Printf("rebuilding projection %s", name)
		if err := runtime.Engine.Rebuild(ctx, name); err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-runtime.Bus.Subscribe():
				log.Printf("projection %s: record %s updated", n.Projection, n.RecordID)
			}
		}
	}()

	return runtime.Run(ctx)
}
