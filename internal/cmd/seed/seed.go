// Package seed parses seed command flags and fills a local database with
// demo catalog and order data.
package seed

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/averill/shopstream/internal/app"
	entrypoint "github.com/averill/shopstream/internal/platform/cmd"
	"github.com/averill/shopstream/internal/projection"
)

// Config holds seed command configuration.
type Config struct {
	DBPath string `env:"SHOPSTREAM_SEED_DB_PATH" envDefault:"data/shopstream.db"`
	Items  int    `env:"SHOPSTREAM_SEED_ITEMS" envDefault:"6"`
	Orders int    `env:"SHOPSTREAM_SEED_ORDERS" envDefault:"12"`
	Seed   int64  `env:"SHOPSTREAM_SEED_RANDOM_SEED" envDefault:"1"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.IntVar(&cfg.Items, "items", cfg.Items, "Number of catalog items to create")
	fs.IntVar(&cfg.Orders, "orders", cfg.Orders, "Number of orders to place")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for reproducible data")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var itemNames = []string{
	"Walnut Desk Organizer",
	"Brass Reading Lamp",
	"Canvas Tool Roll",
	"Ceramic Pour-Over Set",
	"Linen Apron",
	"Enamel Camping Mug",
	"Oak Bookend Pair",
	"Wool Picnic Blanket",
}

// Run seeds the database and catches every async projection up so the demo
// data is immediately readable.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Items <= 0 || cfg.Orders < 0 {
		return fmt.Errorf("seed needs a positive item count and non-negative order count")
	}
	runtime, err := app.NewRuntime(app.RuntimeConfig{DatabasePath: cfg.DBPath})
	if err != nil {
		return err
	}
	defer runtime.Close()

	rng := rand.New(rand.NewSource(cfg.Seed))
	commands := runtime.App

	itemIDs := make([]string, 0, cfg.Items)
	for i := 0; i < cfg.Items; i++ {
		name := itemNames[i%len(itemNames)]
		price := int64(500 + rng.Intn(95)*100)
		itemID, err := commands.RegisterItem(ctx, "", name, price)
		if err != nil {
			return fmt.Errorf("seed item %d: %w", i, err)
		}
		if err := commands.ReceiveStock(ctx, itemID, 20+rng.Intn(80)); err != nil {
			return fmt.Errorf("seed stock for %s: %w", itemID, err)
		}
		itemIDs = append(itemIDs, itemID)
	}

	placed := 0
	for i := 0; i < cfg.Orders; i++ {
		requests := []app.LineRequest{{
			ItemID:   itemIDs[rng.Intn(len(itemIDs))],
			Quantity: 1 + rng.Intn(3),
		}}
		if rng.Intn(2) == 0 && len(itemIDs) > 1 {
			requests = append(requests, app.LineRequest{
				ItemID:   itemIDs[rng.Intn(len(itemIDs))],
				Quantity: 1 + rng.Intn(2),
			})
		}
		orderID, err := commands.PlaceOrder(ctx, "", fmt.Sprintf("customer-%d", 1+rng.Intn(5)), requests)
		if err != nil {
			return fmt.Errorf("seed order %d: %w", i, err)
		}
		placed++

		switch rng.Intn(4) {
		case 0:
			if err := commands.ShipOrder(ctx, orderID, "fastpost"); err != nil {
				return fmt.Errorf("ship seeded order: %w", err)
			}
		case 1:
			if err := commands.CancelOrder(ctx, orderID, "seed churn"); err != nil {
				return fmt.Errorf("cancel seeded order: %w", err)
			}
		}
	}

	start := time.Now()
	for _, name := range runtime.Engine.Names() {
		def, err := runtime.Engine.Definition(name)
		if err != nil {
			return err
		}
		if def.Lifecycle != projection.LifecycleAsync {
			continue
		}
		if err := runtime.Engine.CatchUp(ctx, name); err != nil {
			return fmt.Errorf("catch up %s: %w", name, err)
		}
	}

	log.Printf("seeded %d items and %d orders; projections caught up in %s",
		len(itemIDs), placed, time.Since(start).Round(time.Millisecond))
	return runtime.CheckpointLag(ctx)
}
