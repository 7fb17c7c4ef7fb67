package cmd

import (
	"flag"
	"testing"
)

type testConfig struct {
	DBPath   string `env:"ENTRYPOINT_TEST_DB_PATH" envDefault:"data/events.db"`
	Interval string `env:"ENTRYPOINT_TEST_INTERVAL" envDefault:"2s"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("ENTRYPOINT_TEST_DB_PATH", "env.db")
	t.Setenv("ENTRYPOINT_TEST_INTERVAL", "env-interval")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := testConfig{}
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "db path")
	fs.StringVar(&cfg.Interval, "interval", cfg.Interval, "interval")

	if err := ParseArgs(fs, []string{"-db-path", "flag.db"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "flag.db")
	}
	if cfg.Interval != "env-interval" {
		t.Fatalf("interval = %q, want %q", cfg.Interval, "env-interval")
	}
}

func TestParseConfigFromArgsReadsEnvAndFlags(t *testing.T) {
	t.Setenv("ENTRYPOINT_TEST_DB_PATH", "env.db")

	cfg := testConfig{}
	fs := flag.NewFlagSet("configargs", flag.ContinueOnError)
	fs.StringVar(&cfg.DBPath, "db-path", "", "db path")
	if err := ParseConfigFromArgs(&cfg, fs, []string{"-db-path", "flag.db"}); err != nil {
		t.Fatalf("parse config and args: %v", err)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "flag.db")
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected parse config to reject nil target")
	}
}
