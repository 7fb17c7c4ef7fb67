package config

import "testing"

type testConfig struct {
	DBPath   string `env:"SHOPSTREAM_TEST_DB_PATH" envDefault:"data/test.db"`
	PageSize int    `env:"SHOPSTREAM_TEST_PAGE_SIZE" envDefault:"200"`
}

func TestParseEnvUsesDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "data/test.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/test.db")
	}
	if cfg.PageSize != 200 {
		t.Fatalf("page size = %d, want 200", cfg.PageSize)
	}
}

func TestParseEnvReadsEnvironment(t *testing.T) {
	t.Setenv("SHOPSTREAM_TEST_DB_PATH", "/tmp/override.db")
	t.Setenv("SHOPSTREAM_TEST_PAGE_SIZE", "50")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "/tmp/override.db")
	}
	if cfg.PageSize != 50 {
		t.Fatalf("page size = %d, want 50", cfg.PageSize)
	}
}

func TestParseEnvRejectsBadValue(t *testing.T) {
	t.Setenv("SHOPSTREAM_TEST_PAGE_SIZE", "not-a-number")

	var cfg testConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid integer")
	}
}
