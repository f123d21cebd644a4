package config

import (
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@db:5432/crm"}
	if got := p.DSN(); got != "postgres://u:p@db:5432/crm" {
		t.Fatalf("DSN = %q", got)
	}

	p = PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "crm"}
	want := "postgres://u:p@db:5432/crm?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}

	if got := (PostgresConfig{}).DSN(); got != "" {
		t.Fatalf("unconfigured DSN = %q, want empty", got)
	}
}

func TestRedisAddr(t *testing.T) {
	if got := (RedisConfig{}).Addr(); got != "" {
		t.Fatalf("unconfigured Addr = %q, want empty", got)
	}
	if got := (RedisConfig{Host: "cache"}).Addr(); got != "cache:6379" {
		t.Fatalf("Addr = %q", got)
	}
	if got := (RedisConfig{Host: "cache", Port: 7000}).Addr(); got != "cache:7000" {
		t.Fatalf("Addr = %q", got)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := &Config{Engine: EngineConfig{
		MaxIterations:       3,
		ConfidenceThreshold: 0.7,
		ToolTimeout:         15 * time.Second,
		SchemaPath:          "./data/schema_summary.json",
	}}
	if err := validateConfig(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []func(*Config){
		func(c *Config) { c.Engine.MaxIterations = 0 },
		func(c *Config) { c.Engine.ConfidenceThreshold = 0 },
		func(c *Config) { c.Engine.ConfidenceThreshold = 1.5 },
		func(c *Config) { c.Engine.ToolTimeout = 0 },
		func(c *Config) { c.Engine.SchemaPath = "" },
	}
	for i, mutate := range cases {
		c := *valid
		mutate(&c)
		if err := validateConfig(&c); err == nil {
			t.Fatalf("case %d: invalid config accepted", i)
		}
	}
}
