package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultYAMLConfigIsValid(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	validity, err := cfg.Keys.ValidityDuration()
	if err != nil || validity != 24*time.Hour {
		t.Errorf("validity = %v, %v; want 24h", validity, err)
	}
	if cfg.Keys.SearchLimit != 1 {
		t.Errorf("search_limit = %d, want 1", cfg.Keys.SearchLimit)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Store.Driver)
	}
}

func TestParseYAMLConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseYAMLConfig([]byte(`
server:
  port: 9090
keys:
  validity: 2h
`))
	if err != nil {
		t.Fatalf("ParseYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default", cfg.Server.Host)
	}
	if d, _ := cfg.Keys.ValidityDuration(); d != 2*time.Hour {
		t.Errorf("validity = %v, want 2h", d)
	}
	if cfg.Keys.BashPrefix != "FREE" {
		t.Errorf("bash_prefix = %q, want default FREE", cfg.Keys.BashPrefix)
	}
}

func TestParseYAMLConfigExpandsEnv(t *testing.T) {
	t.Setenv("KEYDROP_TEST_SECRET", "s3cret")
	t.Setenv("KEYDROP_TEST_DSN", "postgres://u:p@db/keys")

	cfg, err := ParseYAMLConfig([]byte(`
store:
  driver: postgres
  dsn: ${KEYDROP_TEST_DSN}
auth:
  jwt_secret: ${KEYDROP_TEST_SECRET}
`))
	if err != nil {
		t.Fatalf("ParseYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Store.DSN != "postgres://u:p@db/keys" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
}

func TestDefaultTemplateMatchesDefaults(t *testing.T) {
	fromTemplate, err := ParseYAMLConfig([]byte(DefaultTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if !reflect.DeepEqual(fromTemplate, DefaultYAMLConfig()) {
		t.Errorf("template = %+v\nwant %+v", fromTemplate, DefaultYAMLConfig())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Store.Driver = DriverRedis
	cfg.Store.DSN = "redis://localhost:6379/0"

	b, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := ParseYAMLConfig(b)
	if err != nil {
		t.Fatalf("ParseYAMLConfig: %v", err)
	}
	if !reflect.DeepEqual(back, cfg) {
		t.Errorf("round trip = %+v, want %+v", back, cfg)
	}
}

func TestParseYAMLConfigRejectsGarbage(t *testing.T) {
	if _, err := ParseYAMLConfig([]byte("server: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadAndWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keydrop.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("config file mode = %v, want owner-only", perm)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("round-tripped default config invalid: %v", err)
	}

	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*YAMLConfig)
		want   string
	}{
		{"bad port", func(c *YAMLConfig) { c.Server.Port = 0 }, "server.port"},
		{"bad body size", func(c *YAMLConfig) { c.Server.MaxBodySize = "lots" }, "server.max_body_size"},
		{"bad shutdown", func(c *YAMLConfig) { c.Server.ShutdownTimeout = "-1s" }, "server.shutdown_timeout"},
		{"unknown driver", func(c *YAMLConfig) { c.Store.Driver = "oracle" }, "store.driver"},
		{"network driver needs dsn", func(c *YAMLConfig) { c.Store.Driver = "redis" }, "store.dsn"},
		{"unknown format", func(c *YAMLConfig) { c.Keys.DefaultFormat = "base32" }, "keys.default_format"},
		{"zero validity", func(c *YAMLConfig) { c.Keys.Validity = "0s" }, "keys.validity"},
		{"bad sweep interval", func(c *YAMLConfig) { c.Keys.SweepInterval = "often" }, "keys.sweep_interval"},
		{"bad jwt expiry", func(c *YAMLConfig) { c.Auth.JWTExpiry = "soon" }, "auth.jwt_expiry"},
		{"rate limit without rpm", func(c *YAMLConfig) { c.RateLimit.RequestsPerMinute = 0 }, "rate_limit"},
		{"bad transport", func(c *YAMLConfig) { c.MCP.Transport = "sse" }, "mcp.transport"},
		{"bad log level", func(c *YAMLConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *YAMLConfig) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Server.Port = -1
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q is missing %q", err, want)
		}
	}
}

func TestSweepIntervalDisabled(t *testing.T) {
	for _, v := range []string{"", "0"} {
		k := KeysConfig{SweepInterval: v}
		d, err := k.SweepIntervalDuration()
		if err != nil || d != 0 {
			t.Errorf("SweepIntervalDuration(%q) = %v, %v; want 0, nil", v, d, err)
		}
	}
}

func TestJWTExpiryFallback(t *testing.T) {
	d, err := AuthConfig{}.JWTExpiryDuration(time.Hour)
	if err != nil || d != time.Hour {
		t.Errorf("empty expiry = %v, %v; want fallback", d, err)
	}
	d, err = AuthConfig{JWTExpiry: "15m"}.JWTExpiryDuration(time.Hour)
	if err != nil || d != 15*time.Minute {
		t.Errorf("15m expiry = %v, %v", d, err)
	}
}

func TestEffectiveRequestsPerMinute(t *testing.T) {
	if got := (RateLimitConfig{Enabled: false, RequestsPerMinute: 30}).EffectiveRequestsPerMinute(); got != 0 {
		t.Errorf("disabled = %d, want 0", got)
	}
	if got := (RateLimitConfig{Enabled: true, RequestsPerMinute: 30}).EffectiveRequestsPerMinute(); got != 30 {
		t.Errorf("enabled = %d, want 30", got)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"4096", 4096, false},
		{"512B", 512, false},
		{"64KB", 64 << 10, false},
		{"64kb", 64 << 10, false},
		{"10 MB", 10 << 20, false},
		{"1GB", 1 << 30, false},
		{"-1KB", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Auth.JWTSecret = "jwt"
	cfg.Auth.SearchSecret = "search"
	cfg.Store.DSN = "postgres://user:hunter2@db:5432/keys"

	red := cfg.Redacted()
	if red.Auth.JWTSecret == "jwt" || red.Auth.SearchSecret == "search" {
		t.Error("secrets were not masked")
	}
	if strings.Contains(red.Store.DSN, "hunter2") {
		t.Errorf("dsn password leaked: %s", red.Store.DSN)
	}
	if cfg.Auth.JWTSecret != "jwt" {
		t.Error("Redacted modified the original")
	}

	red.Server.CORS.Origins[0] = "changed"
	if cfg.Server.CORS.Origins[0] != "*" {
		t.Error("Redacted shares the origins slice")
	}
}
