package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/keydropio/keydrop/internal/config"
	"github.com/keydropio/keydrop/internal/lifecycle"
	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/service"
	"github.com/keydropio/keydrop/internal/store"
	"github.com/keydropio/keydrop/internal/store/memstore"
	"github.com/keydropio/keydrop/internal/store/redisstore"
	"github.com/keydropio/keydrop/internal/store/sqlstore"
	"github.com/keydropio/keydrop/internal/token"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYDROP_DATA_DIR env var, or ~/.keydrop as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYDROP_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keydrop")
}

// loadConfig returns the effective configuration: defaults, then the config
// file viper found, then KEYDROP_* env vars and bound flags.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.YAMLConfig) {
	str := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}

	str("server.host", &cfg.Server.Host)
	num("server.port", &cfg.Server.Port)
	str("server.max_body_size", &cfg.Server.MaxBodySize)
	str("server.shutdown_timeout", &cfg.Server.ShutdownTimeout)
	if viper.IsSet("server.cors.origins") {
		cfg.Server.CORS.Origins = viper.GetStringSlice("server.cors.origins")
	}

	str("store.driver", &cfg.Store.Driver)
	str("store.dsn", &cfg.Store.DSN)

	str("keys.default_format", &cfg.Keys.DefaultFormat)
	num("keys.default_length", &cfg.Keys.DefaultLength)
	str("keys.validity", &cfg.Keys.Validity)
	num("keys.search_limit", &cfg.Keys.SearchLimit)
	str("keys.sweep_interval", &cfg.Keys.SweepInterval)
	num("keys.max_issue_attempts", &cfg.Keys.MaxIssueAttempts)
	str("keys.bash_prefix", &cfg.Keys.BashPrefix)

	str("auth.jwt_secret", &cfg.Auth.JWTSecret)
	str("auth.jwt_expiry", &cfg.Auth.JWTExpiry)
	str("auth.search_secret", &cfg.Auth.SearchSecret)

	if viper.IsSet("rate_limit.enabled") {
		cfg.RateLimit.Enabled = viper.GetBool("rate_limit.enabled")
	}
	num("rate_limit.requests_per_minute", &cfg.RateLimit.RequestsPerMinute)

	str("mcp.transport", &cfg.MCP.Transport)
	num("mcp.port", &cfg.MCP.Port)

	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
}

// newLogger builds the process logger. --dev forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if devMode {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore connects the key store backend selected by store.driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch driver := strings.ToLower(cfg.Driver); driver {
	case "", config.DriverSQLite, "sqlite3":
		var (
			s   *sqlstore.Store
			err error
		)
		if cfg.DSN != "" {
			s, err = sqlstore.Open(ctx, config.DriverSQLite, cfg.DSN)
		} else {
			s, err = sqlstore.NewSQLite(ctx, resolveDataDir())
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := sqlstore.Open(ctx, driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// describeStore returns a log-safe description of the configured backend.
func describeStore(cfg config.StoreConfig) string {
	driver := strings.ToLower(cfg.Driver)
	switch {
	case driver == config.DriverMemory:
		return "memory"
	case (driver == "" || driver == config.DriverSQLite || driver == "sqlite3") && cfg.DSN == "":
		return "sqlite " + sqlstore.SQLiteDSN(resolveDataDir())
	default:
		return driver + " " + sqlstore.RedactDSN(cfg.DSN)
	}
}

// newKeyService wires the generator, lifecycle policy and store into a
// KeyService according to the keys section of cfg.
func newKeyService(cfg *config.YAMLConfig, st store.Store, logger *slog.Logger) (*service.KeyService, error) {
	validity, err := cfg.Keys.ValidityDuration()
	if err != nil {
		return nil, fmt.Errorf("keys.validity: %w", err)
	}

	var opts []token.Option
	if cfg.Keys.BashPrefix != "" {
		opts = append(opts, token.WithBashPrefix(cfg.Keys.BashPrefix))
	}

	return service.NewKeyService(
		st,
		token.New(opts...),
		lifecycle.New(validity, nil),
		service.KeyConfig{
			DefaultFormat:    model.Format(strings.ToLower(cfg.Keys.DefaultFormat)),
			DefaultLength:    cfg.Keys.DefaultLength,
			SearchLimit:      cfg.Keys.SearchLimit,
			MaxIssueAttempts: cfg.Keys.MaxIssueAttempts,
		},
		logger,
	), nil
}

// app bundles what every store-backed command needs.
type app struct {
	cfg    *config.YAMLConfig
	logger *slog.Logger
	store  store.Store
	keys   *service.KeyService
}

// openApp loads configuration, connects the store and builds the key
// service. Logs go to stderr so stdout stays clean for command output.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open key store (%s): %w", describeStore(cfg.Store), err)
	}

	keys, err := newKeyService(cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st, keys: keys}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "keydrop.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "keydrop.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
