package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keydropio/keydrop/internal/config"
	"github.com/keydropio/keydrop/internal/server"
	"github.com/keydropio/keydrop/internal/service"
)

const banner = `
 _  _______   _____  ___  ___  ___
| |/ / __\ \ / /   \| _ \/ _ \| _ \
| ' <| _| \ V /| |) |   / (_) |  _/
|_|\_\___| |_| |___/|_|_\\___/|_|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keydrop API server",
		Long: `Start the HTTP server that issues, checks and redeems access keys.

Expired keys are swept on a timer (keys.sweep_interval). Admin routes require a
bearer token signed with auth.jwt_secret; search requires auth.search_secret.`,
		Example: `  keydrop serve
  keydrop serve --port 9090 --dev
  keydrop serve --background && keydrop status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runServeBackground()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&background, "background", false, "Run the server detached, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// serverConfig maps the file configuration onto the HTTP server settings.
func serverConfig(cfg *config.YAMLConfig) (server.Config, error) {
	shutdown, err := cfg.Server.ShutdownTimeoutDuration()
	if err != nil {
		return server.Config{}, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	maxBody, err := cfg.Server.MaxBodyBytes()
	if err != nil {
		return server.Config{}, fmt.Errorf("server.max_body_size: %w", err)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = shutdown
	srvCfg.MaxBodySize = maxBody
	if len(cfg.Server.CORS.Origins) > 0 {
		srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	}
	srvCfg.RequestsPerMinute = cfg.RateLimit.EffectiveRequestsPerMinute()
	srvCfg.SearchSecret = cfg.Auth.SearchSecret
	srvCfg.Version = versionString()
	return srvCfg, nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info("key store initialized", "store", describeStore(a.cfg.Store))

	srvCfg, err := serverConfig(a.cfg)
	if err != nil {
		return err
	}

	auth := service.NewAdminAuth(a.cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		logger.Warn("auth.jwt_secret is not set; admin routes are closed")
	}
	if srvCfg.SearchSecret == "" {
		logger.Warn("auth.search_secret is not set; key search is closed")
	}

	interval, err := a.cfg.Keys.SweepIntervalDuration()
	if err != nil {
		return fmt.Errorf("keys.sweep_interval: %w", err)
	}
	sweeper := service.NewSweeper(a.keys, interval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	srv := server.New(srvCfg, a.keys, auth, logger)

	host := srvCfg.Host
	fmt.Print(banner)
	fmt.Println()
	fmt.Printf("→ Keydrop %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, srvCfg.Port)
	fmt.Printf("→ Validity:   %s\n", a.keys.Policy().Validity())
	fmt.Println()

	return srv.ListenAndServe(ctx)
}

// runServeBackground re-executes the binary without --background, detached
// from the terminal, with output appended to the log file.
func runServeBackground() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	var args []string
	for _, arg := range os.Args[1:] {
		if arg == "--background" || arg == "--background=true" {
			continue
		}
		args = append(args, arg)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	if err := writePID(pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	child.Process.Release()

	fmt.Printf("Keydrop server started in background (PID %d)\n", pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop with: keydrop stop")
	return nil
}
