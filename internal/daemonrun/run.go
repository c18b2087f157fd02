package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"atelier/internal/config"
	"atelier/internal/daemon"
	"atelier/internal/imagestore"
	"atelier/internal/jobs"
	"atelier/internal/logging"
	"atelier/internal/metrics"
	"atelier/internal/provider"
	"atelier/internal/references"
	"atelier/internal/store"
	"atelier/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level from the config when set.
	LogLevel string
}

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped so the call is safe with default paths.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Run starts the atelier daemon runtime loop and blocks until the context is
// cancelled or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("atelier-%s.log", runID))
	logger, err := logging.NewFromConfig(cfg, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update atelier.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "atelier-*.log", Exclude: []string{logPath}},
	)
	pidPath := filepath.Join(cfg.Paths.LogDir, "atelier.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	db, err := store.Open(cfg)
	if err != nil {
		logger.Error("open datastore", logging.Error(err))
		return err
	}

	images, err := imagestore.New(signalCtx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init image storage: %w", err)
	}
	prov, err := provider.New(cfg, logger)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init provider: %w", err)
	}

	refs := references.NewResolver(cfg.Paths.ReferenceDir, cfg.Paths.UploadDir)
	reg := metrics.New()
	wf := workflow.NewManager(cfg, db, prov, images, logger,
		workflow.WithReferences(refs),
		workflow.WithMetrics(reg),
	)
	jm := jobs.NewManager(cfg, db, images, logger,
		jobs.WithTrigger(wf),
		jobs.WithReferences(refs),
		jobs.WithMetrics(reg),
	)

	d, err := daemon.New(cfg, db, jm, wf, logger, daemon.WithMetrics(reg))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind, the data directory lock and queue database access"),
			logging.String(logging.FieldImpact, "no generations will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("atelier daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "atelier.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon, or 0 when none.
func ReadPID(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	raw, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "atelier.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("provider_kind", cfg.Provider.Kind),
		logging.String("provider_model", cfg.Provider.Model),
		logging.Bool("provider_key_present", strings.TrimSpace(cfg.Provider.APIKey) != ""),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("database", cfg.DatabasePath()),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.String("stale_action", cfg.Workflow.StaleAction),
		logging.Int("max_attempts", cfg.Workflow.MaxAttempts),
	)
}
