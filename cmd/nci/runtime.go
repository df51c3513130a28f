package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/hpungsan/nci/internal/config"
	"github.com/hpungsan/nci/internal/db"
	"github.com/hpungsan/nci/internal/errors"
	"github.com/hpungsan/nci/internal/keys"
	"github.com/hpungsan/nci/internal/logging"
	"github.com/hpungsan/nci/internal/ops"
	"github.com/hpungsan/nci/internal/relay"
)

// runtime carries what every command needs. Tests build one around a temp
// cache and an in-memory pool.
type runtime struct {
	baseDir string
	cache   *sql.DB
	cfg     *config.Config

	stdout io.Writer
	stderr io.Writer

	// newPool builds the connection pool of a command. nil means WSPool.
	newPool func(logger *slog.Logger) relay.Pool
}

// openRuntime prepares ~/.nci: .env files, config and the event cache.
func openRuntime() (*runtime, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".nci")

	// The working directory wins over ~/.nci; neither overrides the real environment.
	for _, path := range []string{".env", filepath.Join(baseDir, ".env")} {
		if err := config.LoadEnvFile(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg = config.ApplyEnv(cfg, os.Getenv)

	cache, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event cache: %w", err)
	}
	db.ConfigurePool(cache, cfg)

	return &runtime{
		baseDir: baseDir,
		cache:   cache,
		cfg:     cfg,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}, nil
}

func (rt *runtime) Close() error {
	if rt.cache == nil {
		return nil
	}
	return rt.cache.Close()
}

// logger builds the command logger; --verbose forces debug.
func (rt *runtime) logger(c *cli.Context) *slog.Logger {
	level, err := logging.ParseLevel(rt.cfg.LogLevel)
	if c != nil && c.Bool("verbose") {
		level = slog.LevelDebug
	}
	l := logging.New(rt.stderr, level)
	if err != nil {
		l.Warn("ignoring log level", "error", err)
	}
	return l
}

// relays resolves endpoints: --relay flags, then NCI_RELAYS and config
// (already merged into cfg), then the built-in list.
func (rt *runtime) relays(c *cli.Context) []string {
	if c != nil {
		if flags := c.StringSlice("relay"); len(flags) > 0 {
			return flags
		}
	}
	if len(rt.cfg.Relays) > 0 {
		return rt.cfg.Relays
	}
	return relay.DefaultEndpoints
}

// env builds the operation environment. The returned Transport must be closed.
func (rt *runtime) env(c *cli.Context) (ops.Env, error) {
	logger := rt.logger(c)

	var pool relay.Pool
	if rt.newPool != nil {
		pool = rt.newPool(logger)
	} else {
		pool = relay.NewWSPool(relay.WithPoolLogger(logger))
	}

	tr, err := relay.New(rt.relays(c),
		relay.WithPool(pool),
		relay.WithQueryTimeout(time.Duration(rt.cfg.QueryTimeoutSeconds)*time.Second),
		relay.WithPublishTimeout(time.Duration(rt.cfg.PublishTimeoutSeconds)*time.Second),
		relay.WithThrottle(publishThrottle(rt.cfg)),
		relay.WithLogger(logger),
	)
	if err != nil {
		return ops.Env{}, err
	}

	return ops.Env{
		Transport: tr,
		Cache:     rt.cache,
		Config:    rt.cfg,
		Logger:    logger,
	}, nil
}

// publishThrottle picks the token bucket when a publish rate is configured,
// else the fixed batch and delay.
func publishThrottle(cfg *config.Config) relay.Throttle {
	if cfg.PublishRatePerSecond > 0 {
		burst := cfg.PublishBurst
		if burst <= 0 {
			burst = max(cfg.PublishBatch, 1)
		}
		return relay.NewRateThrottle(rate.Limit(cfg.PublishRatePerSecond), burst, nil)
	}
	return relay.FixedThrottle{
		Batch: cfg.PublishBatch,
		Delay: time.Duration(cfg.PublishDelaySeconds) * time.Second,
	}
}

// signer parses --privkey, falling back to NCI_PRIVKEY.
func (rt *runtime) signer(c *cli.Context) (*keys.KeyPair, error) {
	secret := c.String("privkey")
	if secret == "" {
		secret = rt.cfg.PrivateKey
	}
	if secret == "" {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("a private key is required: pass --privkey or set %s", config.EnvPrivateKey))
	}
	return keys.ParseSecretKey(secret)
}
