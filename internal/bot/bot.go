// Package bot assembles the server: the RPC ingress, the relay, one IRC
// session per network and the metrics endpoint, supervised by a signal
// loop that knows how to reload, restart and shut down gracefully.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kgb-bot/kgb/internal/irc"
	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/relay"
	"github.com/kgb-bot/kgb/internal/rpc"
	"github.com/kgb-bot/kgb/pkg/config"
	"github.com/kgb-bot/kgb/pkg/metrics"
)

// ErrRestart is returned by Run when the process should replace itself
// with a fresh instance: after SIGQUIT, or after a reload that changed
// the RPC bind address.
var ErrRestart = errors.New("restart requested")

// ErrForced is returned when a second shutdown signal cut the graceful
// drain short. The caller should exit non-zero.
var ErrForced = errors.New("forced shutdown")

// Bot owns the live configuration pointer and every long-running
// component. Components read the configuration through Config and must
// not cache it across calls.
type Bot struct {
	configPath string
	version    string

	cfg atomic.Pointer[config.Config]

	metrics *metrics.Metrics
	relay   *relay.Relay
	manager *irc.Manager
	rpc     *rpc.Server

	restartCh chan struct{}
}

// New builds the component graph from an already loaded configuration.
// configPath is re-read on reload.
func New(configPath string, cfg *config.Config, version string, opts ...irc.Option) (*Bot, error) {
	b := &Bot{
		configPath: configPath,
		version:    version,
		restartCh:  make(chan struct{}, 1),
	}
	b.cfg.Store(cfg)

	if cfg.Metrics.Enabled {
		b.metrics = metrics.New()
	}

	ircOpts := append([]irc.Option{irc.WithMetrics(b.metrics)}, opts...)
	b.manager = irc.NewManager(b.Config, version, ircOpts...)

	r, err := relay.New(b.manager, cfg.Colors)
	if err != nil {
		return nil, err
	}
	b.relay = r
	b.rpc = rpc.NewServer(b.Config, r, b.metrics)

	return b, nil
}

// Config returns the live configuration.
func (b *Bot) Config() *config.Config {
	return b.cfg.Load()
}

// Manager exposes the IRC layer, for the status command and tests.
func (b *Bot) Manager() *irc.Manager {
	return b.manager
}

// Run serves until a shutdown signal arrives or a component fails.
//
// SIGINT and SIGTERM drain the announcement backlog, QUIT every
// session and return nil; a second signal during the drain returns
// ErrForced. SIGQUIT does the same graceful teardown but returns
// ErrRestart. SIGHUP reloads the configuration in place.
func (b *Bot) Run(ctx context.Context) error {
	cfg := b.Config()
	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			return err
		}
		defer os.Remove(cfg.PidFile)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(sig)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(b.manager.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(b.rpc.Run(gctx))
	})
	if b.metrics != nil && cfg.Metrics.Port > 0 {
		port := cfg.Metrics.Port
		g.Go(func() error {
			return ignoreCancel(b.metrics.Serve(gctx, port))
		})
	}
	g.Go(func() error {
		return ignoreCancel(b.watchConfig(gctx))
	})

	restart := false
wait:
	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGHUP:
				logger.Info("reload signal received")
				b.Reload()
			case syscall.SIGQUIT:
				logger.Info("restart signal received")
				restart = true
				break wait
			default:
				logger.Info("shutdown signal received", "signal", s.String())
				break wait
			}
		case <-b.restartCh:
			restart = true
			break wait
		case <-gctx.Done():
			break wait
		}
	}

	// Let the queued announcements go out, then say goodbye on every
	// network. A second signal skips the grace period.
	drained := make(chan struct{})
	go func() {
		b.manager.Shutdown(b.Config().ShutdownTimeout)
		close(drained)
	}()
	select {
	case <-drained:
	case s := <-sig:
		logger.Warn("second signal, forcing shutdown", "signal", s.String())
		cancel()
		g.Wait()
		return ErrForced
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if restart {
		return ErrRestart
	}
	return nil
}

// Reload re-reads the configuration file. A broken file is logged and
// ignored; the previous configuration stays live. A change to the RPC
// bind cannot be applied in place and escalates to a restart request.
func (b *Bot) Reload() {
	cur, err := config.Load(b.configPath)
	if err != nil {
		logger.Error("config reload failed, keeping previous configuration",
			logger.KeyError, err)
		return
	}

	old := b.cfg.Load()
	b.cfg.Store(cur)

	if !old.RPC.SameBind(cur.RPC) {
		logger.Info("rpc bind changed, restarting")
		select {
		case b.restartCh <- struct{}{}:
		default:
		}
		return
	}

	b.manager.Reconcile(old, cur)
	logger.Info("configuration reloaded")
}

// ExecRestart replaces the current process with a fresh foreground
// instance reading the same configuration file.
func ExecRestart(configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{exe, "start", "--foreground"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	logger.Info("replacing process", "exe", exe)
	return syscall.Exec(exe, args, os.Environ())
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
