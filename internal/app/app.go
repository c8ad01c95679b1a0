// Package app owns process-level wiring: configuration, logging, the pairing
// store and the agent lifecycle. Everything is a value constructed at
// startup and passed by reference; there are no package-level singletons.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/yank/internal/agent"
	"github.com/dmitrijs2005/yank/internal/clipboard"
	"github.com/dmitrijs2005/yank/internal/config"
	"github.com/dmitrijs2005/yank/internal/ignore"
	"github.com/dmitrijs2005/yank/internal/logging"
	"github.com/dmitrijs2005/yank/internal/pairing"
	"github.com/dmitrijs2005/yank/internal/protocol"
)

// PlatformAdapter is installed by a platform build (Win32, AppKit, GTK)
// before App construction. When nil the core falls back to the in-process
// adapter, which keeps headless runs and tests working.
var PlatformAdapter func() (clipboard.Adapter, error)

type App struct {
	Config *config.Config
	Logger logging.Logger
	Store  *pairing.Store
}

// New builds an App: JSON slog at info (debug with verbose), user config and
// the pairing store.
func New(verbose bool) (*App, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(
		slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := pairing.NewStore()
	if err != nil {
		return nil, fmt.Errorf("open pairing store: %w", err)
	}

	return &App{Config: cfg, Logger: logger, Store: store}, nil
}

// AgentOptions carries the start command's flags.
type AgentOptions struct {
	PeerAddr   string
	NoSecurity bool
}

// RunAgent builds and runs the sync agent until the context is canceled or a
// termination signal arrives.
func (a *App) RunAgent(ctx context.Context, opts AgentOptions) error {
	rec, err := a.Store.Load()
	if err != nil {
		return err
	}

	adapter, err := a.clipboardAdapter()
	if err != nil {
		return err
	}

	filter, err := ignore.Load()
	if err != nil {
		a.Logger.Warn(ctx, "loading .syncignore failed, filtering disabled", "error", err)
		filter = ignore.Parse(nil)
	}

	log := a.Logger
	ag, err := agent.New(agent.Params{
		Config:   a.Config,
		Logger:   log,
		Store:    a.Store,
		Record:   rec,
		Adapter:  adapter,
		Filter:   filter,
		PeerAddr: opts.PeerAddr,
		Insecure: opts.NoSecurity,
		Callbacks: agent.Callbacks{
			OnState: func(s agent.State) {
				log.Info(ctx, "agent state", "state", string(s))
			},
			OnAnnounced: func(id string, files []protocol.FileMetadata) {
				log.Info(ctx, "incoming transfer", "transfer_id", id, "files", len(files))
			},
			OnProgress: func(id string, done, total int64, speed, eta float64) {
				log.Debug(ctx, "transfer progress", "transfer_id", id,
					"done", done, "total", total, "bps", int64(speed), "eta_s", int64(eta))
			},
			OnComplete: func(id string, paths []string) {
				log.Info(ctx, "transfer complete", "transfer_id", id, "files", len(paths))
			},
			OnError: func(kind error, detail string) {
				log.Error(ctx, "sync error", "kind", fmt.Sprint(kind), "detail", detail)
			},
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.initSignalHandler(cancel)

	a.Logger.Info(ctx, "starting agent", "device_id", rec.DeviceID, "peer", rec.PeerName)
	return ag.Run(ctx)
}

func (a *App) clipboardAdapter() (clipboard.Adapter, error) {
	if PlatformAdapter != nil {
		return PlatformAdapter()
	}
	return clipboard.NewMemory(), nil
}

func (a *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}
