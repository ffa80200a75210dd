package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"blockips/internal/audit"
	"blockips/internal/batch"
	"blockips/internal/logbuffer"
	"blockips/internal/protection"
	"blockips/internal/provision"
	"blockips/models"

	"github.com/rs/zerolog/log"
)

var (
	ErrUnauthorized   = errors.New("operator is not allowed")
	ErrUnknownCommand = errors.New("unknown command")
)

// SetManager is a kernel set backend that can also load restore batches.
type SetManager interface {
	provision.KernelSetManager
	batch.Restorer
}

type ServiceManager interface {
	protection.Services
	Reload(ctx context.Context, unit string) error
}

type RuleLister interface {
	ListRules() (string, error)
}

type Fetcher interface {
	FetchIPs(ctx context.Context, url string) ([]string, error)
	FetchDomains(ctx context.Context, url string) ([]string, error)
}

type Locker interface {
	Lock() error
	Unlock() error
}

// Deps are the host capabilities the engine drives. Sets6 and Binding6 are
// nil when IPv6 is disabled.
type Deps struct {
	Fetcher    Fetcher
	Sets4      SetManager
	Sets6      SetManager
	Binding4   provision.Firewall
	Binding6   provision.Firewall
	Protection protection.Firewall
	Rules      RuleLister
	Services   ServiceManager
	Resolver   protection.Resolver
	Store      *audit.Store
	Logs       *logbuffer.RingBuffer
	Lock       Locker
	// LogOutput receives run log records in addition to the per-run file.
	LogOutput io.Writer
}

type App struct {
	cfg      models.Config
	deps     Deps
	machine  *protection.Machine
	mu       sync.Mutex
	handlers map[CommandKind]handler
}

func New(cfg models.Config, deps Deps) *App {
	if deps.Logs == nil {
		deps.Logs = logbuffer.NewRingBuffer(256)
	}
	if deps.Store == nil {
		deps.Store = audit.NewStore(cfg.LogDir)
	}
	a := &App{
		cfg:  cfg,
		deps: deps,
		machine: protection.New(protection.Config{
			ResolverService: cfg.Resolver.Service,
			IPUpdater:       cfg.Services.IPUpdater,
			DomainUpdater:   cfg.Services.DomainUpdater,
			LocalResolver:   cfg.Resolver.LocalAddress,
			PublicResolver:  cfg.Resolver.PublicAddress,
		}, deps.Services, deps.Protection, deps.Resolver),
	}
	a.handlers = a.commandHandlers()
	return a
}

func (a *App) Config() models.Config {
	return a.cfg
}

func (a *App) Logs() *logbuffer.RingBuffer {
	return a.deps.Logs
}

// acquire serialises every mutation of the set, the rule and the services,
// both inside this process and against other instances.
func (a *App) acquire() (func(), error) {
	a.mu.Lock()
	if a.deps.Lock == nil {
		return a.mu.Unlock, nil
	}
	if err := a.deps.Lock.Lock(); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	return func() {
		if err := a.deps.Lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("failed to release lock")
		}
		a.mu.Unlock()
	}, nil
}

func (a *App) transition(ctx context.Context, fn func(context.Context) (*protection.Report, error)) (*protection.Report, error) {
	release, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return fn(ctx)
}

func (a *App) Enable(ctx context.Context) (*protection.Report, error) {
	return a.transition(ctx, a.machine.Enable)
}

func (a *App) Disable(ctx context.Context) (*protection.Report, error) {
	return a.transition(ctx, a.machine.Disable)
}

func (a *App) Restart(ctx context.Context) (*protection.Report, error) {
	return a.transition(ctx, a.machine.Restart)
}

// Probe reads the live protection state. It takes no lock.
func (a *App) Probe(ctx context.Context) (*protection.Probe, error) {
	return a.machine.Probe(ctx)
}
