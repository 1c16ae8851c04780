// Package app assembles the client: session, backend client, services and
// the optional storage and notification integrations.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/checkout"
	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/database"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/repository"
	"github.com/digkill/imagify/internal/service"
	"github.com/digkill/imagify/internal/session"
	"github.com/digkill/imagify/internal/storage"
	"github.com/digkill/imagify/internal/telegram"
)

// Deps are the pluggable parts of an App. Nil fields fall back to defaults
// or disable the feature.
type Deps struct {
	Tokens   session.TokenStore
	Notifier notify.Notifier
	Provider checkout.Provider
	Journal  service.OrderJournal
	History  service.GenerationHistory
	Archive  service.ImageArchive
}

type App struct {
	Config     config.Config
	Log        *slog.Logger
	Store      *session.Store
	Client     *api.Client
	Credits    *service.CreditLoader
	Auth       *service.AuthService
	Generation *service.GenerationService
	Payments   *service.PaymentService
	Plans      *service.PlanService

	wg      sync.WaitGroup
	closers []func() error
}

func New(cfg config.Config, log *slog.Logger, deps Deps) *App {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(log)
	}
	if deps.Tokens == nil {
		deps.Tokens = &session.MemoryTokenStore{}
	}

	client := api.NewClient(cfg, log)
	store := session.NewStore(deps.Tokens, deps.Notifier, log)
	credits := service.NewCreditLoader(store, client, deps.Notifier, log, cfg.CreditsMinInterval)
	plans := service.NewPlanService()

	a := &App{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Client:     client,
		Credits:    credits,
		Auth:       service.NewAuthService(log, store, client, deps.Notifier),
		Generation: service.NewGenerationService(log, store, client, credits, deps.Notifier, deps.Archive, deps.History),
		Payments:   service.NewPaymentService(cfg, log, store, client, credits, plans, deps.Provider, deps.Journal, deps.Notifier),
		Plans:      plans,
	}
	store.OnTokenChange(a.onTokenChange)
	return a
}

// onTokenChange reloads credits for a new session and replays any payment a
// previous session left unverified.
func (a *App) onTokenChange(token string) {
	if token == "" {
		a.Credits.Cancel()
		return
	}
	a.Credits.Trigger(true)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		report, err := a.Payments.RecoverPending(context.Background())
		if err != nil {
			if !errors.Is(err, service.ErrLoginRequired) {
				a.Log.Warn("payment recovery", "err", err)
			}
			return
		}
		if report.Attempted > 0 || report.Skipped > 0 {
			a.Log.Info("payment recovery finished", "attempted", report.Attempted, "recovered", report.Recovered, "failed", report.Failed, "skipped", report.Skipped)
		}
	}()
}

// Start restores the persisted session, which kicks off the same loads as a
// fresh login.
func (a *App) Start(ctx context.Context) error {
	return a.Store.Restore(ctx)
}

// Wait blocks until background credit loads and recovery passes finish.
func (a *App) Wait() {
	a.Credits.Wait()
	a.wg.Wait()
}

func (a *App) Close() error {
	a.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bootstrap builds an App from configuration: MySQL state when MYSQL_DSN is
// set (token file otherwise), S3 archiving, Telegram forwarding and the local
// checkout server. Notices are printed to out.
func Bootstrap(ctx context.Context, cfg config.Config, log *slog.Logger, out io.Writer, launch checkout.Launcher) (*App, *checkout.Server, error) {
	notifiers := notify.Multi{notify.NewWriter(out), notify.NewLog(log)}
	deps := Deps{}
	var closers []func() error

	if cfg.MySQLDSN != "" {
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connect: %w", err)
		}
		closers = append(closers, db.Close)
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("database migrate: %w", err)
		}
		deps.Tokens = repository.NewTokenRepository(db)
		deps.Journal = repository.NewPaymentRepository(db)
		deps.History = repository.NewGenerationRepository(db)
	} else {
		deps.Tokens = session.NewFileTokenStore(cfg.TokenFile)
	}

	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(cfg, log)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("s3 archive: %w", err)
		}
		deps.Archive = archive
	}

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramBotToken)
		if err != nil {
			// Notices still reach the terminal and the log.
			log.Warn("telegram notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, telegram.NewNotifier(bot, cfg.TelegramChatID, log))
		}
	}
	deps.Notifier = notifiers

	server := checkout.NewServer(cfg, log, launch)
	deps.Provider = server

	a := New(cfg, log, deps)
	a.closers = closers
	return a, server, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
