package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/session"
)

const (
	msgCreditsLoadFailed  = "Failed to load user data."
	msgCreditsLoadTimeout = "Loading credits timed out. Please retry."
)

type CreditsAPI interface {
	Credits(ctx context.Context, token string) (*api.CreditsResult, error)
}

// CreditLoader keeps the session's credit balance and profile in line with the
// backend. Every load takes a generation number; only the newest generation
// may commit, so a slow response for an older request or token is dropped.
type CreditLoader struct {
	store       *session.Store
	client      CreditsAPI
	notifier    notify.Notifier
	log         *slog.Logger
	minInterval time.Duration
	now         func() time.Time

	mu            sync.Mutex
	gen           uint64
	cancel        context.CancelFunc
	inflightToken string
	lastToken     string
	lastLoaded    time.Time

	wg sync.WaitGroup
}

func NewCreditLoader(store *session.Store, client CreditsAPI, notifier notify.Notifier, log *slog.Logger, minInterval time.Duration) *CreditLoader {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &CreditLoader{
		store:       store,
		client:      client,
		notifier:    notifier,
		log:         log,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Load fetches the balance for the current token. Without force, a load for
// the same token that is in flight or finished within minInterval is reused.
// Superseded or cancelled loads return nil without touching state.
func (l *CreditLoader) Load(ctx context.Context, force bool) error {
	token := l.store.Token()
	if token == "" {
		return nil
	}

	l.mu.Lock()
	if !force {
		if l.cancel != nil && l.inflightToken == token {
			l.mu.Unlock()
			return nil
		}
		if l.minInterval > 0 && l.lastToken == token && l.now().Sub(l.lastLoaded) < l.minInterval {
			l.mu.Unlock()
			return nil
		}
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	reqCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.inflightToken = token
	l.mu.Unlock()
	defer cancel()

	res, err := l.client.Credits(reqCtx, token)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		l.log.Debug("dropping superseded credit load", "generation", gen)
		return nil
	}
	l.cancel = nil
	l.inflightToken = ""
	if err == nil {
		if !l.store.ApplyIfCurrent(token, res.Credits, &res.User) {
			l.mu.Unlock()
			l.log.Debug("dropping credit load for replaced token", "generation", gen)
			return nil
		}
		l.lastToken = token
		l.lastLoaded = l.now()
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	if l.store.HandleAuthError(ctx, token, err) {
		return err
	}
	if errors.Is(err, api.ErrTimeout) {
		notify.Error(ctx, l.notifier, msgCreditsLoadTimeout)
	} else {
		notify.Error(ctx, l.notifier, msgCreditsLoadFailed)
	}
	l.log.Warn("load credits failed", "err", err, "retryable", api.IsRetryable(err))
	return fmt.Errorf("load credits: %w", err)
}

// Accept commits a balance the backend reported outside a credit load. Any
// load still in flight is superseded.
func (l *CreditLoader) Accept(balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supersede()
	l.store.SetCredit(balance)
}

// Cancel abandons the in-flight load, if any.
func (l *CreditLoader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supersede()
}

// supersede must be called with l.mu held.
func (l *CreditLoader) supersede() {
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.inflightToken = ""
	l.lastLoaded = time.Time{}
}

// Trigger runs Load in the background. Errors are already surfaced as notices.
func (l *CreditLoader) Trigger(force bool) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.Load(context.Background(), force)
	}()
}

// Wait blocks until every triggered load has finished.
func (l *CreditLoader) Wait() {
	l.wg.Wait()
}
