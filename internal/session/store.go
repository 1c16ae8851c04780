package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
)

const (
	RouteHome   = "/"
	RouteResult = "/result"
	RouteBuy    = "/buy"
)

const (
	msgSessionExpired = "Session expired. Please log in again."
	msgLoggedOut      = "Logged out successfully"
)

// TokenStore persists the bearer token across process restarts.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Token     string
	Profile   *models.Profile
	Credits   int
	ShowLogin bool
	Route     string
}

func (s Snapshot) Authenticated() bool {
	return s.Token != ""
}

// Store is the single source of truth for identity, token and credit balance.
// All mutation goes through its methods.
type Store struct {
	mu        sync.Mutex
	token     string
	profile   *models.Profile
	credits   int
	showLogin bool
	route     string

	tokens    TokenStore
	notifier  notify.Notifier
	log       *slog.Logger
	listeners []func(token string)
}

func NewStore(tokens TokenStore, notifier notify.Notifier, log *slog.Logger) *Store {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &Store{
		tokens:   tokens,
		notifier: notifier,
		log:      log,
	}
}

// OnTokenChange registers fn to run after every token change, including
// changes to the empty token. fn runs outside the store lock.
func (s *Store) OnTokenChange(fn func(token string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Restore loads the persisted token, if any, and makes it current.
func (s *Store) Restore(ctx context.Context) error {
	if s.tokens == nil {
		return nil
	}
	token, err := s.tokens.Load(ctx)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		return nil
	}

	s.mu.Lock()
	changed := s.token != token
	s.token = token
	listeners := s.snapshotListeners(changed)
	s.mu.Unlock()

	s.fire(listeners, token)
	return nil
}

// SetToken replaces the bearer token and persists it; an empty token clears
// the session. The in-memory state changes even when persistence fails.
func (s *Store) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	if token == "" {
		s.profile = nil
		s.credits = 0
	}
	err := s.persist(ctx, token)
	listeners := s.snapshotListeners(changed)
	s.mu.Unlock()

	s.fire(listeners, token)
	return err
}

func (s *Store) SetUser(profile *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return
	}
	if profile == nil {
		s.profile = nil
		return
	}
	p := *profile
	s.profile = &p
}

func (s *Store) SetCredit(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return
	}
	s.credits = n
}

// ApplyIfCurrent commits a balance and profile fetched with token, but only if
// token is still the session token. It reports whether the commit happened.
func (s *Store) ApplyIfCurrent(token string, credits int, profile *models.Profile) bool {
	if credits < 0 {
		credits = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || s.token != token {
		return false
	}
	s.credits = credits
	if profile != nil {
		p := *profile
		s.profile = &p
	}
	return true
}

// Logout clears the session locally. The backend is never contacted.
func (s *Store) Logout(ctx context.Context) error {
	err := s.clear(ctx)
	notify.Info(ctx, s.notifier, msgLoggedOut)
	return err
}

// Invalidate drops a session the backend no longer accepts.
func (s *Store) Invalidate(ctx context.Context) {
	s.mu.Lock()
	active := s.token != ""
	s.mu.Unlock()

	if err := s.clear(ctx); err != nil && s.log != nil {
		s.log.Error("clear persisted token", "err", err)
	}
	if active {
		notify.Error(ctx, s.notifier, msgSessionExpired)
	}
}

// HandleAuthError invalidates the session when err is a 401 for the token
// that is still current, and reports whether err was an authentication failure.
// A 401 for a token that has since been replaced leaves the new session alone.
func (s *Store) HandleAuthError(ctx context.Context, usedToken string, err error) bool {
	if !errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	s.mu.Lock()
	current := s.token
	s.mu.Unlock()

	if usedToken != "" && usedToken == current {
		if s.log != nil {
			s.log.Info("session rejected by backend, clearing")
		}
		s.Invalidate(ctx)
	}
	return true
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	changed := s.token != ""
	s.token = ""
	s.profile = nil
	s.credits = 0
	err := s.persist(ctx, "")
	listeners := s.snapshotListeners(changed)
	s.mu.Unlock()

	s.fire(listeners, "")
	return err
}

func (s *Store) SetShowLogin(show bool) {
	s.mu.Lock()
	s.showLogin = show
	s.mu.Unlock()
}

func (s *Store) ShowLogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showLogin
}

// Navigate records where the presentation layer should go next.
func (s *Store) Navigate(route string) {
	s.mu.Lock()
	s.route = route
	s.mu.Unlock()
}

// TakeRoute returns the pending navigation intent and resets it.
func (s *Store) TakeRoute() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	route := s.route
	s.route = ""
	return route
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Store) Credits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits
}

func (s *Store) Profile() *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

func (s *Store) Authenticated() bool {
	return s.Token() != ""
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Token:     s.token,
		Credits:   s.credits,
		ShowLogin: s.showLogin,
		Route:     s.route,
	}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

// persist must be called with s.mu held so writes land in call order.
func (s *Store) persist(ctx context.Context, token string) error {
	if s.tokens == nil {
		return nil
	}
	if token == "" {
		if err := s.tokens.Clear(ctx); err != nil {
			return fmt.Errorf("clear token: %w", err)
		}
		return nil
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *Store) snapshotListeners(changed bool) []func(string) {
	if !changed || len(s.listeners) == 0 {
		return nil
	}
	out := make([]func(string), len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Store) fire(listeners []func(string), token string) {
	for _, fn := range listeners {
		fn(token)
	}
}
