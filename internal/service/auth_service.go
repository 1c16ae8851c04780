package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/session"
)

const (
	msgLoginFailed    = "Login failed."
	msgRegisterFailed = "Registration failed."
	msgAuthTimeout    = "The server did not answer in time. Please retry."
)

type AuthAPI interface {
	Register(ctx context.Context, name, email, password string) (*api.AuthResult, error)
	Login(ctx context.Context, email, password string) (*api.AuthResult, error)
}

// AuthService handles the login and registration forms.
type AuthService struct {
	log      *slog.Logger
	store    *session.Store
	client   AuthAPI
	notifier notify.Notifier
}

func NewAuthService(log *slog.Logger, store *session.Store, client AuthAPI, notifier notify.Notifier) *AuthService {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &AuthService{log: log, store: store, client: client, notifier: notifier}
}

func (s *AuthService) Register(ctx context.Context, name, email, password string) (*models.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingName
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrMissingPassword
	}

	res, err := s.client.Register(ctx, name, email, password)
	if err != nil {
		return nil, s.fail(ctx, "register", msgRegisterFailed, err)
	}
	return s.begin(ctx, res, "Account created")
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.Profile, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrMissingPassword
	}

	res, err := s.client.Login(ctx, email, password)
	if err != nil {
		return nil, s.fail(ctx, "login", msgLoginFailed, err)
	}
	return s.begin(ctx, res, "Logged in")
}

// Logout ends the session locally.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.store.Logout(ctx)
}

func (s *AuthService) begin(ctx context.Context, res *api.AuthResult, fallback string) (*models.Profile, error) {
	if err := s.store.SetToken(ctx, res.Token); err != nil {
		// The session is live in memory; it just won't survive a restart.
		s.log.Error("persist token", "err", err)
	}
	s.store.SetUser(&res.User)
	s.store.SetShowLogin(false)

	msg := res.Message
	if msg == "" {
		msg = fallback
	}
	notify.Success(ctx, s.notifier, msg)
	s.log.Info("session started", "user_id", res.User.ID)

	profile := res.User
	return &profile, nil
}

func (s *AuthService) fail(ctx context.Context, op, fallback string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, api.ErrTimeout):
		notify.Error(ctx, s.notifier, msgAuthTimeout)
	default:
		notify.Error(ctx, s.notifier, api.Message(err, fallback))
	}
	s.log.Warn(op+" failed", "err", err)
	return fmt.Errorf("%s: %w", op, err)
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return addr.Address, nil
}
