package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/session"
)

const (
	msgGenerateFailed   = "Image generation failed."
	msgGenerateTimeout  = "Image generation timed out. Please retry."
	msgCreditsExhausted = "No credits left. Buy a plan to keep generating."
)

type GenerateAPI interface {
	GenerateImage(ctx context.Context, token, prompt string) (string, error)
}

// ImageArchive copies a generated image somewhere durable and returns its URL.
type ImageArchive interface {
	Archive(ctx context.Context, image string) (string, error)
}

type GenerationHistory interface {
	Log(ctx context.Context, g *models.Generation) error
	Recent(ctx context.Context, limit int) ([]models.Generation, error)
}

type GenerationService struct {
	log      *slog.Logger
	store    *session.Store
	client   GenerateAPI
	credits  *CreditLoader
	notifier notify.Notifier
	archive  ImageArchive
	history  GenerationHistory
}

type GenerationResult struct {
	Prompt     string
	Image      string
	ArchiveURL string
}

// NewGenerationService builds the gateway. archive and history are optional.
func NewGenerationService(log *slog.Logger, store *session.Store, client GenerateAPI, credits *CreditLoader, notifier notify.Notifier, archive ImageArchive, history GenerationHistory) *GenerationService {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &GenerationService{
		log:      log,
		store:    store,
		client:   client,
		credits:  credits,
		notifier: notifier,
		archive:  archive,
		history:  history,
	}
}

// Generate turns a prompt into an image reference. Validation and missing
// login fail before any request is made. A refusal for lack of credits is
// returned as ErrCreditsExhausted and leaves a purchase intent on the session.
func (s *GenerationService) Generate(ctx context.Context, prompt string) (*GenerationResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrInvalidPrompt
	}
	token := s.store.Token()
	if token == "" {
		s.store.SetShowLogin(true)
		return nil, ErrLoginRequired
	}

	image, err := s.client.GenerateImage(ctx, token, prompt)
	if err != nil {
		return nil, s.handleError(ctx, token, err)
	}

	if s.credits != nil {
		s.credits.Trigger(true)
	}

	result := &GenerationResult{Prompt: prompt, Image: image}
	if s.archive != nil {
		url, err := s.archive.Archive(ctx, image)
		if err != nil {
			s.log.Warn("archive generated image", "err", err)
		} else {
			result.ArchiveURL = url
		}
	}
	if s.history != nil {
		entry := &models.Generation{
			Prompt:     prompt,
			Image:      image,
			ArchiveURL: result.ArchiveURL,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.history.Log(ctx, entry); err != nil {
			s.log.Error("failed to log generation", "err", err)
		}
	}
	s.store.Navigate(session.RouteResult)
	return result, nil
}

func (s *GenerationService) handleError(ctx context.Context, token string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if s.store.HandleAuthError(ctx, token, err) {
		return err
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.CreditBalance != nil && *apiErr.CreditBalance <= 0 {
		if s.credits != nil {
			s.credits.Accept(0)
		}
		s.store.Navigate(session.RouteBuy)
		notify.Error(ctx, s.notifier, api.Message(err, msgCreditsExhausted))
		return fmt.Errorf("%w: %s", ErrCreditsExhausted, apiErr.Message)
	}

	if errors.Is(err, api.ErrTimeout) {
		notify.Error(ctx, s.notifier, msgGenerateTimeout)
	} else {
		notify.Error(ctx, s.notifier, api.Message(err, msgGenerateFailed))
	}
	s.log.Warn("generate image failed", "err", err, "retryable", api.IsRetryable(err))
	return fmt.Errorf("generate image: %w", err)
}

// History returns the most recent local generations, newest first.
func (s *GenerationService) History(ctx context.Context, limit int) ([]models.Generation, error) {
	if s.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return s.history.Recent(ctx, limit)
}
