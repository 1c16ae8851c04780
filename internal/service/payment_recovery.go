package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
)

// RecoveryReport summarises one orphan recovery pass.
type RecoveryReport struct {
	Attempted int
	Recovered int
	Failed    int
	Skipped   int
}

// RecoverPending re-submits verification for orders a previous session left
// unverified: the backend's "created" transactions plus locally journaled
// payments. Each order is tried once, in turn; a failure does not stop the
// rest. A single forced credit reload follows.
func (s *PaymentService) RecoverPending(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	token := s.store.Token()
	if token == "" {
		return report, ErrLoginRequired
	}

	s.recoverMu.Lock()
	defer s.recoverMu.Unlock()

	pending, err := s.client.PendingTransactions(ctx, token)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return report, err
		}
		if s.store.HandleAuthError(ctx, token, err) {
			return report, err
		}
		// The journal may still hold payments worth retrying.
		notify.Error(ctx, s.notifier, msgRecoveryListError)
		s.log.Warn("list pending transactions", "err", err)
	}
	pending = s.mergeJournal(ctx, pending)

	activeOrder := s.activeOrderID()
	for _, p := range pending {
		if p.OrderID == activeOrder {
			continue
		}
		if p.PaymentID == "" || p.Signature == "" {
			// Created but never paid; there is nothing to verify.
			report.Skipped++
			continue
		}
		if s.store.Token() != token {
			s.log.Info("session changed, stopping recovery")
			return report, nil
		}

		report.Attempted++
		res, err := s.client.VerifyPayment(ctx, token, p.Confirmation())
		if err != nil {
			if s.store.HandleAuthError(ctx, token, err) {
				return report, fmt.Errorf("recover %s: %w", p.OrderID, err)
			}
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			report.Failed++
			if !api.IsRetryable(err) {
				s.journalStatus(ctx, p.OrderID, models.JournalFailed)
			}
			s.log.Warn("recover pending payment", "order_id", p.OrderID, "err", err)
			continue
		}
		report.Recovered++
		s.journalStatus(ctx, p.OrderID, models.JournalVerified)
		s.log.Info("recovered pending payment", "order_id", p.OrderID, "duplicate", res.Duplicate)
	}

	if report.Attempted > 0 {
		s.reloadCredits(ctx)
	}
	if report.Recovered > 0 {
		notify.Success(ctx, s.notifier, fmt.Sprintf(msgRecoveredFmt, report.Recovered))
	}
	return report, nil
}

// mergeJournal appends journaled paid orders the backend did not list.
func (s *PaymentService) mergeJournal(ctx context.Context, pending []models.PendingPayment) []models.PendingPayment {
	if s.journal == nil {
		return pending
	}
	entries, err := s.journal.ListByStatus(ctx, models.JournalPaid)
	if err != nil {
		s.log.Error("list journaled payments", "err", err)
		return pending
	}

	seen := make(map[string]int, len(pending))
	for i, p := range pending {
		seen[p.OrderID] = i
	}
	for _, e := range entries {
		if i, ok := seen[e.OrderID]; ok {
			// The backend may not know the payment fields yet.
			if pending[i].PaymentID == "" {
				pending[i].PaymentID = e.PaymentID
				pending[i].Signature = e.Signature
			}
			continue
		}
		seen[e.OrderID] = len(pending)
		pending = append(pending, models.PendingPayment{
			OrderID:   e.OrderID,
			PaymentID: e.PaymentID,
			Signature: e.Signature,
		})
	}
	return pending
}

func (s *PaymentService) activeOrderID() string {
	s.mu.Lock()
	attempt := s.active
	s.mu.Unlock()
	if attempt == nil {
		return ""
	}
	if order := attempt.Order(); order != nil {
		return order.ID
	}
	return ""
}
