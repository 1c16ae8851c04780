package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/checkout"
	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/session"
)

const (
	checkoutName = "Credits Payment"

	msgOrderFailed       = "Could not create the order."
	msgCheckoutFailed    = "Could not open the checkout."
	msgPaymentFailed     = "Payment failed."
	msgVerifyFailed      = "Payment verification failed."
	msgVerifyTimeout     = "Payment verification timed out. It will be retried on your next login."
	msgVerifyNeedsLogin  = "Log in again to finish verifying your payment."
	msgDuplicatePayment  = "Payment already processed; no duplicate credits were applied."
	msgPaymentCancelled  = "Payment cancelled."
	msgCreditsAddedFmt   = "Credits added. Balance: %d"
	msgRecoveredFmt      = "Recovered %d pending payment(s)."
	msgRecoveryListError = "Could not check for unfinished payments."
)

type PaymentState int

const (
	PaymentIdle PaymentState = iota
	PaymentOrderRequested
	PaymentOrderCreated
	PaymentCheckoutOpen
	PaymentVerifying
	PaymentVerified
	PaymentFailed
	PaymentCancelled
)

var paymentStateNames = map[PaymentState]string{
	PaymentIdle:           "IDLE",
	PaymentOrderRequested: "ORDER_REQUESTED",
	PaymentOrderCreated:   "ORDER_CREATED",
	PaymentCheckoutOpen:   "CHECKOUT_OPEN",
	PaymentVerifying:      "VERIFYING",
	PaymentVerified:       "VERIFIED",
	PaymentFailed:         "FAILED",
	PaymentCancelled:      "CANCELLED",
}

func (s PaymentState) String() string {
	if name, ok := paymentStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PaymentState(%d)", int(s))
}

type PaymentAPI interface {
	CreateOrder(ctx context.Context, token, planID string) (*models.Order, error)
	VerifyPayment(ctx context.Context, token string, confirmation models.PaymentConfirmation) (*api.VerifyResult, error)
	PendingTransactions(ctx context.Context, token string) ([]models.PendingPayment, error)
}

// OrderJournal keeps a local record of orders so a payment completed in the
// widget can be verified later even if the backend's pending list misses it.
type OrderJournal interface {
	Record(ctx context.Context, entry *models.JournalEntry) error
	MarkPaid(ctx context.Context, confirmation models.PaymentConfirmation) error
	UpdateStatus(ctx context.Context, orderID string, status models.JournalStatus) error
	ListByStatus(ctx context.Context, status models.JournalStatus) ([]models.JournalEntry, error)
}

// Attempt is one purchase, from plan selection to a terminal state.
type Attempt struct {
	mu          sync.Mutex
	plan        models.Plan
	state       PaymentState
	order       *models.Order
	err         error
	transitions []PaymentState
	done        chan struct{}
}

func newAttempt(plan models.Plan) *Attempt {
	return &Attempt{
		plan:        plan,
		state:       PaymentIdle,
		transitions: []PaymentState{PaymentIdle},
		done:        make(chan struct{}),
	}
}

func (a *Attempt) Plan() models.Plan {
	return a.plan
}

func (a *Attempt) State() PaymentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) Order() *models.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.order == nil {
		return nil
	}
	o := *a.order
	return &o
}

// Err is the reason a failed attempt ended, nil otherwise.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Transitions lists every state the attempt went through, in order.
func (a *Attempt) Transitions() []PaymentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PaymentState, len(a.transitions))
	copy(out, a.transitions)
	return out
}

// Done is closed once the attempt reaches a terminal state.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Attempt) setOrder(order *models.Order) {
	a.mu.Lock()
	a.order = order
	a.mu.Unlock()
}

// advance moves from one state to the next and reports whether the attempt
// was in the expected state.
func (a *Attempt) advance(from, to PaymentState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	a.transitions = append(a.transitions, to)
	return true
}

func (a *Attempt) finish(state PaymentState, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
		return
	default:
	}
	a.state = state
	a.err = err
	a.transitions = append(a.transitions, state)
	close(a.done)
}

// PaymentService coordinates credit purchases through the hosted checkout.
type PaymentService struct {
	keyID      string
	themeColor string
	log        *slog.Logger
	store      *session.Store
	client     PaymentAPI
	credits    *CreditLoader
	plans      *PlanService
	provider   checkout.Provider
	journal    OrderJournal
	notifier   notify.Notifier

	mu     sync.Mutex
	active *Attempt

	recoverMu sync.Mutex
}

// NewPaymentService wires the coordinator. journal may be nil.
func NewPaymentService(cfg config.Config, log *slog.Logger, store *session.Store, client PaymentAPI, credits *CreditLoader, plans *PlanService, provider checkout.Provider, journal OrderJournal, notifier notify.Notifier) *PaymentService {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &PaymentService{
		keyID:      cfg.RazorpayKeyID,
		themeColor: cfg.CheckoutThemeColor,
		log:        log,
		store:      store,
		client:     client,
		credits:    credits,
		plans:      plans,
		provider:   provider,
		journal:    journal,
		notifier:   notifier,
	}
}

// InProgress reports whether a purchase attempt is unresolved.
func (s *PaymentService) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// HandlePayment starts a purchase of planID. It returns once the checkout is
// open; the returned attempt resolves when the widget reports back.
func (s *PaymentService) HandlePayment(ctx context.Context, planID string) (*Attempt, error) {
	plan, ok := s.plans.Get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	token := s.store.Token()
	if token == "" {
		s.store.SetShowLogin(true)
		return nil, ErrLoginRequired
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrPaymentInProgress
	}
	attempt := newAttempt(plan)
	s.active = attempt
	s.mu.Unlock()

	attempt.advance(PaymentIdle, PaymentOrderRequested)
	order, err := s.client.CreateOrder(ctx, token, plan.ID)
	if err != nil {
		s.handleOrderError(ctx, token, err)
		s.resolve(attempt, PaymentIdle, err)
		return attempt, fmt.Errorf("create order: %w", err)
	}
	attempt.setOrder(order)
	attempt.advance(PaymentOrderRequested, PaymentOrderCreated)
	s.log.Info("order created", "order_id", order.ID, "plan", plan.ID, "amount", order.Amount)
	s.journalRecord(ctx, plan, order)

	// Callbacks outlive the request context.
	cbCtx := context.WithoutCancel(ctx)
	handlers := checkout.Handlers{
		OnSuccess: func(c models.PaymentConfirmation) { s.onSuccess(cbCtx, attempt, c) },
		OnDismiss: func() { s.onDismiss(cbCtx, attempt) },
		OnFailure: func(reason string) { s.onFailure(cbCtx, attempt, reason) },
	}

	// The provider may report back before Open returns.
	attempt.advance(PaymentOrderCreated, PaymentCheckoutOpen)
	if err := s.provider.Open(ctx, s.checkoutOptions(plan, order), handlers); err != nil {
		if attempt.State() == PaymentCheckoutOpen {
			notify.Error(ctx, s.notifier, msgCheckoutFailed)
			s.journalStatus(ctx, order.ID, models.JournalFailed)
			s.resolve(attempt, PaymentFailed, err)
		}
		return attempt, fmt.Errorf("open checkout: %w", err)
	}
	return attempt, nil
}

// Abandon closes the open checkout on the caller's behalf. The attempt ends
// as cancelled without a notice; a payment that still completes in the widget
// is journaled for recovery.
func (s *PaymentService) Abandon(ctx context.Context) {
	s.mu.Lock()
	attempt := s.active
	s.mu.Unlock()
	if attempt == nil || attempt.State() != PaymentCheckoutOpen {
		return
	}
	if order := attempt.Order(); order != nil {
		s.journalStatus(ctx, order.ID, models.JournalCancelled)
	}
	s.resolve(attempt, PaymentCancelled, nil)
	s.log.Info("checkout abandoned", "plan", attempt.plan.ID)
}

func (s *PaymentService) checkoutOptions(plan models.Plan, order *models.Order) checkout.Options {
	opts := checkout.Options{
		Key:         s.keyID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Name:        checkoutName,
		Description: plan.Description,
		OrderID:     order.ID,
		Receipt:     order.Receipt,
		Theme:       checkout.Theme{Color: s.themeColor},
	}
	if p := s.store.Profile(); p != nil {
		opts.Prefill = checkout.Prefill{Name: p.Name, Email: p.Email}
	}
	return opts
}

func (s *PaymentService) onSuccess(ctx context.Context, attempt *Attempt, c models.PaymentConfirmation) {
	s.journalPaid(ctx, c)
	if !attempt.advance(PaymentCheckoutOpen, PaymentVerifying) {
		s.log.Warn("checkout success outside an open checkout, left for recovery", "order_id", c.OrderID, "state", attempt.State().String())
		return
	}

	token := s.store.Token()
	if token == "" {
		notify.Error(ctx, s.notifier, msgVerifyNeedsLogin)
		s.resolve(attempt, PaymentFailed, ErrLoginRequired)
		return
	}

	res, err := s.client.VerifyPayment(ctx, token, c)
	if err != nil {
		s.handleVerifyError(ctx, token, c.OrderID, err)
		s.resolve(attempt, PaymentFailed, err)
		return
	}
	s.applyVerified(ctx, c.OrderID, res)
	s.store.Navigate(session.RouteHome)
	s.resolve(attempt, PaymentVerified, nil)
}

// applyVerified commits a verification result and reloads credits.
func (s *PaymentService) applyVerified(ctx context.Context, orderID string, res *api.VerifyResult) {
	s.journalStatus(ctx, orderID, models.JournalVerified)
	if res.Duplicate {
		s.log.Info("payment already verified", "order_id", orderID)
		s.reloadCredits(ctx)
		notify.Info(ctx, s.notifier, msgDuplicatePayment)
		return
	}
	s.log.Info("payment verified", "order_id", orderID, "credits", res.Credits)
	if s.credits != nil {
		s.credits.Accept(res.Credits)
	}
	s.reloadCredits(ctx)
	notify.Success(ctx, s.notifier, fmt.Sprintf(msgCreditsAddedFmt, s.store.Credits()))
}

func (s *PaymentService) onDismiss(ctx context.Context, attempt *Attempt) {
	if attempt.State() != PaymentCheckoutOpen {
		// The widget closes itself after a programmatic flow; nothing to report.
		return
	}
	if order := attempt.Order(); order != nil {
		s.journalStatus(ctx, order.ID, models.JournalCancelled)
	}
	s.resolve(attempt, PaymentCancelled, nil)
	notify.Info(ctx, s.notifier, msgPaymentCancelled)
}

func (s *PaymentService) onFailure(ctx context.Context, attempt *Attempt, reason string) {
	msg := msgPaymentFailed
	if reason != "" {
		msg = msgPaymentFailed + " " + reason
	}
	notify.Error(ctx, s.notifier, msg)
	s.log.Warn("checkout reported a failed payment", "plan", attempt.plan.ID, "reason", reason)
}

func (s *PaymentService) resolve(attempt *Attempt, state PaymentState, err error) {
	attempt.finish(state, err)
	s.mu.Lock()
	if s.active == attempt {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *PaymentService) handleOrderError(ctx context.Context, token string, err error) {
	if errors.Is(err, context.Canceled) || s.store.HandleAuthError(ctx, token, err) {
		return
	}
	notify.Error(ctx, s.notifier, api.Message(err, msgOrderFailed))
	s.log.Warn("create order failed", "err", err, "retryable", api.IsRetryable(err))
}

func (s *PaymentService) handleVerifyError(ctx context.Context, token, orderID string, err error) {
	if s.store.HandleAuthError(ctx, token, err) {
		return
	}
	// Retryable failures stay journaled as paid for the next recovery pass.
	if api.IsRetryable(err) {
		if errors.Is(err, api.ErrTimeout) {
			notify.Error(ctx, s.notifier, msgVerifyTimeout)
		} else {
			notify.Error(ctx, s.notifier, api.Message(err, msgVerifyFailed))
		}
	} else {
		s.journalStatus(ctx, orderID, models.JournalFailed)
		notify.Error(ctx, s.notifier, api.Message(err, msgVerifyFailed))
	}
	s.log.Warn("verify payment failed", "order_id", orderID, "err", err, "retryable", api.IsRetryable(err))
}

func (s *PaymentService) reloadCredits(ctx context.Context) {
	if s.credits == nil {
		return
	}
	if err := s.credits.Load(ctx, true); err != nil {
		s.log.Warn("reload credits after payment", "err", err)
	}
}

func (s *PaymentService) journalRecord(ctx context.Context, plan models.Plan, order *models.Order) {
	if s.journal == nil {
		return
	}
	entry := &models.JournalEntry{
		OrderID:  order.ID,
		PlanID:   plan.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   models.JournalCreated,
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.log.Error("journal order", "order_id", order.ID, "err", err)
	}
}

func (s *PaymentService) journalPaid(ctx context.Context, c models.PaymentConfirmation) {
	if s.journal == nil {
		return
	}
	if err := s.journal.MarkPaid(ctx, c); err != nil {
		s.log.Error("journal payment", "order_id", c.OrderID, "err", err)
	}
}

func (s *PaymentService) journalStatus(ctx context.Context, orderID string, status models.JournalStatus) {
	if s.journal == nil {
		return
	}
	if err := s.journal.UpdateStatus(ctx, orderID, status); err != nil {
		s.log.Error("journal status", "order_id", orderID, "status", string(status), "err", err)
	}
}
