package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagify/internal/checkout"
	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
	"github.com/digkill/imagify/internal/service"
	"github.com/digkill/imagify/internal/session"
)

type recordedRequest struct {
	Path string
	Auth string
	Body map[string]any
}

// backend is a scripted stand-in for the imagify API.
type backend struct {
	mu       sync.Mutex
	requests []recordedRequest
	credits  atomic.Int64
	pending  []models.PendingPayment
	server   *httptest.Server
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/credits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"credits": b.credits.Load(),
			"user":    map[string]any{"_id": "u1", "name": "Fox", "email": "fox@example.com"},
		})
	})
	mux.HandleFunc("/api/user/transactions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		pending := b.pending
		b.mu.Unlock()
		if pending == nil {
			pending = []models.PendingPayment{}
		}
		writeJSON(w, map[string]any{"success": true, "transactions": pending})
	})
	mux.HandleFunc("/api/image/generate-image", func(w http.ResponseWriter, r *http.Request) {
		if b.credits.Load() <= 0 {
			writeJSON(w, map[string]any{"success": false, "message": "No Credit Balance", "creditBalance": 0})
			return
		}
		b.credits.Add(-1)
		writeJSON(w, map[string]any{"success": true, "resultImage": "data:image/png;base64,AAAA"})
	})
	mux.HandleFunc("/api/user/create-order", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"order":   map[string]any{"id": "o1", "amount": 1000, "currency": "INR", "receipt": "rcpt_1"},
			"plan":    map[string]any{"credits": 100},
		})
	})
	mux.HandleFunc("/api/user/verify-payment", func(w http.ResponseWriter, r *http.Request) {
		b.credits.Store(25)
		writeJSON(w, map[string]any{"success": true, "credits": 25})
	})

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &rec.Body)
			}
		}
		b.mu.Lock()
		b.requests = append(b.requests, rec)
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) calls(path string) []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedRequest
	for _, r := range b.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// syncProvider completes the checkout as soon as it is opened.
type syncProvider struct {
	opts         checkout.Options
	confirmation models.PaymentConfirmation
}

func (p *syncProvider) Open(ctx context.Context, opts checkout.Options, h checkout.Handlers) error {
	p.opts = opts
	h.OnSuccess(p.confirmation)
	return nil
}

func newTestApp(t *testing.T, b *backend, deps Deps) (*App, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	deps.Notifier = rec
	cfg := config.Config{
		BackendURL:         b.server.URL + "/",
		RequestTimeout:     2 * time.Second,
		CreditsMinInterval: time.Second,
		RazorpayKeyID:      "rzp_test_key",
	}
	a := New(cfg, nil, deps)
	t.Cleanup(a.Wait)
	return a, rec
}

func TestAnonymousGenerateFailsFast(t *testing.T) {
	b := newBackend(t)
	a, _ := newTestApp(t, b, Deps{})

	_, err := a.Generation.Generate(context.Background(), "a red fox")
	require.ErrorIs(t, err, service.ErrLoginRequired)
	assert.True(t, a.Store.ShowLogin())
	assert.Empty(t, b.calls(""), "no request may reach the backend")
}

func TestLoginTriggersCreditLoadAndRecovery(t *testing.T) {
	b := newBackend(t)
	b.credits.Store(7)
	a, _ := newTestApp(t, b, Deps{})

	require.NoError(t, a.Store.SetToken(context.Background(), "tok"))
	a.Wait()

	assert.Equal(t, 7, a.Store.Credits())
	require.NotNil(t, a.Store.Profile())
	assert.Equal(t, "Fox", a.Store.Profile().Name)
	assert.Len(t, b.calls("/api/user/transactions"), 1)
	for _, r := range b.calls("") {
		assert.Equal(t, "Bearer tok", r.Auth, r.Path)
	}
}

func TestExhaustedCreditsRedirectToPurchase(t *testing.T) {
	b := newBackend(t)
	a, rec := newTestApp(t, b, Deps{})
	require.NoError(t, a.Store.SetToken(context.Background(), "tok"))
	a.Wait()
	require.Equal(t, 0, a.Store.Credits())

	_, err := a.Generation.Generate(context.Background(), "a red fox")
	require.ErrorIs(t, err, service.ErrCreditsExhausted)
	assert.Equal(t, session.RouteBuy, a.Store.TakeRoute())
	assert.Equal(t, 1, rec.Count(notify.LevelError))
	assert.True(t, a.Store.Authenticated())
}

func TestGenerateReloadsCredits(t *testing.T) {
	b := newBackend(t)
	b.credits.Store(3)
	a, _ := newTestApp(t, b, Deps{})
	require.NoError(t, a.Store.SetToken(context.Background(), "tok"))
	a.Wait()

	res, err := a.Generation.Generate(context.Background(), "a red fox")
	require.NoError(t, err)
	a.Wait()

	assert.Equal(t, "data:image/png;base64,AAAA", res.Image)
	assert.Equal(t, 2, a.Store.Credits())
}

func TestPurchaseFlowEndToEnd(t *testing.T) {
	b := newBackend(t)
	provider := &syncProvider{confirmation: models.PaymentConfirmation{PaymentID: "p1", OrderID: "o1", Signature: "s1"}}
	a, rec := newTestApp(t, b, Deps{Provider: provider})
	require.NoError(t, a.Store.SetToken(context.Background(), "tok"))
	a.Wait()

	attempt, err := a.Payments.HandlePayment(context.Background(), "basic")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, attempt.Wait(ctx))

	assert.Equal(t, service.PaymentVerified, attempt.State())
	assert.Equal(t, 1000, provider.opts.Amount)
	assert.Equal(t, "o1", provider.opts.OrderID)
	assert.Equal(t, "fox@example.com", provider.opts.Prefill.Email)

	orders := b.calls("/api/user/create-order")
	require.Len(t, orders, 1)
	assert.Equal(t, map[string]any{"planId": "basic"}, orders[0].Body)

	verifies := b.calls("/api/user/verify-payment")
	require.Len(t, verifies, 1)
	assert.Equal(t, map[string]any{
		"razorpay_payment_id": "p1",
		"razorpay_order_id":   "o1",
		"razorpay_signature":  "s1",
	}, verifies[0].Body)

	assert.Equal(t, 25, a.Store.Credits())
	assert.False(t, a.Payments.InProgress())
	assert.Equal(t, 1, rec.Count(notify.LevelSuccess))
}

func TestRestoreRecoversOrphanedPayment(t *testing.T) {
	b := newBackend(t)
	b.pending = []models.PendingPayment{{OrderID: "o9", PaymentID: "p9", Signature: "s9"}}
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, session.NewFileTokenStore(path).Save(context.Background(), "tok"))

	a, _ := newTestApp(t, b, Deps{Tokens: session.NewFileTokenStore(path)})
	require.NoError(t, a.Start(context.Background()))
	a.Wait()

	verifies := b.calls("/api/user/verify-payment")
	require.Len(t, verifies, 1)
	assert.Equal(t, "o9", verifies[0].Body["razorpay_order_id"])
	assert.Equal(t, 25, a.Store.Credits())
}

func TestLogoutCancelsLoads(t *testing.T) {
	b := newBackend(t)
	a, rec := newTestApp(t, b, Deps{})
	require.NoError(t, a.Store.SetToken(context.Background(), "tok"))
	a.Wait()

	require.NoError(t, a.Auth.Logout(context.Background()))
	a.Wait()
	assert.False(t, a.Store.Authenticated())
	assert.Equal(t, 0, a.Store.Credits())
	assert.Equal(t, 1, rec.Count(notify.LevelInfo))
}
