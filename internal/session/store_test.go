package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/digkill/imagify/internal/api"
	"github.com/digkill/imagify/internal/models"
	"github.com/digkill/imagify/internal/notify"
)

func newTestStore(t *testing.T) (*Store, *MemoryTokenStore, *notify.Recorder) {
	t.Helper()
	tokens := &MemoryTokenStore{}
	rec := &notify.Recorder{}
	return NewStore(tokens, rec, nil), tokens, rec
}

func TestSetTokenPersistsLatest(t *testing.T) {
	ctx := context.Background()
	s, tokens, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		token := ""
		if rng.Intn(3) > 0 {
			token = fmt.Sprintf("tok-%d", rng.Intn(5))
		}
		if err := s.SetToken(ctx, token); err != nil {
			t.Fatalf("SetToken(%q): %v", token, err)
		}
		persisted, _ := tokens.Load(ctx)
		if persisted != token {
			t.Fatalf("step %d: persisted = %q, want %q", i, persisted, token)
		}
	}
}

func TestEmptyTokenClearsProfileAndCredits(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	s.SetToken(ctx, "tok")
	s.SetUser(&models.Profile{Name: "Fox"})
	s.SetCredit(12)
	if s.Credits() != 12 || s.Profile() == nil {
		t.Fatalf("setters ignored on authenticated session: %+v", s.Snapshot())
	}

	s.SetToken(ctx, "")
	snap := s.Snapshot()
	if snap.Authenticated() || snap.Profile != nil || snap.Credits != 0 {
		t.Errorf("snapshot after clear = %+v", snap)
	}
}

func TestSettersIgnoredWhenAnonymous(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.SetUser(&models.Profile{Name: "Fox"})
	s.SetCredit(5)
	if s.Profile() != nil || s.Credits() != 0 {
		t.Errorf("anonymous session holds state: %+v", s.Snapshot())
	}
}

func TestSetCreditClampsNegative(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.SetToken(context.Background(), "tok")
	s.SetCredit(-3)
	if s.Credits() != 0 {
		t.Errorf("credits = %d, want 0", s.Credits())
	}
}

func TestLogoutIsLocal(t *testing.T) {
	ctx := context.Background()
	s, tokens, rec := newTestStore(t)
	s.SetToken(ctx, "tok")
	s.SetCredit(3)

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.Authenticated() {
		t.Error("still authenticated after logout")
	}
	if persisted, _ := tokens.Load(ctx); persisted != "" {
		t.Errorf("persisted token = %q, want empty", persisted)
	}
	if rec.Count(notify.LevelInfo) != 1 {
		t.Errorf("notices = %+v, want one info", rec.Notices())
	}
}

func TestTokenChangeListeners(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	var seen []string
	s.OnTokenChange(func(token string) {
		// Listeners run outside the lock and may read the store.
		seen = append(seen, token+"|"+s.Token())
	})

	s.SetToken(ctx, "a")
	s.SetToken(ctx, "a")
	s.SetToken(ctx, "b")
	s.Logout(ctx)

	want := []string{"a|a", "b|b", "|"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestHandleAuthErrorInvalidatesCurrentToken(t *testing.T) {
	ctx := context.Background()
	s, tokens, rec := newTestStore(t)
	s.SetToken(ctx, "tok")

	err := fmt.Errorf("GET /api/user/credits: %w", api.ErrUnauthorized)
	if !s.HandleAuthError(ctx, "tok", err) {
		t.Fatal("expected 401 to be recognized")
	}
	if s.Authenticated() {
		t.Error("session should be cleared")
	}
	if persisted, _ := tokens.Load(ctx); persisted != "" {
		t.Errorf("persisted token = %q", persisted)
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Level != notify.LevelError || notices[0].Message != msgSessionExpired {
		t.Errorf("notices = %+v", notices)
	}

	// A second 401 on the already-cleared session stays quiet.
	s.HandleAuthError(ctx, "tok", err)
	if len(rec.Notices()) != 1 {
		t.Errorf("duplicate notice: %+v", rec.Notices())
	}
}

func TestHandleAuthErrorIgnoresSupersededToken(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newTestStore(t)
	s.SetToken(ctx, "new")

	if !s.HandleAuthError(ctx, "old", api.ErrUnauthorized) {
		t.Fatal("expected 401 to be recognized")
	}
	if s.Token() != "new" {
		t.Errorf("token = %q, newer session must survive", s.Token())
	}
	if len(rec.Notices()) != 0 {
		t.Errorf("unexpected notices: %+v", rec.Notices())
	}
}

func TestHandleAuthErrorOtherErrors(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.SetToken(context.Background(), "tok")
	if s.HandleAuthError(context.Background(), "tok", errors.New("boom")) {
		t.Error("non-401 error reported as auth failure")
	}
	if !s.Authenticated() {
		t.Error("session cleared on non-401 error")
	}
}

func TestRestoreFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "token")
	first := NewStore(NewFileTokenStore(path), nil, nil)
	if err := first.SetToken(ctx, "persisted-token"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	second := NewStore(NewFileTokenStore(path), nil, nil)
	fired := ""
	second.OnTokenChange(func(token string) { fired = token })
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if second.Token() != "persisted-token" || fired != "persisted-token" {
		t.Errorf("restored token = %q, listener saw %q", second.Token(), fired)
	}

	second.SetToken(ctx, "")
	third := NewStore(NewFileTokenStore(path), nil, nil)
	third.Restore(ctx)
	if third.Authenticated() {
		t.Error("cleared token came back after restart")
	}
}

func TestIntents(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.SetShowLogin(true)
	s.Navigate(RouteBuy)
	if !s.ShowLogin() {
		t.Error("show-login intent lost")
	}
	if got := s.TakeRoute(); got != RouteBuy {
		t.Errorf("route = %q, want %q", got, RouteBuy)
	}
	if got := s.TakeRoute(); got != "" {
		t.Errorf("route not reset, got %q", got)
	}
}
