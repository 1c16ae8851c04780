package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/models"
)

var ErrClosed = errors.New("checkout server closed")

// Launcher shows a checkout page URL to the user, e.g. by opening a browser.
type Launcher func(url string) error

type pending struct {
	opts     Options
	handlers Handlers
	done     bool
}

// Server hosts checkout pages locally so a terminal client can hand the
// Razorpay widget to a browser and receive its callbacks.
type Server struct {
	addr      string
	publicURL string
	log       *slog.Logger
	launch    Launcher
	router    *chi.Mux

	mu       sync.Mutex
	sessions map[string]*pending
}

func NewServer(cfg config.Config, log *slog.Logger, launch Launcher) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	publicURL := strings.TrimRight(cfg.CheckoutPublicURL, "/")
	if publicURL == "" {
		publicURL = "http://" + cfg.CheckoutListenAddr
	}

	s := &Server{
		addr:      cfg.CheckoutListenAddr,
		publicURL: publicURL,
		log:       log,
		launch:    launch,
		router:    r,
		sessions:  make(map[string]*pending),
	}
	r.Route("/checkout/{id}", func(r chi.Router) {
		r.Get("/", s.handlePage)
		r.Post("/success", s.handleSuccess)
		r.Post("/dismiss", s.handleDismiss)
		r.Post("/failure", s.handleFailure)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Open registers a checkout session and hands its page URL to the launcher.
func (s *Server) Open(ctx context.Context, opts Options, h Handlers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.OrderID == "" {
		return fmt.Errorf("open checkout: empty order id")
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &pending{opts: opts, handlers: h}
	s.mu.Unlock()

	url := s.publicURL + "/checkout/" + id
	s.log.Info("checkout opened", "order_id", opts.OrderID, "session", id)
	if s.launch == nil {
		return nil
	}
	if err := s.launch(url); err != nil {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return fmt.Errorf("launch checkout: %w", err)
	}
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("checkout shutdown error", "err", err)
		}
	}()

	s.log.Info("checkout server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("checkout listen: %w", err)
	}
	return nil
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	p, ok := s.sessions[id]
	var opts Options
	done := false
	if ok {
		opts = p.opts
		done = p.done
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return
	}
	if done {
		http.Error(w, "checkout already completed", http.StatusGone)
		return
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		s.internalError(w, err)
		return
	}
	data := pageData{
		Title:   opts.Description,
		OrderID: opts.OrderID,
		Base:    "/checkout/" + id,
		Options: template.JS(raw),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.log.Error("render checkout page", "err", err)
	}
}

func (s *Server) handleSuccess(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentConfirmation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.PaymentID == "" || req.OrderID == "" || req.Signature == "" {
		http.Error(w, "razorpay_payment_id, razorpay_order_id and razorpay_signature required", http.StatusBadRequest)
		return
	}
	h, ok := s.consume(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.log.Info("checkout completed", "order_id", req.OrderID, "payment_id", req.PaymentID)
	if h.OnSuccess != nil {
		h.OnSuccess(req)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	h, ok := s.consume(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if h.OnDismiss != nil {
		h.OnDismiss()
	}
	w.WriteHeader(http.StatusNoContent)
}

type failureRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	p, ok := s.sessions[id]
	var h Handlers
	if ok && !p.done {
		h = p.handlers
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return
	}
	if h.OnFailure != nil {
		h.OnFailure(req.Reason)
	}
	w.WriteHeader(http.StatusNoContent)
}

// consume marks a session finished. Each session resolves exactly once.
func (s *Server) consume(w http.ResponseWriter, id string) (Handlers, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[id]
	if !ok {
		http.Error(w, "checkout not found", http.StatusNotFound)
		return Handlers{}, false
	}
	if p.done {
		http.Error(w, "checkout already completed", http.StatusGone)
		return Handlers{}, false
	}
	p.done = true
	return p.handlers, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("checkout handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type pageData struct {
	Title   string
	OrderID string
	Base    string
	Options template.JS
}

var pageTemplate = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://checkout.razorpay.com/v1/checkout.js"></script>
</head>
<body>
<p id="status">Opening checkout for order {{.OrderID}}…</p>
<script>
(function () {
  var base = {{.Base}};
  var status = document.getElementById("status");
  function post(path, body) {
    return fetch(base + path, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body || {})
    });
  }
  var options = {{.Options}};
  options.handler = function (resp) {
    status.textContent = "Verifying payment…";
    post("/success", resp).then(function () {
      status.textContent = "Payment received. You can close this tab.";
    });
  };
  options.modal = {
    ondismiss: function () {
      post("/dismiss");
      status.textContent = "Payment cancelled. You can close this tab.";
    }
  };
  var rzp = new Razorpay(options);
  rzp.on("payment.failed", function (resp) {
    var reason = resp && resp.error ? resp.error.description : "";
    post("/failure", {reason: reason});
  });
  rzp.open();
})();
</script>
</body>
</html>
`))
