package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/imagify/internal/config"
	"github.com/digkill/imagify/internal/models"
)

const (
	pathRegister      = "/api/user/register"
	pathLogin         = "/api/user/login"
	pathCredits       = "/api/user/credits"
	pathGenerateImage = "/api/image/generate-image"
	pathCreateOrder   = "/api/user/create-order"
	pathVerifyPayment = "/api/user/verify-payment"
	pathTransactions  = "/api/user/transactions"
)

const defaultTimeout = 10 * time.Second

// Client talks to the imagify backend over JSON/HTTP.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

type AuthResult struct {
	Token   string
	User    models.Profile
	Message string
}

type CreditsResult struct {
	Credits int
	User    models.Profile
}

type VerifyResult struct {
	Credits   int
	Duplicate bool
	Message   string
}

// envelope holds the fields every backend response may carry.
type envelope struct {
	Success       *bool  `json:"success"`
	Message       string `json:"message"`
	Code          string `json:"code"`
	CreditBalance *int   `json:"creditBalance"`
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BackendURL, "/"),
		timeout: timeout,
		// Deadlines come from the per-call context so they can be told apart from cancellation.
		httpClient: &http.Client{},
		log:        log,
	}
}

func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	payload := map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}
	return c.authenticate(ctx, pathRegister, payload)
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	return c.authenticate(ctx, pathLogin, payload)
}

func (c *Client) authenticate(ctx context.Context, path string, payload any) (*AuthResult, error) {
	var resp struct {
		Token   string         `json:"token"`
		User    models.Profile `json:"user"`
		Message string         `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, path, "", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, &Error{Status: http.StatusOK, Message: "empty token in response"}
	}
	return &AuthResult{Token: resp.Token, User: resp.User, Message: resp.Message}, nil
}

func (c *Client) Credits(ctx context.Context, token string) (*CreditsResult, error) {
	var resp struct {
		Credits int            `json:"credits"`
		User    models.Profile `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, pathCredits, token, nil, &resp); err != nil {
		return nil, err
	}
	return &CreditsResult{Credits: resp.Credits, User: resp.User}, nil
}

// GenerateImage submits a prompt and returns the image reference. A refusal for
// lack of credits comes back as *Error with CreditBalance set.
func (c *Client) GenerateImage(ctx context.Context, token, prompt string) (string, error) {
	var resp struct {
		ResultImage string `json:"resultImage"`
	}
	if err := c.do(ctx, http.MethodPost, pathGenerateImage, token, map[string]string{"prompt": prompt}, &resp); err != nil {
		return "", err
	}
	if resp.ResultImage == "" {
		return "", &Error{Status: http.StatusOK, Message: "empty resultImage in response"}
	}
	return resp.ResultImage, nil
}

func (c *Client) CreateOrder(ctx context.Context, token, planID string) (*models.Order, error) {
	var resp struct {
		Order models.Order `json:"order"`
		Plan  struct {
			Credits int `json:"credits"`
		} `json:"plan"`
	}
	if err := c.do(ctx, http.MethodPost, pathCreateOrder, token, map[string]string{"planId": planID}, &resp); err != nil {
		return nil, err
	}
	if resp.Order.ID == "" {
		return nil, &Error{Status: http.StatusOK, Message: "empty order id in response"}
	}
	order := resp.Order
	order.PlanID = planID
	order.Credits = resp.Plan.Credits
	return &order, nil
}

// VerifyPayment submits the checkout result. An already-applied payment is
// reported as Duplicate rather than as an error.
func (c *Client) VerifyPayment(ctx context.Context, token string, confirmation models.PaymentConfirmation) (*VerifyResult, error) {
	var resp struct {
		Credits int    `json:"credits"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	err := c.do(ctx, http.MethodPost, pathVerifyPayment, token, confirmation, &resp)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Code == CodeDuplicatePayment {
			return &VerifyResult{Duplicate: true, Message: apiErr.Message}, nil
		}
		return nil, err
	}
	if resp.Code == CodeDuplicatePayment {
		return &VerifyResult{Duplicate: true, Message: resp.Message}, nil
	}
	return &VerifyResult{Credits: resp.Credits, Message: resp.Message}, nil
}

// PendingTransactions lists orders the backend still holds in "created" status.
func (c *Client) PendingTransactions(ctx context.Context, token string) ([]models.PendingPayment, error) {
	params := url.Values{}
	params.Set("status", "created")
	var resp struct {
		Transactions []models.PendingPayment `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, pathTransactions+"?"+params.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullURL := c.baseURL + path

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(method, path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	var env envelope
	decodeErr := json.Unmarshal(rawBody, &env)

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Warn("backend request failed", "method", method, "path", path, "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		apiErr := &Error{Status: resp.StatusCode, Code: env.Code, Message: env.Message, CreditBalance: env.CreditBalance}
		if decodeErr != nil {
			apiErr.Message = truncateBody(rawBody)
		}
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, decodeErr, truncateBody(rawBody))
	}
	if env.Success != nil && !*env.Success {
		return &Error{Status: resp.StatusCode, Code: env.Code, Message: env.Message, CreditBalance: env.CreditBalance}
	}
	if env.Success == nil && env.Code != "" {
		return &Error{Status: resp.StatusCode, Code: env.Code, Message: env.Message, CreditBalance: env.CreditBalance}
	}

	if out != nil {
		if err := json.Unmarshal(rawBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// transportError classifies failures where no usable response arrived.
func (c *Client) transportError(method, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", method, path, context.Canceled)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
	}
	if c.log != nil {
		c.log.Warn("backend unreachable", "method", method, "path", path, "err", err)
	}
	return fmt.Errorf("%s %s: %w: %v", method, path, ErrNetwork, err)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
