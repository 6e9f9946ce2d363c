package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// PendingConnection is a connect flow waiting for its callback.
type PendingConnection struct {
	State        string
	Platform     models.Platform
	CredentialID string
	IssuedAt     time.Time
}

// ConnectResult reports how a connect flow ended.
type ConnectResult struct {
	Pending  PendingConnection
	Channels []models.Channel
	err      error
}

// Err is the reason the flow failed, or nil.
func (c *ConnectResult) Err() error {
	return c.err
}

// Reconciler refreshes a credential's channels after it gained a connection.
type Reconciler func(ctx context.Context, credentialID string) ([]models.Channel, error)

// ConnectCallback handles the redirect back from a platform's authorization page.
//
// Each state token is registered for one connect attempt and is consumed by the first callback
// carrying it; replays and unknown tokens are rejected.
type ConnectCallback struct {
	mu        sync.Mutex
	pending   map[string]PendingConnection
	ttl       time.Duration
	now       func() time.Time
	reconcile Reconciler
	results   chan ConnectResult
	logger    *log.Logger
}

// NewConnectCallback creates a callback handler. reconcile may be nil.
func NewConnectCallback(reconcile Reconciler, ttl time.Duration, logger *log.Logger) *ConnectCallback {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ConnectCallback{
		pending:   make(map[string]PendingConnection),
		ttl:       ttl,
		now:       time.Now,
		reconcile: reconcile,
		results:   make(chan ConnectResult, 16),
		logger:    shared.WithLogger(logger, "component", "callback"),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *ConnectCallback) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/api/connect/callback", Handler: h.ServeHTTP}}
}

// Register records a connect attempt under its state token.
func (h *ConnectCallback) Register(state string, platform models.Platform, credentialID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for s, p := range h.pending {
		if now.Sub(p.IssuedAt) > h.ttl {
			delete(h.pending, s)
		}
	}
	h.pending[state] = PendingConnection{State: state, Platform: platform, CredentialID: credentialID, IssuedAt: now}
}

// Pending returns the number of connect attempts awaiting a callback.
func (h *ConnectCallback) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// RedirectURL is the callback address for state under base.
func RedirectURL(base, state string) string {
	return base + "/api/connect/callback?" + url.Values{"state": {state}}.Encode()
}

func (h *ConnectCallback) consume(state string) (PendingConnection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[state]
	if !ok {
		return p, false
	}
	delete(h.pending, state)
	if h.now().Sub(p.IssuedAt) > h.ttl {
		return p, false
	}
	return p, true
}

// ServeHTTP validates the state token, refreshes the credential's channels and reports the result.
func (h *ConnectCallback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pending, ok := h.consume(r.URL.Query().Get("state"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		err := fmt.Errorf("%w: %s - %s", shared.ErrAuthFailed, errParam, r.URL.Query().Get("error_description"))
		h.Send(ConnectResult{Pending: pending, err: err})
		writeError(w, http.StatusBadRequest, "authorization failed")
		return
	}

	result := ConnectResult{Pending: pending}
	if h.reconcile != nil {
		channels, err := h.reconcile(r.Context(), pending.CredentialID)
		if err != nil {
			h.logger.Error("refresh after connect failed", "credential", pending.CredentialID, "error", err)
			result.err = err
			h.Send(result)
			writeError(w, http.StatusBadGateway, "connected, but the channel list could not be refreshed")
			return
		}
		result.Channels = channels
	}

	h.logger.Info("platform connected", "platform", pending.Platform, "credential", pending.CredentialID, "channels", len(result.Channels))
	h.Send(result)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>Channel Connected</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1D7FB9; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s connected</h1>
        <p>You can close this window and return to the app.</p>
    </div>
</body>
</html>
`, pending.Platform)
}

// Send reports a result without blocking; results nobody reads are dropped.
func (h *ConnectCallback) Send(result ConnectResult) {
	select {
	case h.results <- result:
	default:
	}
}

// Results returns the channel receiving finished connect flows.
func (h *ConnectCallback) Results() <-chan ConnectResult {
	return h.results
}
