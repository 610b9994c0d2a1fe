// Package token owns the credential state machine: authorization handshake,
// code exchange, and just-in-time refresh.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
	"github.com/Teemukoivumaa/bikeApp/internal/secrets"
	"github.com/Teemukoivumaa/bikeApp/internal/strava"
)

// Store keys. The credential is a single JSON blob so that its fields are
// always written together.
const (
	keyAuthState    = "auth_state"
	keyCredential   = "credential"
	keyPendingCode  = "pending_code"
	keyGrantedScope = "granted_scope"
)

// API is the slice of the remote client the manager needs.
type API interface {
	ExchangeToken(ctx context.Context, code string) (*strava.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*strava.RefreshResponse, error)
}

// Config carries the fixed OAuth application parameters.
type Config struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scope        string
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger used to report state transitions.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager tracks whether the local session holds a valid credential and
// refreshes it just in time. It is the sole writer of the credential store.
type Manager struct {
	store  secrets.Store
	api    API
	cfg    Config
	logger *log.Logger
}

// NewManager constructs a Manager.
func NewManager(store secrets.Store, api API, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		api:    api,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[token] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reads the persisted authorization state, defaulting to
// Unauthenticated when nothing has been stored yet.
func (m *Manager) State(ctx context.Context) (domain.AuthState, error) {
	raw, err := m.store.Get(ctx, keyAuthState)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return domain.AuthStateUnauthenticated, nil
	}
	return domain.AuthState(raw), nil
}

// IsAuthenticated reports whether the session holds an exchanged credential.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	state, err := m.State(ctx)
	return err == nil && state == domain.AuthStateAuthenticated
}

// BeginAuthorization persists AuthorizationStarted and returns the external
// authorization redirect URL. The state is written before returning so the
// follow-up callback is recognised even after a restart.
func (m *Manager) BeginAuthorization(ctx context.Context) (string, error) {
	if err := m.store.Set(ctx, keyAuthState, string(domain.AuthStateStarted)); err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("client_id", m.cfg.ClientID)
	query.Set("redirect_uri", m.cfg.RedirectURI)
	query.Set("response_type", "code")
	query.Set("approval_prompt", "auto")
	query.Set("scope", m.cfg.Scope)
	return m.cfg.AuthorizeURL + "?" + query.Encode(), nil
}

// CompleteAuthorization records the temporary code and granted scope from the
// authorization callback. No remote call happens here.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, grantedScope string) error {
	if code == "" {
		return fmt.Errorf("complete authorization: empty code")
	}
	if err := m.store.Set(ctx, keyPendingCode, code); err != nil {
		return err
	}
	if err := m.store.Set(ctx, keyGrantedScope, grantedScope); err != nil {
		return err
	}
	return m.store.Set(ctx, keyAuthState, string(domain.AuthStateFinished))
}

// ExchangeIfPending performs the one exchange attempt for a pending
// authorization code. Re-invocation with no pending code is a no-op. A 4xx
// from the token endpoint resets the whole flow to Unauthenticated; a
// transport failure keeps the pending code so the caller can retry.
func (m *Manager) ExchangeIfPending(ctx context.Context) error {
	state, err := m.State(ctx)
	if err != nil {
		return err
	}
	if state != domain.AuthStateFinished {
		return nil
	}

	code, err := m.store.Get(ctx, keyPendingCode)
	if err != nil {
		return err
	}
	if code == "" {
		m.logger.Printf("no pending code, resetting to unauthenticated")
		return m.reset(ctx)
	}

	resp, err := m.api.ExchangeToken(ctx, code)
	if err != nil {
		if domain.IsUpstreamRejected(err) {
			m.logger.Printf("exchange rejected, resetting: %v", err)
			if resetErr := m.reset(ctx); resetErr != nil {
				return resetErr
			}
		}
		return err
	}

	scope, err := m.store.Get(ctx, keyGrantedScope)
	if err != nil {
		return err
	}

	cred := domain.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
		ExpiresIn:    resp.ExpiresIn,
		AccountID:    resp.Athlete.ID,
		Scope:        scope,
	}
	if err := m.saveCredential(ctx, cred); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, keyPendingCode); err != nil {
		return err
	}
	if err := m.store.Set(ctx, keyAuthState, string(domain.AuthStateAuthenticated)); err != nil {
		return err
	}

	m.logger.Printf("authenticated account %d", cred.AccountID)
	return nil
}

// RefreshIfExpired refreshes the credential when it has expired. A failed
// refresh never drops the stored credential: transport errors are retryable
// and even a rejected refresh leaves the stale credential in place, because
// dropping a refresh token over one failure would force a needless
// re-authorization.
func (m *Manager) RefreshIfExpired(ctx context.Context, now time.Time) error {
	state, err := m.State(ctx)
	if err != nil {
		return err
	}
	if state != domain.AuthStateAuthenticated {
		return nil
	}

	cred, err := m.credential(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		return domain.ErrNotAuthenticated
	}

	if now.Unix() < cred.ExpiresAt {
		return nil
	}
	if cred.RefreshToken == "" {
		m.logger.Printf("credential expired but no refresh token held")
		return nil
	}

	resp, err := m.api.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		m.logger.Printf("refresh failed, keeping stale credential: %v", err)
		return err
	}

	next := *cred
	next.AccessToken = resp.AccessToken
	next.RefreshToken = resp.RefreshToken
	next.ExpiresAt = resp.ExpiresAt
	next.ExpiresIn = resp.ExpiresIn
	if err := m.saveCredential(ctx, next); err != nil {
		return err
	}

	observeRefresh()
	m.logger.Printf("credential refreshed, expires at %d", next.ExpiresAt)
	return nil
}

// AccessToken returns the current access token for API calls. A store failure
// surfaces as-is so callers can distinguish it from a missing credential.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	state, err := m.State(ctx)
	if err != nil {
		return "", err
	}
	if state != domain.AuthStateAuthenticated {
		return "", domain.ErrNotAuthenticated
	}
	cred, err := m.credential(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.AccessToken == "" {
		return "", domain.ErrNotAuthenticated
	}
	return cred.AccessToken, nil
}

// Credential exposes a copy of the stored credential, nil when absent.
func (m *Manager) Credential(ctx context.Context) (*domain.Credential, error) {
	return m.credential(ctx)
}

func (m *Manager) credential(ctx context.Context) (*domain.Credential, error) {
	raw, err := m.store.Get(ctx, keyCredential)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var cred domain.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode stored credential: %w", err)
	}
	return &cred, nil
}

func (m *Manager) saveCredential(ctx context.Context, cred domain.Credential) error {
	encoded, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, keyCredential, string(encoded))
}

func (m *Manager) reset(ctx context.Context) error {
	for _, key := range []string{keyCredential, keyPendingCode, keyGrantedScope} {
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return m.store.Set(ctx, keyAuthState, string(domain.AuthStateUnauthenticated))
}
