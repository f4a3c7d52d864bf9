package restosuite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hawkerops/menu-sync/internal/cache"
)

const (
	tokenLockTTL  = 15 * time.Second
	tokenLockWait = 12 * time.Second
)

// TokenManager obtains and refreshes the upstream bearer credential. The
// token, refresh token and their expiries live in the shared cache so that
// separate invocations (scheduler tick, manual run) reuse one credential
// instead of re-authenticating in parallel.
type TokenManager struct {
	cfg        Config
	store      cache.Cache
	httpClient *http.Client
	log        zerolog.Logger
}

// NewTokenManager validates the configuration and returns a token manager.
// Invalid configuration fails here, before any network call.
func NewTokenManager(cfg Config, store cache.Cache, log zerolog.Logger) (*TokenManager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenManager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        log.With().Str("component", "token_manager").Logger(),
	}, nil
}

// Token returns a valid bearer token. Fast path is a cache hit with zero
// I/O; the slow path serializes refresh behind a short-TTL named lock so a
// burst of callers cannot stampede the auth endpoint.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if token, err := m.store.Get(ctx, m.cfg.TokenCacheKey); err == nil {
		return string(token), nil
	}

	lockOwner, acquired, err := m.store.Lock(ctx, m.cfg.TokenLockKey, tokenLockTTL, tokenLockWait)
	if err != nil {
		return "", &AuthError{Code: AuthCodeRequestFailed, Message: "token lock", Err: err}
	}
	if !acquired {
		// A competing refresher held the lock past our wait budget; one more
		// cache check is the best we can do without stampeding.
		if token, err := m.store.Get(ctx, m.cfg.TokenCacheKey); err == nil {
			return string(token), nil
		}
		return "", &AuthError{Code: AuthCodeRequestFailed, Message: "could not acquire token refresh lock"}
	}
	defer m.store.Unlock(ctx, m.cfg.TokenLockKey, lockOwner)

	// Re-check under the lock: another caller may have just refreshed.
	if token, err := m.store.Get(ctx, m.cfg.TokenCacheKey); err == nil {
		return string(token), nil
	}

	if refresh, err := m.store.Get(ctx, m.cfg.RefreshCacheKey); err == nil {
		token, refreshErr := m.refreshToken(ctx, string(refresh))
		if refreshErr == nil {
			return token, nil
		}
		m.log.Warn().Err(refreshErr).Msg("Token refresh failed, falling back to full auth")
		m.clearCredentials(ctx)
	}

	return m.requestNewToken(ctx)
}

// Invalidate clears the cached token, forcing the next call to
// re-authenticate. Used by the client's token-problem retry path.
func (m *TokenManager) Invalidate(ctx context.Context) {
	if err := m.store.Delete(ctx, m.cfg.TokenCacheKey); err != nil {
		m.log.Warn().Err(err).Msg("Failed to clear cached token")
	}
}

// clearCredentials drops all cached credential state.
func (m *TokenManager) clearCredentials(ctx context.Context) {
	m.store.Delete(ctx, m.cfg.TokenCacheKey)
	m.store.Delete(ctx, m.cfg.RefreshCacheKey)
}

// requestNewToken performs a full re-authentication with the app key and
// derived secret code.
func (m *TokenManager) requestNewToken(ctx context.Context) (string, error) {
	body := map[string]any{
		"corporationId": m.cfg.CorporationID,
		"appKey":        m.cfg.AppKey,
		"secretCode":    SecretCode(m.cfg.SecretKey),
		"grantType":     GrantType,
	}
	cred, err := m.postAuth(ctx, m.cfg.TokenPath, body)
	if err != nil {
		return "", err
	}
	return m.storeCredential(ctx, cred)
}

// refreshToken exchanges the cached refresh token for a new credential pair.
func (m *TokenManager) refreshToken(ctx context.Context, refresh string) (string, error) {
	body := map[string]any{
		"corporationId": m.cfg.CorporationID,
		"appKey":        m.cfg.AppKey,
		"refreshToken":  refresh,
	}
	cred, err := m.postAuth(ctx, m.cfg.RefreshPath, body)
	if err != nil {
		return "", err
	}
	return m.storeCredential(ctx, cred)
}

// storeCredential caches the new token pair. The token TTL is clipped below
// the upstream expiry by the safety margin so we treat it as expired before
// the upstream does.
func (m *TokenManager) storeCredential(ctx context.Context, cred *credentialPayload) (string, error) {
	if cred.Token == "" || cred.ExpiresSecond <= 0 {
		return "", &AuthError{Code: AuthCodeTokenEmpty, Message: "auth response missing token or expiry"}
	}

	ttlSeconds := cred.ExpiresSecond - int64(m.cfg.TokenSafetyMarginSeconds)
	if ttlSeconds < 60 {
		ttlSeconds = 60
	}
	tokenTTL := time.Duration(ttlSeconds) * time.Second

	if err := m.store.Set(ctx, m.cfg.TokenCacheKey, []byte(cred.Token), tokenTTL); err != nil {
		return "", &AuthError{Code: AuthCodeRequestFailed, Message: "caching token", Err: err}
	}

	if cred.RefreshToken != "" {
		refreshTTL := tokenTTL
		if refreshTTL < time.Hour {
			refreshTTL = time.Hour
		}
		if err := m.store.Set(ctx, m.cfg.RefreshCacheKey, []byte(cred.RefreshToken), refreshTTL); err != nil {
			m.log.Warn().Err(err).Msg("Failed to cache refresh token")
		}
	}

	m.log.Info().Dur("token_ttl", tokenTTL).Msg("Credential refreshed")
	return cred.Token, nil
}

// postAuth posts a JSON body to one of the auth endpoints and decodes the
// credential envelope.
func (m *TokenManager) postAuth(ctx context.Context, path string, body map[string]any) (*credentialPayload, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "encoding auth request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "building auth request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "auth request", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "reading auth response", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "auth response is not JSON", Err: err}
	}
	if resp.StatusCode >= 400 || !env.ok() {
		msg := env.Msg
		if msg == "" {
			msg = fmt.Sprintf("auth endpoint returned HTTP %d", resp.StatusCode)
		}
		return nil, &AuthError{Code: env.codeString(), Message: msg}
	}

	var cred credentialPayload
	if len(env.BizData) > 0 {
		if err := json.Unmarshal(env.BizData, &cred); err != nil {
			return nil, &AuthError{Code: AuthCodeRequestFailed, Message: "decoding credential payload", Err: err}
		}
	}
	return &cred, nil
}
