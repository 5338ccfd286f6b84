package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/csrf"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/oidc"
	"github.com/ledossier/backend/internal/pkce"
	"github.com/ledossier/backend/internal/serviceerr"
)

// Manager drives the OIDC authorization-code flow against the configured
// provider and owns the session records behind the cookies.
type Manager struct {
	provider     *oidc.Provider
	sessions     Repository
	pkce         pkce.Source
	secureClient *http.Client

	sessionDuration time.Duration
	callbackURL     *url.URL
	clientID        string
	scopes          string

	sessionCookieTemplate config.CookieTemplate
	csrfCookieTemplate    config.CookieTemplate

	csrfSecret []byte
}

// LoginResult is handed to the callback handler after a successful login.
type LoginResult struct {
	SessionID string
	CSRFToken string
	Claims    oidc.Claims
}

func NewManager(
	cfg *config.Config,
	provider *oidc.Provider,
	sessions Repository,
	httpClient *http.Client,
) (*Manager, error) {
	csrfSecret, err := commoncfg.LoadValueFromSourceRef(cfg.Gateway.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("loading csrf secret from source ref: %w", err)
	}
	if len(csrfSecret) < 32 {
		return nil, errors.New("CSRF secret must be at least 32 bytes")
	}

	callbackURL, err := url.Parse(cfg.OIDC.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("parsing callback URL: %w", err)
	}

	return &Manager{
		provider:              provider,
		sessions:              sessions,
		secureClient:          httpClient,
		sessionDuration:       cfg.Gateway.SessionDuration,
		callbackURL:           callbackURL,
		clientID:              cfg.OIDC.ClientID,
		scopes:                cfg.OIDC.Scopes,
		sessionCookieTemplate: cfg.Gateway.SessionCookieTemplate,
		csrfCookieTemplate:    cfg.Gateway.CSRFCookieTemplate,
		csrfSecret:            csrfSecret,
	}, nil
}

// MakeAuthURI stores a pending login state and returns the provider's
// authorization URI to redirect the user to.
func (m *Manager) MakeAuthURI(ctx context.Context) (string, error) {
	openidConf, err := m.provider.GetOpenIDConfig(ctx, http.DefaultClient)
	if err != nil {
		return "", fmt.Errorf("getting an openid config: %w", err)
	}

	stateID := m.pkce.State()
	pk := m.pkce.PKCE()

	state := State{
		ID:           stateID,
		PKCEVerifier: pk.Verifier,
		Expiry:       time.Now().Add(m.sessionDuration),
	}

	if err := m.sessions.StoreState(ctx, state); err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}

	u, err := m.authURI(openidConf, state, pk)
	if err != nil {
		return "", fmt.Errorf("generating auth uri: %w", err)
	}

	return u, nil
}

func (m *Manager) authURI(openidConf oidc.Configuration, state State, pk pkce.PKCE) (string, error) {
	u, err := url.Parse(openidConf.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorisation endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("scope", m.scopes)
	q.Set("response_type", "code")
	q.Set("client_id", m.clientID)
	q.Set("state", state.ID)
	q.Set("code_challenge", pk.Challenge)
	q.Set("code_challenge_method", pk.Method)
	q.Set("redirect_uri", m.callbackURL.String())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// FinaliseLogin validates the callback state, exchanges the code for tokens,
// verifies the ID token against the provider JWKS, fetches userinfo and
// stores the resulting session. A non-empty prevSessionID is the session the
// request arrived with; it is replaced by the new one.
func (m *Manager) FinaliseLogin(ctx context.Context, stateID, code, prevSessionID string) (LoginResult, error) {
	state, err := m.sessions.LoadState(ctx, stateID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("loading state from the storage: %w", err)
	}

	// States are single-use. Remove it before the exchange so a replayed
	// callback with the same state fails.
	if err := m.sessions.DeleteState(ctx, stateID); err != nil {
		return LoginResult{}, fmt.Errorf("deleting state: %w", err)
	}

	if time.Now().After(state.Expiry) {
		return LoginResult{}, serviceerr.ErrStateExpired
	}

	openidConf, err := m.provider.GetOpenIDConfig(ctx, http.DefaultClient)
	if err != nil {
		return LoginResult{}, fmt.Errorf("getting openid configuration: %w", err)
	}

	tokens, err := m.exchangeCode(ctx, openidConf, code, state.PKCEVerifier)
	if err != nil {
		return LoginResult{}, fmt.Errorf("exchanging code for tokens: %w", err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	claims, err := m.verifyIDToken(ctx, openidConf, tokens.IDToken)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verifying id token: %w", err)
	}

	if openidConf.UserinfoEndpoint != "" {
		userinfoClaims, err := m.provider.Userinfo(ctx, http.DefaultClient, openidConf.UserinfoEndpoint, tokens.AccessToken)
		if err != nil {
			return LoginResult{}, fmt.Errorf("fetching userinfo: %w", err)
		}

		claims = claims.Merge(userinfoClaims)
	}

	if claims.Email == "" {
		// Documented fallback, not an error: the clients receive the
		// literal "user". Logged so stricter provider configurations
		// surface in operations instead of silently degrading.
		slogctx.Warn(ctx, "Provider returned no email claim; clients will see the fallback value",
			"subject", claims.Subject, "fallback", oidc.EmailFallback)
	}

	if prevSessionID != "" {
		if prev, err := m.sessions.LoadSession(ctx, prevSessionID); err == nil {
			if err := m.sessions.DeleteSession(ctx, prev); err != nil {
				slogctx.Warn(ctx, "Could not delete the replaced session", "error", err)
			}
		}
	}

	sessionID := m.pkce.SessionID()
	csrfToken := csrf.NewToken(sessionID, m.csrfSecret)

	session := Session{
		ID:        sessionID,
		CSRFToken: csrfToken,
		Claims:    claims,
		CreatedAt: time.Now(),
		Expiry:    time.Now().Add(m.sessionDuration),
	}

	if err := m.sessions.StoreSession(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("storing session: %w", err)
	}

	return LoginResult{
		SessionID: sessionID,
		CSRFToken: csrfToken,
		Claims:    claims,
	}, nil
}

// GetSession loads the session behind a cookie value. Expired sessions are
// deleted and reported as serviceerr.ErrSessionExpired.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (Session, error) {
	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	if session.Expired() {
		if err := m.sessions.DeleteSession(ctx, session); err != nil {
			slogctx.Warn(ctx, "Could not delete an expired session", "error", err)
		}

		return Session{}, serviceerr.ErrSessionExpired
	}

	return session, nil
}

// Logout removes the session. An unknown session ID is not an error: the
// caller is already anonymous.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("loading session: %w", err)
	}

	if err := m.sessions.DeleteSession(ctx, session); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// PurgeExpired deletes sessions past their expiry. The in-memory store has
// no native TTL, so the housekeeper calls this periodically.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	for _, s := range sessions {
		if !s.Expired() {
			continue
		}
		if err := m.sessions.DeleteSession(ctx, s); err != nil {
			slogctx.Warn(ctx, "Could not delete an expired session", "error", err)
			continue
		}
		slogctx.Info(ctx, "Deleted an expired session", "subject", s.Claims.Subject)
	}

	return nil
}

func (m *Manager) MakeSessionCookie(ctx context.Context, value string) (*http.Cookie, error) {
	sessionCookie := m.sessionCookieTemplate.ToCookie(value)

	if err := sessionCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	if !sessionCookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !sessionCookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return sessionCookie, nil
}

func (m *Manager) MakeCSRFCookie(ctx context.Context, value string) (*http.Cookie, error) {
	csrfCookie := m.csrfCookieTemplate.ToCookie(value)

	if err := csrfCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid CSRF cookie: %w", err)
	}

	if !csrfCookie.Secure {
		slogctx.Warn(ctx, "CSRF cookie is not marked as Secure; this is not recommended in production environments")
	}
	if csrfCookie.HttpOnly {
		slogctx.Warn(ctx, "CSRF cookie is marked as HttpOnly; this is not recommended as the CSRF token needs to be accessible from JavaScript")
	}

	return csrfCookie, nil
}

func (m *Manager) ValidateCSRFToken(token, sessionID string) bool {
	return csrf.Validate(token, sessionID, m.csrfSecret)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (m *Manager) exchangeCode(ctx context.Context, openidConf oidc.Configuration, code, codeVerifier string) (tokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", m.callbackURL.String())
	data.Set("client_id", m.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openidConf.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.secureClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token exchange failed with status: %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding response: %w", err)
	}

	return tokens, nil
}

func (m *Manager) verifyIDToken(ctx context.Context, openidConf oidc.Configuration, idToken string) (oidc.Claims, error) {
	algs := make([]jose.SignatureAlgorithm, 0, len(openidConf.IDTokenSigningAlgValuesSupported))
	for _, alg := range openidConf.IDTokenSigningAlgValuesSupported {
		algs = append(algs, jose.SignatureAlgorithm(alg))
	}

	token, err := jwt.ParseSigned(idToken, algs)
	if err != nil {
		return oidc.Claims{}, fmt.Errorf("parsing id token: %w, %s", err, algs)
	}

	keyset, err := m.getProviderKeySet(ctx, openidConf)
	if err != nil {
		return oidc.Claims{}, fmt.Errorf("getting jwks for a provider: %w", err)
	}

	type customClaims struct {
		Email string `json:"email"`
	}

	var standardClaims jwt.Claims
	var custom customClaims
	var raw map[string]any
	if err := token.Claims(keyset, &standardClaims, &custom, &raw); err != nil {
		return oidc.Claims{}, fmt.Errorf("getting JWT claims: %w", err)
	}

	if err := standardClaims.Validate(jwt.Expected{
		Issuer:      m.provider.IssuerURL,
		AnyAudience: jwt.Audience{m.clientID},
		Time:        time.Now(),
	}); err != nil {
		return oidc.Claims{}, fmt.Errorf("validating id token claims: %w", err)
	}

	return oidc.Claims{
		Subject: standardClaims.Subject,
		Email:   custom.Email,
		Raw:     raw,
	}, nil
}

func (m *Manager) getProviderKeySet(ctx context.Context, openidConf oidc.Configuration) (*jose.JSONWebKeySet, error) {
	var keySet jose.JSONWebKeySet
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openidConf.JwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("decoding keyset response: %w", err)
	}

	return &keySet, nil
}
