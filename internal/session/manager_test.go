package session_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/oidc"
	"github.com/ledossier/backend/internal/serviceerr"
	"github.com/ledossier/backend/internal/session"
	sessionmock "github.com/ledossier/backend/internal/session/mock"
)

const (
	testCSRFSecret = "12345678901234567890123456789012" // NOSONAR
	testClientID   = "my-client-id"
	testKeyID      = "test-key"
)

// oidcServer is a minimal identity provider: discovery, JWKS, token and
// userinfo endpoints backed by a fresh RSA key.
type oidcServer struct {
	*httptest.Server

	key *rsa.PrivateKey

	// claims minted into the ID token returned by the token endpoint
	idTokenClaims jwt.MapClaims
	// claims returned by the userinfo endpoint; nil disables the endpoint
	userinfoClaims map[string]any
}

func startOIDCServer(t *testing.T) *oidcServer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := &oidcServer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		conf := oidc.Configuration{
			Issuer:                           srv.URL,
			AuthorizationEndpoint:            srv.URL + "/oauth2/authorize",
			TokenEndpoint:                    srv.URL + "/oauth2/token",
			JwksURI:                          srv.URL + "/.well-known/jwks.json",
			IDTokenSigningAlgValuesSupported: []string{"RS256"},
		}
		if srv.userinfoClaims != nil {
			conf.UserinfoEndpoint = srv.URL + "/oauth2/userInfo"
		}
		_ = json.NewEncoder(w).Encode(conf)
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     testKeyID,
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(keySet)
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))

		claims := jwt.MapClaims{
			"iss": srv.URL,
			"aud": testClientID,
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		for k, v := range srv.idTokenClaims {
			claims[k] = v
		}

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = testKeyID
		idToken, err := token.SignedString(key)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token-value",
			"id_token":     idToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/oauth2/userInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token-value", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(srv.userinfoClaims)
	})

	srv.Server = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func testConfig(callbackURL string) *config.Config {
	cfg := &config.Config{}
	cfg.OIDC = config.OIDC{
		ClientID:    testClientID,
		Scopes:      "email openid phone",
		CallbackURL: callbackURL,
	}
	cfg.Gateway = config.Gateway{
		SessionDuration: time.Hour,
		CSRFSecret:      commoncfg.SourceRef{Source: "embedded", Value: testCSRFSecret},
		SessionCookieTemplate: config.CookieTemplate{
			Name: "session_id", Path: "/", Secure: true, HTTPOnly: true, SameSite: config.CookieSameSiteLax,
		},
		CSRFCookieTemplate: config.CookieTemplate{
			Name: "csrf_token", Path: "/", Secure: true, SameSite: config.CookieSameSiteStrict,
		},
	}
	return cfg
}

func newManager(t *testing.T, srv *oidcServer, sessions session.Repository) *session.Manager {
	t.Helper()

	provider := oidc.NewProvider(srv.URL, srv.URL+"/.well-known/openid-configuration", time.Minute)
	manager, err := session.NewManager(testConfig("http://localhost/authorize"), provider, sessions, http.DefaultClient)
	require.NoError(t, err)

	return manager
}

func TestNewManager(t *testing.T) {
	srv := startOIDCServer(t)
	provider := oidc.NewProvider(srv.URL, srv.URL+"/.well-known/openid-configuration", time.Minute)

	t.Run("short csrf secret", func(t *testing.T) {
		cfg := testConfig("http://localhost/authorize")
		cfg.Gateway.CSRFSecret = commoncfg.SourceRef{Source: "embedded", Value: "short"}

		_, err := session.NewManager(cfg, provider, sessionmock.NewInMemRepository(), http.DefaultClient)
		assert.ErrorContains(t, err, "CSRF secret")
	})

	t.Run("valid", func(t *testing.T) {
		_, err := session.NewManager(testConfig("http://localhost/authorize"), provider, sessionmock.NewInMemRepository(), http.DefaultClient)
		assert.NoError(t, err)
	})
}

func TestManager_MakeAuthURI(t *testing.T) {
	srv := startOIDCServer(t)

	t.Run("success", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository()
		manager := newManager(t, srv, sessions)

		authURI, err := manager.MakeAuthURI(t.Context())
		require.NoError(t, err)

		u, err := url.Parse(authURI)
		require.NoError(t, err)
		assert.Equal(t, "/oauth2/authorize", u.Path)

		q := u.Query()
		assert.Equal(t, testClientID, q.Get("client_id"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "email openid phone", q.Get("scope"))
		assert.Equal(t, "http://localhost/authorize", q.Get("redirect_uri"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))

		// the state must have been stored as a pending login
		state, err := sessions.LoadState(t.Context(), q.Get("state"))
		require.NoError(t, err)
		assert.NotEmpty(t, state.PKCEVerifier)
	})

	t.Run("store state error", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository(sessionmock.WithStoreStateError(assert.AnError))
		manager := newManager(t, srv, sessions)

		_, err := manager.MakeAuthURI(t.Context())
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func startLogin(t *testing.T, manager *session.Manager) string {
	t.Helper()

	authURI, err := manager.MakeAuthURI(t.Context())
	require.NoError(t, err)

	u, err := url.Parse(authURI)
	require.NoError(t, err)

	return u.Query().Get("state")
}

func TestManager_FinaliseLogin(t *testing.T) {
	t.Run("success with email from id token", func(t *testing.T) {
		srv := startOIDCServer(t)
		srv.idTokenClaims = jwt.MapClaims{"sub": "abc-123", "email": "a@b.com"}

		sessions := sessionmock.NewInMemRepository()
		manager := newManager(t, srv, sessions)
		stateID := startLogin(t, manager)

		result, err := manager.FinaliseLogin(t.Context(), stateID, "auth-code", "")
		require.NoError(t, err)

		assert.Equal(t, "a@b.com", result.Claims.Email)
		assert.Equal(t, "abc-123", result.Claims.Subject)
		assert.True(t, manager.ValidateCSRFToken(result.CSRFToken, result.SessionID))

		stored, err := sessions.LoadSession(t.Context(), result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", stored.Claims.Email)
	})

	t.Run("userinfo claims are merged", func(t *testing.T) {
		srv := startOIDCServer(t)
		srv.idTokenClaims = jwt.MapClaims{"sub": "abc-123"}
		srv.userinfoClaims = map[string]any{
			"sub":          "abc-123",
			"email":        "a@b.com",
			"phone_number": "+15550100",
		}

		sessions := sessionmock.NewInMemRepository()
		manager := newManager(t, srv, sessions)
		stateID := startLogin(t, manager)

		result, err := manager.FinaliseLogin(t.Context(), stateID, "auth-code", "")
		require.NoError(t, err)

		assert.Equal(t, "a@b.com", result.Claims.Email)
		assert.Equal(t, "+15550100", result.Claims.Raw["phone_number"])
	})

	t.Run("missing email falls back at render time", func(t *testing.T) {
		srv := startOIDCServer(t)
		srv.idTokenClaims = jwt.MapClaims{"sub": "abc-123"}

		sessions := sessionmock.NewInMemRepository()
		manager := newManager(t, srv, sessions)
		stateID := startLogin(t, manager)

		result, err := manager.FinaliseLogin(t.Context(), stateID, "auth-code", "")
		require.NoError(t, err)

		assert.Empty(t, result.Claims.Email)
		assert.Equal(t, "user", result.Claims.EmailOrFallback())
	})

	t.Run("state is single use", func(t *testing.T) {
		srv := startOIDCServer(t)
		srv.idTokenClaims = jwt.MapClaims{"sub": "abc-123", "email": "a@b.com"}

		sessions := sessionmock.NewInMemRepository()
		manager := newManager(t, srv, sessions)
		stateID := startLogin(t, manager)

		_, err := manager.FinaliseLogin(t.Context(), stateID, "auth-code", "")
		require.NoError(t, err)

		_, err = manager.FinaliseLogin(t.Context(), stateID, "auth-code", "")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("expired state is rejected", func(t *testing.T) {
		srv := startOIDCServer(t)

		sessions := sessionmock.NewInMemRepository(sessionmock.WithState(session.State{
			ID:           "expired-state",
			PKCEVerifier: "verifier",
			Expiry:       time.Now().Add(-time.Minute),
		}))
		manager := newManager(t, srv, sessions)

		_, err := manager.FinaliseLogin(t.Context(), "expired-state", "auth-code", "")
		assert.ErrorIs(t, err, serviceerr.ErrStateExpired)
	})

	t.Run("unknown state is rejected", func(t *testing.T) {
		srv := startOIDCServer(t)
		manager := newManager(t, srv, sessionmock.NewInMemRepository())

		_, err := manager.FinaliseLogin(t.Context(), "nope", "auth-code", "")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("replaces the previous session", func(t *testing.T) {
		srv := startOIDCServer(t)
		srv.idTokenClaims = jwt.MapClaims{"sub": "abc-123", "email": "new@b.com"}

		sessions := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
			ID:     "old-session",
			Claims: oidc.Claims{Email: "old@b.com"},
			Expiry: time.Now().Add(time.Hour),
		}))
		manager := newManager(t, srv, sessions)
		stateID := startLogin(t, manager)

		result, err := manager.FinaliseLogin(t.Context(), stateID, "auth-code", "old-session")
		require.NoError(t, err)
		assert.NotEqual(t, "old-session", result.SessionID)

		_, err = sessions.LoadSession(t.Context(), "old-session")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})
}

func TestManager_GetSession(t *testing.T) {
	srv := startOIDCServer(t)

	t.Run("expired session is deleted", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
			ID:     "stale",
			Expiry: time.Now().Add(-time.Minute),
		}))
		manager := newManager(t, srv, sessions)

		_, err := manager.GetSession(t.Context(), "stale")
		assert.ErrorIs(t, err, serviceerr.ErrSessionExpired)

		_, err = sessions.LoadSession(t.Context(), "stale")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("live session", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
			ID:     "live",
			Claims: oidc.Claims{Email: "a@b.com"},
			Expiry: time.Now().Add(time.Hour),
		}))
		manager := newManager(t, srv, sessions)

		got, err := manager.GetSession(t.Context(), "live")
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", got.Claims.Email)
	})
}

func TestManager_Logout(t *testing.T) {
	srv := startOIDCServer(t)

	t.Run("removes the session", func(t *testing.T) {
		sessions := sessionmock.NewInMemRepository(sessionmock.WithSession(session.Session{
			ID:     "live",
			Expiry: time.Now().Add(time.Hour),
		}))
		manager := newManager(t, srv, sessions)

		require.NoError(t, manager.Logout(t.Context(), "live"))

		_, err := sessions.LoadSession(t.Context(), "live")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("unknown session is not an error", func(t *testing.T) {
		manager := newManager(t, srv, sessionmock.NewInMemRepository())
		assert.NoError(t, manager.Logout(t.Context(), "ghost"))
	})
}

func TestManager_PurgeExpired(t *testing.T) {
	srv := startOIDCServer(t)

	sessions := sessionmock.NewInMemRepository(
		sessionmock.WithSession(session.Session{ID: "stale", Expiry: time.Now().Add(-time.Minute)}),
		sessionmock.WithSession(session.Session{ID: "live", Expiry: time.Now().Add(time.Hour)}),
	)
	manager := newManager(t, srv, sessions)

	require.NoError(t, manager.PurgeExpired(t.Context()))

	_, err := sessions.LoadSession(t.Context(), "stale")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	_, err = sessions.LoadSession(t.Context(), "live")
	assert.NoError(t, err)
}

func TestManager_Cookies(t *testing.T) {
	srv := startOIDCServer(t)
	manager := newManager(t, srv, sessionmock.NewInMemRepository())

	sessionCookie, err := manager.MakeSessionCookie(t.Context(), "session-value")
	require.NoError(t, err)
	assert.Equal(t, "session_id", sessionCookie.Name)
	assert.Equal(t, "session-value", sessionCookie.Value)
	assert.True(t, sessionCookie.Secure)
	assert.True(t, sessionCookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sessionCookie.SameSite)

	csrfCookie, err := manager.MakeCSRFCookie(t.Context(), "csrf-value")
	require.NoError(t, err)
	assert.Equal(t, "csrf_token", csrfCookie.Name)
	assert.False(t, csrfCookie.HttpOnly, "CSRF token must be readable from JavaScript")
	assert.Equal(t, http.SameSiteStrictMode, csrfCookie.SameSite)
}
