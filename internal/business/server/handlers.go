package server

import (
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/serviceerr"
	"github.com/ledossier/backend/internal/session"
)

// gateway serves the browser-facing login surface.
type gateway struct {
	manager *session.Manager
	pages   *pages

	sessionCookieName string
}

func newGateway(cfg *config.Config, manager *session.Manager) *gateway {
	return &gateway{
		manager:           manager,
		pages:             &pages{delivery: cfg.Delivery},
		sessionCookieName: cfg.Gateway.SessionCookieTemplate.Name,
	}
}

// sessionID returns the session ID from the request cookie, or "" when the
// browser has none.
func (g *gateway) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(g.sessionCookieName)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func (g *gateway) renderError(w http.ResponseWriter, r *http.Request, status int) {
	w.WriteHeader(status)

	if err := g.pages.RenderError(w); err != nil {
		slogctx.Error(r.Context(), "Failed to render error page", "error", err)
	}
}

// Index greets the user. It has no side effects: an anonymous visitor gets
// the login link, an authenticated one the email from the session.
func (g *gateway) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := indexData{}

	if sessionID := g.sessionID(r); sessionID != "" {
		sess, err := g.manager.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			data.Authenticated = true
			data.Email = sess.Claims.EmailOrFallback()
			data.CSRFToken = sess.CSRFToken
		case errors.Is(err, serviceerr.ErrNotFound), errors.Is(err, serviceerr.ErrSessionExpired):
			// stale cookie, treat as anonymous
		default:
			slogctx.Error(ctx, "Failed to load session", "error", err)
			g.renderError(w, r, http.StatusInternalServerError)

			return
		}
	}

	if err := g.pages.RenderIndex(w, data); err != nil {
		slogctx.Error(ctx, "Failed to render index page", "error", err)
	}
}

// Login starts the authorization code flow and sends the browser to the
// provider.
func (g *gateway) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authURI, err := g.manager.MakeAuthURI(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to build auth URI", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	http.Redirect(w, r, authURI, http.StatusFound)
}

// Authorize handles the provider callback: code exchange, token verification
// and session creation, answered with the delivery page.
func (g *gateway) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		slogctx.Warn(ctx, "Provider returned an authorization error",
			"error", errCode, "description", query.Get("error_description"))
		g.renderError(w, r, http.StatusBadRequest)

		return
	}

	stateID := query.Get("state")
	code := query.Get("code")

	if stateID == "" || code == "" {
		slogctx.Warn(ctx, "Callback request without state or code")
		g.renderError(w, r, http.StatusBadRequest)

		return
	}

	result, err := g.manager.FinaliseLogin(ctx, stateID, code, g.sessionID(r))
	if err != nil {
		slogctx.Error(ctx, "Failed to finalise login", "error", err)

		status := http.StatusInternalServerError
		if errors.Is(err, serviceerr.ErrNotFound) || errors.Is(err, serviceerr.ErrStateExpired) {
			status = http.StatusBadRequest
		}

		g.renderError(w, r, status)

		return
	}

	sessionCookie, err := g.manager.MakeSessionCookie(ctx, result.SessionID)
	if err != nil {
		slogctx.Error(ctx, "Failed to create session cookie", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	csrfCookie, err := g.manager.MakeCSRFCookie(ctx, result.CSRFToken)
	if err != nil {
		slogctx.Error(ctx, "Failed to create CSRF cookie", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	http.SetCookie(w, sessionCookie)
	http.SetCookie(w, csrfCookie)

	email := result.Claims.EmailOrFallback()

	slogctx.Info(ctx, "Delivering login result", "deep_link", g.pages.DeepLink(email))

	if err := g.pages.RenderDelivery(w, email); err != nil {
		slogctx.Error(ctx, "Failed to render delivery page", "error", err)
	}
}

// Logout removes the session and clears the cookies. The CSRF token comes
// from the X-CSRF-Token header or, for plain links, the csrf query parameter.
func (g *gateway) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := g.sessionID(r)
	if sessionID == "" {
		// nothing to log out of
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	csrfToken := r.Header.Get("X-CSRF-Token")
	if csrfToken == "" {
		csrfToken = r.URL.Query().Get("csrf")
	}

	if !g.manager.ValidateCSRFToken(csrfToken, sessionID) {
		slogctx.Warn(ctx, "Rejected logout with an invalid CSRF token")
		g.renderError(w, r, http.StatusForbidden)

		return
	}

	if err := g.manager.Logout(ctx, sessionID); err != nil {
		slogctx.Error(ctx, "Failed to log out", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	sessionCookie, err := g.manager.MakeSessionCookie(ctx, "")
	if err != nil {
		slogctx.Error(ctx, "Failed to create session cookie", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	csrfCookie, err := g.manager.MakeCSRFCookie(ctx, "")
	if err != nil {
		slogctx.Error(ctx, "Failed to create CSRF cookie", "error", err)
		g.renderError(w, r, http.StatusInternalServerError)

		return
	}

	for _, cookie := range []*http.Cookie{sessionCookie, csrfCookie} {
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
