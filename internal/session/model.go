package session

import (
	"time"

	"github.com/ledossier/backend/internal/oidc"
)

// State is a pending login: created by /login, consumed once by /authorize.
type State struct {
	ID           string    `json:"id"`
	PKCEVerifier string    `json:"pkceVerifier"`
	Expiry       time.Time `json:"expiry"`
}

// Session is the server-side record behind the session cookie. It holds at
// most one authenticated user; a new successful authorization replaces it.
type Session struct {
	ID        string      `json:"id"`
	CSRFToken string      `json:"csrfToken"`
	Claims    oidc.Claims `json:"claims"`
	CreatedAt time.Time   `json:"createdAt"`
	Expiry    time.Time   `json:"expiry"`
}

func (s Session) Expired() bool {
	return time.Now().After(s.Expiry)
}
