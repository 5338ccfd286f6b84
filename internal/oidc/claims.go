package oidc

// EmailFallback is substituted when the provider returns no email claim.
// The mobile and web clients rely on this literal; a missing claim is
// logged at login time, not treated as an error.
const EmailFallback = "user"

// Claims holds the authenticated user's attributes. Known fields are typed,
// everything the provider returned is kept in Raw unmodified.
type Claims struct {
	Subject string         `json:"subject"`
	Email   string         `json:"email"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// EmailOrFallback returns the email claim, or EmailFallback if absent.
func (c Claims) EmailOrFallback() string {
	if c.Email == "" {
		return EmailFallback
	}

	return c.Email
}

// Merge overlays other on top of c and returns the result without touching
// either input. Typed fields are only taken from other when c has none; raw
// claims from other win on key collisions.
func (c Claims) Merge(other Claims) Claims {
	merged := c
	if merged.Subject == "" {
		merged.Subject = other.Subject
	}
	if merged.Email == "" {
		merged.Email = other.Email
	}

	if len(c.Raw) > 0 || len(other.Raw) > 0 {
		merged.Raw = make(map[string]any, len(c.Raw)+len(other.Raw))
		for k, v := range c.Raw {
			merged.Raw[k] = v
		}
		for k, v := range other.Raw {
			merged.Raw[k] = v
		}
	}

	return merged
}
