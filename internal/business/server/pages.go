package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/ledossier/backend/internal/config"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>ledossier</title></head>
<body>
{{- if .Authenticated}}
<h1>Hello, {{.Email}}</h1>
<p><a href="/logout?csrf={{.CSRFToken}}">Log out</a></p>
{{- else}}
<h1>Welcome</h1>
<p><a href="/login">Log in</a></p>
{{- end}}
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>ledossier</title></head>
<body>
<h1>Something went wrong</h1>
<p>Please try again.</p>
</body>
</html>
`))

var deliveryTemplate = template.Must(template.New("delivery").Parse(`<!DOCTYPE html>
<html>
<head><title>Login successful</title></head>
<body>
<h1>Login successful</h1>
<p>Signed in as {{.Email}}.</p>
<p id="close-hint" hidden>You can close this tab now.</p>
<script>
  var deepLink = {{.DeepLink}};
  var storageKey = {{.StorageKey}};
  var payload = {{.Payload}};
  try {
    window.location.href = deepLink;
  } catch (e) {
    console.error("deep link navigation failed", e);
  }
  try {
    payload.data.timestamp = Date.now();
    if (window.opener) {
      window.opener.postMessage(payload, "*");
      localStorage.setItem(storageKey, JSON.stringify(payload));
      setTimeout(function () { window.close(); }, {{.CloseDelayMS}});
    } else {
      document.getElementById("close-hint").hidden = false;
    }
  } catch (e) {
    console.error("browser delivery failed", e);
  }
</script>
</body>
</html>
`))

type indexData struct {
	Authenticated bool
	Email         string
	CSRFToken     string
}

type deliveryData struct {
	Email        string
	DeepLink     template.JS
	StorageKey   template.JS
	Payload      template.JS
	CloseDelayMS int64
}

// pages renders the HTML surface of the gateway.
type pages struct {
	delivery config.Delivery
}

// DeepLink builds the deep link carrying the login result back into the
// native client. The email is embedded verbatim, matching what the clients
// parse.
func (p *pages) DeepLink(email string) string {
	return fmt.Sprintf("%s://auth?email=%s&success=true", p.delivery.DeepLinkScheme, email)
}

func (p *pages) RenderIndex(w io.Writer, data indexData) error {
	return indexTemplate.Execute(w, data)
}

func (p *pages) RenderError(w io.Writer) error {
	return errorTemplate.Execute(w, nil)
}

// RenderDelivery writes the page that hands the authenticated email back to
// the client: a deep link navigation and, independently, a postMessage plus
// localStorage write for browser openers. The script values are JSON-encoded
// server side so the deep link appears in the page without HTML escaping.
func (p *pages) RenderDelivery(w io.Writer, email string) error {
	deepLink, err := jsValue(p.DeepLink(email))
	if err != nil {
		return fmt.Errorf("encoding deep link: %w", err)
	}

	storageKey, err := jsValue(p.delivery.LocalStorageKey)
	if err != nil {
		return fmt.Errorf("encoding storage key: %w", err)
	}

	payload, err := jsValue(map[string]any{
		"type": p.delivery.MessageType,
		"data": map[string]any{
			"email":   email,
			"success": true,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	return deliveryTemplate.Execute(w, deliveryData{
		Email:        email,
		DeepLink:     deepLink,
		StorageKey:   storageKey,
		Payload:      payload,
		CloseDelayMS: p.delivery.CloseDelay.Milliseconds(),
	})
}

// jsValue encodes v for injection into a script block. html/template would
// escape ampersands inside JSON strings, so the encoding happens here with
// HTML escaping off.
func jsValue(v any) (template.JS, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return "", err
	}

	return template.JS(strings.TrimSpace(buf.String())), nil //nolint:gosec
}
