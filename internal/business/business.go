package business

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ledossier/backend/internal/business/server"
	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/oidc"
	"github.com/ledossier/backend/internal/session"
	sessionmemory "github.com/ledossier/backend/internal/session/memory"
	sessionvalkey "github.com/ledossier/backend/internal/session/valkey"
)

// Main runs the authentication gateway: the HTTP server plus the housekeeper
// that purges expired records.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionManager, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the gateway: %w", err)
	}

	defer closeFn()

	// errChan is used to capture the first error and shutdown the gateway.
	errChan := make(chan error, 1)

	// wg is used to wait for everything to shutdown.
	var wg sync.WaitGroup

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, sessionManager)
	})

	wg.Go(func() {
		errChan <- startHousekeeper(ctx, sessionManager, cfg)
	})

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down the gateway", "error", err)
	}
	cancel()

	wg.Wait()

	return nil
}

// initGateway assembles the session manager from the configured store and
// provider. Discovery runs once here so a misconfigured or unreachable
// provider fails the start instead of the first login.
func initGateway(ctx context.Context, cfg *config.Config) (_ *session.Manager, closeFn func(), _ error) {
	sessions, closeFn, err := initSessionRepository(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising the session repository: %w", err)
	}

	provider := oidc.NewProvider(cfg.OIDC.IssuerURL, cfg.OIDC.MetadataURL, cfg.OIDC.MetadataTTL)

	if _, err := provider.GetOpenIDConfig(ctx, http.DefaultClient); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("fetching provider metadata: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	sessionManager, err := session.NewManager(cfg, provider, sessions, httpClient)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	return sessionManager, closeFn, nil
}

func initSessionRepository(cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Store.Kind {
	case config.StoreKindMemory:
		return sessionmemory.NewRepository(), func() {}, nil
	case config.StoreKindValKey:
		valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Store.ValKey.Host)
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey host: %w", err)
		}

		valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.Store.ValKey.User)
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey username: %w", err)
		}

		valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Store.ValKey.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("loading valkey password: %w", err)
		}

		valkeyClient, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{string(valkeyHost)},
			Username:    string(valkeyUsername),
			Password:    string(valkeyPassword),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
		}

		return sessionvalkey.NewRepository(valkeyClient, cfg.Store.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind: %q", cfg.Store.Kind)
	}
}

// loadHTTPClient builds the client used for the token exchange. With a client
// secret configured the provider is called with HTTP Basic authentication,
// otherwise the client registration is treated as public.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	if cfg.OIDC.ClientSecret.Source == "" {
		return http.DefaultClient, nil
	}

	secret, err := commoncfg.LoadValueFromSourceRef(cfg.OIDC.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("loading client secret: %w", err)
	}

	return &http.Client{
		Transport: &clientAuthRoundTripper{
			clientID:     cfg.OIDC.ClientID,
			clientSecret: string(secret),
			next:         http.DefaultTransport,
		},
	}, nil
}

type clientAuthRoundTripper struct {
	clientID     string
	clientSecret string
	next         http.RoundTripper
}

func (t *clientAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.clientID, t.clientSecret)

	return t.next.RoundTrip(req)
}
