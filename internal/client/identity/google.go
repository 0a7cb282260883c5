package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/middleware"
)

const (
	callbackPath = "/callback"
	// DefaultCallbackAddr lets the OS pick a free loopback port.
	DefaultCallbackAddr = "127.0.0.1:0"
	// DefaultRevokeURL is Google's token revocation endpoint.
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	// KeyGoogleToken is the secure-tier key holding the Google access token.
	KeyGoogleToken = "googleAccessToken"
)

// GoogleConfig configures the loopback Google sign-in.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	// CallbackAddr is where the callback server listens.
	CallbackAddr string
	// Endpoint defaults to Google's OAuth2 endpoints.
	Endpoint  oauth2.Endpoint
	RevokeURL string
	Scopes    []string
	// HTTPClient is used for the code exchange and revocation.
	HTTPClient *http.Client
	// OpenBrowser shows the consent page to the user.
	OpenBrowser func(url string) error
	// ShutdownTimeout bounds the callback server shutdown.
	ShutdownTimeout time.Duration
}

// GoogleLoopback runs the OAuth2 authorization code flow with PKCE, receiving
// the code on a local callback server. The access token is kept in the
// secure tier so a later process can still revoke it.
type GoogleLoopback struct {
	cfg   GoogleConfig
	store *storage.Adapter
	log   *zap.Logger
}

var _ Federated = (*GoogleLoopback)(nil)

// NewGoogleLoopback returns a GoogleLoopback persisting its token to store.
func NewGoogleLoopback(cfg GoogleConfig, store *storage.Adapter, log *zap.Logger) *GoogleLoopback {
	if cfg.CallbackAddr == "" {
		cfg.CallbackAddr = DefaultCallbackAddr
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = DefaultRevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = OpenBrowser
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GoogleLoopback{cfg: cfg, store: store, log: log}
}

type callbackResult struct {
	code string
	err  error
}

// Credential opens the consent page and waits for the callback. A browser
// that cannot be opened is ErrPopupBlocked; a denied consent or an ended
// context is ErrPopupClosed.
func (g *GoogleLoopback) Credential(ctx context.Context) (IDPCredential, error) {
	ln, err := net.Listen("tcp", g.cfg.CallbackAddr)
	if err != nil {
		return IDPCredential{}, newError(CodeNetwork, fmt.Errorf("listen for callback: %w", err))
	}

	conf := &oauth2.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		Endpoint:     g.cfg.Endpoint,
		RedirectURL:  "http://" + ln.Addr().String() + callbackPath,
		Scopes:       g.cfg.Scopes,
	}
	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           g.callbackRouter(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("callback server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-serveDone
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	if err := g.cfg.OpenBrowser(authURL); err != nil {
		return IDPCredential{}, newError(CodePopupBlocked, err)
	}
	g.log.Info("waiting for Google sign-in", zap.String("redirect_uri", conf.RedirectURL))

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return IDPCredential{}, newError(CodePopupClosed, ctx.Err())
	}
	if res.err != nil {
		return IDPCredential{}, newError(CodePopupClosed, res.err)
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
	tok, err := conf.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return IDPCredential{}, newError(CodeInvalidCredential, err)
		}
		return IDPCredential{}, classifyTransport(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" && tok.AccessToken == "" {
		return IDPCredential{}, newError(CodeInvalidCredential, errors.New("token response without id_token"))
	}

	if tok.AccessToken != "" {
		g.store.Set(ctx, KeyGoogleToken, tok.AccessToken)
	}

	return IDPCredential{ProviderID: ProviderGoogle, IDToken: idToken, AccessToken: tok.AccessToken}, nil
}

func (g *GoogleLoopback) callbackRouter(state string, results chan<- callbackResult) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestLogging(g.log))
	r.With(middleware.RequireState(state)).Get(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("consent denied: %s", q.Get("error"))
			http.Error(w, "Sign-in was cancelled. You can close this tab.", http.StatusForbidden)
		case q.Get("code") == "":
			res.err = errors.New("callback without code")
			http.Error(w, "No code received.", http.StatusBadRequest)
		default:
			res.code = q.Get("code")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(callbackPage))
		}
		select {
		case results <- res:
		default:
		}
	})
	return r
}

const callbackPage = `<html>
<head><title>FreshTrio</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
<h1>Signed in</h1>
<p>You can close this tab and return to the terminal.</p>
<script>window.close();</script>
</body>
</html>`

// SignedIn reports whether a Google token is stored.
func (g *GoogleLoopback) SignedIn(ctx context.Context) bool {
	token, ok := g.store.Get(ctx, KeyGoogleToken)
	return ok && token != ""
}

// SignOut revokes the stored Google token and forgets it. The token is
// forgotten even when revocation fails.
func (g *GoogleLoopback) SignOut(ctx context.Context) error {
	token, ok := g.store.Get(ctx, KeyGoogleToken)
	if !ok || token == "" {
		return nil
	}
	g.store.Remove(ctx, KeyGoogleToken)

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke google token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke google token: status %d", resp.StatusCode)
	}
	return nil
}
