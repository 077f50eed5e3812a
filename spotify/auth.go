package spotify

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the credential triple handed back by the provider. ExpiresAt is
// absolute so callers never have to reason about an expires_in offset.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExchangeError marks a failed code-for-token exchange. It is terminal: the
// authorization code is single-use, so the caller restarts the flow rather
// than retrying.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("spotify auth: code exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError marks a failed token refresh. Also terminal: the stored
// refresh token is likely revoked, so the admin has to reconnect.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("spotify auth: token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Authenticator wraps the OAuth2 authorization-code flow against Spotify's
// accounts service. The endpoint is injected so tests can point it at a local
// server.
type Authenticator struct {
	config oauth2.Config
	http   *http.Client
}

func NewAuthenticator(clientID, clientSecret, redirectURI string, scopes []string, endpoint oauth2.Endpoint) *Authenticator {
	return &Authenticator{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		// token exchange and refresh carry the same bound as the API client;
		// oauth2's default client has no timeout at all
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// withClient routes the oauth2 round trips through the bounded client.
func (a *Authenticator) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}

// GenerateState creates a random state string for CSRF protection
func GenerateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// AuthURL builds the authorization page URL the admin is redirected to.
func (a *Authenticator) AuthURL(state string) string {
	return a.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token set.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	token, err := a.config.Exchange(a.withClient(ctx), code)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Refresh trades a refresh token for a new token set. Spotify usually omits
// the refresh_token field from the response; the stored one stays valid, so
// it is carried forward into the result.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	source := a.config.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return nil, &RefreshError{Err: err}
	}

	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}

	return set, nil
}
