package oauth2

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	googleIssuer     = "https://accounts.google.com"
	googleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL   = "https://oauth2.googleapis.com/token"
	googleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleAdapter implements Adapter for Google. When the token response carries
// an id_token it is verified against Google's keys before the login proceeds.
type GoogleAdapter struct {
	baseAdapter
	verifier *oidc.IDTokenVerifier
}

// NewGoogleAdapter returns the Google adapter. The id_token is verified
// against the client ID.
func NewGoogleAdapter(clientID, clientSecret string, opts ...AdapterOption) *GoogleAdapter {
	desc := ProviderDescriptor{
		Name:              "google",
		DisplayName:       "Google",
		Color:             "#4285F4",
		Icon:              "GoogleIcon",
		AuthorizeEndpoint: googleAuthURL,
		TokenEndpoint:     googleTokenURL,
		ProfileEndpoint:   googleProfileURL,
		Scopes:            []string{oidc.ScopeOpenID, "email", "profile"},
		ScopeDelimiter:    " ",
		ClientID:          clientID,
		ClientSecret:      clientSecret,
	}
	fields := fieldMap{
		id:      []string{"id", "sub"},
		name:    []string{"name"},
		email:   []string{"email"},
		picture: []string{"picture"},
	}
	g := &GoogleAdapter{baseAdapter: newBaseAdapter(desc, fields, opts)}

	// Built from static metadata so construction never touches the network;
	// keys are fetched lazily on the first verification.
	keyCtx := oidc.ClientContext(context.Background(), g.httpClient)
	provider := (&oidc.ProviderConfig{
		IssuerURL:   googleIssuer,
		AuthURL:     g.desc.AuthorizeEndpoint,
		TokenURL:    g.desc.TokenEndpoint,
		UserInfoURL: g.desc.ProfileEndpoint,
		JWKSURL:     googleJWKSURL,
		Algorithms:  []string{oidc.RS256},
	}).NewProvider(keyCtx)
	g.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})

	return g
}

func (g *GoogleAdapter) ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	tok, err := g.exchangeForm(ctx, code, callbackBaseURL)
	if err != nil {
		return nil, err
	}

	if tok.IDToken != "" {
		if _, err := g.verifier.Verify(ctx, tok.IDToken); err != nil {
			return nil, &TokenExchangeError{Provider: g.desc.Name, Err: fmt.Errorf("failed to verify ID token: %w", err)}
		}
	}
	return tok, nil
}

func (g *GoogleAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return g.getProfile(ctx, nil, accessToken)
}
