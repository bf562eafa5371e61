package oauth2

import (
	"context"
	"strings"
)

// GenericAdapter speaks plain OAuth 2.0 against an issuer exposing
// /authorize, /token and /userinfo. It backs the "demo" provider used with the
// bundled mock identity provider.
type GenericAdapter struct {
	baseAdapter
}

// GenericConfig describes a generic provider.
type GenericConfig struct {
	Name         string
	DisplayName  string
	Color        string
	Icon         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewGenericAdapter returns an adapter for an authorization server exposing
// /authorize, /token and /userinfo under IssuerURL.
func NewGenericAdapter(c GenericConfig, opts ...AdapterOption) *GenericAdapter {
	issuer := strings.TrimRight(c.IssuerURL, "/")
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	desc := ProviderDescriptor{
		Name:              c.Name,
		DisplayName:       c.DisplayName,
		Color:             c.Color,
		Icon:              c.Icon,
		AuthorizeEndpoint: issuer + "/authorize",
		TokenEndpoint:     issuer + "/token",
		ProfileEndpoint:   issuer + "/userinfo",
		Scopes:            scopes,
		ScopeDelimiter:    " ",
		ClientID:          c.ClientID,
		ClientSecret:      c.ClientSecret,
	}
	if desc.DisplayName == "" {
		desc.DisplayName = c.Name
	}
	fields := fieldMap{
		id:      []string{"id", "sub"},
		name:    []string{"name", "preferred_username"},
		email:   []string{"email"},
		picture: []string{"picture"},
	}
	return &GenericAdapter{baseAdapter: newBaseAdapter(desc, fields, opts)}
}

func (g *GenericAdapter) ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	return g.exchangeForm(ctx, code, callbackBaseURL)
}

func (g *GenericAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return g.getProfile(ctx, nil, accessToken)
}
