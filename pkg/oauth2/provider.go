package oauth2

import (
	"context"
	"time"
)

// Adapter drives one identity provider through the authorization-code flow.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Descriptor returns the provider's immutable configuration.
	Descriptor() ProviderDescriptor

	// AuthorizeURL composes the provider's authorize endpoint for state. It is a
	// pure function of its inputs.
	AuthorizeURL(callbackBaseURL string, state string) string

	// ExchangeCode trades an authorization code for tokens. Upstream failures are
	// reported as *TokenExchangeError.
	ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error)

	// FetchProfile loads and normalizes the user's profile. Upstream failures are
	// reported as *ProfileFetchError.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// ProviderDescriptor describes a configured provider. It is never mutated after
// the adapter is built.
type ProviderDescriptor struct {
	Name              string
	DisplayName       string
	Color             string
	Icon              string
	AuthorizeEndpoint string
	TokenEndpoint     string
	ProfileEndpoint   string
	Scopes            []string
	ScopeDelimiter    string
	ClientID          string
	ClientSecret      string
}

// Info returns the public part of the descriptor.
func (d ProviderDescriptor) Info() ProviderInfo {
	return ProviderInfo{
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Color:       d.Color,
		Icon:        d.Icon,
	}
}

// ProviderInfo is what the frontend needs to render a login button.
type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

// TokenResponse is the subset of a token endpoint response the flow relies on.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	// ExpiresIn is the access token lifetime in seconds; zero when the provider omitted it.
	ExpiresIn int64
}

// Profile is a provider profile mapped onto one shape. ProviderUserID is only
// unique within its provider.
type Profile struct {
	ProviderUserID string         `json:"providerUserId"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	PictureURL     string         `json:"pictureUrl,omitempty"`
	StatusMessage  string         `json:"statusMessage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LoginRequest is the result of starting a login: the URL to send the browser
// to and the state the caller must bind to its ambient session.
type LoginRequest struct {
	Provider     string
	State        string
	AuthorizeURL string
	IssuedAt     time.Time
}
