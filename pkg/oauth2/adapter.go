package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every outbound call to a provider.
const DefaultHTTPTimeout = 10 * time.Second

// maxErrorBody caps how much of an upstream error body is kept for diagnostics.
const maxErrorBody = 4 << 10

// AdapterOption customizes an adapter at construction.
type AdapterOption func(*baseAdapter)

// WithHTTPClient sets the client used for token and profile calls.
func WithHTTPClient(c *http.Client) AdapterOption {
	return func(b *baseAdapter) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// WithTimeout replaces the default outbound timeout.
func WithTimeout(d time.Duration) AdapterOption {
	return func(b *baseAdapter) {
		if d > 0 {
			b.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithEndpoints overrides the provider endpoints. Empty values keep the default.
func WithEndpoints(authorize, token, profile string) AdapterOption {
	return func(b *baseAdapter) {
		if authorize != "" {
			b.desc.AuthorizeEndpoint = authorize
		}
		if token != "" {
			b.desc.TokenEndpoint = token
		}
		if profile != "" {
			b.desc.ProfileEndpoint = profile
		}
	}
}

// WithScopes replaces the default scope list.
func WithScopes(scopes ...string) AdapterOption {
	return func(b *baseAdapter) {
		if len(scopes) > 0 {
			b.desc.Scopes = append([]string(nil), scopes...)
		}
	}
}

// baseAdapter holds what every provider shares: the descriptor, the bounded
// HTTP client and the authorize URL / form-post exchange logic.
type baseAdapter struct {
	desc       ProviderDescriptor
	httpClient *http.Client
	fields     fieldMap
}

func newBaseAdapter(desc ProviderDescriptor, fields fieldMap, opts []AdapterOption) baseAdapter {
	b := baseAdapter{
		desc:       desc,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		fields:     fields,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.desc.ScopeDelimiter == "" {
		b.desc.ScopeDelimiter = " "
	}
	b.desc.Scopes = append([]string(nil), b.desc.Scopes...)
	return b
}

func (b *baseAdapter) Descriptor() ProviderDescriptor {
	d := b.desc
	d.Scopes = append([]string(nil), b.desc.Scopes...)
	return d
}

// CallbackURL is where the provider sends the browser back to.
func (b *baseAdapter) CallbackURL(callbackBaseURL string) string {
	return CallbackURL(callbackBaseURL, b.desc.Name)
}

// CallbackURL returns callbackBaseURL + "/auth/{provider}/callback".
func CallbackURL(callbackBaseURL, provider string) string {
	return strings.TrimRight(callbackBaseURL, "/") + "/auth/" + provider + "/callback"
}

func (b *baseAdapter) oauthConfig(callbackBaseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     b.desc.ClientID,
		ClientSecret: b.desc.ClientSecret,
		RedirectURL:  b.CallbackURL(callbackBaseURL),
		Endpoint: oauth2.Endpoint{
			AuthURL:   b.desc.AuthorizeEndpoint,
			TokenURL:  b.desc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (b *baseAdapter) AuthorizeURL(callbackBaseURL string, state string) string {
	var opts []oauth2.AuthCodeOption
	if len(b.desc.Scopes) > 0 {
		// Scopes are set here rather than on the config so the provider's delimiter wins.
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(b.desc.Scopes, b.desc.ScopeDelimiter)))
	}
	return b.oauthConfig(callbackBaseURL).AuthCodeURL(state, opts...)
}

// exchangeForm performs a standard form-encoded POST to the token endpoint.
func (b *baseAdapter) exchangeForm(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)

	tok, err := b.oauthConfig(callbackBaseURL).Exchange(ctx, code)
	if err != nil {
		exErr := &TokenExchangeError{Provider: b.desc.Name, Err: err}
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			exErr.StatusCode = rErr.Response.StatusCode
			exErr.Body = truncate(string(rErr.Body))
		}
		return nil, exErr
	}

	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	return resp, nil
}

// getProfile issues a GET to the profile endpoint and normalizes the JSON body.
// When bearer is empty the token is expected to travel in query.
func (b *baseAdapter) getProfile(ctx context.Context, query url.Values, bearer string) (*Profile, error) {
	endpoint := b.desc.ProfileEndpoint
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ProfileFetchError{Provider: b.desc.Name, Err: fmt.Errorf("failed to create profile request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ProfileFetchError{Provider: b.desc.Name, Err: fmt.Errorf("failed to execute profile request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ProfileFetchError{
			Provider:   b.desc.Name,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        errors.New(resp.Status),
		}
	}

	raw, err := decodeObject(resp.Body)
	if err != nil {
		return nil, &ProfileFetchError{Provider: b.desc.Name, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode profile: %w", err)}
	}

	profile := b.fields.normalize(raw)
	if profile.ProviderUserID == "" {
		return nil, &ProfileFetchError{Provider: b.desc.Name, StatusCode: resp.StatusCode, Err: errors.New("profile has no user id")}
	}
	return profile, nil
}

func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("empty JSON object")
	}
	return raw, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
