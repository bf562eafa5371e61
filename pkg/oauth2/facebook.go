package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
)

const (
	facebookAuthURL    = "https://www.facebook.com/v18.0/dialog/oauth"
	facebookTokenURL   = "https://graph.facebook.com/v18.0/oauth/access_token"
	facebookProfileURL = "https://graph.facebook.com/me"
	facebookFields     = "id,name,picture.type(large)"
)

// FacebookAdapter implements Adapter for Facebook Login. The default scope is
// public_profile only; requesting email triggers app review.
type FacebookAdapter struct {
	baseAdapter
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewFacebookAdapter returns the Facebook Login adapter for an app.
func NewFacebookAdapter(appID, appSecret string, opts ...AdapterOption) *FacebookAdapter {
	desc := ProviderDescriptor{
		Name:              "facebook",
		DisplayName:       "Facebook",
		Color:             "#1877F2",
		Icon:              "SiFacebook",
		AuthorizeEndpoint: facebookAuthURL,
		TokenEndpoint:     facebookTokenURL,
		ProfileEndpoint:   facebookProfileURL,
		Scopes:            []string{"public_profile"},
		ScopeDelimiter:    ",",
		ClientID:          appID,
		ClientSecret:      appSecret,
	}
	fields := fieldMap{
		id:      []string{"id"},
		name:    []string{"name"},
		email:   []string{"email"},
		picture: []string{"picture.data.url"},
	}
	return &FacebookAdapter{baseAdapter: newBaseAdapter(desc, fields, opts)}
}

// ExchangeCode uses the Graph API's GET form of the token exchange.
func (f *FacebookAdapter) ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", f.desc.ClientID)
	params.Set("client_secret", f.desc.ClientSecret)
	params.Set("redirect_uri", f.CallbackURL(callbackBaseURL))
	params.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.desc.TokenEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &TokenExchangeError{Provider: f.desc.Name, Err: fmt.Errorf("failed to create token request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Provider: f.desc.Name, Err: fmt.Errorf("failed to execute token request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TokenExchangeError{
			Provider:   f.desc.Name,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        errors.New(resp.Status),
		}
	}

	var tokenResp facebookTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, &TokenExchangeError{Provider: f.desc.Name, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return nil, &TokenExchangeError{Provider: f.desc.Name, StatusCode: resp.StatusCode, Err: errors.New("no access token in response")}
	}

	return &TokenResponse{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
		ExpiresIn:   tokenResp.ExpiresIn,
	}, nil
}

func (f *FacebookAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	fields := facebookFields
	if slices.Contains(f.desc.Scopes, "email") {
		fields += ",email"
	}

	query := url.Values{}
	query.Set("fields", fields)
	query.Set("access_token", accessToken)
	return f.getProfile(ctx, query, "")
}
