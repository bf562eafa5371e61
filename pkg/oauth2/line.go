package oauth2

import (
	"context"
)

const (
	lineAuthURL    = "https://access.line.me/oauth2/v2.1/authorize"
	lineTokenURL   = "https://api.line.me/oauth2/v2.1/token"
	lineProfileURL = "https://api.line.me/v2/profile"
)

// LineAdapter implements Adapter for LINE Login v2.1. LINE profiles carry no
// email; statusMessage is surfaced as Profile.StatusMessage.
type LineAdapter struct {
	baseAdapter
}

// NewLineAdapter returns the LINE Login adapter for a channel.
func NewLineAdapter(channelID, channelSecret string, opts ...AdapterOption) *LineAdapter {
	desc := ProviderDescriptor{
		Name:              "line",
		DisplayName:       "LINE",
		Color:             "#00C300",
		Icon:              "SiLine",
		AuthorizeEndpoint: lineAuthURL,
		TokenEndpoint:     lineTokenURL,
		ProfileEndpoint:   lineProfileURL,
		Scopes:            []string{"profile"},
		ScopeDelimiter:    " ",
		ClientID:          channelID,
		ClientSecret:      channelSecret,
	}
	fields := fieldMap{
		id:      []string{"userId"},
		name:    []string{"displayName"},
		picture: []string{"pictureUrl"},
		status:  []string{"statusMessage"},
	}
	return &LineAdapter{baseAdapter: newBaseAdapter(desc, fields, opts)}
}

func (l *LineAdapter) ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	return l.exchangeForm(ctx, code, callbackBaseURL)
}

func (l *LineAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	return l.getProfile(ctx, nil, accessToken)
}
