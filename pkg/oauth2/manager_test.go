package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"socialauth/cfg"
)

type mockAdapter struct {
	mock.Mock
	desc ProviderDescriptor
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{desc: ProviderDescriptor{
		Name:        name,
		DisplayName: name,
		Color:       "#000000",
		Icon:        name + "-icon",
	}}
}

func (m *mockAdapter) Descriptor() ProviderDescriptor {
	return m.desc
}

func (m *mockAdapter) AuthorizeURL(callbackBaseURL string, state string) string {
	return "https://idp.test/authorize?" + url.Values{
		"state":        {state},
		"redirect_uri": {CallbackURL(callbackBaseURL, m.desc.Name)},
	}.Encode()
}

func (m *mockAdapter) ExchangeCode(ctx context.Context, code string, callbackBaseURL string) (*TokenResponse, error) {
	args := m.Called(ctx, code, callbackBaseURL)
	tok, _ := args.Get(0).(*TokenResponse)
	return tok, args.Error(1)
}

func (m *mockAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	args := m.Called(ctx, accessToken)
	p, _ := args.Get(0).(*Profile)
	return p, args.Error(1)
}

// stubAdapter keeps a real adapter's URL building and answers the network
// calls with fixed values.
type stubAdapter struct {
	*GenericAdapter
	token   *TokenResponse
	profile *Profile
}

func (s *stubAdapter) ExchangeCode(context.Context, string, string) (*TokenResponse, error) {
	return s.token, nil
}

func (s *stubAdapter) FetchProfile(context.Context, string) (*Profile, error) {
	return s.profile, nil
}

type failingStore struct {
	*InMemorySessionStore
}

func (failingStore) Create(context.Context, *AuthSession) (*AuthSession, error) {
	return nil, errors.New("store unavailable")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *mockAdapter, *InMemorySessionStore) {
	t.Helper()
	store := NewInMemorySessionStore()
	m := NewManager(store, opts...)
	a := newMockAdapter("line")
	require.NoError(t, m.RegisterProvider(a))
	return m, a, store
}

func paramsFor(state string) CallbackParams {
	return CallbackParams{
		Provider:         "line",
		Code:             "code",
		PresentedState:   state,
		ExpectedState:    state,
		ExpectedProvider: "line",
		CallbackBaseURL:  testBase,
	}
}

// validParams starts a LINE login on m and returns the matching callback.
func validParams(t *testing.T, m *Manager) CallbackParams {
	t.Helper()
	req, err := m.BeginLogin(context.Background(), "line", testBase)
	require.NoError(t, err)
	p := paramsFor(req.State)
	p.StateIssuedAt = req.IssuedAt
	return p
}

func TestManager_ListProviders(t *testing.T) {
	m := NewManager(NewInMemorySessionStore())
	assert.NotNil(t, m.ListProviders())
	assert.Empty(t, m.ListProviders())

	require.NoError(t, m.RegisterProvider(newMockAdapter("line")))
	require.NoError(t, m.RegisterProvider(newMockAdapter("google")))

	providers := m.ListProviders()
	require.Len(t, providers, 2)
	assert.Equal(t, "line", providers[0].Name)
	assert.Equal(t, "google", providers[1].Name)
	assert.Equal(t, "google-icon", providers[1].Icon)
}

func TestManager_RegisterDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.Error(t, m.RegisterProvider(newMockAdapter("line")))
	assert.Len(t, m.ListProviders(), 1)
}

func TestManager_BeginLoginUnknownProvider(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.BeginLogin(context.Background(), "myspace", testBase)

	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "myspace", unknown.Provider)
}

func TestManager_BeginLoginStates(t *testing.T) {
	m, _, _ := newTestManager(t)

	first, err := m.BeginLogin(context.Background(), "line", testBase)
	require.NoError(t, err)
	second, err := m.BeginLogin(context.Background(), "line", testBase)
	require.NoError(t, err)

	assert.Len(t, first.State, 64)
	assert.NotEqual(t, first.State, second.State)

	u, err := url.Parse(first.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, first.State, u.Query().Get("state"))
	assert.Equal(t, "line", first.Provider)
}

func TestManager_CompleteLoginRejectsStateMismatch(t *testing.T) {
	tests := []struct {
		name      string
		expected  string
		presented string
	}{
		{"both empty", "", ""},
		{"expected empty", "", "abc"},
		{"presented empty", "abc", ""},
		{"different", "abc", "abd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, a, store := newTestManager(t)

			p := paramsFor(tt.expected)
			p.PresentedState = tt.presented
			res := m.CompleteLogin(context.Background(), p)

			assert.False(t, res.Success)
			assert.Equal(t, StageStateRejected, res.Stage)
			assert.Equal(t, "Invalid authorization parameters", res.Reason)
			assert.ErrorIs(t, res.Err, ErrInvalidState)
			a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
			assert.Zero(t, store.Len())
		})
	}
}

func TestManager_CompleteLoginCrossAttemptState(t *testing.T) {
	m, a, _ := newTestManager(t)

	first, err := m.BeginLogin(context.Background(), "line", testBase)
	require.NoError(t, err)
	second, err := m.BeginLogin(context.Background(), "line", testBase)
	require.NoError(t, err)

	p := paramsFor(first.State)
	p.PresentedState = second.State
	res := m.CompleteLogin(context.Background(), p)

	assert.ErrorIs(t, res.Err, ErrInvalidState)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginRejectsProviderMismatch(t *testing.T) {
	m, a, _ := newTestManager(t)

	p := validParams(t, m)
	p.ExpectedProvider = "google"
	res := m.CompleteLogin(context.Background(), p)

	assert.Equal(t, StageStateRejected, res.Stage)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginRejectsExpiredState(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	m, a, _ := newTestManager(t, WithClock(func() time.Time { return clock }), WithStateTTL(10*time.Minute))

	p := validParams(t, m)
	clock = now.Add(11 * time.Minute)
	res := m.CompleteLogin(context.Background(), p)

	assert.Equal(t, StageStateRejected, res.Stage)
	assert.ErrorIs(t, res.Err, ErrInvalidState)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginRejectsReplayedState(t *testing.T) {
	m, a, store := newTestManager(t)

	a.On("ExchangeCode", mock.Anything, "code", testBase).Return(&TokenResponse{AccessToken: "at"}, nil).Once()
	a.On("FetchProfile", mock.Anything, "at").Return(&Profile{ProviderUserID: "U1"}, nil).Once()

	p := validParams(t, m)
	first := m.CompleteLogin(context.Background(), p)
	require.True(t, first.Success, first.Err)

	// Same cookie binding, same state: the server already consumed it.
	replay := m.CompleteLogin(context.Background(), p)
	assert.False(t, replay.Success)
	assert.Equal(t, StageStateRejected, replay.Stage)
	assert.ErrorIs(t, replay.Err, ErrInvalidState)
	assert.Equal(t, 1, store.Len())
	a.AssertNumberOfCalls(t, "ExchangeCode", 1)
}

func TestManager_CompleteLoginRejectsUnissuedState(t *testing.T) {
	m, a, _ := newTestManager(t)

	res := m.CompleteLogin(context.Background(), paramsFor("minted-elsewhere"))

	assert.Equal(t, StageStateRejected, res.Stage)
	assert.ErrorIs(t, res.Err, ErrInvalidState)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginStateIssuedForOtherProvider(t *testing.T) {
	m, a, _ := newTestManager(t)
	require.NoError(t, m.RegisterProvider(newMockAdapter("google")))

	req, err := m.BeginLogin(context.Background(), "google", testBase)
	require.NoError(t, err)

	p := paramsFor(req.State)
	p.ExpectedProvider = ""
	res := m.CompleteLogin(context.Background(), p)

	assert.Equal(t, StageStateRejected, res.Stage)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginRejectsMissingCode(t *testing.T) {
	m, a, _ := newTestManager(t)

	p := validParams(t, m)
	p.Code = ""
	res := m.CompleteLogin(context.Background(), p)

	assert.ErrorIs(t, res.Err, ErrInvalidState)
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginUnknownProvider(t *testing.T) {
	m, _, _ := newTestManager(t)

	p := paramsFor("s")
	p.Provider = "myspace"
	res := m.CompleteLogin(context.Background(), p)

	assert.Equal(t, StageUnknownProvider, res.Stage)
	assert.Equal(t, "Provider not available", res.Reason)
	var unknown *UnknownProviderError
	assert.ErrorAs(t, res.Err, &unknown)
}

func TestManager_CompleteLoginProviderDenied(t *testing.T) {
	m, a, _ := newTestManager(t)

	p := paramsFor("s")
	p.Code = ""
	p.ProviderError = "access_denied"
	p.ProviderErrorDescription = "<script>alert(1)</script>"
	res := m.CompleteLogin(context.Background(), p)

	assert.Equal(t, StageProviderDenied, res.Stage)
	assert.Equal(t, "Provider denied access", res.Reason)
	assert.NotContains(t, res.Reason, "script")
	a.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_CompleteLoginSuccess(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresIn int64
		want      time.Duration
	}{
		{"provider lifetime", 3600, time.Hour},
		{"absent", 0, 24 * time.Hour},
		{"non-positive", -5, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, a, store := newTestManager(t, WithClock(fixedClock(now)))

			a.On("ExchangeCode", mock.Anything, "code", testBase).
				Return(&TokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: tt.expiresIn}, nil)
			a.On("FetchProfile", mock.Anything, "at").
				Return(&Profile{
					ProviderUserID: "U1",
					Name:           "Taro",
					PictureURL:     "https://pic",
					StatusMessage:  "hello",
					Metadata:       map[string]any{"language": "ja"},
				}, nil)

			res := m.CompleteLogin(context.Background(), validParams(t, m))
			require.True(t, res.Success, res.Err)
			assert.Equal(t, StageSessionCreated, res.Stage)
			assert.Empty(t, res.Reason)

			s := res.Session
			assert.Equal(t, "line", s.Provider)
			assert.Equal(t, "U1", s.UserID)
			assert.Equal(t, "Taro", s.DisplayName)
			assert.Equal(t, "at", s.AccessToken)
			assert.Equal(t, "rt", s.RefreshToken)
			assert.Len(t, s.SessionID, 64)
			assert.NotZero(t, s.ID)
			assert.Equal(t, now, s.CreatedAt)
			assert.Equal(t, now.Add(tt.want), s.ExpiresAt)

			var meta map[string]any
			require.NoError(t, json.Unmarshal([]byte(s.Metadata), &meta))
			assert.Equal(t, "hello", meta["statusMessage"])
			assert.Equal(t, "ja", meta["language"])

			assert.Equal(t, 1, store.Len())
			a.AssertExpectations(t)
		})
	}
}

func TestManager_CompleteLoginExchangeFailure(t *testing.T) {
	m, a, store := newTestManager(t)

	a.On("ExchangeCode", mock.Anything, "code", testBase).
		Return(nil, &TokenExchangeError{Provider: "line", StatusCode: 400, Body: `{"error":"invalid_grant"}`})

	res := m.CompleteLogin(context.Background(), validParams(t, m))

	assert.Equal(t, StageExchangeFailed, res.Stage)
	assert.Equal(t, "Token exchange failed", res.Reason)
	assert.NotContains(t, res.Reason, "invalid_grant")
	var exErr *TokenExchangeError
	assert.ErrorAs(t, res.Err, &exErr)
	a.AssertNotCalled(t, "FetchProfile", mock.Anything, mock.Anything)
	assert.Zero(t, store.Len())
}

func TestManager_CompleteLoginFetchFailure(t *testing.T) {
	m, a, store := newTestManager(t)

	a.On("ExchangeCode", mock.Anything, "code", testBase).Return(&TokenResponse{AccessToken: "at"}, nil)
	a.On("FetchProfile", mock.Anything, "at").Return(nil, &ProfileFetchError{Provider: "line", StatusCode: 401})

	res := m.CompleteLogin(context.Background(), validParams(t, m))

	assert.Equal(t, StageFetchFailed, res.Stage)
	assert.Equal(t, "Profile fetch failed", res.Reason)
	assert.Zero(t, store.Len())
}

func TestManager_CompleteLoginStoreFailure(t *testing.T) {
	m := NewManager(failingStore{NewInMemorySessionStore()})
	a := newMockAdapter("line")
	require.NoError(t, m.RegisterProvider(a))

	a.On("ExchangeCode", mock.Anything, "code", testBase).Return(&TokenResponse{AccessToken: "at"}, nil)
	a.On("FetchProfile", mock.Anything, "at").Return(&Profile{ProviderUserID: "U1"}, nil)

	res := m.CompleteLogin(context.Background(), validParams(t, m))

	assert.False(t, res.Success)
	assert.Equal(t, StageStoreFailed, res.Stage)
	assert.Nil(t, res.Session)
}

func TestManager_DemoEndToEnd(t *testing.T) {
	store := NewInMemorySessionStore()
	m := NewManager(store)

	demo := &stubAdapter{
		GenericAdapter: NewGenericAdapter(GenericConfig{
			Name:         "demo",
			IssuerURL:    "https://idp.test",
			ClientID:     "X",
			ClientSecret: "Y",
		}),
		token:   &TokenResponse{AccessToken: "tok", ExpiresIn: 60},
		profile: &Profile{ProviderUserID: "42", Name: "Ada"},
	}
	require.NoError(t, m.RegisterProvider(demo))

	req, err := m.BeginLogin(context.Background(), "demo", "https://host")
	require.NoError(t, err)
	assert.Contains(t, req.AuthorizeURL, "client_id=X")
	assert.Contains(t, req.AuthorizeURL, "redirect_uri=https%3A%2F%2Fhost%2Fauth%2Fdemo%2Fcallback")

	res := m.CompleteLogin(context.Background(), CallbackParams{
		Provider:         "demo",
		Code:             "stub-code",
		PresentedState:   req.State,
		ExpectedState:    req.State,
		ExpectedProvider: "demo",
		StateIssuedAt:    req.IssuedAt,
		CallbackBaseURL:  "https://host",
	})
	require.True(t, res.Success, res.Err)

	assert.Equal(t, "42", res.Session.UserID)
	assert.Equal(t, "Ada", res.Session.DisplayName)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), res.Session.ExpiresAt, 2*time.Second)

	stored, err := m.Session(context.Background(), res.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Session.SessionID, stored.SessionID)
}

func TestManager_SessionHelpers(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	_, err := store.Create(ctx, &AuthSession{
		SessionID: "sid",
		Provider:  "line",
		UserID:    "U1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	found, err := m.FindSession(ctx, "line", "U1")
	require.NoError(t, err)
	assert.Equal(t, "sid", found.SessionID)

	_, err = m.Session(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Logout(ctx, "sid"))
	require.NoError(t, m.Logout(ctx, "sid"))
	_, err = m.Session(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewManagerFromConfig(t *testing.T) {
	c := &cfg.Oauth2Config{
		Line:     cfg.ProviderCredentials{ClientID: "line-id", ClientSecret: "line-secret"},
		Google:   cfg.ProviderCredentials{ClientID: "google-id"},
		Facebook: cfg.ProviderCredentials{ClientID: "fb-id", ClientSecret: "fb-secret"},
		Demo: cfg.DemoProviderConfig{
			ProviderCredentials: cfg.ProviderCredentials{ClientID: "X", ClientSecret: "Y"},
			IssuerURL:           "http://localhost:9000",
		},
		HTTPTimeout: 5 * time.Second,
		StateTTL:    time.Minute,
	}

	m, err := NewManagerFromConfig(c, NewInMemorySessionStore())
	require.NoError(t, err)

	var names []string
	for _, p := range m.ListProviders() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"line", "facebook", "demo"}, names)
	assert.Equal(t, time.Minute, m.stateTTL)

	_, err = m.BeginLogin(context.Background(), "google", testBase)
	var unknown *UnknownProviderError
	assert.ErrorAs(t, err, &unknown)
}
