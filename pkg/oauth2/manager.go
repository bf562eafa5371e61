package oauth2

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"socialauth/cfg"
	"socialauth/pkg/cache"
	"socialauth/pkg/idgen"
	"socialauth/pkg/logger"
)

const (
	DefaultStateTTL   = 10 * time.Minute
	DefaultSessionTTL = 24 * time.Hour

	instrumentationName = "socialauth/pkg/oauth2"
)

// Stage is how far a login attempt got.
type Stage string

const (
	StageInitiated        Stage = "INITIATED"
	StageCallbackReceived Stage = "CALLBACK_RECEIVED"
	StageStateValidated   Stage = "STATE_VALIDATED"
	StageTokenExchanged   Stage = "TOKEN_EXCHANGED"
	StageProfileFetched   Stage = "PROFILE_FETCHED"
	StageSessionCreated   Stage = "SESSION_CREATED"

	StageUnknownProvider Stage = "UNKNOWN_PROVIDER"
	StageProviderDenied  Stage = "PROVIDER_DENIED"
	StageStateRejected   Stage = "STATE_REJECTED"
	StageExchangeFailed  Stage = "EXCHANGE_FAILED"
	StageFetchFailed     Stage = "FETCH_FAILED"
	StageStoreFailed     Stage = "STORE_FAILED"
)

// failureReasons are the user-facing reasons of terminal failures. They never
// carry upstream detail.
var failureReasons = map[Stage]string{
	StageUnknownProvider: "Provider not available",
	StageProviderDenied:  "Provider denied access",
	StageStateRejected:   "Invalid authorization parameters",
	StageExchangeFailed:  "Token exchange failed",
	StageFetchFailed:     "Profile fetch failed",
	StageStoreFailed:     "Session could not be created",
}

// Reason returns the fixed failure reason of a terminal stage.
func (s Stage) Reason() string {
	return failureReasons[s]
}

// CallbackParams is everything the coordinator needs to finish a login. The
// Expected* fields come from the caller's ambient session, the rest from the
// callback request. The presented state must also be one the Manager issued
// and has not yet consumed.
type CallbackParams struct {
	Provider        string
	Code            string
	PresentedState  string
	CallbackBaseURL string

	ExpectedState string
	// ExpectedProvider, when set, must equal Provider.
	ExpectedProvider string
	// StateIssuedAt, when set, must be within the state TTL.
	StateIssuedAt time.Time

	ProviderError            string
	ProviderErrorDescription string
}

// AuthResult is the outcome of CompleteLogin. Session is set only on success.
type AuthResult struct {
	Success bool
	Session *AuthSession
	Stage   Stage
	Reason  string
	Err     error
}

// Manager coordinates the login flow across registered providers.
type Manager struct {
	providers map[string]Adapter
	order     []string
	sessions  SessionStore
	states    StateStorage

	ids        idgen.Generator
	logger     logger.Logger
	now        func() time.Time
	stateTTL   time.Duration
	sessionTTL time.Duration

	adapterOpts []AdapterOption

	tracer   trace.Tracer
	attempts metric.Int64Counter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator sets the generator of AuthSession record ids.
func WithIDGenerator(g idgen.Generator) ManagerOption {
	return func(m *Manager) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithStateStorage sets where issued states are kept until their callback.
func WithStateStorage(s StateStorage) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.states = s
		}
	}
}

// WithStateTTL sets how long an issued state is accepted.
func WithStateTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.stateTTL = d
		}
	}
}

// WithAdapterOptions is applied to every adapter NewManagerFromConfig builds.
func WithAdapterOptions(opts ...AdapterOption) ManagerOption {
	return func(m *Manager) {
		m.adapterOpts = append(m.adapterOpts, opts...)
	}
}

// NewManager returns a Manager with no providers.
func NewManager(store SessionStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		providers:  make(map[string]Adapter),
		sessions:   store,
		logger:     logger.NewNop(),
		now:        time.Now,
		stateTTL:   DefaultStateTTL,
		sessionTTL: DefaultSessionTTL,
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.states == nil {
		m.states = NewCacheStateStorage(cache.NewMemoryCache(time.Minute))
	}
	if m.ids == nil {
		if gen, err := idgen.NewSnowflakeGenerator(0); err == nil {
			m.ids = gen
		}
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"auth.login.attempts",
		metric.WithDescription("Completed login attempts by provider and final stage"),
	)
	if err != nil {
		m.logger.Warn("failed to create login counter", logger.Err(err))
		counter, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("auth.login.attempts")
	}
	m.attempts = counter

	return m
}

// NewManagerFromConfig registers every provider whose credentials are complete,
// in the order LINE, Google, Facebook, demo.
func NewManagerFromConfig(c *cfg.Oauth2Config, store SessionStore, opts ...ManagerOption) (*Manager, error) {
	m := NewManager(store, opts...)
	if c.StateTTL > 0 {
		m.stateTTL = c.StateTTL
	}

	adapterOpts := append([]AdapterOption{WithTimeout(c.HTTPTimeout)}, m.adapterOpts...)

	var adapters []Adapter
	if c.Line.Complete() {
		adapters = append(adapters, NewLineAdapter(c.Line.ClientID, c.Line.ClientSecret, adapterOpts...))
	} else {
		m.logger.Info("provider not configured", logger.Field{Key: "provider", Value: "line"})
	}
	if c.Google.Complete() {
		adapters = append(adapters, NewGoogleAdapter(c.Google.ClientID, c.Google.ClientSecret, adapterOpts...))
	} else {
		m.logger.Info("provider not configured", logger.Field{Key: "provider", Value: "google"})
	}
	if c.Facebook.Complete() {
		adapters = append(adapters, NewFacebookAdapter(c.Facebook.ClientID, c.Facebook.ClientSecret, adapterOpts...))
	} else {
		m.logger.Info("provider not configured", logger.Field{Key: "provider", Value: "facebook"})
	}
	if c.Demo.Complete() {
		adapters = append(adapters, NewGenericAdapter(GenericConfig{
			Name:         "demo",
			DisplayName:  "Demo",
			Color:        "#6B7280",
			Icon:         "SiOpenid",
			IssuerURL:    c.Demo.IssuerURL,
			ClientID:     c.Demo.ClientID,
			ClientSecret: c.Demo.ClientSecret,
		}, adapterOpts...))
	}

	for _, a := range adapters {
		if err := m.RegisterProvider(a); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterProvider adds an adapter. Names must be unique.
func (m *Manager) RegisterProvider(a Adapter) error {
	name := a.Descriptor().Name
	if name == "" {
		return errors.New("provider name is empty")
	}
	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	m.providers[name] = a
	m.order = append(m.order, name)
	m.logger.Info("provider registered", logger.Field{Key: "provider", Value: name})
	return nil
}

// Provider returns the adapter registered under name.
func (m *Manager) Provider(name string) (Adapter, error) {
	a, ok := m.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Provider: name}
	}
	return a, nil
}

// ListProviders returns the public info of every registered provider in
// registration order.
func (m *Manager) ListProviders() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.providers[name].Descriptor().Info())
	}
	return out
}

// BeginLogin mints a fresh state, records it server-side and returns the
// provider URL carrying it. The caller must bind the returned state to its
// ambient session before redirecting.
func (m *Manager) BeginLogin(ctx context.Context, providerName, callbackBaseURL string) (*LoginRequest, error) {
	a, err := m.Provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := GenerateRandomString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	issuedAt := m.now()
	if err := m.states.Save(ctx, state, StateRecord{Provider: providerName, IssuedAt: issuedAt}, m.stateTTL); err != nil {
		return nil, err
	}

	m.logger.Debug("login initiated",
		logger.Field{Key: "provider", Value: providerName},
		logger.Field{Key: "stage", Value: StageInitiated},
	)

	return &LoginRequest{
		Provider:     providerName,
		State:        state,
		AuthorizeURL: a.AuthorizeURL(callbackBaseURL, state),
		IssuedAt:     issuedAt,
	}, nil
}

// CompleteLogin validates the callback, exchanges the code, loads the profile
// and stores a new session. Failures are reported in the result, never as a
// panic; the code is never exchanged unless the state matched.
func (m *Manager) CompleteLogin(ctx context.Context, p CallbackParams) AuthResult {
	ctx, span := m.tracer.Start(ctx, "oauth2.CompleteLogin",
		trace.WithAttributes(attribute.String("auth.provider", p.Provider)))
	defer span.End()

	res := m.completeLogin(ctx, p)

	span.SetAttributes(attribute.String("auth.stage", string(res.Stage)))
	if !res.Success {
		span.SetStatus(codes.Error, res.Reason)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", p.Provider),
		attribute.String("stage", string(res.Stage)),
	))

	fields := []logger.Field{
		{Key: "provider", Value: p.Provider},
		{Key: "stage", Value: res.Stage},
	}
	if res.Success {
		m.logger.Info("login completed", fields...)
	} else {
		m.logger.Warn("login failed", append(fields, logger.Err(res.Err))...)
	}
	return res
}

func (m *Manager) completeLogin(ctx context.Context, p CallbackParams) AuthResult {
	a, err := m.Provider(p.Provider)
	if err != nil {
		return fail(StageUnknownProvider, err)
	}
	reached(ctx, StageCallbackReceived)

	if p.ProviderError != "" {
		m.logger.Info("provider denied login",
			logger.Field{Key: "provider", Value: p.Provider},
			logger.Field{Key: "error", Value: p.ProviderError},
			logger.Field{Key: "error_description", Value: p.ProviderErrorDescription},
		)
		return fail(StageProviderDenied, fmt.Errorf("provider returned %s", p.ProviderError))
	}

	if err := m.checkState(ctx, p); err != nil {
		return fail(StageStateRejected, err)
	}
	reached(ctx, StageStateValidated)

	tok, err := a.ExchangeCode(ctx, p.Code, p.CallbackBaseURL)
	if err != nil {
		return fail(StageExchangeFailed, err)
	}
	reached(ctx, StageTokenExchanged)

	profile, err := a.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return fail(StageFetchFailed, err)
	}
	reached(ctx, StageProfileFetched)

	session, err := m.newSession(p.Provider, tok, profile)
	if err != nil {
		return fail(StageStoreFailed, err)
	}

	stored, err := m.sessions.Create(ctx, session)
	if err != nil {
		return fail(StageStoreFailed, err)
	}

	return AuthResult{Success: true, Session: stored, Stage: StageSessionCreated}
}

// reached records a stage transition on the current span.
func reached(ctx context.Context, stage Stage) {
	trace.SpanFromContext(ctx).AddEvent(string(stage))
}

func fail(stage Stage, err error) AuthResult {
	return AuthResult{Stage: stage, Reason: stage.Reason(), Err: err}
}

// checkState binds the callback to the browser that started the login and to
// a state the Manager issued. A matching state is consumed here whatever the
// remaining checks decide.
func (m *Manager) checkState(ctx context.Context, p CallbackParams) error {
	if p.ExpectedState == "" || p.PresentedState == "" {
		return &InvalidStateError{Reason: "missing state"}
	}
	if subtle.ConstantTimeCompare([]byte(p.ExpectedState), []byte(p.PresentedState)) != 1 {
		return &InvalidStateError{Reason: "state mismatch"}
	}

	rec, err := m.states.Consume(ctx, p.PresentedState)
	if errors.Is(err, ErrStateNotFound) {
		return &InvalidStateError{Reason: "state not issued or already used"}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", &InvalidStateError{Reason: "state lookup failed"}, err)
	}

	if rec.Provider != p.Provider || (p.ExpectedProvider != "" && p.ExpectedProvider != p.Provider) {
		return &InvalidStateError{Reason: "provider mismatch"}
	}
	now := m.now()
	if now.Sub(rec.IssuedAt) > m.stateTTL ||
		(!p.StateIssuedAt.IsZero() && now.Sub(p.StateIssuedAt) > m.stateTTL) {
		return &InvalidStateError{Reason: "state expired"}
	}
	if p.Code == "" {
		return &InvalidStateError{Reason: "missing code"}
	}
	return nil
}

func (m *Manager) newSession(provider string, tok *TokenResponse, profile *Profile) (*AuthSession, error) {
	sessionID, err := GenerateRandomString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	metadata := make(map[string]any, len(profile.Metadata)+1)
	for k, v := range profile.Metadata {
		metadata[k] = v
	}
	if profile.StatusMessage != "" {
		metadata["statusMessage"] = profile.StatusMessage
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	createdAt := m.now()
	ttl := m.sessionTTL
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}

	session := &AuthSession{
		SessionID:    sessionID,
		Provider:     provider,
		UserID:       profile.ProviderUserID,
		DisplayName:  profile.Name,
		Email:        profile.Email,
		PictureURL:   profile.PictureURL,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Metadata:     string(encoded),
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(ttl),
	}
	if m.ids != nil {
		session.ID = m.ids.GenerateID()
	}
	return session, nil
}

// Session returns the live session with the given id.
func (m *Manager) Session(ctx context.Context, sessionID string) (*AuthSession, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	return m.sessions.Get(ctx, sessionID)
}

// Logout deletes a session. Unknown ids are not an error.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.sessions.Delete(ctx, sessionID)
}

// FindSession returns the latest live session of a provider user.
func (m *Manager) FindSession(ctx context.Context, provider, userID string) (*AuthSession, error) {
	finder, ok := m.sessions.(UserSessionFinder)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return finder.FindByProviderUser(ctx, provider, userID)
}
