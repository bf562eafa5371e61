package cfg

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// ProviderCredentials is one provider's client id/secret pair. A provider with
// an incomplete pair is left out of the registry.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

func (p ProviderCredentials) Complete() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// DemoProviderConfig points the generic "demo" provider at an OAuth server
// exposing /authorize, /token and /userinfo under IssuerURL (see mock/).
type DemoProviderConfig struct {
	ProviderCredentials
	IssuerURL string
}

type Oauth2Config struct {
	Line     ProviderCredentials
	Google   ProviderCredentials
	Facebook ProviderCredentials
	Demo     DemoProviderConfig

	HTTPTimeout time.Duration
	StateTTL    time.Duration
}

type SessionConfig struct {
	Secret string
	Store  string
}

type ObservabilityConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Environment  string
}

type Config struct {
	AppEnv             string
	AppPort            string
	PublicBaseURL      string
	FrontendURL        string
	CORSAllowedOrigins []string
	SnowflakeNodeID    int64
	Redis              RedisConfig
	Session            SessionConfig
	OAuth2             Oauth2Config
	Observability      ObservabilityConfig
}

// rawEnv mirrors the process environment.
type rawEnv struct {
	AppEnv             string        `env:"APP_ENV" envDefault:"development"`
	AppPort            string        `env:"APP_PORT" envDefault:"8080" validate:"required,numeric"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL" validate:"omitempty,url"`
	FrontendURL        string        `env:"FRONTEND_URL" validate:"omitempty,url"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	SnowflakeNodeID    int64         `env:"SNOWFLAKE_NODE_ID" envDefault:"1" validate:"gte=0,lte=1023"`
	SessionSecret      string        `env:"SESSION_SECRET" validate:"required,min=32"`
	SessionStore       string        `env:"SESSION_STORE" envDefault:"memory" validate:"oneof=memory cache redis"`
	LineChannelID      string        `env:"LINE_CHANNEL_ID"`
	LineChannelSecret  string        `env:"LINE_CHANNEL_SECRET"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	FacebookAppID      string        `env:"FACEBOOK_APP_ID"`
	FacebookAppSecret  string        `env:"FACEBOOK_APP_SECRET"`
	DemoClientID       string        `env:"DEMO_CLIENT_ID"`
	DemoClientSecret   string        `env:"DEMO_CLIENT_SECRET"`
	DemoIssuerURL      string        `env:"DEMO_ISSUER_URL" validate:"omitempty,url"`
	HTTPTimeout        time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	StateTTL           time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m" validate:"gt=0"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName        string        `env:"OTEL_SERVICE_NAME" envDefault:"socialauth"`
	Redis              RedisConfig
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.New("failed load cfg: " + err.Error())
	}

	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("failed parse env: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	return build(raw), nil
}

func validate(raw *rawEnv) error {
	var errs []error

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("invalid env %s: failed %q", envName(fe.StructField()), fe.Tag()))
		}
	}

	if raw.DemoClientID != "" && raw.DemoIssuerURL == "" {
		errs = append(errs, errors.New("missing env: DEMO_ISSUER_URL"))
	}

	return errors.Join(errs...)
}

func build(raw rawEnv) *Config {
	origins := make([]string, 0, len(raw.CORSAllowedOrigins))
	for _, o := range raw.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		AppEnv:             raw.AppEnv,
		AppPort:            raw.AppPort,
		PublicBaseURL:      strings.TrimRight(raw.PublicBaseURL, "/"),
		FrontendURL:        raw.FrontendURL,
		CORSAllowedOrigins: origins,
		SnowflakeNodeID:    raw.SnowflakeNodeID,
		Redis:              raw.Redis,
		Session: SessionConfig{
			Secret: raw.SessionSecret,
			Store:  raw.SessionStore,
		},
		OAuth2: Oauth2Config{
			Line:     ProviderCredentials{ClientID: raw.LineChannelID, ClientSecret: raw.LineChannelSecret},
			Google:   ProviderCredentials{ClientID: raw.GoogleClientID, ClientSecret: raw.GoogleClientSecret},
			Facebook: ProviderCredentials{ClientID: raw.FacebookAppID, ClientSecret: raw.FacebookAppSecret},
			Demo: DemoProviderConfig{
				ProviderCredentials: ProviderCredentials{ClientID: raw.DemoClientID, ClientSecret: raw.DemoClientSecret},
				IssuerURL:           strings.TrimRight(raw.DemoIssuerURL, "/"),
			},
			HTTPTimeout: raw.HTTPTimeout,
			StateTTL:    raw.StateTTL,
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: raw.OTLPEndpoint,
			ServiceName:  raw.ServiceName,
			Environment:  raw.AppEnv,
		},
	}
}

var fieldEnv = map[string]string{
	"AppPort":         "APP_PORT",
	"PublicBaseURL":   "PUBLIC_BASE_URL",
	"FrontendURL":     "FRONTEND_URL",
	"SnowflakeNodeID": "SNOWFLAKE_NODE_ID",
	"SessionSecret":   "SESSION_SECRET",
	"SessionStore":    "SESSION_STORE",
	"DemoIssuerURL":   "DEMO_ISSUER_URL",
	"HTTPTimeout":     "OAUTH_HTTP_TIMEOUT",
	"StateTTL":        "OAUTH_STATE_TTL",
}

func envName(field string) string {
	if name, ok := fieldEnv[field]; ok {
		return name
	}
	return field
}
