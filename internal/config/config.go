package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppPort  string `env:"APP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PublicBaseURL is the externally visible origin of this service. It is
	// used to build provider callback URLs and to decide which post-login
	// redirects are same-origin.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	FacebookAppID        string   `env:"FACEBOOK_APP_ID"`
	FacebookAppSecret    string   `env:"FACEBOOK_APP_SECRET"`
	FacebookGraphVersion string   `env:"FACEBOOK_GRAPH_VERSION" envDefault:"v19.0"`
	FacebookScopes       []string `env:"FACEBOOK_SCOPES" envSeparator:"," envDefault:"email,public_profile"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	KeycloakIssuer        string `env:"KEYCLOAK_ISSUER"`
	KeycloakClientID      string `env:"KEYCLOAK_CLIENT_ID"`
	KeycloakPublicBaseURL string `env:"KEYCLOAK_PUBLIC_BASE_URL"`

	AllowClientSideFlow         bool          `env:"ALLOW_CLIENT_SIDE_FLOW" envDefault:"false"`
	DefaultPostLoginDestination string        `env:"DEFAULT_POST_LOGIN_DESTINATION"`
	LoginURL                    string        `env:"LOGIN_URL" envDefault:"/login"`
	AccountLinkPolicy           string        `env:"ACCOUNT_LINK_POLICY" envDefault:"verified-email"`
	FlowStateTTL                time.Duration `env:"FLOW_STATE_TTL" envDefault:"10m"`
	ProviderTimeout             time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	CookieSecure                bool          `env:"COOKIE_SECURE" envDefault:"true"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	DatabaseDSN string `env:"DATABASE_DSN"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"auth.audit"`

	OTelEndpoint    string  `env:"OTEL_ENDPOINT"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads an optional .env file (path from ENV_FILE, default ".env") and
// then parses the process environment.
func Load() (Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.FacebookScopes = trimCSV(cfg.FacebookScopes)
	cfg.KafkaBrokers = trimCSV(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the service cannot start without.
func (c Config) Validate() error {
	if c.FacebookAppID == "" || c.FacebookAppSecret == "" {
		return errors.New("config: FACEBOOK_APP_ID and FACEBOOK_APP_SECRET are required")
	}
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	base, err := url.Parse(c.PublicBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("config: PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}
	if c.DefaultPostLoginDestination != "" && !sameOrigin(base, c.DefaultPostLoginDestination) {
		return fmt.Errorf("config: DEFAULT_POST_LOGIN_DESTINATION must be a path or on %s, got %q",
			c.PublicBaseURL, c.DefaultPostLoginDestination)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("config: OTEL_SAMPLE_RATIO must be between 0 and 1, got %g", c.OTelSampleRatio)
	}
	switch c.AccountLinkPolicy {
	case "verified-email", "never":
	default:
		return fmt.Errorf("config: unknown ACCOUNT_LINK_POLICY %q", c.AccountLinkPolicy)
	}
	return nil
}

// sameOrigin reports whether target is a path or an absolute URL on base's
// origin. Scheme-relative and backslash forms count as foreign.
func sameOrigin(base *url.URL, target string) bool {
	if strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n\t") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil || u.Opaque != "" || u.User != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

func trimCSV(values []string) []string {
	out := values[:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
