package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

// MfaConfig holds the engine settings.
type MfaConfig struct {
	ChallengeTTL   string `env:"MFA_CHALLENGE_TTL" env-default:"15m"`
	HandlerTimeout string `env:"MFA_HANDLER_TIMEOUT" env-default:"5s"`
	SweepInterval  string `env:"MFA_SWEEP_INTERVAL" env-default:"1m"`
	CodeTTL        string `env:"MFA_CODE_TTL" env-default:"15m"`

	// Persistence selects the challenge/nonce/passcode store: postgres, redis or memory.
	Persistence string `env:"MFA_PERSISTENCE" env-default:"postgres"`
	// ProfileStore selects the user directory backend: postgres, file or memory.
	ProfileStore string `env:"MFA_PROFILE_STORE" env-default:"postgres"`
	DataDir      string `env:"MFA_DATA_DIR" env-default:"./data"`

	// EnabledMethods is a comma separated allow list. Empty enables every method.
	EnabledMethods string `env:"MFA_ENABLED_METHODS" env-default:""`
	// ActionPolicy restricts methods per action, e.g.
	// "high_value_transfer=totp|web3;change_email=email|password".
	ActionPolicy string `env:"MFA_ACTION_POLICY" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"MFA_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"MFA_PG_PORT" env-default:"5432"`
	Database string `env:"MFA_PG_DATABASE" env-default:"mfa_db"`
	User     string `env:"MFA_PG_USER" env-default:"mfa"`
	Password string `env:"MFA_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"MFA_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// ToDbConfig converts the config to a db-utils DbConfig
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

type RedisConfig struct {
	URL       string `env:"MFA_REDIS_URL" env-default:"redis://localhost:6379/0"`
	KeyPrefix string `env:"MFA_REDIS_PREFIX" env-default:"mfa:"`
	// EventsEnabled publishes lifecycle events and outbound SMS to Redis streams.
	EventsEnabled bool `env:"MFA_EVENTS_ENABLED" env-default:"false"`
}

// EmailConfig holds SMTP email configuration
type EmailConfig struct {
	Enabled  bool   `env:"EMAIL_ENABLED" env-default:"true"`
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:""`
	Password string `env:"EMAIL_PASSWORD" env-default:""`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

// TwilioConfig holds the carrier credentials used by the SMS worker, or by the
// service itself when no message bus is configured.
type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID" env-default:""`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN" env-default:""`
	From       string `env:"TWILIO_FROM" env-default:"+15005550006"`
}

func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

// JWTConfig configures both the access tokens accepted by the API and the
// action credentials it mints.
type JWTConfig struct {
	Secret           string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	CredentialSecret string `env:"MFA_CREDENTIAL_SECRET" env-default:"very-secure-credential-secret"`
	Issuer           string `env:"MFA_CREDENTIAL_ISSUER" env-default:"simple-mfa"`
	CredentialExpiry string `env:"MFA_CREDENTIAL_EXPIRY" env-default:"5m"`
}

// Validate rejects a credential key shared with the access token key. A
// shared key would let a minted credential pass as an API bearer token.
func (j JWTConfig) Validate() error {
	if j.CredentialSecret == "" {
		return fmt.Errorf("MFA_CREDENTIAL_SECRET is required")
	}
	if j.CredentialSecret == j.Secret {
		return fmt.Errorf("MFA_CREDENTIAL_SECRET must differ from JWT_SECRET")
	}
	return nil
}

// OAuthConfig lists the OpenID Connect providers whose ID tokens confirm the
// oauth step.
type OAuthConfig struct {
	// Providers is "name=issuer|client_id|jwks_url", entries separated by ";".
	Providers string `env:"MFA_OIDC_PROVIDERS" env-default:""`
}

type OIDCProviderConfig struct {
	Name     string
	Issuer   string
	ClientID string
	JWKSURL  string
}

// ProviderList parses Providers.
func (o OAuthConfig) ProviderList() ([]OIDCProviderConfig, error) {
	var res []OIDCProviderConfig
	for _, entry := range strings.Split(o.Providers, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		parts := strings.Split(rest, "|")
		if !ok || strings.TrimSpace(name) == "" || len(parts) != 3 {
			return nil, fmt.Errorf("invalid oidc provider entry %q", entry)
		}
		p := OIDCProviderConfig{
			Name:     strings.TrimSpace(name),
			Issuer:   strings.TrimSpace(parts[0]),
			ClientID: strings.TrimSpace(parts[1]),
			JWKSURL:  strings.TrimSpace(parts[2]),
		}
		if p.Issuer == "" || p.ClientID == "" || p.JWKSURL == "" {
			return nil, fmt.Errorf("oidc provider %q needs issuer, client id and jwks url", p.Name)
		}
		res = append(res, p)
	}
	return res, nil
}

type RateLimitConfig struct {
	// ValidateAttempts per subject per ValidateWindow.
	ValidateAttempts int    `env:"MFA_VALIDATE_ATTEMPTS" env-default:"10"`
	ValidateWindow   string `env:"MFA_VALIDATE_WINDOW" env-default:"1m"`

	PerIPEnabled   bool `env:"RATE_LIMIT_PER_IP_ENABLED" env-default:"true"`
	PerIPPerMinute int  `env:"RATE_LIMIT_PER_IP_PER_MINUTE" env-default:"100"`
	IncludeHeaders bool `env:"RATE_LIMIT_INCLUDE_HEADERS" env-default:"true"`
}

type Config struct {
	Mfa       MfaConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Email     EmailConfig
	Twilio    TwilioConfig
	JWT       JWTConfig
	OAuth     OAuthConfig
	RateLimit RateLimitConfig
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.JWT.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid jwt configuration: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads path into the environment when it exists.
func LoadEnvFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("No .env file found (using environment variables or defaults)")
		return
	}
	slog.Info("Loading configuration from .env file", "path", path)
	if err := godotenv.Load(path); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

// ParseDuration accepts ISO8601 ("PT15M") or Go ("15m") durations.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := duration.Parse(s); err == nil {
		return d.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}

// Methods parses EnabledMethods.
func (m MfaConfig) Methods() []mfa.MethodID {
	var res []mfa.MethodID
	for _, part := range strings.Split(m.EnabledMethods, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, mfa.MethodID(part))
		}
	}
	return res
}

// Policies parses ActionPolicy into per-action method lists.
func (m MfaConfig) Policies() (map[mfa.Action][]mfa.MethodID, error) {
	res := make(map[mfa.Action][]mfa.MethodID)
	for _, entry := range strings.Split(m.ActionPolicy, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		action, methods, ok := strings.Cut(entry, "=")
		action = strings.TrimSpace(action)
		if !ok || action == "" {
			return nil, fmt.Errorf("invalid action policy entry %q", entry)
		}
		for _, method := range strings.Split(methods, "|") {
			if method = strings.TrimSpace(method); method != "" {
				res[mfa.Action(action)] = append(res[mfa.Action(action)], mfa.MethodID(method))
			}
		}
		if len(res[mfa.Action(action)]) == 0 {
			return nil, fmt.Errorf("action policy for %q lists no methods", action)
		}
	}
	return res, nil
}
