package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/notify"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	Auth         AuthConfig
	Referral     ReferralConfig
	Push         PushConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// AuthConfig controls session tokens and seller API keys.
type AuthConfig struct {
	JWTSecret    string        `usage:"HMAC secret for session tokens (STOREFRONT_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	TokenTTL     time.Duration `default:"24h" usage:"Session token lifetime" flag:"token-ttl"`
	Issuer       string        `default:"storefront" usage:"Session token issuer"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing (STOREFRONT_AUTH_API_KEY_PEPPER)" flag:"api-key-pepper"`
	BcryptCost   int           `default:"10" usage:"bcrypt cost for buyer passwords"`
}

// ReferralConfig controls coin redemption and referral rewards. Ratios are
// decimal strings so they are applied without float rounding.
type ReferralConfig struct {
	CoinRate       string `default:"0.02" usage:"Currency value of one referral coin"`
	MaxRatio       string `default:"0.10" usage:"Maximum share of the subtotal covered by coins"`
	RewardRatio    string `default:"0.02" usage:"Share of a delivered order credited to the referrer"`
	FirstOrderOnly bool   `default:"false" usage:"Reward only the first delivered order of a referred buyer"`
	ExpectedCodes  uint   `default:"100000" usage:"Expected number of referral codes, sizes the bloom filter"`
}

// PushConfig controls web push delivery. Push is disabled without VAPID keys.
type PushConfig struct {
	VAPIDPublicKey  string        `usage:"VAPID public key" flag:"vapid-public-key"`
	VAPIDPrivateKey string        `usage:"VAPID private key" flag:"vapid-private-key"`
	Subscriber      string        `default:"ops@storefront.local" usage:"VAPID subscriber (contact email or https: URL)"`
	TTL             time.Duration `default:"24h" usage:"Push message TTL"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from environment
// variables, YAML config files and flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT secret is required: set STOREFRONT_AUTH_JWT_SECRET")
	case len(c.Auth.JWTSecret) < 32:
		return errors.New("JWT secret must be at least 32 bytes")
	case c.Auth.APIKeyPepper == "":
		return errors.New("API key pepper is required: set STOREFRONT_AUTH_API_KEY_PEPPER")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return errors.New("both VAPID keys must be set to enable web push")
	}
	if _, err := c.Referral.Policy(); err != nil {
		return err
	}
	if _, err := c.Referral.Reward(); err != nil {
		return err
	}
	return nil
}

// Policy returns the coin redemption policy.
func (r ReferralConfig) Policy() (discount.Policy, error) {
	rate, err := parseRatio("coin rate", r.CoinRate)
	if err != nil {
		return discount.Policy{}, err
	}
	maxRatio, err := parseRatio("max ratio", r.MaxRatio)
	if err != nil {
		return discount.Policy{}, err
	}
	if maxRatio.GreaterThan(decimal.NewFromInt(1)) {
		return discount.Policy{}, errors.Errorf("max ratio %s exceeds 1", r.MaxRatio)
	}
	return discount.Policy{CoinRate: rate, MaxRatio: maxRatio}, nil
}

// Reward returns the referrer reward ratio.
func (r ReferralConfig) Reward() (decimal.Decimal, error) {
	return parseRatio("reward ratio", r.RewardRatio)
}

func parseRatio(name, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", name)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Errorf("%s must be positive, got %s", name, v)
	}
	return d, nil
}

// notifyConfig maps the push section onto the web push sender settings.
func (p PushConfig) notifyConfig() notify.PushConfig {
	return notify.PushConfig{
		VAPIDPublicKey:  p.VAPIDPublicKey,
		VAPIDPrivateKey: p.VAPIDPrivateKey,
		Subscriber:      p.Subscriber,
		TTL:             p.TTL,
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
