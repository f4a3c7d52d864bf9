package restosuite

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

// Default endpoint paths on the RestoSuite OpenAPI gateway.
const (
	DefaultTokenPath   = "/oauth/getToken"
	DefaultRefreshPath = "/oauth/refreshToken"
	DefaultShopsPath   = "/shop/queryShopList"
	DefaultItemsPath   = "/item/queryItemList"
)

// Default request header names. The gateway allows tenants to remap these,
// so they are configuration rather than constants.
const (
	DefaultHeaderCorporationID = "corporation-id"
	DefaultHeaderAppKey        = "app-key"
	DefaultHeaderGrantType     = "grant-type"
	DefaultHeaderToken         = "token"
	DefaultHeaderTimestamp     = "timestamp"
	DefaultHeaderTraceID       = "trace-id"
)

// GrantType is the fixed grant-type discriminator sent on every request.
const GrantType = "app_secret"

var hexSecretCode = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Config holds the upstream connection settings. Validate must pass before
// any network call is attempted.
type Config struct {
	BaseURL       string `mapstructure:"base_url"`
	AppKey        string `mapstructure:"app_key"`
	SecretKey     string `mapstructure:"secret_key"`
	CorporationID int64  `mapstructure:"corporation_id"`

	TokenPath   string `mapstructure:"token_path"`
	RefreshPath string `mapstructure:"refresh_path"`
	ShopsPath   string `mapstructure:"shops_path"`
	ItemsPath   string `mapstructure:"items_path"`

	HeaderCorporationID string `mapstructure:"header_corporation_id"`
	HeaderAppKey        string `mapstructure:"header_app_key"`
	HeaderGrantType     string `mapstructure:"header_grant_type"`
	HeaderToken         string `mapstructure:"header_token"`
	HeaderTimestamp     string `mapstructure:"header_timestamp"`
	HeaderTraceID       string `mapstructure:"header_trace_id"`

	TokenCacheKey   string `mapstructure:"token_cache_key"`
	RefreshCacheKey string `mapstructure:"refresh_cache_key"`
	TokenLockKey    string `mapstructure:"token_lock_key"`

	TokenSafetyMarginSeconds int           `mapstructure:"token_safety_margin_seconds"`
	HTTPTimeout              time.Duration `mapstructure:"http_timeout"`

	// TokenProblemCodes are upstream codes treated as "token problem";
	// paired with the message heuristic in isTokenProblem.
	TokenProblemCodes []string `mapstructure:"token_problem_codes"`
	// RateLimitCodes are upstream codes treated as a token-abuse signal.
	RateLimitCodes []string `mapstructure:"rate_limit_codes"`
}

// withDefaults fills the optional fields the tenant did not override.
func (c Config) withDefaults() Config {
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.ShopsPath == "" {
		c.ShopsPath = DefaultShopsPath
	}
	if c.ItemsPath == "" {
		c.ItemsPath = DefaultItemsPath
	}
	if c.HeaderCorporationID == "" {
		c.HeaderCorporationID = DefaultHeaderCorporationID
	}
	if c.HeaderAppKey == "" {
		c.HeaderAppKey = DefaultHeaderAppKey
	}
	if c.HeaderGrantType == "" {
		c.HeaderGrantType = DefaultHeaderGrantType
	}
	if c.HeaderToken == "" {
		c.HeaderToken = DefaultHeaderToken
	}
	if c.HeaderTimestamp == "" {
		c.HeaderTimestamp = DefaultHeaderTimestamp
	}
	if c.HeaderTraceID == "" {
		c.HeaderTraceID = DefaultHeaderTraceID
	}
	if c.TokenCacheKey == "" {
		c.TokenCacheKey = "restosuite:token"
	}
	if c.RefreshCacheKey == "" {
		c.RefreshCacheKey = "restosuite:refresh_token"
	}
	if c.TokenLockKey == "" {
		c.TokenLockKey = "restosuite:token_lock"
	}
	if c.TokenSafetyMarginSeconds == 0 {
		c.TokenSafetyMarginSeconds = 120
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 25 * time.Second
	}
	if c.TokenProblemCodes == nil {
		c.TokenProblemCodes = []string{"1001", "1002", "40004"}
	}
	if c.RateLimitCodes == nil {
		c.RateLimitCodes = []string{"42901"}
	}
	return c
}

// Validate checks the static configuration and derives the secret code.
// Any failure here is a ConfigError and must abort startup.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "base_url", Reason: "missing"}
	}
	if c.AppKey == "" {
		return &ConfigError{Field: "app_key", Reason: "missing"}
	}
	if c.SecretKey == "" {
		return &ConfigError{Field: "secret_key", Reason: "missing"}
	}
	if c.CorporationID <= 0 {
		return &ConfigError{Field: "corporation_id", Reason: "must be positive"}
	}
	if code := SecretCode(c.SecretKey); !hexSecretCode.MatchString(code) {
		return &ConfigError{Field: "secret_key", Reason: "derived secret code is not 64 hex characters"}
	}
	return nil
}

// SecretCode derives the upstream secret code: hex-encoded SHA256 of the
// configured secret key.
func SecretCode(secretKey string) string {
	sum := sha256.Sum256([]byte(secretKey))
	return hex.EncodeToString(sum[:])
}
