package sessionhttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"slices"
	"strings"
	"time"
)

// CookieConfig provides environment-based configuration for the session cookie.
type CookieConfig struct {
	Name     string        `env:"SESSION_COOKIE_NAME" envDefault:"SESSION" validate:"required"`
	Path     string        `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	Domain   string        `env:"SESSION_COOKIE_DOMAIN" envDefault:""`
	MaxAge   time.Duration `env:"SESSION_COOKIE_MAX_AGE" envDefault:"0s"` // 0 = browser session
	Secure   bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	HTTPOnly bool          `env:"SESSION_COOKIE_HTTP_ONLY" envDefault:"true"`
	SameSite http.SameSite `env:"SESSION_COOKIE_SAME_SITE" envDefault:"2"` // SameSiteLaxMode
	Base64   bool          `env:"SESSION_COOKIE_BASE64" envDefault:"true"`
	// Secrets is a comma-separated list of signing keys. The first one signs,
	// all of them verify, which allows key rotation. Empty disables signing.
	Secrets string `env:"SESSION_COOKIE_SECRETS" envDefault:""`
}

// DefaultCookieConfig returns the configuration used by NewCookieResolver.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "SESSION",
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		Base64:   true,
	}
}

func (c CookieConfig) parseSecrets() []string {
	if c.Secrets == "" {
		return nil
	}
	parts := strings.Split(c.Secrets, ",")
	secrets := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// CookieOption configures a CookieResolver.
type CookieOption func(*CookieResolver)

// WithCookieName sets the cookie name. Default is "SESSION".
func WithCookieName(name string) CookieOption {
	return func(c *CookieResolver) {
		if name != "" {
			c.cfg.Name = name
		}
	}
}

// WithCookiePath sets the cookie path. Default is "/".
func WithCookiePath(path string) CookieOption {
	return func(c *CookieResolver) { c.cfg.Path = path }
}

// WithCookieDomain sets the cookie domain.
func WithCookieDomain(domain string) CookieOption {
	return func(c *CookieResolver) { c.cfg.Domain = domain }
}

// WithCookieMaxAge sets the cookie lifetime. Zero keeps the cookie until the browser closes.
func WithCookieMaxAge(d time.Duration) CookieOption {
	return func(c *CookieResolver) { c.cfg.MaxAge = d }
}

// WithSecure forces the Secure attribute. Requests served over TLS always get it.
func WithSecure(secure bool) CookieOption {
	return func(c *CookieResolver) { c.cfg.Secure = secure }
}

// WithHTTPOnly sets the HttpOnly attribute. Default is true.
func WithHTTPOnly(httpOnly bool) CookieOption {
	return func(c *CookieResolver) { c.cfg.HTTPOnly = httpOnly }
}

// WithSameSite sets the SameSite attribute. Default is Lax.
func WithSameSite(mode http.SameSite) CookieOption {
	return func(c *CookieResolver) { c.cfg.SameSite = mode }
}

// WithBase64 toggles base64 encoding of the cookie value. Default is true.
func WithBase64(enabled bool) CookieOption {
	return func(c *CookieResolver) { c.cfg.Base64 = enabled }
}

// WithSigningSecrets signs the cookie value with HMAC-SHA256.
// The first secret signs; every secret is accepted when verifying.
func WithSigningSecrets(secrets ...string) CookieOption {
	return func(c *CookieResolver) {
		c.secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	}
}

// CookieResolver carries the session id in a cookie.
type CookieResolver struct {
	cfg     CookieConfig
	secrets []string
}

// NewCookieResolver creates a resolver with DefaultCookieConfig and opts applied.
func NewCookieResolver(opts ...CookieOption) *CookieResolver {
	c := &CookieResolver{cfg: DefaultCookieConfig()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCookieResolverFromConfig creates a resolver from cfg, typically loaded from the environment.
func NewCookieResolverFromConfig(cfg CookieConfig, opts ...CookieOption) *CookieResolver {
	if cfg.Name == "" {
		cfg.Name = "SESSION"
	}
	c := &CookieResolver{cfg: cfg, secrets: cfg.parseSecrets()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the cookie name.
func (c *CookieResolver) Name() string { return c.cfg.Name }

// Resolve implements IDResolver. Every cookie with the configured name is
// considered; values that fail decoding or verification are skipped.
func (c *CookieResolver) Resolve(r *http.Request) []string {
	var ids []string
	for _, ck := range r.Cookies() {
		if ck.Name != c.cfg.Name || ck.Value == "" {
			continue
		}
		id, err := c.decode(ck.Value)
		if err != nil || id == "" || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Set implements IDResolver.
func (c *CookieResolver) Set(w http.ResponseWriter, r *http.Request, id string) {
	ck := c.cookie(r, c.encode(id))
	if c.cfg.MaxAge > 0 {
		ck.MaxAge = int(c.cfg.MaxAge / time.Second)
		ck.Expires = time.Now().Add(c.cfg.MaxAge)
	}
	http.SetCookie(w, ck)
}

// Expire implements IDResolver.
func (c *CookieResolver) Expire(w http.ResponseWriter, r *http.Request) {
	ck := c.cookie(r, "")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, ck)
}

func (c *CookieResolver) cookie(r *http.Request, value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Secure:   c.cfg.Secure || (r != nil && r.TLS != nil),
		HttpOnly: c.cfg.HTTPOnly,
		SameSite: c.cfg.SameSite,
	}
}

func (c *CookieResolver) encode(id string) string {
	if len(c.secrets) > 0 {
		return c.sign(id)
	}
	if c.cfg.Base64 {
		return base64.StdEncoding.EncodeToString([]byte(id))
	}
	return id
}

func (c *CookieResolver) decode(value string) (string, error) {
	if len(c.secrets) > 0 {
		return c.verify(value)
	}
	if !c.cfg.Base64 {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", ErrInvalidFormat
	}
	return string(raw), nil
}

// sign returns base64url(value) + "|" + base64url(hmac).
func (c *CookieResolver) sign(value string) string {
	mac := hmac.New(sha256.New, []byte(c.secrets[0]))
	mac.Write([]byte(value))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(value)) + "|" + signature
}

func (c *CookieResolver) verify(signed string) (string, error) {
	encoded, signature, ok := strings.Cut(signed, "|")
	if !ok {
		return "", ErrInvalidFormat
	}
	value, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidFormat
	}

	valid := slices.ContainsFunc(c.secrets, func(secret string) bool {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(value)
		expected := base64.URLEncoding.EncodeToString(mac.Sum(nil))
		return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
	})
	if !valid {
		return "", ErrInvalidSignature
	}
	return string(value), nil
}
