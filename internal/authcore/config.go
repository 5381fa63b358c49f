package authcore

import "time"

// ServerConfig configures credential issuance, cookies, origins, and TTLs.
// It is loaded once at startup and treated as immutable afterwards.
type ServerConfig struct {
	JWTSigningKey []byte
	JWTIssuer     string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StateTTL   time.Duration
	RejoinHold time.Duration

	DefaultFrontendOrigin  string
	AllowedFrontendOrigins []string
	SharedCookieDomain     string

	AccessCookieName   string
	RefreshCookieName  string
	StateCookieName    string
	RedirectCookieName string
}
