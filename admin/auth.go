package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for request authentication.
var (
	ErrMissingCredentials = errors.New("admin: missing credentials")
	ErrInvalidCredentials = errors.New("admin: invalid credentials")
	ErrTokenExpired       = errors.New("admin: token expired")
	ErrTokenMalformed     = errors.New("admin: token malformed")
)

// AuthConfig configures the Authenticator. With neither JWTSecret nor
// APIKeys set, authentication is disabled and every request passes.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret []byte

	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must appear in the aud claim.
	Audience string

	// APIKeys are accepted in the X-API-Key header.
	APIKeys []string
}

// Authenticator checks bearer tokens and API keys on admin requests.
type Authenticator struct {
	secret  []byte
	parser  *jwt.Parser
	keyHash [][sha256.Size]byte
}

// NewAuthenticator creates an Authenticator. API keys are kept only as
// SHA-256 digests.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	a := &Authenticator{secret: cfg.JWTSecret, parser: jwt.NewParser(opts...)}
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			a.keyHash = append(a.keyHash, sha256.Sum256([]byte(k)))
		}
	}
	return a
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (len(a.secret) > 0 || len(a.keyHash) > 0)
}

// Authenticate returns the caller's principal: the sub claim of a bearer
// token, or "api-key".
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" && len(a.keyHash) > 0 {
		sum := sha256.Sum256([]byte(key))
		for _, h := range a.keyHash {
			if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 {
				return "api-key", nil
			}
		}
		return "", ErrInvalidCredentials
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || len(a.secret) == 0 {
		return "", ErrMissingCredentials
	}

	claims := jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case err == nil:
		return claims.Subject, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "", ErrTokenMalformed
	default:
		return "", ErrInvalidCredentials
	}
}

// Middleware rejects unauthenticated requests with 401 and records the
// principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="callcache"`)
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the authenticated principal, or "".
func PrincipalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
