package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims carried by gateway tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Identity is the authenticated caller of a gateway connection or request.
type Identity struct {
	UserID string   `json:"userId"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator resolves the caller of an HTTP request, including WebSocket
// upgrade requests.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// TokenService issues and verifies HS256 tokens.
type TokenService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. key must not be empty.
func NewTokenService(key []byte, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("auth: signing key is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for userID.
func (s *TokenService) Issue(userID, name string, roles []string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: user id is required")
	}
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Name:  name,
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// PeekIdentity reads the identity a token claims without checking its
// signature. Clients use it to learn the id the gateway will assign them.
func PeekIdentity(tokenStr string) (*Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{UserID: claims.Subject, Name: claims.Name, Roles: claims.Roles}, nil
}

// Authenticate implements Authenticator. Browsers cannot set headers on a
// WebSocket upgrade, so a token query parameter is accepted as well.
func (s *TokenService) Authenticate(r *http.Request) (*Identity, error) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &Identity{UserID: claims.Subject, Name: name, Roles: claims.Roles}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// DevAuthenticator accepts every request. The user id comes from the "user"
// query parameter, defaulting to "dev-user". Development only.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "dev-user"
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = user
	}
	return &Identity{UserID: user, Name: name, Roles: []string{"admin"}}, nil
}
