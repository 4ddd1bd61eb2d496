package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/logger"
)

// Issuer is the issuer of all tokens
const Issuer = "geocatalog"

// TokenKind distinguishes access from refresh tokens
type TokenKind string

// token kinds
const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims are the claims of access and refresh tokens. The subject is the user id.
type Claims struct {
	Email string    `json:"email"`
	Role  core.Role `json:"role"`
	Kind  TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned for tokens which are malformed, expired, of the wrong kind
// or signed with another key
var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and verifies HS256 signed tokens
type Tokens struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens returns a token issuer for the signing key and lifetimes
func NewTokens(signingKey string, accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{key: []byte(signingKey), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// TokenPair is an access token with its refresh token
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Issue returns a new access token for the authorization
func (t *Tokens) Issue(auth *Authorization) (string, error) {
	return t.sign(auth, TokenAccess, t.accessTTL)
}

// IssuePair returns a new access and refresh token for the authorization
func (t *Tokens) IssuePair(auth *Authorization) (*TokenPair, error) {
	access, err := t.sign(auth, TokenAccess, t.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := t.sign(auth, TokenRefresh, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// AccessTTL returns the lifetime of access tokens
func (t *Tokens) AccessTTL() time.Duration {
	return t.accessTTL
}

func (t *Tokens) sign(auth *Authorization, kind TokenKind, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		Email: auth.Email,
		Role:  auth.Role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   auth.UserID.String(),
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify parses tokenString, checks signature, expiry, issuer and kind, and returns
// its claims
func (t *Tokens) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != Issuer || claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserID returns the user id carried in the subject
func (c *Claims) UserID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// AccountLookup returns the current authorization of the user with the given id, or nil
// if the user does not exist or is inactive
type AccountLookup func(ctx context.Context, userID uuid.UUID) (*Authorization, error)

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	Tokens *Tokens
	// Lookup resolves the token subject to the current authorization, so that role
	// changes and deactivations take effect before the token expires
	Lookup AccountLookup
	// Cookie is the name of the session cookie which may carry the access token
	Cookie string
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as session cookie. Requests
// without token pass unauthenticated. This is a final handler with regards to the token:
// it returns http.StatusUnauthorized when a token is present but invalid.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					apierr.Write(w, apierr.Authentication("unsupported authorization scheme"))
					return
				}
			} else if jmb.Cookie != "" {
				if cookie, _ := r.Cookie(jmb.Cookie); cookie != nil {
					tokenString = cookie.Value
				}
			}
			if tokenString == "" {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims, err := jmb.Tokens.Verify(tokenString, TokenAccess)
			if err != nil {
				rlog.WithError(err).Infoln("rejected token")
				apierr.Write(w, apierr.Authentication("invalid token"))
				return
			}

			auth, err := jmb.Lookup(r.Context(), claims.UserID())
			if err != nil {
				rlog.WithError(err).Errorln("Error 4001: account lookup")
				apierr.Write(w, apierr.Internal("Error 4001"))
				return
			}
			if auth == nil {
				apierr.Write(w, apierr.Authentication("account not found or inactive"))
				return
			}

			ctx := auth.ContextWithAuthorization(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Email, string(auth.Role))
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthorization returns the authorization of the request or an authentication
// error if the request is not authenticated
func RequireAuthorization(r *http.Request) (*Authorization, error) {
	auth := AuthorizationFromContext(r.Context())
	if auth == nil {
		return nil, apierr.Authentication("authentication credentials were not provided")
	}
	return auth, nil
}
