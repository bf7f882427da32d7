// Package auth provides concrete implementations for authorization-related domain services.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beacon/config"
	"beacon/internal/domain/service"
	"beacon/internal/errors"
)

// jwtAuthorizer validates vendor tokens issued by the account service. A
// token authorizes publishing presence for the vendor ids in its claims.
type jwtAuthorizer struct {
	secret string
}

// NewJWTAuthorizer is the constructor for jwtAuthorizer.
func NewJWTAuthorizer(cfg *config.Config) (service.VendorAuthorizer, error) {
	if cfg.Auth.VendorTokenSecret == "" {
		return nil, errors.New("vendor token secret must be provided")
	}

	return &jwtAuthorizer{secret: cfg.Auth.VendorTokenSecret}, nil
}

// CanActAsVendor checks that the token is valid and covers the vendor id.
func (s *jwtAuthorizer) CanActAsVendor(tokenString string, vendorID string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		// Ensure the signing method is what we expect.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}

		return []byte(s.secret), nil
	})
	if err != nil || !token.Valid {
		return service.ErrUnauthorizedVendor
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return service.ErrUnauthorizedVendor
	}
	for _, id := range vendorIDs(claims) {
		if id == vendorID {
			return nil
		}
	}

	return service.ErrUnauthorizedVendor
}

// IssueVendorToken mints a token covering the given vendor ids. Exposed for
// local development and tests; production tokens come from the account service.
func IssueVendorToken(secret string, ttl time.Duration, vendorIDs ...string) (string, error) {
	claims := jwt.MapClaims{
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
		"vendors": vendorIDs,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign vendor token")
	}

	return signed, nil
}

// vendorIDs extracts the authorized vendor ids from claims. A token may
// carry a single "sub" or a "vendors" list.
func vendorIDs(claims jwt.MapClaims) []string {
	var ids []string
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		ids = append(ids, sub)
	}
	if list, ok := claims["vendors"].([]any); ok {
		for _, v := range list {
			if id, ok := v.(string); ok {
				ids = append(ids, id)
			}
		}
	}

	return ids
}
