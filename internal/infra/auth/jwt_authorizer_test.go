package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/config"
	"beacon/internal/domain/service"
)

const testSecret = "test-secret"

func newAuthorizer(t *testing.T) service.VendorAuthorizer {
	t.Helper()

	authorizer, err := NewJWTAuthorizer(&config.Config{
		Auth: config.AuthConfig{VendorTokenSecret: testSecret},
	})
	require.NoError(t, err)

	return authorizer
}

func TestNewJWTAuthorizerRequiresSecret(t *testing.T) {
	_, err := NewJWTAuthorizer(&config.Config{})
	assert.Error(t, err)
}

func TestCanActAsVendor(t *testing.T) {
	authorizer := newAuthorizer(t)

	token, err := IssueVendorToken(testSecret, time.Hour, "v1", "v2")
	require.NoError(t, err)

	assert.NoError(t, authorizer.CanActAsVendor(token, "v1"))
	assert.NoError(t, authorizer.CanActAsVendor(token, "v2"))
	assert.ErrorIs(t, authorizer.CanActAsVendor(token, "v3"), service.ErrUnauthorizedVendor)
}

func TestCanActAsVendorAcceptsSubjectClaim(t *testing.T) {
	authorizer := newAuthorizer(t)

	claims := jwt.MapClaims{
		"sub": "v1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	assert.NoError(t, authorizer.CanActAsVendor(token, "v1"))
	assert.ErrorIs(t, authorizer.CanActAsVendor(token, "v2"), service.ErrUnauthorizedVendor)
}

func TestCanActAsVendorRejectsExpiredToken(t *testing.T) {
	authorizer := newAuthorizer(t)

	token, err := IssueVendorToken(testSecret, -time.Minute, "v1")
	require.NoError(t, err)

	assert.ErrorIs(t, authorizer.CanActAsVendor(token, "v1"), service.ErrUnauthorizedVendor)
}

func TestCanActAsVendorRejectsWrongSecret(t *testing.T) {
	authorizer := newAuthorizer(t)

	token, err := IssueVendorToken("other-secret", time.Hour, "v1")
	require.NoError(t, err)

	assert.ErrorIs(t, authorizer.CanActAsVendor(token, "v1"), service.ErrUnauthorizedVendor)
}

func TestCanActAsVendorRejectsUnsignedToken(t *testing.T) {
	authorizer := newAuthorizer(t)

	// alg=none must never pass.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "v1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	assert.ErrorIs(t, authorizer.CanActAsVendor(token, "v1"), service.ErrUnauthorizedVendor)
}

func TestCanActAsVendorRejectsGarbage(t *testing.T) {
	authorizer := newAuthorizer(t)

	assert.ErrorIs(t, authorizer.CanActAsVendor("not-a-token", "v1"), service.ErrUnauthorizedVendor)
	assert.ErrorIs(t, authorizer.CanActAsVendor("", "v1"), service.ErrUnauthorizedVendor)
}
