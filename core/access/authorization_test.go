package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func TestAuthorize(t *testing.T) {
	ops := []core.Operation{core.OperationCreate, core.OperationRead, core.OperationUpdate, core.OperationDelete, core.OperationList}
	for _, op := range ops {
		assert.NoError(t, Authorize(core.RoleAdmin, false, op), "admin %s", op)
		assert.NoError(t, Authorize(core.RoleUser, true, op), "owner %s", op)
		assert.Error(t, Authorize(core.Role("GUEST"), true, op), "unknown role %s", op)
	}

	assert.NoError(t, Authorize(core.RoleUser, false, core.OperationCreate))
	assert.NoError(t, Authorize(core.RoleUser, false, core.OperationList))
	for _, op := range []core.Operation{core.OperationRead, core.OperationUpdate, core.OperationDelete} {
		err := Authorize(core.RoleUser, false, op)
		require.Error(t, err)
		assert.True(t, apierr.IsKind(err, apierr.KindPermission))
	}
}

func TestCanView(t *testing.T) {
	for _, status := range core.Statuses {
		assert.True(t, CanView(core.RoleAdmin, false, status))
		assert.True(t, CanView(core.RoleUser, true, status))
	}
	assert.True(t, CanView(core.RoleUser, false, core.StatusPublished))
	assert.False(t, CanView(core.RoleUser, false, core.StatusDraft))
	assert.False(t, CanView(core.RoleUser, false, core.StatusArchived))
	assert.False(t, CanView(core.Role(""), false, core.StatusPublished))
}

func TestAuthorizeAccount(t *testing.T) {
	for _, op := range []core.Operation{core.OperationCreate, core.OperationRead, core.OperationUpdate, core.OperationDelete, core.OperationList} {
		assert.NoError(t, AuthorizeAccount(core.RoleAdmin, false, op))
	}
	assert.NoError(t, AuthorizeAccount(core.RoleUser, true, core.OperationRead))
	assert.NoError(t, AuthorizeAccount(core.RoleUser, true, core.OperationUpdate))
	assert.NoError(t, AuthorizeAccount(core.RoleUser, false, core.OperationList))
	assert.Error(t, AuthorizeAccount(core.RoleUser, true, core.OperationDelete))
	assert.Error(t, AuthorizeAccount(core.RoleUser, true, core.OperationCreate))
	assert.Error(t, AuthorizeAccount(core.RoleUser, false, core.OperationRead))
	assert.Error(t, AuthorizeAccount(core.RoleUser, false, core.OperationUpdate))

	assert.True(t, CanViewAccount(core.RoleAdmin, false))
	assert.True(t, CanViewAccount(core.RoleUser, true))
	assert.False(t, CanViewAccount(core.RoleUser, false))
}

func TestAuthorizationContext(t *testing.T) {
	assert.Nil(t, AuthorizationFromContext(context.Background()))

	auth := &Authorization{UserID: uuid.New(), Email: "jane@example.com", Role: core.RoleUser}
	ctx := auth.ContextWithAuthorization(context.Background())
	assert.Equal(t, auth, AuthorizationFromContext(ctx))
	assert.True(t, auth.Owns(auth.UserID))
	assert.False(t, auth.Owns(uuid.New()))
	assert.False(t, auth.IsAdmin())

	var none *Authorization
	assert.False(t, none.IsAdmin())
	assert.False(t, none.Owns(uuid.Nil))
}

func TestPassword(t *testing.T) {
	BcryptCost = bcrypt.MinCost
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	ok, err := CheckPassword(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword(hash, "battery staple")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CheckPassword("", "anything")
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	tokens := NewTokens(testSigningKey, time.Minute, time.Hour)
	auth := &Authorization{UserID: uuid.New(), Email: "jane@example.com", Role: core.RoleAdmin}

	pair, err := tokens.IssuePair(auth)
	require.NoError(t, err)

	claims, err := tokens.Verify(pair.Access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, auth.UserID, claims.UserID())
	assert.Equal(t, core.RoleAdmin, claims.Role)
	assert.Equal(t, "jane@example.com", claims.Email)

	_, err = tokens.Verify(pair.Access, TokenRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tokens.Verify(pair.Refresh, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tokens.Verify(pair.Refresh, TokenRefresh)
	assert.NoError(t, err)

	other := NewTokens("another-key-another-key-another-key", time.Minute, time.Hour)
	_, err = other.Verify(pair.Access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("garbage", TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens(testSigningKey, time.Minute, time.Hour)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	access, err := tokens.Issue(&Authorization{UserID: uuid.New(), Role: core.RoleUser})
	require.NoError(t, err)

	_, err = tokens.Verify(access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJwtMiddleware(t *testing.T) {
	tokens := NewTokens(testSigningKey, time.Minute, time.Hour)
	known := &Authorization{UserID: uuid.New(), Email: "jane@example.com", Role: core.RoleUser}
	lookup := func(ctx context.Context, id uuid.UUID) (*Authorization, error) {
		if id == known.UserID {
			return known, nil
		}
		return nil, nil
	}

	router := mux.NewRouter()
	router.Use(NewJwtMiddleware(&JwtMiddlewareBuilder{Tokens: tokens, Lookup: lookup, Cookie: "Session"}))
	router.HandleFunc("/who", func(w http.ResponseWriter, r *http.Request) {
		auth, err := RequireAuthorization(r)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		w.Write([]byte(auth.Email))
	})

	serve := func(setup func(r *http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		setup(req)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(func(r *http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	access, err := tokens.Issue(known)
	require.NoError(t, err)
	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+access) })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jane@example.com", rec.Body.String())

	rec = serve(func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "Session", Value: access}) })
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer nonsense") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stranger, err := tokens.Issue(&Authorization{UserID: uuid.New(), Role: core.RoleAdmin})
	require.NoError(t, err)
	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+stranger) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
