package backend_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/geocatalog/core"
)

type userDocument struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	IsActive bool    `json:"is_active"`
	Password *string `json:"password"`
}

func TestUserCreate(t *testing.T) {
	s := CreateTestService(t)
	users := s.As(s.Admin).Collection("users")

	var user userDocument
	status, err := users.Create(map[string]interface{}{
		"email":    "Jane.Doe@Example.com",
		"name":     "Jane",
		"password": testPassword,
		"username": "ignored",
	}, &user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "jane.doe@example.com", user.Email)
	assert.Equal(t, "jane.doe", user.Username)
	assert.Equal(t, "USER", user.Role)
	assert.True(t, user.IsActive)
	assert.Nil(t, user.Password)

	// usernames stay unique
	var twin userDocument
	_, err = users.Create(map[string]interface{}{
		"email": "jane.doe@example.org", "name": "Jane", "password": testPassword,
	}, &twin)
	require.NoError(t, err)
	assert.NotEqual(t, user.Username, twin.Username)

	status, err = users.Create(map[string]interface{}{
		"email": "jane.doe@example.com", "name": "Jane", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"email"`)

	status, err = users.Create(map[string]interface{}{
		"email": "short@example.com", "name": "Short", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"password"`)

	user2 := s.CreateUser(t, "user@example.com", core.RoleUser)
	status, err = s.As(user2).Collection("users").Create(map[string]interface{}{
		"email": "sneaky@example.com", "name": "Sneaky", "password": testPassword,
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Error(t, err)
}

func TestUserVisibility(t *testing.T) {
	s := CreateTestService(t)
	alice := s.CreateUser(t, "alice@example.com", core.RoleUser)
	bob := s.CreateUser(t, "bob@example.com", core.RoleUser)

	var list struct {
		Count   int            `json:"count"`
		Results []userDocument `json:"results"`
	}
	_, err := s.As(alice).Collection("users").List(&list)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, alice.UserID.String(), list.Results[0].ID)

	_, err = s.As(s.Admin).Collection("users").List(&list)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Count)
	_, err = s.As(s.Admin).Collection("users").WithParameter("role", "ADMIN").List(&list)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	status, err := s.As(alice).Collection("users").Item(bob.UserID).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
	status, err = s.As(alice).Collection("users").Item(bob.UserID).Patch(map[string]interface{}{"name": "Robert"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
	status, err = s.As(alice).Collection("users").Item(alice.UserID).Read(nil)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestUserUpdate(t *testing.T) {
	s := CreateTestService(t)
	alice := s.CreateUser(t, "alice@example.com", core.RoleUser)
	self := s.As(alice).Collection("users").Item(alice.UserID)

	var user userDocument
	_, err := self.Patch(map[string]interface{}{"name": "Alice Liddell"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", user.Name)
	assert.Equal(t, "alice", user.Username)

	for _, patch := range []map[string]interface{}{{"role": "ADMIN"}, {"is_active": false}} {
		status, err := self.Patch(patch, nil)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Error(t, err)
	}

	// the username follows the email
	_, err = self.Patch(map[string]interface{}{"email": "liddell@example.com"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "liddell", user.Username)

	// the new password works
	_, err = self.Patch(map[string]interface{}{"password": "a-brand-new-secret"}, nil)
	require.NoError(t, err)
	_, err = s.Anonymous().RawPost("/api/token/", map[string]string{
		"email": "liddell@example.com", "password": "a-brand-new-secret",
	}, nil)
	assert.NoError(t, err)

	_, err = s.As(s.Admin).Collection("users").Item(alice.UserID).Patch(map[string]interface{}{"role": "ADMIN"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", user.Role)
}

func TestLastAdminIsKept(t *testing.T) {
	s := CreateTestService(t)
	admin := s.As(s.Admin).Collection("users").Item(s.Admin.UserID)

	status, err := admin.Patch(map[string]interface{}{"role": "USER"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"role"`)
	status, err = admin.Patch(map[string]interface{}{"is_active": false}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Error(t, err)
	status, err = admin.Delete()
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Error(t, err)

	second := s.CreateUser(t, "second@example.com", core.RoleAdmin)
	_, err = admin.Patch(map[string]interface{}{"role": "USER"}, nil)
	assert.NoError(t, err)
	status, err = s.As(second).Collection("users").Item(second.UserID).Patch(map[string]interface{}{"role": "USER"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Error(t, err)
}

func TestUserDeleteCascades(t *testing.T) {
	s := CreateTestService(t)
	alice := s.CreateUser(t, "alice@example.com", core.RoleUser)
	created := createMetadata(t, s.As(alice), fullDocument("Night Lights"))
	_, err := s.As(alice).Collection("metadata").Item(created.ID()).Action("archive", nil, nil)
	require.NoError(t, err)

	status, err := s.As(alice).Collection("users").Item(alice.UserID).Delete()
	assert.Equal(t, http.StatusForbidden, status)
	assert.Error(t, err)

	status, err = s.As(s.Admin).Collection("users").Item(alice.UserID).Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, err = s.As(s.Admin).Collection("metadata").Item(created.ID()).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
	status, err = s.As(s.Admin).Collection("identification").Item(created.NestedID("identification")).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
	_, err = s.Snapshot.Get(context.Background(), "metadata/"+created.ID().String()+".json")
	assert.Error(t, err)

	// gone for good
	status, err = s.As(s.Admin).Collection("users").Item(alice.UserID).Delete()
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	s := CreateTestService(t)
	ctx := context.Background()

	created, err := s.Backend.EnsureAdmin(ctx, adminEmail, testPassword)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.Backend.EnsureAdmin(ctx, "Root@Example.com", testPassword)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = s.Backend.EnsureAdmin(ctx, "weak@example.com", "weak")
	assert.Error(t, err)

	var list struct {
		Count int `json:"count"`
	}
	_, err = s.As(s.Admin).Collection("users").WithParameter("role", "ADMIN").List(&list)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
}
