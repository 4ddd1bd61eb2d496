package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
)

func TestClientPaths(t *testing.T) {
	client := NewWithRouter(nil)

	id := uuid.MustParse("c46da255-eb72-4cc6-8835-1b34a9917826")

	collection := client.Collection("metadata")
	assert.Equal(t, "/api/metadata/", collection.CollectionPath())
	assert.Equal(t, "/api/metadata/"+id.String()+"/", collection.Item(id).Path())

	collection = client.Collection("/temporal-extents/").WithParameter("metadata", id.String()).WithParameter("page", "2")
	assert.Equal(t, "/api/temporal-extents/?metadata="+id.String()+"&page=2", collection.CollectionPath())

	// parameters do not leak into the parent collection
	base := client.Collection("metadata").WithParameter("status", "DRAFT")
	_ = base.WithParameter("page", "2")
	assert.Equal(t, "/api/metadata/?status=DRAFT", base.CollectionPath())

	collection = client.Collection("metadata").WithParameter("start_date", "2020-01-01T00:00:00+02:00")
	assert.Equal(t, "/api/metadata/?start_date=2020-01-01T00%3A00%3A00%2B02%3A00", collection.CollectionPath())
}

func echoRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/echo/", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		email := ""
		if auth != nil {
			email = auth.Email
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Etag", `"1"`)
		if r.Header.Get("If-None-Match") == `"1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		status := http.StatusOK
		if r.Method == http.MethodPost {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"email":"` + email + `","authorization":"` + r.Header.Get("Authorization") + `","x":"` + r.Header.Get("X-Test") + `"}`))
	})
	router.HandleFunc("/api/echo/{id}/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	return router
}

type echo struct {
	Email         string `json:"email"`
	Authorization string `json:"authorization"`
	X             string `json:"x"`
}

func TestClientWithRouter(t *testing.T) {
	auth := &access.Authorization{UserID: uuid.New(), Email: "admin@example.com", Role: core.RoleAdmin}
	client := NewWithRouter(echoRouter()).WithAuthorization(auth).WithHeader("X-Test", "yes")

	var result echo
	status, err := client.RawGet("/api/echo/", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin@example.com", result.Email)
	assert.Equal(t, "yes", result.X)

	status, _, err = client.RawGetWithHeader("/api/echo/", map[string]string{"If-None-Match": `"1"`}, &result)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, status)

	var raw []byte
	status, err = client.Collection("echo").Create(map[string]string{"a": "b"}, &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Contains(t, string(raw), "admin@example.com")

	status, err = client.Collection("echo").Item(uuid.New()).Delete()
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	// the echo route does not know PUT
	status, err = client.Collection("echo").Item(uuid.New()).Update(map[string]string{}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	assert.Equal(t, auth, access.AuthorizationFromContext(client.Context()))
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	assert.Equal(t, "v", client.WithContext(ctx).Context().Value(key{}))
}

func TestClientWithURL(t *testing.T) {
	server := httptest.NewServer(echoRouter())
	defer server.Close()

	client := NewWithURL(server.URL + "/").WithToken("secret")
	var result echo
	_, err := client.RawGet("/api/echo/", &result)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", result.Authorization)
	assert.Equal(t, "", result.Email)

	status, err := client.RawGet("/api/missing/", nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}
