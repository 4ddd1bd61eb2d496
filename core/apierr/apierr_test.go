package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_Validation(t *testing.T) {
	fields := Fields{}
	fields.Add("title", "must be at least 3 characters")
	fields.Merge("geographic_bounding_box", Fields{"north": {"must be <= 90"}})

	rec := httptest.NewRecorder()
	Write(rec, fmt.Errorf("wrapped: %w", Validation(fields)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body struct {
		Error  string              `json:"error"`
		Detail string              `json:"detail"`
		Fields map[string][]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, []string{"must be at least 3 characters"}, body.Fields["title"])
	assert.Equal(t, []string{"must be <= 90"}, body.Fields["geographic_bounding_box.north"])
}

func TestWrite_Kinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{NotFound(), http.StatusNotFound, "not_found"},
		{Permission("nope"), http.StatusForbidden, "permission_denied"},
		{Authentication("invalid token"), http.StatusUnauthorized, "authentication_failed"},
		{BadRequest("bad"), http.StatusBadRequest, "validation_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Write(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.kind, body["error"])
		_, hasFields := body["fields"]
		assert.False(t, hasFields)
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("context: %w", NotFound())
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindPermission))
	assert.False(t, IsKind(errors.New("plain"), KindNotFound))
}
