package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)

	var seen string
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	incoming := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, incoming, seen)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "not a uuid")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEqual(t, "not a uuid", seen)
}

func TestSerializeLoggerContext(t *testing.T) {
	ctx, _ := ContextWithLogger(context.Background())
	ctx, rlog := ContextWithLoggerIdentity(ctx, "someone@example.com", "USER")
	assert.Equal(t, "USER", rlog.Data[roleLoggerKey])

	data := SerializeLoggerContext(ctx)
	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromContext(restored))
	assert.Equal(t, "someone@example.com", loggerValues(restored).Identity)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromData(data))
	assert.Empty(t, RequestIDFromData([]byte("garbage")))

	fresh := ContextWithLoggerFromData(context.Background(), []byte("{}"))
	assert.NotEmpty(t, RequestIDFromContext(fresh))
	assert.Equal(t, "{}", string(SerializeLoggerContext(context.Background())))
}
