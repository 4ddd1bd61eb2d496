package backend

import (
	"net/http"

	"github.com/gorilla/handlers"
)

func (b *Backend) handleCORS() {
	b.router.Use(handlers.CORS(
		handlers.AllowedOrigins(b.config.CORSOrigins),
		handlers.AllowedMethods([]string{
			http.MethodPost, http.MethodGet, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodPatch,
		}),
		handlers.AllowedHeaders([]string{
			"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "If-None-Match", "X-Request-ID",
		}),
		handlers.ExposedHeaders([]string{
			"Etag", "X-Request-ID", "Pagination-Limit", "Pagination-Total-Count", "Pagination-Page-Count", "Pagination-Current-Page",
		}),
		handlers.AllowCredentials(),
		handlers.MaxAge(86400), // 24 hours
		handlers.OptionStatusCode(http.StatusNoContent),
	))
}
