package backend

import (
	"net/http"

	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/store"
)

type healthResponse struct {
	Status string              `json:"status"`
	Outbox *store.OutboxHealth `json:"outbox,omitempty"`
}

func (b *Backend) handleHealth() {
	b.router.HandleFunc("/healthz", b.health).Methods(http.MethodOptions, http.MethodGet)
	b.router.Handle("/metrics", b.metrics.Handler()).Methods(http.MethodOptions, http.MethodGet)
}

// health reports whether the database is reachable. Events which ran out of delivery
// attempts are reported but do not make the service unhealthy.
func (b *Backend) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := b.db.PingContext(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 4270: database ping")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	outbox, err := store.GetOutboxHealth(ctx, b.db)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("Error 4271: outbox health")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Outbox: &outbox})
}
