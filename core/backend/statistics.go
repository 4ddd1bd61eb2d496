package backend

import (
	"net/http"

	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/store"
)

func (b *Backend) handleStatistics() {
	logger.Default().Debugln("statistics")
	b.handle("/api/statistics/", b.statisticsWithAuth, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	if !auth.IsAdmin() {
		return apierr.Permission("only an ADMIN may read statistics")
	}
	s, err := store.GetStatistics(r.Context(), b.db)
	if err != nil {
		return internalError(r, err, 4260, "query statistics")
	}
	return writeItem(w, r, s)
}
