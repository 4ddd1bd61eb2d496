package backend

import (
	"net/http"

	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/logger"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

func (b *Backend) handleVersion() {
	logger.Default().Debugln("version")
	b.handle("/api/version/", b.versionWithAuth, http.MethodGet)
}

func (b *Backend) versionWithAuth(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	if !auth.IsAdmin() {
		return apierr.Permission("only an ADMIN may read the version")
	}
	return writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}
