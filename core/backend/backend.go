/*
Package backend implements the REST api of the catalog.

The backend serves users, metadata records and the nine sub-record types of a metadata
record. All routes are served with and without trailing slash. Every write runs in one
database transaction together with the change event it appends to the outbox.

Usage:

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config:       cfg,
		DB:           db,
		Router:       router,
		UpdateSchema: true,
	})
	http.ListenAndServe(cfg.ListenAddress, router)
*/
package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/metrics"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/schema"
	"github.com/relabs-tech/geocatalog/core/store"
)

// Backend is the catalog rest backend
type Backend struct {
	config       *config.Config
	db           *csql.DB
	store        *store.Store
	router       *mux.Router
	validator    *schema.Validator
	tokens       *access.Tokens
	kss          kss.Driver
	metrics      *metrics.Metrics
	subresources []subresource
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the service configuration. This is mandatory.
	Config *config.Config
	// DB is the catalog database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// KSS stores the snapshots of archived records. This is optional, without it no
	// snapshots are written.
	KSS kss.Driver
	// Metrics receives the request metrics. If nil, the backend creates its own.
	Metrics *metrics.Metrics
	// UpdateSchema creates missing tables
	UpdateSchema bool
}

// New realizes the actual backend. It creates the sql tables (if requested) and adds
// the routes and middlewares to router
func New(bb *Builder) *Backend {
	if bb.Config == nil {
		panic("Config is missing")
	}
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	validator, err := schema.NewValidatorFromFS(model.Schemas())
	if err != nil {
		panic(err)
	}

	b := &Backend{
		config:    bb.Config,
		db:        bb.DB,
		store:     store.New(bb.DB),
		router:    bb.Router,
		validator: validator,
		tokens:    access.NewTokens(bb.Config.TokenSigningKey, bb.Config.AccessTokenTTL, bb.Config.RefreshTokenTTL),
		kss:       bb.KSS,
		metrics:   bb.Metrics,
	}
	if b.metrics == nil {
		b.metrics = metrics.New()
	}

	ctx := context.Background()
	if bb.UpdateSchema {
		if err := store.Migrate(ctx, b.db); err != nil {
			panic(err)
		}
	}

	if b.config.BootstrapAdminEmail != "" {
		created, err := b.EnsureAdmin(ctx, b.config.BootstrapAdminEmail, b.config.BootstrapAdminPassword)
		if err != nil {
			panic(err)
		}
		if created {
			logger.Default().Infoln("created bootstrap admin", b.config.BootstrapAdminEmail)
		}
	}

	b.subresources = b.newSubresources()
	b.handleMiddleware()
	b.handleRoutes()
	return b
}

// Metrics returns the metrics the backend records to
func (b *Backend) Metrics() *metrics.Metrics {
	return b.metrics
}

func (b *Backend) handleMiddleware() {
	b.router.NotFoundHandler = apierr.NotFoundHandler()
	b.router.MethodNotAllowedHandler = apierr.MethodNotAllowedHandler()

	b.router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.Default()),
		handlers.PrintRecoveryStack(true),
	))
	logger.AddRequestID(b.router)
	b.handleAllowedHosts()
	b.router.Use(b.metrics.Middleware)
	b.handleCORS()
	b.router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Tokens: b.tokens,
		Lookup: b.lookupAccount,
		Cookie: b.config.SessionCookie,
	}))
	b.handleCompression()
}

func (b *Backend) handleAllowedHosts() {
	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.config.HostAllowed(r.Host) {
				logger.FromContext(r.Context()).Warnln("rejected host", r.Host)
				apierr.Write(w, apierr.BadRequest("invalid host header %q", r.Host))
				return
			}
			h.ServeHTTP(w, r)
		})
	})
}

// lookupAccount resolves a token subject to the current state of the account
func (b *Backend) lookupAccount(ctx context.Context, userID uuid.UUID) (*access.Authorization, error) {
	user, err := store.GetUser(ctx, b.db, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return authorizationOf(user), nil
}

func authorizationOf(user *model.User) *access.Authorization {
	return &access.Authorization{UserID: user.ID, Email: user.Email, Role: user.Role}
}

func (b *Backend) handleRoutes() {
	logger.Default().Debugln("backend: HandleRoutes")

	b.handle("/api/", b.apiRoot, http.MethodGet)

	b.handleUsers()
	b.handleMetadata()
	for _, s := range b.subresources {
		s.register()
	}
	b.handleAuth()
	b.handleStatistics()
	b.handleVersion()
	b.handleHealth()
}

// handlerFunc is a request handler which returns its error instead of writing it
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle registers h for path and methods. Paths ending with a slash are served without
// the slash as well.
func (b *Backend) handle(path string, h handlerFunc, methods ...string) {
	logger.Default().Debugf("  handle route: %s %s", path, strings.Join(methods, ","))
	handler := func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		if err := h(w, r); err != nil {
			writeError(w, r, err)
		}
	}
	methods = append(methods, http.MethodOptions)
	b.router.HandleFunc(path, handler).Methods(methods...)
	if path != "/" && strings.HasSuffix(path, "/") {
		b.router.HandleFunc(strings.TrimSuffix(path, "/"), handler).Methods(methods...)
	}
}

func (b *Backend) apiRoot(w http.ResponseWriter, r *http.Request) error {
	root := map[string]string{
		"users":    "/api/users/",
		"metadata": "/api/metadata/",
	}
	for _, s := range b.subresources {
		root[s.collection()] = "/api/" + s.collection() + "/"
	}
	return writeJSON(w, http.StatusOK, root)
}
