package backend_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/backend"
	"github.com/relabs-tech/geocatalog/core/client"
	"github.com/relabs-tech/geocatalog/core/config"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/store"
)

const (
	adminEmail   = "admin@example.com"
	testPassword = "correct-horse-battery"
)

func init() {
	access.BcryptCost = bcrypt.MinCost
}

// TestService is a backend on a fresh in-memory database
type TestService struct {
	DB       *csql.DB
	Router   *mux.Router
	Backend  *backend.Backend
	Config   *config.Config
	Snapshot kss.Driver
	Admin    *access.Authorization

	client client.Client
}

func testConfig() *config.Config {
	return &config.Config{
		DatabaseDriver:         config.DriverSQLite,
		SQLitePath:             ":memory:",
		TokenSigningKey:        strings.Repeat("s", 32),
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        time.Hour,
		SessionCookie:          "Geocatalog-JWT",
		CORSOrigins:            []string{"*"},
		PageSize:               20,
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: testPassword,
	}
}

// CreateTestService creates a new service with a bootstrap ADMIN. Every call gets its
// own database and snapshot folder, both are released with the test.
func CreateTestService(t *testing.T) *TestService {
	return CreateTestServiceWithConfig(t, testConfig())
}

// CreateTestServiceWithConfig is CreateTestService with a modified configuration
func CreateTestServiceWithConfig(t *testing.T, cfg *config.Config) *TestService {
	t.Helper()
	return newTestService(t, cfg, nil)
}

// CreateTestServiceWithSnapshots is CreateTestService with the snapshot store wrapped by
// wrap. TestService.Snapshot stays the unwrapped store.
func CreateTestServiceWithSnapshots(t *testing.T, wrap func(kss.Driver) kss.Driver) *TestService {
	t.Helper()
	return newTestService(t, testConfig(), wrap)
}

func newTestService(t *testing.T, cfg *config.Config, wrap func(kss.Driver) kss.Driver) *TestService {
	t.Helper()
	ctx := context.Background()

	db, err := csql.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), cfg.DatabaseSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	snapshots, err := kss.New(ctx, kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: t.TempDir()},
	})
	require.NoError(t, err)

	s := &TestService{DB: db, Router: mux.NewRouter(), Config: cfg, Snapshot: snapshots}
	driver := snapshots
	if wrap != nil {
		driver = wrap(snapshots)
	}
	s.Backend = backend.New(&backend.Builder{
		Config:       cfg,
		DB:           db,
		Router:       s.Router,
		KSS:          driver,
		UpdateSchema: true,
	})

	admin, err := store.GetUserByEmail(ctx, db, adminEmail)
	require.NoError(t, err)
	s.Admin = &access.Authorization{UserID: admin.ID, Email: admin.Email, Role: admin.Role}
	s.client = client.NewWithRouter(s.Router)
	return s
}

// As returns a client acting with auth
func (s *TestService) As(auth *access.Authorization) client.Client {
	return s.client.WithAuthorization(auth)
}

// Anonymous returns a client without any credentials
func (s *TestService) Anonymous() client.Client {
	return s.client
}

// CreateUser creates an account through the API and returns its authorization
func (s *TestService) CreateUser(t *testing.T, email string, role core.Role) *access.Authorization {
	t.Helper()
	var user struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
		Role  core.Role `json:"role"`
	}
	_, err := s.As(s.Admin).Collection("users").Create(map[string]interface{}{
		"email":    email,
		"name":     strings.Split(email, "@")[0],
		"password": testPassword,
		"role":     role,
	}, &user)
	require.NoError(t, err)
	return &access.Authorization{UserID: user.ID, Email: user.Email, Role: user.Role}
}

// document is a decoded metadata document as returned by the API
type document map[string]interface{}

func (d document) ID() uuid.UUID {
	return uuid.MustParse(d["id"].(string))
}

func (d document) Nested(key string) map[string]interface{} {
	nested, _ := d[key].(map[string]interface{})
	return nested
}

func (d document) NestedID(key string) uuid.UUID {
	return uuid.MustParse(d.Nested(key)["id"].(string))
}

// fullDocument returns a metadata document carrying every sub-record type
func fullDocument(title string) map[string]interface{} {
	return map[string]interface{}{
		"linkage":  "https://data.example.com/" + strings.ReplaceAll(title, " ", "-"),
		"standard": "ISO 19115",
		"identification": map[string]interface{}{
			"title":            title,
			"production_date":  "2023-04-01T00:00:00Z",
			"abstract":         "Surface temperature observations of " + title,
			"spatial_rep_type": "RASTER",
			"equivalent_scale": 50000,
			"geographic_bounding_box": map[string]interface{}{
				"north": 55.1, "south": 47.2, "east": 15.0, "west": 5.8,
			},
			"keywords": []string{"temperature", "climate", "temperature"},
		},
		"point_of_contact": map[string]interface{}{
			"name":         "Ada Lovelace",
			"organization": "Geo Institute",
			"email":        "ada@example.com",
			"role":         "pointOfContact",
		},
		"constraints": map[string]interface{}{
			"access_constraints": "none",
			"use_constraints":    "CC-BY-4.0",
		},
		"distribution": map[string]interface{}{
			"name":    "Geo Institute Data Portal",
			"weblink": "https://portal.example.com",
			"format":  "GeoTIFF",
		},
		"lineage": map[string]interface{}{
			"statement":       "Derived from satellite imagery",
			"hierarchy_level": 1,
		},
		"reference_system": map[string]interface{}{
			"identifier": "EPSG",
			"code":       "4326",
		},
		"contact": map[string]interface{}{
			"name":         "Grace Hopper",
			"organization": "Geo Institute",
			"email":        "grace@example.com",
			"role":         "author",
		},
		"quality": map[string]interface{}{
			"completeness_report": "complete",
		},
		"temporal_extent": map[string]interface{}{
			"start_date": "2020-01-01T00:00:00Z",
			"end_date":   "2020-12-31T00:00:00Z",
			"frequency":  "daily",
		},
	}
}

// subrecordKeys maps the nested key of every sub-record type to its collection
var subrecordKeys = map[string]string{
	"identification":   "identification",
	"point_of_contact": "contacts",
	"constraints":      "constraints",
	"distribution":     "distributions",
	"lineage":          "lineages",
	"reference_system": "reference-systems",
	"contact":          "metadata-contacts",
	"quality":          "quality",
	"temporal_extent":  "temporal-extents",
}

// createMetadata creates a metadata document with the client and returns it
func createMetadata(t *testing.T, c client.Client, doc map[string]interface{}) document {
	t.Helper()
	var created document
	_, err := c.Collection("metadata").Create(doc, &created)
	require.NoError(t, err)
	return created
}

// faultySnapshots fails Put and Delete for the keys of the listed records
type faultySnapshots struct {
	kss.Driver
	failPut    map[string]bool
	failDelete map[string]bool
}

func newFaultySnapshots(driver kss.Driver) *faultySnapshots {
	return &faultySnapshots{Driver: driver, failPut: map[string]bool{}, failDelete: map[string]bool{}}
}

func (f *faultySnapshots) Put(ctx context.Context, key string, data []byte) error {
	if f.failPut[key] {
		return errors.New("snapshot store unavailable")
	}
	return f.Driver.Put(ctx, key, data)
}

func (f *faultySnapshots) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errors.New("snapshot store unavailable")
	}
	return f.Driver.Delete(ctx, key)
}
