/*
Package seed fills an empty catalog with sample accounts and metadata records.

The sample data is described by a YAML fixture. The default fixture is embedded: one
administrator and five users from different space agencies, each owning three metadata
records with every sub-record type attached. Everything is written in one transaction,
together with the change events, so a failed run leaves the catalog untouched.
*/
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

//go:embed fixture.yaml
var defaultFixture []byte

// ErrPopulated is returned if the administrator of the fixture already exists
var ErrPopulated = errors.New("catalog is already populated")

// Account is an account of the fixture
type Account struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Password     string `yaml:"password"`
	Organization string `yaml:"organization"`
}

// Record holds the texts shared by all sample records
type Record struct {
	Standard            string   `yaml:"standard"`
	Abstract            string   `yaml:"abstract"`
	Keywords            []string `yaml:"keywords"`
	KeywordType         string   `yaml:"keyword_type"`
	UpdateFrequency     string   `yaml:"update_frequency"`
	SpatialRepType      string   `yaml:"spatial_rep_type"`
	EquivalentScale     float64  `yaml:"equivalent_scale"`
	ContactRole         string   `yaml:"contact_role"`
	AccessConstraints   string   `yaml:"access_constraints"`
	UseConstraints      string   `yaml:"use_constraints"`
	OtherConstraints    string   `yaml:"other_constraints"`
	DistributionFormat  string   `yaml:"distribution_format"`
	OrderProcess        string   `yaml:"order_process"`
	LineageStatement    string   `yaml:"lineage_statement"`
	ProcessSoftware     string   `yaml:"process_software"`
	ReferenceIdentifier string   `yaml:"reference_identifier"`
	ReferenceCode       string   `yaml:"reference_code"`
	CompletenessReport  string   `yaml:"completeness_report"`
	AccuracyReport      string   `yaml:"accuracy_report"`
	ProcessDescription  string   `yaml:"process_description"`
	TemporalFrequency   string   `yaml:"temporal_frequency"`
	MetadataContactRole string   `yaml:"metadata_contact_role"`
}

// Fixture describes the sample catalog
type Fixture struct {
	// Password is the password of all users which do not set their own
	Password       string    `yaml:"password"`
	RecordsPerUser int       `yaml:"records_per_user"`
	Admin          Account   `yaml:"admin"`
	Users          []Account `yaml:"users"`
	Record         Record    `yaml:"record"`
}

// LoadFixture parses a YAML fixture
func LoadFixture(data []byte) (*Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if fixture.Admin.Email == "" {
		return nil, errors.New("fixture has no admin")
	}
	if fixture.RecordsPerUser < 0 {
		return nil, errors.New("records_per_user must not be negative")
	}
	return &fixture, nil
}

// DefaultFixture returns the embedded fixture
func DefaultFixture() *Fixture {
	fixture, err := LoadFixture(defaultFixture)
	if err != nil {
		panic(err)
	}
	return fixture
}

// Summary counts what Populate created
type Summary struct {
	Users    int
	Records  int
	Archived int
}

// Seeder writes a fixture into the catalog
type Seeder struct {
	Fixture *Fixture
	DB      *csql.DB
	// Snapshots receives the snapshots of archived sample records. This is optional.
	Snapshots kss.Driver
	// Now is the clock of the seeder, it defaults to model.Now
	Now func() time.Time
}

// Populate writes the default fixture into db
func Populate(ctx context.Context, db *csql.DB, snapshots kss.Driver) (*Summary, error) {
	return (&Seeder{Fixture: DefaultFixture(), DB: db, Snapshots: snapshots}).Populate(ctx)
}

// Populate writes the fixture. It fails with ErrPopulated if the administrator of the
// fixture exists already.
func (s *Seeder) Populate(ctx context.Context) (*Summary, error) {
	if s.Now == nil {
		s.Now = model.Now
	}
	rlog := logger.FromContext(ctx)
	summary := &Summary{}
	archived := []*model.MetadataDocument{}

	st := store.New(s.DB)
	err := st.InTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := store.GetUserByEmail(ctx, tx, s.Fixture.Admin.Email)
		if err == nil {
			return ErrPopulated
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if _, err := s.createUser(ctx, tx, s.Fixture.Admin, core.RoleAdmin); err != nil {
			return err
		}
		summary.Users++

		for u, account := range s.Fixture.Users {
			user, err := s.createUser(ctx, tx, account, core.RoleUser)
			if err != nil {
				return err
			}
			summary.Users++
			for i := 0; i < s.Fixture.RecordsPerUser; i++ {
				status := core.Statuses[(u+i)%len(core.Statuses)]
				document, err := s.createRecord(ctx, tx, user, i, status)
				if err != nil {
					return err
				}
				summary.Records++
				if status == core.StatusArchived {
					archived = append(archived, document)
				}
			}
		}
		// snapshots are written last, a failure still rolls back the records and the
		// snapshots written before it
		for _, document := range archived {
			if err := s.putSnapshot(ctx, document); err != nil {
				return err
			}
			if s.Snapshots != nil {
				key := model.SnapshotKey(document.ID)
				st.OnRollback(tx, func(ctx context.Context) error {
					return s.Snapshots.Delete(ctx, key)
				})
			}
			summary.Archived++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rlog.Infof("populated catalog with %d users and %d metadata records", summary.Users, summary.Records)
	return summary, nil
}

func (s *Seeder) createUser(ctx context.Context, tx *sqlx.Tx, account Account, role core.Role) (*model.User, error) {
	password := account.Password
	if password == "" {
		password = s.Fixture.Password
	}
	if len(password) < model.MinPasswordLength {
		return nil, fmt.Errorf("password of %s must have at least %d characters", account.Email, model.MinPasswordLength)
	}
	hash, err := access.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Email:        model.NormalizeEmail(account.Email),
		Name:         account.Name,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
	}
	if account.Organization != "" {
		org := account.Organization
		user.Organization = &org
	}
	user.Stamp(s.Now())
	user.Username, err = store.UniqueUsername(ctx, tx, model.UsernameBase(user.Email), user.ID)
	if err != nil {
		return nil, err
	}
	if err := store.CreateUser(ctx, tx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", user.Email, err)
	}
	return user, outbox.Append(ctx, tx, "user", core.OperationCreate, "", user.ID, user)
}

func (s *Seeder) createRecord(ctx context.Context, tx *sqlx.Tx, owner *model.User, i int, status core.Status) (*model.MetadataDocument, error) {
	now := s.Now()
	linkage := fmt.Sprintf("http://example.com/metadata/%s/%d", owner.Username, i)
	standard := s.Fixture.Record.Standard
	m := &model.Metadata{
		Status:   status,
		OwnerID:  owner.ID,
		Linkage:  &linkage,
		Standard: &standard,
	}
	m.Stamp(now)
	if err := store.CreateMetadata(ctx, tx, m); err != nil {
		return nil, err
	}

	document := &model.MetadataDocument{Metadata: *m}
	for _, sub := range s.subrecords(owner, i, now) {
		sub.rec.SetParent(m.ID)
		sub.rec.Record().Stamp(now)
		sub.rec.Normalize()
		if fields := sub.rec.Check(); len(fields) > 0 {
			return nil, fmt.Errorf("sample %s is invalid: %v", sub.key, fields)
		}
		if err := store.InsertSubrecord(ctx, tx, sub.table, sub.rec); err != nil {
			return nil, fmt.Errorf("insert %s: %w", sub.key, err)
		}
		if err := outbox.Append(ctx, tx, sub.key, core.OperationCreate, status, sub.rec.Record().ID, sub.rec); err != nil {
			return nil, err
		}
		document.Attach(sub.rec)
	}
	return document, outbox.Append(ctx, tx, "metadata", core.OperationCreate, status, m.ID, document)
}

type sample struct {
	key   string
	table store.Table
	rec   model.Subrecord
}

func ptr[T any](v T) *T {
	return &v
}

// subrecords returns the sample sub-records of the i-th record of owner
func (s *Seeder) subrecords(owner *model.User, i int, now time.Time) []sample {
	r := s.Fixture.Record
	organization := ""
	if owner.Organization != nil {
		organization = *owner.Organization
	}
	phone := fmt.Sprintf("+1-555-01%02d", i)
	address := fmt.Sprintf("%d Sample Street, Example City", 100+i)
	weblink := fmt.Sprintf("http://example.com/data/%s/%d", owner.Username, i)
	day := now.Truncate(24 * time.Hour)
	start := day.AddDate(0, 0, -365*(i+1))
	end := start.AddDate(0, 0, 30)
	// boxes spread across the globe, one per record
	west := float64(-180 + 30*((i+len(owner.Username))%12))

	var scale *float64
	if r.EquivalentScale > 0 {
		scale = ptr(r.EquivalentScale)
	}
	return []sample{
		{"identification", store.IdentificationTable, &model.IdentificationInfo{
			Title:           fmt.Sprintf("Dataset %d by %s", i, owner.Name),
			ProductionDate:  day.AddDate(0, 0, -30*(i+1)),
			EditionDate:     ptr(day),
			Abstract:        r.Abstract,
			SpatialRepType:  r.SpatialRepType,
			EquivalentScale: scale,
			BoundingBox:     model.BoundingBox{West: west, East: west + 20, South: -10 - float64(i), North: 10 + float64(i)},
			Keywords:        model.Keywords(append([]string{organization}, r.Keywords...)),
			KeywordType:     ptr(r.KeywordType),
			UpdateFrequency: ptr(r.UpdateFrequency),
		}},
		{"point_of_contact", store.PointOfContactTable, &model.PointOfContact{
			Name:         owner.Name,
			Organization: organization,
			Email:        owner.Email,
			Phone:        &phone,
			Address:      &address,
			Role:         r.ContactRole,
		}},
		{"constraints", store.ConstraintsTable, &model.ResourceConstraints{
			AccessConstraints: ptr(r.AccessConstraints),
			UseConstraints:    ptr(r.UseConstraints),
			OtherConstraints:  ptr(r.OtherConstraints),
		}},
		{"distribution", store.DistributionTable, &model.Distribution{
			Name:             organization + " Data Distribution",
			Address:          &address,
			Phone:            &phone,
			Weblink:          &weblink,
			Format:           ptr(r.DistributionFormat),
			DistributorEmail: ptr(owner.Email),
			OrderProcess:     ptr(r.OrderProcess),
		}},
		{"lineage", store.LineageTable, &model.ResourceLineage{
			Statement:       r.LineageStatement,
			HierarchyLevel:  i,
			ProcessSoftware: ptr(r.ProcessSoftware),
			ProcessDate:     ptr(day),
		}},
		{"reference_system", store.ReferenceSystemTable, &model.ReferenceSystem{
			Identifier: r.ReferenceIdentifier,
			Code:       r.ReferenceCode,
		}},
		{"quality", store.QualityTable, &model.DataQuality{
			CompletenessReport: ptr(r.CompletenessReport),
			AccuracyReport:     ptr(r.AccuracyReport),
			ProcessDescription: ptr(r.ProcessDescription),
			ProcessDate:        ptr(day),
		}},
		{"temporal_extent", store.TemporalExtentTable, &model.TemporalExtent{
			StartDate: start,
			EndDate:   &end,
			Frequency: ptr(r.TemporalFrequency),
		}},
		{"contact", store.MetadataContactTable, &model.MetadataContact{
			Name:         owner.Name,
			Organization: organization,
			Email:        owner.Email,
			Phone:        &phone,
			Address:      &address,
			Role:         r.MetadataContactRole,
			Weblink:      ptr("http://example.com/contact/" + owner.Username),
		}},
	}
}

func (s *Seeder) putSnapshot(ctx context.Context, document *model.MetadataDocument) error {
	if s.Snapshots == nil {
		return nil
	}
	data, err := json.MarshalWithOption(document, json.DisableHTMLEscape())
	if err != nil {
		return err
	}
	return s.Snapshots.Put(ctx, model.SnapshotKey(document.ID), data)
}
