package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/relabs-tech/geocatalog/core/csql"
	"github.com/relabs-tech/geocatalog/core/logger"
)

// column types, translated per dialect by columnType
const (
	typeUUID      = "uuid"
	typeText      = "text"
	typeTimestamp = "timestamp"
	typeFloat     = "float"
	typeInteger   = "integer"
	typeBoolean   = "boolean"
	typeJSON      = "json"
)

// Column is a column of a sub-record table
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Table describes the table of one sub-record type
type Table struct {
	Name    string
	Columns []Column
}

// the sub-record tables. All have id, metadata_id, created_at and updated_at in addition
// to their columns.
var (
	IdentificationTable = Table{Name: "identification_info", Columns: []Column{
		{Name: "title", Type: typeText},
		{Name: "production_date", Type: typeTimestamp},
		{Name: "edition_date", Type: typeTimestamp, Nullable: true},
		{Name: "abstract", Type: typeText},
		{Name: "spatial_rep_type", Type: typeText},
		{Name: "equivalent_scale", Type: typeFloat, Nullable: true},
		{Name: "geographic_bounding_box", Type: typeJSON},
		{Name: "keywords", Type: typeJSON},
		{Name: "keyword_type", Type: typeText, Nullable: true},
		{Name: "update_frequency", Type: typeText, Nullable: true},
	}}
	PointOfContactTable = Table{Name: "point_of_contact", Columns: []Column{
		{Name: "name", Type: typeText},
		{Name: "organization", Type: typeText},
		{Name: "email", Type: typeText},
		{Name: "phone", Type: typeText, Nullable: true},
		{Name: "address", Type: typeText, Nullable: true},
		{Name: "role", Type: typeText},
	}}
	ConstraintsTable = Table{Name: "resource_constraints", Columns: []Column{
		{Name: "access_constraints", Type: typeText, Nullable: true},
		{Name: "use_constraints", Type: typeText, Nullable: true},
		{Name: "other_constraints", Type: typeText, Nullable: true},
	}}
	DistributionTable = Table{Name: "distribution", Columns: []Column{
		{Name: "name", Type: typeText},
		{Name: "address", Type: typeText, Nullable: true},
		{Name: "phone", Type: typeText, Nullable: true},
		{Name: "weblink", Type: typeText, Nullable: true},
		{Name: "format", Type: typeText, Nullable: true},
		{Name: "distributor_email", Type: typeText, Nullable: true},
		{Name: "order_process", Type: typeText, Nullable: true},
	}}
	LineageTable = Table{Name: "resource_lineage", Columns: []Column{
		{Name: "statement", Type: typeText},
		{Name: "hierarchy_level", Type: typeInteger},
		{Name: "process_software", Type: typeText, Nullable: true},
		{Name: "process_date", Type: typeTimestamp, Nullable: true},
	}}
	ReferenceSystemTable = Table{Name: "reference_system", Columns: []Column{
		{Name: "identifier", Type: typeText},
		{Name: "code", Type: typeText},
	}}
	QualityTable = Table{Name: "data_quality", Columns: []Column{
		{Name: "completeness_report", Type: typeText, Nullable: true},
		{Name: "accuracy_report", Type: typeText, Nullable: true},
		{Name: "process_description", Type: typeText, Nullable: true},
		{Name: "process_date", Type: typeTimestamp, Nullable: true},
	}}
	TemporalExtentTable = Table{Name: "temporal_extent", Columns: []Column{
		{Name: "start_date", Type: typeTimestamp},
		{Name: "end_date", Type: typeTimestamp, Nullable: true},
		{Name: "frequency", Type: typeText, Nullable: true},
	}}
	MetadataContactTable = Table{Name: "metadata_contact", Columns: []Column{
		{Name: "name", Type: typeText},
		{Name: "organization", Type: typeText},
		{Name: "email", Type: typeText},
		{Name: "phone", Type: typeText, Nullable: true},
		{Name: "address", Type: typeText, Nullable: true},
		{Name: "role", Type: typeText},
		{Name: "weblink", Type: typeText, Nullable: true},
	}}
)

// SubrecordTables lists all sub-record tables. Cascading deletes walk this list.
var SubrecordTables = []Table{
	IdentificationTable, PointOfContactTable, ConstraintsTable, DistributionTable, LineageTable,
	ReferenceSystemTable, QualityTable, TemporalExtentTable, MetadataContactTable,
}

// columnNames returns all column names of the table including the common ones
func (t Table) columnNames() []string {
	names := []string{"id", "metadata_id", "created_at", "updated_at"}
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

func (t Table) selectList(alias string) string {
	names := t.columnNames()
	if alias != "" {
		for i := range names {
			names[i] = alias + "." + names[i]
		}
	}
	return strings.Join(names, ", ")
}

func (t Table) ddl(d csql.Dialect) string {
	cols := []string{
		"id " + columnType(d, typeUUID) + " PRIMARY KEY",
		"metadata_id " + columnType(d, typeUUID) + " NOT NULL UNIQUE REFERENCES metadata(id)",
		"created_at " + columnType(d, typeTimestamp) + " NOT NULL",
		"updated_at " + columnType(d, typeTimestamp) + " NOT NULL",
	}
	for _, c := range t.Columns {
		def := c.Name + " " + columnType(d, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t"))
}

func columnType(d csql.Dialect, kind string) string {
	switch kind {
	case typeUUID:
		if d == csql.Postgres {
			return "UUID"
		}
		return "TEXT"
	case typeText:
		return "TEXT"
	case typeTimestamp:
		return "TIMESTAMP"
	case typeFloat:
		return "DOUBLE PRECISION"
	case typeInteger:
		return "INTEGER"
	case typeBoolean:
		return "BOOLEAN"
	case typeJSON:
		if d == csql.Postgres {
			return "JSONB"
		}
		return "TEXT"
	}
	panic("unknown column type " + kind)
}

// Migrate creates all tables and indices which do not exist yet
func Migrate(ctx context.Context, db *csql.DB) error {
	d := db.Dialect()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
	id ` + columnType(d, typeUUID) + ` PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	organization TEXT,
	is_active BOOLEAN NOT NULL,
	last_login TIMESTAMP,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS metadata (
	id ` + columnType(d, typeUUID) + ` PRIMARY KEY,
	status TEXT NOT NULL,
	owner_id ` + columnType(d, typeUUID) + ` NOT NULL REFERENCES users(id),
	linkage TEXT,
	standard TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS metadata_owner_idx ON metadata(owner_id)`,
		`CREATE INDEX IF NOT EXISTS metadata_status_created_idx ON metadata(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS metadata_created_idx ON metadata(created_at)`,
	}
	for _, t := range SubrecordTables {
		statements = append(statements, t.ddl(d))
	}
	statements = append(statements, outboxDDL(d))

	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate: %w\n%s", err, statement)
		}
	}
	logger.FromContext(ctx).Debugf("database schema %s is up to date", db.Schema)
	return nil
}

func outboxDDL(d csql.Dialect) string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == csql.Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return `CREATE TABLE IF NOT EXISTS outbox (
	serial ` + serial + `,
	id ` + columnType(d, typeUUID) + ` NOT NULL UNIQUE,
	resource TEXT NOT NULL,
	operation TEXT NOT NULL,
	state TEXT,
	resource_id ` + columnType(d, typeUUID) + ` NOT NULL,
	payload ` + columnType(d, typeJSON) + ` NOT NULL,
	logger_context TEXT NOT NULL,
	attempts_left INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
)`
}
