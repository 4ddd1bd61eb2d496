/*
Package model defines the persisted entities of the catalog: users, metadata records and the
sub-records attached to a metadata record.

Struct tags carry both the column name (db) and the wire name (json). The JSON schemas in
schemas/ describe the wire documents accepted on create and update; the Check methods add
the semantic rules a schema cannot express.
*/
package model

import (
	"embed"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relabs-tech/geocatalog/core/apierr"
)

//go:embed schemas
var schemaFS embed.FS

// Schemas returns the JSON schemas of all wire documents. Top level schemas are at the
// root, shared definitions in refs/.
func Schemas() fs.FS {
	sub, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		panic(err)
	}
	return sub
}

// SchemaID returns the schema $id for a document name
func SchemaID(name string) string {
	return "https://schemas.geocatalog.dev/" + name + ".json"
}

// Base holds the fields common to all entities
type Base struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Record returns the common fields
func (b *Base) Record() *Base {
	return b
}

// Stamp assigns a new identifier and creation time if the record has none yet, and
// sets the modification time to now
func (b *Base) Stamp(now time.Time) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// InUTC moves the timestamps into UTC. Postgres drivers return them in a fixed zone.
func (b *Base) InUTC() {
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
}

// Now returns the current time as it is stored: UTC with microsecond precision
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Child holds the reference of a sub-record to its metadata record
type Child struct {
	MetadataID uuid.UUID `db:"metadata_id" json:"metadata"`
}

// Parent returns the identifier of the metadata record
func (c *Child) Parent() uuid.UUID {
	return c.MetadataID
}

// SetParent sets the identifier of the metadata record
func (c *Child) SetParent(id uuid.UUID) {
	c.MetadataID = id
}

// Subrecord is implemented by all entities attached to a metadata record
type Subrecord interface {
	Record() *Base
	Parent() uuid.UUID
	SetParent(uuid.UUID)
	// Normalize brings values into their stored form, for example timestamps into UTC
	Normalize()
	// Check validates the rules which span several fields
	Check() apierr.Fields
}

func normalizeTime(t *time.Time) {
	if t != nil && !t.IsZero() {
		*t = t.UTC().Truncate(time.Microsecond)
	}
}

func normalizeString(s **string) {
	if *s == nil {
		return
	}
	trimmed := strings.TrimSpace(**s)
	*s = &trimmed
}
