package model

import (
	"github.com/google/uuid"
	"github.com/relabs-tech/geocatalog/core"
)

// Metadata is the parent record describing one geospatial dataset
type Metadata struct {
	Base
	Status   core.Status `db:"status" json:"status"`
	OwnerID  uuid.UUID   `db:"owner_id" json:"owner"`
	Linkage  *string     `db:"linkage" json:"linkage"`
	Standard *string     `db:"standard" json:"standard"`
}

// Normalize trims the text fields
func (m *Metadata) Normalize() {
	normalizeString(&m.Linkage)
	normalizeString(&m.Standard)
}
