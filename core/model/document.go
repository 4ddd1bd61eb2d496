package model

import "github.com/google/uuid"

// MetadataDocument is the wire form of a metadata record: the record itself with each of
// its sub-records embedded, null where the record has none
type MetadataDocument struct {
	Metadata
	Identification  *IdentificationInfo  `json:"identification"`
	PointOfContact  *PointOfContact      `json:"point_of_contact"`
	Constraints     *ResourceConstraints `json:"constraints"`
	Distribution    *Distribution        `json:"distribution"`
	Lineage         *ResourceLineage     `json:"lineage"`
	ReferenceSystem *ReferenceSystem     `json:"reference_system"`
	Contact         *MetadataContact     `json:"contact"`
	Quality         *DataQuality         `json:"quality"`
	TemporalExtent  *TemporalExtent      `json:"temporal_extent"`
}

// Attach embeds rec into the document, replacing a sub-record of the same type
func (d *MetadataDocument) Attach(rec Subrecord) {
	switch r := rec.(type) {
	case *IdentificationInfo:
		d.Identification = r
	case *PointOfContact:
		d.PointOfContact = r
	case *ResourceConstraints:
		d.Constraints = r
	case *Distribution:
		d.Distribution = r
	case *ResourceLineage:
		d.Lineage = r
	case *ReferenceSystem:
		d.ReferenceSystem = r
	case *MetadataContact:
		d.Contact = r
	case *DataQuality:
		d.Quality = r
	case *TemporalExtent:
		d.TemporalExtent = r
	}
}

// Subrecords returns the embedded sub-records
func (d *MetadataDocument) Subrecords() []Subrecord {
	all := []Subrecord{}
	add := func(rec Subrecord, present bool) {
		if present {
			all = append(all, rec)
		}
	}
	add(d.Identification, d.Identification != nil)
	add(d.PointOfContact, d.PointOfContact != nil)
	add(d.Constraints, d.Constraints != nil)
	add(d.Distribution, d.Distribution != nil)
	add(d.Lineage, d.Lineage != nil)
	add(d.ReferenceSystem, d.ReferenceSystem != nil)
	add(d.Contact, d.Contact != nil)
	add(d.Quality, d.Quality != nil)
	add(d.TemporalExtent, d.TemporalExtent != nil)
	return all
}

// SnapshotKey returns the key under which the snapshot of an archived record is stored
func SnapshotKey(id uuid.UUID) string {
	return "metadata/" + id.String() + ".json"
}
