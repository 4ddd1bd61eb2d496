package model

import (
	"time"

	"github.com/relabs-tech/geocatalog/core/apierr"
)

// Spatial representation types of an identification
const (
	SpatialRaster = "RASTER"
	SpatialVector = "VECTOR"
)

// IdentificationInfo identifies the described resource
type IdentificationInfo struct {
	Base
	Child
	Title           string      `db:"title" json:"title"`
	ProductionDate  time.Time   `db:"production_date" json:"production_date"`
	EditionDate     *time.Time  `db:"edition_date" json:"edition_date"`
	Abstract        string      `db:"abstract" json:"abstract"`
	SpatialRepType  string      `db:"spatial_rep_type" json:"spatial_rep_type"`
	EquivalentScale *float64    `db:"equivalent_scale" json:"equivalent_scale"`
	BoundingBox     BoundingBox `db:"geographic_bounding_box" json:"geographic_bounding_box"`
	Keywords        Keywords    `db:"keywords" json:"keywords"`
	KeywordType     *string     `db:"keyword_type" json:"keyword_type"`
	UpdateFrequency *string     `db:"update_frequency" json:"update_frequency"`
}

// Normalize implements Subrecord
func (i *IdentificationInfo) Normalize() {
	normalizeTime(&i.ProductionDate)
	normalizeTime(i.EditionDate)
	i.Keywords = i.Keywords.Normalize()
	normalizeString(&i.KeywordType)
	normalizeString(&i.UpdateFrequency)
}

// Check implements Subrecord
func (i *IdentificationInfo) Check() apierr.Fields {
	fields := apierr.Fields{}
	for name, problem := range i.BoundingBox.Check() {
		fields.Add("geographic_bounding_box."+name, problem)
	}
	if i.SpatialRepType != SpatialRaster && i.SpatialRepType != SpatialVector {
		fields.Add("spatial_rep_type", "must be RASTER or VECTOR")
	}
	if i.EquivalentScale != nil && *i.EquivalentScale <= 0 {
		fields.Add("equivalent_scale", "must be greater than 0")
	}
	return fields
}

// PointOfContact is the party responsible for the resource
type PointOfContact struct {
	Base
	Child
	Name         string  `db:"name" json:"name"`
	Organization string  `db:"organization" json:"organization"`
	Email        string  `db:"email" json:"email"`
	Phone        *string `db:"phone" json:"phone"`
	Address      *string `db:"address" json:"address"`
	Role         string  `db:"role" json:"role"`
}

// Normalize implements Subrecord
func (p *PointOfContact) Normalize() {
	normalizeString(&p.Phone)
	normalizeString(&p.Address)
}

// Check implements Subrecord
func (p *PointOfContact) Check() apierr.Fields {
	return nil
}

// ResourceConstraints holds the access and use constraints of the resource
type ResourceConstraints struct {
	Base
	Child
	AccessConstraints *string `db:"access_constraints" json:"access_constraints"`
	UseConstraints    *string `db:"use_constraints" json:"use_constraints"`
	OtherConstraints  *string `db:"other_constraints" json:"other_constraints"`
}

// Normalize implements Subrecord
func (c *ResourceConstraints) Normalize() {}

// Check implements Subrecord
func (c *ResourceConstraints) Check() apierr.Fields {
	return nil
}

// Distribution describes how the resource is obtained
type Distribution struct {
	Base
	Child
	Name             string  `db:"name" json:"name"`
	Address          *string `db:"address" json:"address"`
	Phone            *string `db:"phone" json:"phone"`
	Weblink          *string `db:"weblink" json:"weblink"`
	Format           *string `db:"format" json:"format"`
	DistributorEmail *string `db:"distributor_email" json:"distributor_email"`
	OrderProcess     *string `db:"order_process" json:"order_process"`
}

// Normalize implements Subrecord
func (d *Distribution) Normalize() {
	normalizeString(&d.Phone)
	normalizeString(&d.Weblink)
	normalizeString(&d.DistributorEmail)
}

// Check implements Subrecord
func (d *Distribution) Check() apierr.Fields {
	return nil
}

// ResourceLineage describes how the resource was produced
type ResourceLineage struct {
	Base
	Child
	Statement       string     `db:"statement" json:"statement"`
	HierarchyLevel  int        `db:"hierarchy_level" json:"hierarchy_level"`
	ProcessSoftware *string    `db:"process_software" json:"process_software"`
	ProcessDate     *time.Time `db:"process_date" json:"process_date"`
}

// Normalize implements Subrecord
func (l *ResourceLineage) Normalize() {
	normalizeTime(l.ProcessDate)
}

// Check implements Subrecord
func (l *ResourceLineage) Check() apierr.Fields {
	if l.HierarchyLevel < 0 {
		return apierr.Fields{"hierarchy_level": {"must not be negative"}}
	}
	return nil
}

// ReferenceSystem identifies the spatial reference system of the resource
type ReferenceSystem struct {
	Base
	Child
	Identifier string `db:"identifier" json:"identifier"`
	Code       string `db:"code" json:"code"`
}

// Normalize implements Subrecord
func (r *ReferenceSystem) Normalize() {}

// Check implements Subrecord
func (r *ReferenceSystem) Check() apierr.Fields {
	return nil
}

// DataQuality reports on the quality of the resource
type DataQuality struct {
	Base
	Child
	CompletenessReport *string    `db:"completeness_report" json:"completeness_report"`
	AccuracyReport     *string    `db:"accuracy_report" json:"accuracy_report"`
	ProcessDescription *string    `db:"process_description" json:"process_description"`
	ProcessDate        *time.Time `db:"process_date" json:"process_date"`
}

// Normalize implements Subrecord
func (q *DataQuality) Normalize() {
	normalizeTime(q.ProcessDate)
}

// Check implements Subrecord
func (q *DataQuality) Check() apierr.Fields {
	return nil
}

// TemporalExtent is the time period covered by the resource. A missing end date
// means the period is ongoing.
type TemporalExtent struct {
	Base
	Child
	StartDate time.Time  `db:"start_date" json:"start_date"`
	EndDate   *time.Time `db:"end_date" json:"end_date"`
	Frequency *string    `db:"frequency" json:"frequency"`
}

// Normalize implements Subrecord
func (e *TemporalExtent) Normalize() {
	normalizeTime(&e.StartDate)
	normalizeTime(e.EndDate)
}

// Check implements Subrecord
func (e *TemporalExtent) Check() apierr.Fields {
	if e.EndDate != nil && e.StartDate.After(*e.EndDate) {
		return apierr.Fields{"end_date": {"must not be before start_date"}}
	}
	return nil
}

// MetadataContact is the party responsible for the metadata record itself
type MetadataContact struct {
	Base
	Child
	Name         string  `db:"name" json:"name"`
	Organization string  `db:"organization" json:"organization"`
	Email        string  `db:"email" json:"email"`
	Phone        *string `db:"phone" json:"phone"`
	Address      *string `db:"address" json:"address"`
	Role         string  `db:"role" json:"role"`
	Weblink      *string `db:"weblink" json:"weblink"`
}

// Normalize implements Subrecord
func (c *MetadataContact) Normalize() {
	normalizeString(&c.Phone)
	normalizeString(&c.Address)
	normalizeString(&c.Weblink)
}

// Check implements Subrecord
func (c *MetadataContact) Check() apierr.Fields {
	return nil
}
