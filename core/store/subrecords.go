package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core/model"
)

// SubrecordFilter restricts a sub-record listing
type SubrecordFilter struct {
	// Visibility applies to the parent metadata record
	Visibility Visibility
	MetadataID *uuid.UUID
}

func (t Table) namedColumns() string {
	names := t.columnNames()
	for i := range names {
		names[i] = ":" + names[i]
	}
	return strings.Join(names, ", ")
}

// InsertSubrecord inserts rec into table t
func InsertSubrecord(ctx context.Context, q sqlx.ExtContext, t Table, rec model.Subrecord) error {
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO `+t.Name+` (`+t.selectList("")+`) VALUES (`+t.namedColumns()+`)`, rec)
	return classify(err)
}

// GetSubrecord returns the sub-record with id from table t
func GetSubrecord[T any](ctx context.Context, q sqlx.ExtContext, t Table, id uuid.UUID) (*T, error) {
	var rec T
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(`SELECT `+t.selectList("")+` FROM `+t.Name+` WHERE id = ?`), id)
	if err != nil {
		return nil, classify(err)
	}
	afterRead(&rec)
	return &rec, nil
}

// GetSubrecordByParent returns the sub-record of table t attached to the metadata record
// metadataID. Every metadata record has at most one sub-record of each type.
func GetSubrecordByParent[T any](ctx context.Context, q sqlx.ExtContext, t Table, metadataID uuid.UUID) (*T, error) {
	var rec T
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(`SELECT `+t.selectList("")+` FROM `+t.Name+` WHERE metadata_id = ?`), metadataID)
	if err != nil {
		return nil, classify(err)
	}
	afterRead(&rec)
	return &rec, nil
}

// ListSubrecords returns one page of sub-records of table t whose parent matches filter,
// and the total number of matching sub-records
func ListSubrecords[T any](ctx context.Context, q sqlx.ExtContext, t Table, filter SubrecordFilter, page Page) ([]T, int, error) {
	where, args := filter.Visibility.where("m")
	if filter.MetadataID != nil {
		where += " AND s.metadata_id = ?"
		args = append(args, *filter.MetadataID)
	}
	from := ` FROM ` + t.Name + ` s JOIN metadata m ON m.id = s.metadata_id WHERE ` + where

	var total int
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT count(*)`+from), args...); err != nil {
		return nil, 0, classify(err)
	}
	records := []T{}
	err := sqlx.SelectContext(ctx, q, &records,
		q.Rebind(`SELECT `+t.selectList("s")+from+` ORDER BY s.created_at DESC, s.id DESC LIMIT ? OFFSET ?`),
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, classify(err)
	}
	for i := range records {
		afterRead(&records[i])
	}
	return records, total, nil
}

// SubrecordsByParents returns the sub-records of table t attached to any of the metadata
// records in metadataIDs
func SubrecordsByParents[T any](ctx context.Context, q sqlx.ExtContext, t Table, metadataIDs []uuid.UUID) ([]T, error) {
	records := []T{}
	if len(metadataIDs) == 0 {
		return records, nil
	}
	query, args, err := sqlx.In(`SELECT `+t.selectList("")+` FROM `+t.Name+` WHERE metadata_id IN (?)`, uuidStrings(metadataIDs))
	if err != nil {
		return nil, err
	}
	if err = sqlx.SelectContext(ctx, q, &records, q.Rebind(query), args...); err != nil {
		return nil, classify(err)
	}
	for i := range records {
		afterRead(&records[i])
	}
	return records, nil
}

// UpdateSubrecord writes all columns of rec except its identity, parent and creation time
func UpdateSubrecord(ctx context.Context, q sqlx.ExtContext, t Table, rec model.Subrecord) error {
	assignments := []string{"updated_at = :updated_at"}
	for _, c := range t.Columns {
		assignments = append(assignments, c.Name+" = :"+c.Name)
	}
	res, err := sqlx.NamedExecContext(ctx, q, `UPDATE `+t.Name+` SET `+strings.Join(assignments, ", ")+` WHERE id = :id`, rec)
	return expectOne(res, err)
}

// DeleteSubrecord deletes the sub-record with id from table t
func DeleteSubrecord(ctx context.Context, q sqlx.ExtContext, t Table, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+t.Name+` WHERE id = ?`), id)
	return expectOne(res, err)
}
