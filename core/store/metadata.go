package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/model"
)

const metadataColumns = `id, status, owner_id, linkage, standard, created_at, updated_at`

// Visibility restricts queries to the metadata records a caller may see. The zero value
// sees nothing but PUBLISHED records.
type Visibility struct {
	// All is set for ADMIN callers
	All bool
	// ViewerID sees their own records in any state
	ViewerID uuid.UUID
}

func (v Visibility) where(alias string) (string, []interface{}) {
	if v.All {
		return "1 = 1", nil
	}
	return fmt.Sprintf("(%[1]s.owner_id = ? OR %[1]s.status = ?)", alias),
		[]interface{}{v.ViewerID, string(core.StatusPublished)}
}

// MetadataFilter restricts a metadata listing
type MetadataFilter struct {
	Visibility Visibility
	Status     *core.Status
	OwnerID    *uuid.UUID
	// CreatedFrom is inclusive, CreatedUntil exclusive
	CreatedFrom  *time.Time
	CreatedUntil *time.Time
	// Ascending orders by creation time ascending instead of descending
	Ascending bool
}

// CreateMetadata inserts a new metadata record
func CreateMetadata(ctx context.Context, q sqlx.ExtContext, m *model.Metadata) error {
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO metadata (`+metadataColumns+`) VALUES
(:id, :status, :owner_id, :linkage, :standard, :created_at, :updated_at)`, m)
	return classify(err)
}

// GetMetadata returns the metadata record with id
func GetMetadata(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*model.Metadata, error) {
	var m model.Metadata
	err := sqlx.GetContext(ctx, q, &m, q.Rebind(`SELECT `+metadataColumns+` FROM metadata WHERE id = ?`), id)
	if err != nil {
		return nil, classify(err)
	}
	afterRead(&m)
	return &m, nil
}

// ListMetadata returns one page of metadata records matching filter and the total number
// of matching records
func ListMetadata(ctx context.Context, q sqlx.ExtContext, filter MetadataFilter, page Page) ([]model.Metadata, int, error) {
	where, args := filter.Visibility.where("m")
	if filter.Status != nil {
		where += " AND m.status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.OwnerID != nil {
		where += " AND m.owner_id = ?"
		args = append(args, *filter.OwnerID)
	}
	if filter.CreatedFrom != nil {
		where += " AND m.created_at >= ?"
		args = append(args, filter.CreatedFrom.UTC())
	}
	if filter.CreatedUntil != nil {
		where += " AND m.created_at < ?"
		args = append(args, filter.CreatedUntil.UTC())
	}
	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	var total int
	err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT count(*) FROM metadata m WHERE `+where), args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	records := []model.Metadata{}
	err = sqlx.SelectContext(ctx, q, &records, q.Rebind(`SELECT `+metadataColumns+` FROM metadata m WHERE `+where+
		` ORDER BY m.created_at `+order+`, m.id `+order+` LIMIT ? OFFSET ?`),
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, classify(err)
	}
	for i := range records {
		afterRead(&records[i])
	}
	return records, total, nil
}

// UpdateMetadata writes all mutable fields of a metadata record
func UpdateMetadata(ctx context.Context, q sqlx.ExtContext, m *model.Metadata) error {
	res, err := sqlx.NamedExecContext(ctx, q, `UPDATE metadata SET
status = :status, linkage = :linkage, standard = :standard, updated_at = :updated_at
WHERE id = :id`, m)
	return expectOne(res, err)
}

// TouchMetadata sets the modification time of a metadata record, used when one of its
// sub-records changes
func TouchMetadata(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, at time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE metadata SET updated_at = ? WHERE id = ?`), at, id)
	return expectOne(res, err)
}

// DeleteMetadata deletes a metadata record and all of its sub-records. Sub-records are
// removed first. It must run inside a transaction to be atomic.
func DeleteMetadata(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	for _, t := range SubrecordTables {
		if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+t.Name+` WHERE metadata_id = ?`), id); err != nil {
			return fmt.Errorf("cascade %s: %w", t.Name, classify(err))
		}
	}
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM metadata WHERE id = ?`), id)
	return expectOne(res, err)
}

// MetadataIDsByOwner returns the ids of all metadata records owned by ownerID
func MetadataIDsByOwner(ctx context.Context, q sqlx.ExtContext, ownerID uuid.UUID) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(`SELECT id FROM metadata WHERE owner_id = ?`), ownerID)
	return ids, classify(err)
}
