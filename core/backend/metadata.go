package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

const metadataResource = "metadata"

func (b *Backend) handleMetadata() {
	b.handle("/api/metadata/", b.listMetadata, http.MethodGet)
	b.handle("/api/metadata/", b.createMetadata, http.MethodPost)

	// registered before the item routes, which would otherwise match them
	b.handle("/api/metadata/bulk_create/", b.bulkCreateMetadata, http.MethodPost)
	b.handle("/api/metadata/bulk_update/", b.bulkUpdateMetadata, http.MethodPost)
	b.handle("/api/metadata/bulk_delete/", b.bulkDeleteMetadata, http.MethodPost)

	item := "/api/metadata/{id}/"
	b.handle(item, b.readMetadata, http.MethodGet)
	b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return b.updateMetadata(w, r, false)
	}, http.MethodPut)
	b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return b.updateMetadata(w, r, true)
	}, http.MethodPatch)
	b.handle(item, b.deleteMetadata, http.MethodDelete)

	b.handle(item+"publish/", func(w http.ResponseWriter, r *http.Request) error {
		return b.transitionMetadata(w, r, core.StatusPublished, core.StatusDraft)
	}, http.MethodPost)
	b.handle(item+"archive/", func(w http.ResponseWriter, r *http.Request) error {
		return b.transitionMetadata(w, r, core.StatusArchived, core.StatusDraft, core.StatusPublished)
	}, http.MethodPost)
	b.handle(item+"snapshot/", b.readSnapshot, http.MethodGet)
}

// splitNested separates the nested sub-record documents from the metadata fields
func (b *Backend) splitNested(doc map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
	fields := without(doc, readOnlyFields...)
	nested := map[string]interface{}{}
	for _, s := range b.subresources {
		if v, ok := fields[s.key()]; ok {
			delete(fields, s.key())
			if v != nil {
				nested[s.key()] = v
			}
		}
	}
	return fields, nested
}

// decodeMetadata returns the metadata record described by fields. For updates current is
// the stored record: with merge the fields are laid over it, otherwise they replace it
// except for an omitted status, which is kept.
func (b *Backend) decodeMetadata(fields map[string]interface{}, current *model.Metadata, merge bool) (*model.Metadata, error) {
	switch {
	case current == nil:
		if _, ok := fields["status"]; !ok {
			fields["status"] = string(core.StatusDraft)
		}
	case merge:
		var err error
		if fields, err = merged(current, fields); err != nil {
			return nil, err
		}
		fields = without(fields, readOnlyFields...)
	default:
		if _, ok := fields["status"]; !ok {
			fields["status"] = string(current.Status)
		}
	}

	var m model.Metadata
	if err := decodeDocument(b.validator, "metadata", fields, &m); err != nil {
		return nil, err
	}
	m.Normalize()
	if current != nil {
		m.ID = current.ID
		m.OwnerID = current.OwnerID
		m.CreatedAt = current.CreatedAt
	}
	return &m, nil
}

// documents embeds the sub-records into the given metadata records
func (b *Backend) documents(ctx context.Context, q sqlx.ExtContext, records []model.Metadata) ([]*model.MetadataDocument, error) {
	documents := make([]*model.MetadataDocument, len(records))
	byID := make(map[uuid.UUID]*model.MetadataDocument, len(records))
	ids := make([]uuid.UUID, len(records))
	for i := range records {
		documents[i] = &model.MetadataDocument{Metadata: records[i]}
		byID[records[i].ID] = documents[i]
		ids[i] = records[i].ID
	}
	for _, s := range b.subresources {
		if err := s.attach(ctx, q, byID, ids); err != nil {
			return nil, err
		}
	}
	return documents, nil
}

func (b *Backend) document(ctx context.Context, q sqlx.ExtContext, m *model.Metadata) (*model.MetadataDocument, error) {
	documents, err := b.documents(ctx, q, []model.Metadata{*m})
	if err != nil {
		return nil, err
	}
	return documents[0], nil
}

// visibleMetadata returns the metadata record with id if the caller may see it
func visibleMetadata(ctx context.Context, q sqlx.ExtContext, auth *access.Authorization, id uuid.UUID) (*model.Metadata, error) {
	m, err := store.GetMetadata(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !access.CanView(auth.Role, auth.Owns(m.OwnerID), m.Status) {
		return nil, apierr.NotFound()
	}
	return m, nil
}

func (b *Backend) listMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	page, query, err := b.listQuery(r, "status", "start_date", "end_date", "owner")
	if err != nil {
		return err
	}
	if err := access.Authorize(auth.Role, false, core.OperationList); err != nil {
		return err
	}

	filter := store.MetadataFilter{Visibility: visibility(auth)}
	fields := apierr.Fields{}
	if v := query.Get("status"); v != "" {
		status := core.Status(v)
		if !status.Valid() {
			fields.Add("status", "must be one of DRAFT, PUBLISHED, ARCHIVED")
		}
		filter.Status = &status
	}
	if v := query.Get("owner"); v != "" {
		owner, err := uuid.Parse(v)
		if err != nil {
			fields.Add("owner", "must be a valid UUID")
		}
		filter.OwnerID = &owner
	}
	if v := query.Get("start_date"); v != "" {
		from, _, err := parseDateParameter(v)
		if err != nil {
			fields.Add("start_date", err.Error())
		}
		filter.CreatedFrom = &from
	}
	if v := query.Get("end_date"); v != "" {
		until, dateOnly, err := parseDateParameter(v)
		if err != nil {
			fields.Add("end_date", err.Error())
		}
		// the filter bound is exclusive
		if dateOnly {
			until = until.AddDate(0, 0, 1)
		} else {
			until = until.Add(time.Microsecond)
		}
		filter.CreatedUntil = &until
	}
	if len(fields) > 0 {
		return apierr.Validation(fields)
	}

	records, total, err := store.ListMetadata(r.Context(), b.db, filter, page)
	if err != nil {
		return internalError(r, err, 4220, "list metadata")
	}
	documents, err := b.documents(r.Context(), b.db, records)
	if err != nil {
		return internalError(r, err, 4221, "load sub-records")
	}
	return writeList(w, r, page, total, documents)
}

// parseDateParameter accepts RFC 3339 timestamps and YYYY-MM-DD dates, which are taken
// as midnight UTC
func parseDateParameter(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, errors.New("must be an RFC 3339 timestamp or a date YYYY-MM-DD")
}

func (b *Backend) readMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	m, err := visibleMetadata(r.Context(), b.db, auth, id)
	if err != nil {
		return failure(r, err, 4222, "read metadata")
	}
	document, err := b.document(r.Context(), b.db, m)
	if err != nil {
		return internalError(r, err, 4223, "load sub-records")
	}
	return writeItem(w, r, document)
}

func (b *Backend) createMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	var created *model.MetadataDocument
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		created, err = b.insertMetadata(r.Context(), tx, auth, doc)
		return err
	})
	if err != nil {
		return failure(r, err, 4224, "create metadata")
	}
	return writeJSON(w, http.StatusCreated, created)
}

// insertMetadata creates a metadata record owned by the caller together with the nested
// sub-records of doc
func (b *Backend) insertMetadata(ctx context.Context, tx *sqlx.Tx, auth *access.Authorization, doc map[string]interface{}) (*model.MetadataDocument, error) {
	if err := access.Authorize(auth.Role, true, core.OperationCreate); err != nil {
		return nil, err
	}
	fields, nested := b.splitNested(doc)
	m, err := b.decodeMetadata(fields, nil, false)
	if err != nil {
		return nil, err
	}
	m.OwnerID = auth.UserID
	m.Stamp(model.Now())
	if err := store.CreateMetadata(ctx, tx, m); err != nil {
		return nil, err
	}

	document := &model.MetadataDocument{Metadata: *m}
	if err := b.writeNested(ctx, tx, document, nested); err != nil {
		return nil, err
	}
	if m.Status == core.StatusArchived {
		if err := b.putSnapshot(ctx, tx, document); err != nil {
			return nil, err
		}
	}
	return document, outbox.Append(ctx, tx, metadataResource, core.OperationCreate, m.Status, m.ID, document)
}

func (b *Backend) writeNested(ctx context.Context, tx *sqlx.Tx, document *model.MetadataDocument, nested map[string]interface{}) error {
	for _, s := range b.subresources {
		value, ok := nested[s.key()]
		if !ok {
			continue
		}
		rec, err := s.writeNested(ctx, tx, &document.Metadata, value)
		if err != nil {
			return err
		}
		document.Attach(rec)
	}
	return nil
}

func (b *Backend) updateMetadata(w http.ResponseWriter, r *http.Request, merge bool) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	var updated *model.MetadataDocument
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		updated, err = b.reviseMetadata(r.Context(), tx, auth, id, doc, merge)
		return err
	})
	if err != nil {
		return failure(r, err, 4225, "update metadata")
	}
	return writeJSON(w, http.StatusOK, updated)
}

// reviseMetadata updates the metadata record id and the nested sub-records of doc
func (b *Backend) reviseMetadata(ctx context.Context, tx *sqlx.Tx, auth *access.Authorization, id uuid.UUID, doc map[string]interface{}, merge bool) (*model.MetadataDocument, error) {
	current, err := visibleMetadata(ctx, tx, auth, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(auth.Role, auth.Owns(current.OwnerID), core.OperationUpdate); err != nil {
		return nil, err
	}

	fields, nested := b.splitNested(doc)
	next, err := b.decodeMetadata(fields, current, merge)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(next.Status) {
		return nil, apierr.FieldError("status", "cannot change status from %s to %s", current.Status, next.Status)
	}
	if current.Status == core.StatusArchived {
		if len(nested) > 0 || !sameContent(current, next) {
			return nil, apierr.FieldError("status", "archived records are read-only")
		}
		return b.document(ctx, tx, current)
	}

	next.Stamp(model.Now())
	if err := store.UpdateMetadata(ctx, tx, next); err != nil {
		return nil, err
	}
	document, err := b.document(ctx, tx, next)
	if err != nil {
		return nil, err
	}
	if err := b.writeNested(ctx, tx, document, nested); err != nil {
		return nil, err
	}
	if next.Status == core.StatusArchived {
		if err := b.putSnapshot(ctx, tx, document); err != nil {
			return nil, err
		}
	}
	return document, outbox.Append(ctx, tx, metadataResource, core.OperationUpdate, next.Status, next.ID, document)
}

func sameContent(a, b *model.Metadata) bool {
	same := func(x, y *string) bool {
		return (x == nil && y == nil) || (x != nil && y != nil && *x == *y)
	}
	return a.Status == b.Status && same(a.Linkage, b.Linkage) && same(a.Standard, b.Standard)
}

func (b *Backend) deleteMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		m, err := visibleMetadata(r.Context(), tx, auth, id)
		if err != nil {
			return err
		}
		return b.removeMetadata(r.Context(), tx, auth, m)
	})
	if err != nil {
		return failure(r, err, 4226, "delete metadata")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// removeMetadata deletes m with all of its sub-records and its snapshot
func (b *Backend) removeMetadata(ctx context.Context, tx *sqlx.Tx, auth *access.Authorization, m *model.Metadata) error {
	if err := access.Authorize(auth.Role, auth.Owns(m.OwnerID), core.OperationDelete); err != nil {
		return err
	}
	document, err := b.document(ctx, tx, m)
	if err != nil {
		return err
	}
	if err := store.DeleteMetadata(ctx, tx, m.ID); err != nil {
		return err
	}
	if err := b.deleteSnapshot(ctx, tx, m.ID); err != nil {
		return err
	}
	return outbox.Append(ctx, tx, metadataResource, core.OperationDelete, m.Status, m.ID, document)
}

// transitionMetadata moves a record into state to, if it is currently in one of the
// states from
func (b *Backend) transitionMetadata(w http.ResponseWriter, r *http.Request, to core.Status, from ...core.Status) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	var updated *model.MetadataDocument
	err = b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		m, err := visibleMetadata(ctx, tx, auth, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(auth.Role, auth.Owns(m.OwnerID), core.OperationUpdate); err != nil {
			return err
		}
		allowed := false
		for _, s := range from {
			allowed = allowed || m.Status == s
		}
		if !allowed {
			return apierr.FieldError("status", "cannot change status from %s to %s", m.Status, to)
		}
		m.Status = to
		m.Stamp(model.Now())
		if err := store.UpdateMetadata(ctx, tx, m); err != nil {
			return err
		}
		if updated, err = b.document(ctx, tx, m); err != nil {
			return err
		}
		if to == core.StatusArchived {
			if err := b.putSnapshot(ctx, tx, updated); err != nil {
				return err
			}
		}
		return outbox.Append(ctx, tx, metadataResource, core.OperationUpdate, m.Status, m.ID, updated)
	})
	if err != nil {
		return failure(r, err, 4227, "change status")
	}
	return writeJSON(w, http.StatusOK, updated)
}

func snapshotKey(id uuid.UUID) string {
	return model.SnapshotKey(id)
}

// putSnapshot writes the document of an archived record to the snapshot store. The
// previous content is restored if tx does not commit.
func (b *Backend) putSnapshot(ctx context.Context, tx *sqlx.Tx, document *model.MetadataDocument) error {
	if b.kss == nil {
		return nil
	}
	data, err := marshal(document)
	if err != nil {
		return err
	}
	key := snapshotKey(document.ID)
	previous, err := b.kss.Get(ctx, key)
	if err != nil && !errors.Is(err, kss.ErrNotFound) {
		return err
	}
	if err := b.kss.Put(ctx, key, data); err != nil {
		return err
	}
	b.store.OnRollback(tx, func(ctx context.Context) error {
		if previous == nil {
			return b.kss.Delete(ctx, key)
		}
		return b.kss.Put(ctx, key, previous)
	})
	return nil
}

// deleteSnapshot removes the snapshot of a record. It is written back if tx does not
// commit.
func (b *Backend) deleteSnapshot(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	if b.kss == nil {
		return nil
	}
	key := snapshotKey(id)
	previous, err := b.kss.Get(ctx, key)
	if errors.Is(err, kss.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.kss.Delete(ctx, key); err != nil && !errors.Is(err, kss.ErrNotFound) {
		return err
	}
	b.store.OnRollback(tx, func(ctx context.Context) error {
		return b.kss.Put(ctx, key, previous)
	})
	return nil
}

func (b *Backend) readSnapshot(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if b.kss == nil {
		return apierr.NotFound()
	}
	m, err := visibleMetadata(r.Context(), b.db, auth, id)
	if err != nil {
		return failure(r, err, 4228, "read metadata")
	}
	if m.Status != core.StatusArchived {
		return apierr.NotFound()
	}
	data, err := b.kss.Get(r.Context(), snapshotKey(id))
	if errors.Is(err, kss.ErrNotFound) {
		return apierr.NotFound()
	}
	if err != nil {
		return internalError(r, err, 4229, "read snapshot")
	}
	return writeData(w, r, data)
}
