package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

// subresource is the type independent view on the handlers of one sub-record type
type subresource interface {
	// collection is the path segment of the collection, for example "temporal-extents"
	collection() string
	// key is the name of the sub-record inside the metadata document, for example
	// "temporal_extent". It is also the resource name of change events.
	key() string
	register()
	// attach embeds the sub-records of the given metadata records into their documents
	attach(ctx context.Context, q sqlx.ExtContext, documents map[uuid.UUID]*model.MetadataDocument, ids []uuid.UUID) error
	// writeNested creates or merges the sub-record of parent from a nested document
	writeNested(ctx context.Context, tx *sqlx.Tx, parent *model.Metadata, value interface{}) (model.Subrecord, error)
}

type subrecordPtr[T any] interface {
	*T
	model.Subrecord
}

// subrecordHandler serves one sub-record type
type subrecordHandler[T any, PT subrecordPtr[T]] struct {
	b              *Backend
	table          store.Table
	collectionName string
	keyName        string
	schema         string
}

func newSubresource[T any, PT subrecordPtr[T]](b *Backend, table store.Table, collection, key, schema string) subresource {
	return &subrecordHandler[T, PT]{b: b, table: table, collectionName: collection, keyName: key, schema: schema}
}

func (b *Backend) newSubresources() []subresource {
	return []subresource{
		newSubresource[model.IdentificationInfo](b, store.IdentificationTable, "identification", "identification", "identification"),
		newSubresource[model.PointOfContact](b, store.PointOfContactTable, "contacts", "point_of_contact", "point-of-contact"),
		newSubresource[model.ResourceConstraints](b, store.ConstraintsTable, "constraints", "constraints", "constraints"),
		newSubresource[model.Distribution](b, store.DistributionTable, "distributions", "distribution", "distribution"),
		newSubresource[model.ResourceLineage](b, store.LineageTable, "lineages", "lineage", "lineage"),
		newSubresource[model.ReferenceSystem](b, store.ReferenceSystemTable, "reference-systems", "reference_system", "reference-system"),
		newSubresource[model.DataQuality](b, store.QualityTable, "quality", "quality", "quality"),
		newSubresource[model.TemporalExtent](b, store.TemporalExtentTable, "temporal-extents", "temporal_extent", "temporal-extent"),
		newSubresource[model.MetadataContact](b, store.MetadataContactTable, "metadata-contacts", "contact", "metadata-contact"),
	}
}

func (s *subrecordHandler[T, PT]) collection() string { return s.collectionName }

func (s *subrecordHandler[T, PT]) key() string { return s.keyName }

func (s *subrecordHandler[T, PT]) register() {
	collection := "/api/" + s.collectionName + "/"
	item := collection + "{id}/"
	s.b.handle(collection, s.list, http.MethodGet)
	s.b.handle(collection, s.create, http.MethodPost)
	s.b.handle(item, s.read, http.MethodGet)
	s.b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return s.update(w, r, false)
	}, http.MethodPut)
	s.b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return s.update(w, r, true)
	}, http.MethodPatch)
	s.b.handle(item, s.delete, http.MethodDelete)
}

// decode validates a sub-record document and returns the sub-record it describes. The
// identity and the parent are not taken from the document.
func (s *subrecordHandler[T, PT]) decode(doc map[string]interface{}) (PT, error) {
	doc = without(doc, append(readOnlyFields, "metadata")...)
	var rec T
	if err := decodeDocument(s.b.validator, s.schema, doc, &rec); err != nil {
		return nil, err
	}
	p := PT(&rec)
	p.Normalize()
	if fields := p.Check(); len(fields) > 0 {
		return nil, apierr.Validation(fields)
	}
	return p, nil
}

// revise returns the new version of current. With merge, the fields of doc are laid over
// the stored document, otherwise doc replaces it.
func (s *subrecordHandler[T, PT]) revise(current PT, doc map[string]interface{}, merge bool) (PT, error) {
	if merge {
		var err error
		if doc, err = merged(current, without(doc, append(readOnlyFields, "metadata")...)); err != nil {
			return nil, err
		}
	}
	next, err := s.decode(doc)
	if err != nil {
		return nil, err
	}
	next.Record().ID = current.Record().ID
	next.Record().CreatedAt = current.Record().CreatedAt
	next.Record().Stamp(model.Now())
	next.SetParent(current.Parent())
	return next, nil
}

// load returns the sub-record with id and its parent, if the parent is visible to the caller
func (s *subrecordHandler[T, PT]) load(ctx context.Context, q sqlx.ExtContext, auth *access.Authorization, id uuid.UUID) (PT, *model.Metadata, error) {
	rec, err := store.GetSubrecord[T](ctx, q, s.table, id)
	if err != nil {
		return nil, nil, err
	}
	p := PT(rec)
	parent, err := store.GetMetadata(ctx, q, p.Parent())
	if err != nil {
		return nil, nil, err
	}
	if !access.CanView(auth.Role, auth.Owns(parent.OwnerID), parent.Status) {
		return nil, nil, apierr.NotFound()
	}
	return p, parent, nil
}

// checkWritable checks that the caller may change the sub-records of parent
func checkWritable(auth *access.Authorization, parent *model.Metadata, op core.Operation) error {
	if err := access.Authorize(auth.Role, auth.Owns(parent.OwnerID), op); err != nil {
		return err
	}
	if parent.Status == core.StatusArchived {
		return apierr.FieldError("status", "archived records are read-only")
	}
	return nil
}

func (s *subrecordHandler[T, PT]) list(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	page, query, err := s.b.listQuery(r, "metadata")
	if err != nil {
		return err
	}
	filter := store.SubrecordFilter{Visibility: visibility(auth)}
	if v := query.Get("metadata"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apierr.FieldError("metadata", "must be a valid UUID")
		}
		filter.MetadataID = &id
	}
	records, total, err := store.ListSubrecords[T](r.Context(), s.b.db, s.table, filter, page)
	if err != nil {
		return internalError(r, err, 4210, "list "+s.collectionName)
	}
	return writeList(w, r, page, total, records)
}

func (s *subrecordHandler[T, PT]) read(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	rec, _, err := s.load(r.Context(), s.b.db, auth, id)
	if err != nil {
		return failure(r, err, 4211, "read "+s.collectionName)
	}
	return writeItem(w, r, rec)
}

func (s *subrecordHandler[T, PT]) create(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	parentID, ok := uuidValue(doc["metadata"])
	if !ok {
		if _, present := doc["metadata"]; !present {
			return apierr.FieldError("metadata", "this field is required")
		}
		return apierr.FieldError("metadata", "must be a valid UUID")
	}

	ctx := r.Context()
	var created PT
	err = s.b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		parent, err := store.GetMetadata(ctx, tx, parentID)
		if errors.Is(err, store.ErrNotFound) ||
			(err == nil && !access.CanView(auth.Role, auth.Owns(parent.OwnerID), parent.Status)) {
			return apierr.FieldError("metadata", "metadata record %s does not exist", parentID)
		}
		if err != nil {
			return err
		}
		// adding a sub-record changes the parent
		if err := checkWritable(auth, parent, core.OperationUpdate); err != nil {
			return err
		}

		_, err = store.GetSubrecordByParent[T](ctx, tx, s.table, parent.ID)
		if err == nil {
			return apierr.FieldError("metadata", "metadata record already has a %s", s.keyName)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		rec, err := s.decode(doc)
		if err != nil {
			return err
		}
		if err := s.insert(ctx, tx, parent, rec); err != nil {
			return err
		}
		created = rec
		return store.TouchMetadata(ctx, tx, parent.ID, rec.Record().UpdatedAt)
	})
	if err != nil {
		return failure(r, err, 4212, "create "+s.collectionName)
	}
	return writeJSON(w, http.StatusCreated, created)
}

func (s *subrecordHandler[T, PT]) insert(ctx context.Context, tx *sqlx.Tx, parent *model.Metadata, rec PT) error {
	rec.Record().Stamp(model.Now())
	rec.SetParent(parent.ID)
	if err := store.InsertSubrecord(ctx, tx, s.table, rec); err != nil {
		return err
	}
	return outbox.Append(ctx, tx, s.keyName, core.OperationCreate, parent.Status, rec.Record().ID, rec)
}

func (s *subrecordHandler[T, PT]) update(w http.ResponseWriter, r *http.Request, merge bool) error {
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

	ctx := r.Context()
	var updated PT
	err = s.b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		current, parent, err := s.load(ctx, tx, auth, id)
		if err != nil {
			return err
		}
		if err := checkWritable(auth, parent, core.OperationUpdate); err != nil {
			return err
		}
		if v, ok := doc["metadata"]; ok {
			if parentID, valid := uuidValue(v); !valid || parentID != parent.ID {
				return apierr.FieldError("metadata", "cannot be changed")
			}
		}
		next, err := s.revise(current, doc, merge)
		if err != nil {
			return err
		}
		if err := s.save(ctx, tx, parent, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return failure(r, err, 4213, "update "+s.collectionName)
	}
	return writeJSON(w, http.StatusOK, updated)
}

func (s *subrecordHandler[T, PT]) save(ctx context.Context, tx *sqlx.Tx, parent *model.Metadata, rec PT) error {
	if err := store.UpdateSubrecord(ctx, tx, s.table, rec); err != nil {
		return err
	}
	if err := store.TouchMetadata(ctx, tx, parent.ID, rec.Record().UpdatedAt); err != nil {
		return err
	}
	return outbox.Append(ctx, tx, s.keyName, core.OperationUpdate, parent.Status, rec.Record().ID, rec)
}

func (s *subrecordHandler[T, PT]) delete(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	err = s.b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		current, parent, err := s.load(ctx, tx, auth, id)
		if err != nil {
			return err
		}
		if err := checkWritable(auth, parent, core.OperationDelete); err != nil {
			return err
		}
		if err := store.DeleteSubrecord(ctx, tx, s.table, id); err != nil {
			return err
		}
		if err := store.TouchMetadata(ctx, tx, parent.ID, model.Now()); err != nil {
			return err
		}
		return outbox.Append(ctx, tx, s.keyName, core.OperationDelete, parent.Status, id, current)
	})
	if err != nil {
		return failure(r, err, 4214, "delete "+s.collectionName)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *subrecordHandler[T, PT]) attach(ctx context.Context, q sqlx.ExtContext, documents map[uuid.UUID]*model.MetadataDocument, ids []uuid.UUID) error {
	records, err := store.SubrecordsByParents[T](ctx, q, s.table, ids)
	if err != nil {
		return err
	}
	for i := range records {
		rec := PT(&records[i])
		if doc, ok := documents[rec.Parent()]; ok {
			doc.Attach(rec)
		}
	}
	return nil
}

func (s *subrecordHandler[T, PT]) writeNested(ctx context.Context, tx *sqlx.Tx, parent *model.Metadata, value interface{}) (model.Subrecord, error) {
	doc, ok := value.(map[string]interface{})
	if !ok {
		return nil, apierr.FieldError(s.keyName, "must be an object")
	}
	current, err := store.GetSubrecordByParent[T](ctx, tx, s.table, parent.ID)
	switch {
	case err == nil:
		next, err := s.revise(PT(current), doc, true)
		if err != nil {
			return nil, prefixed(s.keyName, err)
		}
		if err := store.UpdateSubrecord(ctx, tx, s.table, next); err != nil {
			return nil, err
		}
		return next, outbox.Append(ctx, tx, s.keyName, core.OperationUpdate, parent.Status, next.Record().ID, next)
	case errors.Is(err, store.ErrNotFound):
		rec, err := s.decode(doc)
		if err != nil {
			return nil, prefixed(s.keyName, err)
		}
		return rec, s.insert(ctx, tx, parent, rec)
	}
	return nil, err
}

func visibility(auth *access.Authorization) store.Visibility {
	return store.Visibility{All: auth.IsAdmin(), ViewerID: auth.UserID}
}
