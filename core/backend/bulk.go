package backend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/store"
)

// bulkCreateMetadata creates all metadata documents of the request or none of them
func (b *Backend) bulkCreateMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	docs, err := readArray(w, r)
	if err != nil {
		return err
	}
	created := make([]*model.MetadataDocument, 0, len(docs))
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		for i, doc := range docs {
			document, err := b.insertMetadata(r.Context(), tx, auth, doc)
			if err != nil {
				return prefixed(strconv.Itoa(i), err)
			}
			created = append(created, document)
		}
		return nil
	})
	if err != nil {
		return failure(r, err, 4230, "bulk create metadata")
	}
	return writeJSON(w, http.StatusCreated, created)
}

// bulkUpdateMetadata applies partial updates to several records. Every document names
// its record with id. Either all updates succeed or none.
func (b *Backend) bulkUpdateMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	docs, err := readArray(w, r)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, len(docs))
	fields := apierr.Fields{}
	for i, doc := range docs {
		id, ok := uuidValue(doc["id"])
		if !ok {
			fields.Add(strconv.Itoa(i)+".id", "must be the UUID of a metadata record")
		}
		ids[i] = id
	}
	if len(fields) > 0 {
		return apierr.Validation(fields)
	}

	updated := make([]*model.MetadataDocument, 0, len(docs))
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		for i, doc := range docs {
			document, err := b.reviseMetadata(r.Context(), tx, auth, ids[i], doc, true)
			if err != nil {
				return prefixed(strconv.Itoa(i), err)
			}
			updated = append(updated, document)
		}
		return nil
	})
	if err != nil {
		return failure(r, err, 4231, "bulk update metadata")
	}
	return writeJSON(w, http.StatusOK, updated)
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type bulkDeleteResponse struct {
	DeletedCount int `json:"deleted_count"`
}

// bulkDeleteMetadata deletes those of the requested records which the caller may delete
func (b *Backend) bulkDeleteMetadata(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	var request bulkDeleteRequest
	if err := decodeDocument(b.validator, "bulk-delete", doc, &request); err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(request.IDs))
	for i, s := range request.IDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return apierr.FieldError("ids."+strconv.Itoa(i), "must be a valid UUID")
		}
		ids = append(ids, id)
	}

	deleted := 0
	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		for _, id := range ids {
			m, err := visibleMetadata(r.Context(), tx, auth, id)
			if errors.Is(err, store.ErrNotFound) || apierr.IsKind(err, apierr.KindNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if access.Authorize(auth.Role, auth.Owns(m.OwnerID), core.OperationDelete) != nil {
				continue
			}
			if err := b.removeMetadata(r.Context(), tx, auth, m); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return failure(r, err, 4232, "bulk delete metadata")
	}
	return writeJSON(w, http.StatusOK, bulkDeleteResponse{DeletedCount: deleted})
}
