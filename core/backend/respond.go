package backend

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/schema"
	"github.com/relabs-tech/geocatalog/core/store"
)

// maxBodySize limits request bodies, bulk requests included
const maxBodySize = 4 << 20

// readOnlyFields are ignored when supplied in a request body
var readOnlyFields = []string{"id", "created_at", "updated_at", "owner"}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4200: unhandled error")
		apiErr = apierr.Internal("Error 4200")
	} else if apiErr.Kind != apierr.KindInternal {
		logger.FromContext(r.Context()).Infoln("request failed:", apiErr)
	}
	apierr.Write(w, apiErr)
}

// internalError logs err under code and returns the error exposed to the caller, which
// only carries the code
func internalError(r *http.Request, err error, code int, msg string) error {
	logger.FromContext(r.Context()).WithError(err).Errorf("Error %d: %s", code, msg)
	return apierr.Internal(fmt.Sprintf("Error %d", code))
}

// failure translates the error of a store operation or a transaction. API errors pass
// unchanged, everything unexpected is logged as internal error under code.
func failure(r *http.Request, err error, code int, msg string) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound()
	case errors.Is(err, store.ErrUniqueViolation):
		if field := store.ViolatedField(err); field != "" {
			return apierr.FieldError(field, "already exists")
		}
		return apierr.BadRequest("conflicts with an existing record")
	}
	return internalError(r, err, code, msg)
}

func marshal(v interface{}) ([]byte, error) {
	return json.MarshalWithOption(v, json.DisableHTMLEscape())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
	return nil
}

// writeItem writes v with an ETag. If the request carries a matching If-None-Match
// header, only http.StatusNotModified is returned.
func writeItem(w http.ResponseWriter, r *http.Request, v interface{}) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return writeData(w, r, data)
}

func writeData(w http.ResponseWriter, r *http.Request, data []byte) error {
	etag := bytesToEtag(data)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return nil
}

func bytesToEtag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, apierr.BadRequest("cannot read request body: %v", err)
	}
	return body, nil
}

// readObject reads the request body, which must be a JSON object
func readObject(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	body, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, apierr.BadRequest("request body must be a JSON object")
	}
	return doc, nil
}

// readArray reads the request body, which must be a JSON array of objects
func readArray(w http.ResponseWriter, r *http.Request) ([]map[string]interface{}, error) {
	body, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	var docs []map[string]interface{}
	if err := json.Unmarshal(body, &docs); err != nil || docs == nil {
		return nil, apierr.BadRequest("request body must be a JSON array of objects")
	}
	for i, doc := range docs {
		if doc == nil {
			return nil, apierr.FieldError(fmt.Sprint(i), "must be an object")
		}
	}
	return docs, nil
}

// without returns a copy of doc without the given fields
func without(doc map[string]interface{}, fields ...string) map[string]interface{} {
	result := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		result[k] = v
	}
	for _, f := range fields {
		delete(result, f)
	}
	return result
}

// merged returns the JSON form of stored with the fields of patch laid over it
func merged(stored interface{}, patch map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for k, v := range patch {
		doc[k] = v
	}
	return doc, nil
}

// decodeDocument validates doc against the schema name and decodes it into target
func decodeDocument(validator *schema.Validator, name string, doc map[string]interface{}, target interface{}) error {
	fields, err := validator.Fields(doc, model.SchemaID(name))
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return apierr.Validation(fields)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return apierr.BadRequest("invalid %s document: %v", name, err)
	}
	return nil
}

// prefixed moves the fields of a validation error under prefix
func prefixed(prefix string, err error) error {
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindValidation {
		return err
	}
	if len(apiErr.Fields) == 0 {
		return apierr.FieldError(prefix, "%s", apiErr.Detail)
	}
	fields := apierr.Fields{}
	fields.Merge(prefix, apiErr.Fields)
	return apierr.Validation(fields)
}

// pathID returns the id path parameter. Malformed ids cannot name a record, so they
// are not found.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, apierr.NotFound()
	}
	return id, nil
}

// uuidValue parses a UUID supplied as JSON value
func uuidValue(v interface{}) (uuid.UUID, bool) {
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	return id, err == nil
}
