package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/xeipuuv/gojsonschema"
)

// Validator is a utility to validate JSON object against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from / will be used as toplevel schemas, while json files in /refs/ will be used
// as references
func NewValidatorFromFS(schemaFS fs.FS) (*Validator, error) {

	readDir := func(dir string) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(schemaFS, dir)
		if err != nil {
			if dir != "." && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read dir %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			str, err := fs.ReadFile(schemaFS, path.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s' %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemasString, err := readDir(".")
	if err != nil {
		return nil, err
	}

	refsString, err := readDir("refs")
	if err != nil {
		return nil, err
	}

	return NewValidator(schemasString, refsString)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		sl := gojsonschema.NewSchemaLoader()

		for _, ref := range refs {
			if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("cannot add ref %s %s", ref, err)
			}
		}
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = compiled
	}

	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateStruct validates the given json as a struct against schemaID. If no error is returned,
// then the passed json is valid
func (v *Validator) ValidateStruct(json interface{}, schemaID string) error {
	fields, err := v.Fields(json, schemaID)
	if err != nil {
		return err
	}
	return fieldsError(fields)
}

// ValidateString validates the given json against schemaID. If no error is returned, then the
// passed json is valid
func (v *Validator) ValidateString(json, schemaID string) error {
	fields, err := v.fields(gojsonschema.NewStringLoader(json), schemaID)
	if err != nil {
		return err
	}
	return fieldsError(fields)
}

// Fields validates the document against schemaID and returns the violations per field.
// Violations of the document root are reported under the empty field name. An error is
// only returned if the validation itself failed.
func (v *Validator) Fields(document interface{}, schemaID string) (apierr.Fields, error) {
	return v.fields(gojsonschema.NewGoLoader(document), schemaID)
}

func (v *Validator) fields(loader gojsonschema.JSONLoader, schemaID string) (apierr.Fields, error) {
	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return nil, fmt.Errorf("there is no schema %s ", schemaID)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("cannot validate with schema %s %s", schemaID, err)
	}

	fields := apierr.Fields{}
	for _, e := range result.Errors() {
		fields.Add(fieldName(e), e.Description())
	}
	return fields, nil
}

// fieldName returns the dotted field path of a result error. Missing required properties
// are reported on the property itself rather than on the enclosing object.
func fieldName(e gojsonschema.ResultError) string {
	field := e.Field()
	if field == gojsonschema.STRING_CONTEXT_ROOT {
		field = ""
	}
	if e.Type() == "required" {
		if property, ok := e.Details()["property"].(string); ok {
			if field == "" {
				return property
			}
			return field + "." + property
		}
	}
	return field
}

func fieldsError(fields apierr.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	msg := "the document is not valid :\n"
	for _, name := range fields.Names() {
		for _, m := range fields[name] {
			msg += fmt.Sprintf("- %s: %s\n", name, m)
		}
	}
	return errors.New(msg)
}
