package backend_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/geocatalog/core"
)

func TestSubrecordCollections(t *testing.T) {
	s := CreateTestService(t)
	admin := s.As(s.Admin)

	var root map[string]string
	_, err := s.Anonymous().RawGet("/api/", &root)
	require.NoError(t, err)
	assert.Equal(t, "/api/metadata/", root["metadata"])
	assert.Equal(t, "/api/users/", root["users"])
	for _, collection := range subrecordKeys {
		assert.Equal(t, "/api/"+collection+"/", root[collection])
	}

	created := createMetadata(t, admin, fullDocument("River Discharge"))
	for key, collection := range subrecordKeys {
		var list struct {
			Count   int        `json:"count"`
			Results []document `json:"results"`
		}
		_, err := admin.Collection(collection).WithParameter("metadata", created["id"].(string)).List(&list)
		require.NoError(t, err, collection)
		require.Equal(t, 1, list.Count, collection)
		assert.Equal(t, created.Nested(key), map[string]interface{}(list.Results[0]), collection)

		var item document
		_, err = admin.Collection(collection).Item(created.NestedID(key)).Read(&item)
		require.NoError(t, err, collection)
		assert.Equal(t, created.Nested(key), map[string]interface{}(item), collection)
	}
}

func TestSubrecordCreate(t *testing.T) {
	s := CreateTestService(t)
	alice := s.CreateUser(t, "alice@example.com", core.RoleUser)
	bob := s.CreateUser(t, "bob@example.com", core.RoleUser)
	extents := s.As(alice).Collection("temporal-extents")

	parent := createMetadata(t, s.As(alice), map[string]interface{}{})
	extent := map[string]interface{}{
		"metadata":   parent["id"],
		"start_date": "2022-03-01T10:00:00+02:00",
		"end_date":   nil,
	}

	var created document
	status, err := extents.Create(extent, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, parent["id"], created["metadata"])
	assert.Equal(t, "2022-03-01T08:00:00Z", created["start_date"])
	assert.Nil(t, created["end_date"])

	var read document
	_, err = s.As(alice).Collection("metadata").Item(parent.ID()).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, created["id"], read.Nested("temporal_extent")["id"])

	// one sub-record of a type per metadata record
	status, err = extents.Create(extent, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"metadata"`)

	for _, parentID := range []interface{}{nil, "nope", uuid.New().String()} {
		doc := map[string]interface{}{"start_date": "2022-03-01T00:00:00Z"}
		if parentID != nil {
			doc["metadata"] = parentID
		}
		status, err = extents.Create(doc, nil)
		assert.Equal(t, http.StatusBadRequest, status, parentID)
		assert.ErrorContains(t, err, `"metadata"`, parentID)
	}

	// a DRAFT of somebody else does not exist for bob
	status, err = s.As(bob).Collection("quality").Create(map[string]interface{}{"metadata": parent["id"]}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"metadata"`)

	// a PUBLISHED record of somebody else is visible but not writable
	_, err = s.As(alice).Collection("metadata").Item(parent.ID()).Action("publish", nil, nil)
	require.NoError(t, err)
	status, err = s.As(bob).Collection("quality").Create(map[string]interface{}{"metadata": parent["id"]}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Error(t, err)

	status, err = extents.Create(map[string]interface{}{
		"metadata":   createMetadata(t, s.As(alice), map[string]interface{}{})["id"],
		"start_date": "2022-03-01T00:00:00Z",
		"end_date":   "2022-02-01T00:00:00Z",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"end_date"`)
}

func TestSubrecordUpdate(t *testing.T) {
	s := CreateTestService(t)
	admin := s.As(s.Admin)
	created := createMetadata(t, admin, fullDocument("Soil Moisture"))
	other := createMetadata(t, admin, map[string]interface{}{})
	identification := admin.Collection("identification").Item(created.NestedID("identification"))

	var patched document
	_, err := identification.Patch(map[string]interface{}{"title": "Soil Moisture v2"}, &patched)
	require.NoError(t, err)
	assert.Equal(t, "Soil Moisture v2", patched["title"])
	before := created.Nested("identification")
	for _, field := range []string{"abstract", "production_date", "geographic_bounding_box", "keywords", "created_at", "metadata"} {
		assert.Equal(t, before[field], patched[field], field)
	}

	status, err := identification.Patch(map[string]interface{}{
		"geographic_bounding_box": map[string]interface{}{"north": -10, "south": 10, "east": 1, "west": 0},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"geographic_bounding_box.south"`)

	status, err = identification.Patch(map[string]interface{}{"metadata": other["id"]}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, "cannot be changed")

	// PUT replaces, omitted optional fields become null
	var replaced document
	_, err = admin.Collection("distributions").Item(created.NestedID("distribution")).Update(map[string]interface{}{
		"metadata": created["id"],
		"name":     "Mirror",
	}, &replaced)
	require.NoError(t, err)
	assert.Equal(t, "Mirror", replaced["name"])
	assert.Nil(t, replaced["weblink"])
	assert.Nil(t, replaced["format"])

	status, err = admin.Collection("distributions").Item(created.NestedID("distribution")).Update(map[string]interface{}{
		"weblink": "https://example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"name"`)
}

func TestSubrecordDelete(t *testing.T) {
	s := CreateTestService(t)
	owner := s.CreateUser(t, "owner@example.com", core.RoleUser)
	other := s.CreateUser(t, "other@example.com", core.RoleUser)
	created := createMetadata(t, s.As(owner), fullDocument("Wind Speed"))
	lineage := created.NestedID("lineage")

	status, err := s.As(other).Collection("lineages").Item(lineage).Delete()
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)

	status, err = s.As(owner).Collection("lineages").Item(lineage).Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	var read document
	_, err = s.As(owner).Collection("metadata").Item(created.ID()).Read(&read)
	require.NoError(t, err)
	assert.Nil(t, read["lineage"])
	assert.NotNil(t, read["identification"])

	status, err = s.As(owner).Collection("lineages").Item(lineage).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
}
