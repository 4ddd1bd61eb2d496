package backend_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/kss"
	"github.com/relabs-tech/geocatalog/core/model"
)

func countMetadata(t *testing.T, s *TestService) int {
	t.Helper()
	var list struct {
		Count int `json:"count"`
	}
	_, err := s.As(s.Admin).Collection("metadata").List(&list)
	require.NoError(t, err)
	return list.Count
}

func TestBulkCreate(t *testing.T) {
	s := CreateTestService(t)
	admin := s.As(s.Admin)

	var created []document
	status, err := admin.RawPost("/api/metadata/bulk_create/", []interface{}{
		fullDocument("First Dataset"),
		map[string]interface{}{"status": "PUBLISHED", "linkage": "https://example.com/2"},
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	require.Len(t, created, 2)
	assert.NotNil(t, created[0].Nested("identification"))
	assert.Equal(t, "PUBLISHED", created[1]["status"])
	assert.Equal(t, 2, countMetadata(t, s))

	// all or nothing
	broken := fullDocument("Broken")
	broken["temporal_extent"] = map[string]interface{}{
		"start_date": "2020-01-01T00:00:00Z",
		"end_date":   "2019-01-01T00:00:00Z",
	}
	status, err = admin.RawPost("/api/metadata/bulk_create/", []interface{}{fullDocument("Fine"), broken}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"1.temporal_extent.end_date"`)
	assert.Equal(t, 2, countMetadata(t, s))

	for _, body := range []interface{}{[]interface{}{}, map[string]interface{}{}, []interface{}{"text"}} {
		status, err = admin.RawPost("/api/metadata/bulk_create/", body, nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Error(t, err)
	}
}

func TestBulkUpdate(t *testing.T) {
	s := CreateTestService(t)
	owner := s.CreateUser(t, "owner@example.com", core.RoleUser)
	first := createMetadata(t, s.As(owner), fullDocument("First"))
	second := createMetadata(t, s.As(owner), map[string]interface{}{"linkage": "second"})

	var updated []document
	status, err := s.As(owner).RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"id": first["id"], "status": "PUBLISHED"},
		map[string]interface{}{"id": second["id"], "standard": "ISO 19115-2"},
	}, &updated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, updated, 2)
	assert.Equal(t, "PUBLISHED", updated[0]["status"])
	assert.Equal(t, first.Nested("identification")["id"], updated[0].Nested("identification")["id"])
	assert.Equal(t, "second", updated[1]["linkage"])
	assert.Equal(t, "ISO 19115-2", updated[1]["standard"])

	// the failing second update rolls back the first
	status, err = s.As(owner).RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"id": second["id"], "linkage": "rolled back"},
		map[string]interface{}{"id": first["id"], "status": "DRAFT"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"1.status"`)
	var read document
	_, err = s.As(owner).Collection("metadata").Item(second.ID()).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, "second", read["linkage"])

	status, err = s.As(owner).RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"linkage": "no id"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"0.id"`)

	other := s.As(s.CreateUser(t, "other@example.com", core.RoleUser))
	status, err = other.RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"id": first["id"], "linkage": "stolen"},
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Error(t, err)
}

func TestBulkDelete(t *testing.T) {
	s := CreateTestService(t)
	alice := s.CreateUser(t, "alice@example.com", core.RoleUser)
	bob := s.CreateUser(t, "bob@example.com", core.RoleUser)
	own := createMetadata(t, s.As(alice), fullDocument("Own"))
	published := createMetadata(t, s.As(bob), map[string]interface{}{"status": "PUBLISHED"})
	hidden := createMetadata(t, s.As(bob), map[string]interface{}{})

	var result struct {
		DeletedCount int `json:"deleted_count"`
	}
	status, err := s.As(alice).RawPost("/api/metadata/bulk_delete/", map[string]interface{}{
		"ids": []string{own["id"].(string), published["id"].(string), hidden["id"].(string), uuid.New().String()},
	}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Equal(t, 2, countMetadata(t, s))

	status, err = s.As(alice).Collection("identification").Item(own.NestedID("identification")).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)

	_, err = s.As(s.Admin).RawPost("/api/metadata/bulk_delete/", map[string]interface{}{
		"ids": []string{published["id"].(string), hidden["id"].(string)},
	}, &result)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 0, countMetadata(t, s))

	status, err = s.As(s.Admin).RawPost("/api/metadata/bulk_delete/", map[string]interface{}{
		"ids": []string{"not-a-uuid"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"ids.0"`)
}

func TestBulkUpdateRollsBackSnapshots(t *testing.T) {
	s := CreateTestService(t)
	admin := s.As(s.Admin)
	first := createMetadata(t, admin, fullDocument("First"))
	second := createMetadata(t, admin, fullDocument("Second"))

	status, err := admin.RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"id": first["id"], "status": "ARCHIVED"},
		map[string]interface{}{"id": second["id"], "status": "BOGUS"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ErrorContains(t, err, `"1.status"`)

	var read document
	_, err = admin.Collection("metadata").Item(first.ID()).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, "DRAFT", read["status"])
	_, err = s.Snapshot.Get(admin.Context(), model.SnapshotKey(first.ID()))
	assert.ErrorIs(t, err, kss.ErrNotFound)
	status, err = admin.RawGet(admin.Collection("metadata").Item(first.ID()).Path()+"snapshot/", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Error(t, err)
}

func TestBulkDeleteRestoresSnapshots(t *testing.T) {
	var faulty *faultySnapshots
	s := CreateTestServiceWithSnapshots(t, func(driver kss.Driver) kss.Driver {
		faulty = newFaultySnapshots(driver)
		return faulty
	})
	admin := s.As(s.Admin)
	first := createMetadata(t, admin, fullDocument("First"))
	second := createMetadata(t, admin, fullDocument("Second"))
	for _, created := range []document{first, second} {
		_, err := admin.Collection("metadata").Item(created.ID()).Action("archive", nil, nil)
		require.NoError(t, err)
	}
	firstSnapshot, err := s.Snapshot.Get(admin.Context(), model.SnapshotKey(first.ID()))
	require.NoError(t, err)

	faulty.failDelete[model.SnapshotKey(second.ID())] = true
	status, err := admin.RawPost("/api/metadata/bulk_delete/", map[string]interface{}{
		"ids": []string{first["id"].(string), second["id"].(string)},
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Error(t, err)
	assert.Equal(t, 2, countMetadata(t, s))

	restored, err := s.Snapshot.Get(admin.Context(), model.SnapshotKey(first.ID()))
	require.NoError(t, err)
	assert.Equal(t, firstSnapshot, restored)
	_, err = s.Snapshot.Get(admin.Context(), model.SnapshotKey(second.ID()))
	assert.NoError(t, err)
	status, err = admin.RawGet(admin.Collection("metadata").Item(first.ID()).Path()+"snapshot/", nil)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestBulkUpdateUndoesSnapshotOverwrite(t *testing.T) {
	var faulty *faultySnapshots
	s := CreateTestServiceWithSnapshots(t, func(driver kss.Driver) kss.Driver {
		faulty = newFaultySnapshots(driver)
		return faulty
	})
	admin := s.As(s.Admin)
	first := createMetadata(t, admin, fullDocument("First"))
	second := createMetadata(t, admin, fullDocument("Second"))

	faulty.failPut[model.SnapshotKey(second.ID())] = true
	status, err := admin.RawPost("/api/metadata/bulk_update/", []interface{}{
		map[string]interface{}{"id": first["id"], "status": "ARCHIVED"},
		map[string]interface{}{"id": second["id"], "status": "ARCHIVED"},
	}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Error(t, err)
	for _, created := range []document{first, second} {
		var read document
		_, err = admin.Collection("metadata").Item(created.ID()).Read(&read)
		require.NoError(t, err)
		assert.Equal(t, "DRAFT", read["status"])
		_, err = s.Snapshot.Get(admin.Context(), model.SnapshotKey(created.ID()))
		assert.ErrorIs(t, err, kss.ErrNotFound)
	}
}
