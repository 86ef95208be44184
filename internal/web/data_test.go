package web

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimonitor/agrimon/internal/store"
)

func newDataEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "json", "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := newTestEnv(t, stubSensor{})
	e.handlers.Store = s
	return e
}

func TestData_CRUD(t *testing.T) {
	e := newDataEnv(t)

	w := e.do(t, http.MethodPost, "/data/posts", `{"id":1,"title":"first"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id":1,"title":"first"}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/data/posts", `{"title":"second"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created["id"], "an id is assigned when absent")

	w = e.do(t, http.MethodGet, "/data/posts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0]["title"])

	w = e.do(t, http.MethodGet, "/data/posts/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1,"title":"first"}`, w.Body.String())

	w = e.do(t, http.MethodPatch, "/data/posts/1", `{"views":3}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1,"title":"first","views":3}`, w.Body.String())

	w = e.do(t, http.MethodPut, "/data/posts/1", `{"title":"replaced"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"1","title":"replaced"}`, w.Body.String())

	w = e.do(t, http.MethodDelete, "/data/posts/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/data/posts/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestData_EmptyCollectionIsEmptyArray(t *testing.T) {
	e := newDataEnv(t)
	w := e.do(t, http.MethodGet, "/data/nothing", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestData_Errors(t *testing.T) {
	e := newDataEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/data/posts", `{"id":"a"}`).Code)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"invalid_json", http.MethodPost, "/data/posts", `{"id":`, http.StatusBadRequest},
		{"not_an_object", http.MethodPost, "/data/posts", `[1,2]`, http.StatusBadRequest},
		{"duplicate_id", http.MethodPost, "/data/posts", `{"id":"a"}`, http.StatusConflict},
		{"bad_collection", http.MethodGet, "/data/has%20space", "", http.StatusBadRequest},
		{"get_missing", http.MethodGet, "/data/posts/zzz", "", http.StatusNotFound},
		{"put_missing", http.MethodPut, "/data/posts/zzz", `{}`, http.StatusNotFound},
		{"patch_missing", http.MethodPatch, "/data/posts/zzz", `{}`, http.StatusNotFound},
		{"delete_missing", http.MethodDelete, "/data/posts/zzz", "", http.StatusNotFound},
		{"too_large", http.MethodPost, "/data/posts", `{"x":"` + strings.Repeat("a", maxDocumentBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(t, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeError(t, w).Error)
		})
	}
}

func TestData_NotMountedWithoutStore(t *testing.T) {
	e := newTestEnv(t, stubSensor{})
	w := e.do(t, http.MethodGet, "/data/posts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
