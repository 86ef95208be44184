package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "json", "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDecode(t *testing.T, raw string) Document {
	t.Helper()
	doc, err := DecodeDocument([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestDecodeDocument(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"object", `{"a":1}`, false},
		{"empty_object", `{}`, false},
		{"array", `[1,2]`, true},
		{"number", `42`, true},
		{"null", `null`, true},
		{"garbage", `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDocument([]byte(tc.raw))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDocument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocument_ID(t *testing.T) {
	assert.Equal(t, "abc", Document{"id": "abc"}.ID())
	assert.Equal(t, "7", mustDecode(t, `{"id":7}`).ID())
	assert.Equal(t, "7", Document{"id": float64(7)}.ID())
	assert.Equal(t, "", Document{}.ID())
	assert.Equal(t, "", Document{"id": true}.ID())
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Create(context.Background(), "notes", Document{"text": "keep me"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	docs, err := s2.List(context.Background(), "notes")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestCreate_GeneratesID(t *testing.T) {
	s := openTestStore(t)
	doc, err := s.Create(context.Background(), "readings", Document{"temperature": "21.3"})
	require.NoError(t, err)

	_, err = uuid.Parse(doc.ID())
	assert.NoError(t, err, "generated id should be a UUID")

	got, err := s.Get(context.Background(), "readings", doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "21.3", got["temperature"])
}

func TestCreate_KeepsNumericID(t *testing.T) {
	s := openTestStore(t)
	doc, err := s.Create(context.Background(), "posts", mustDecode(t, `{"id":1,"title":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "1", doc.ID())

	got, err := s.Get(context.Background(), "posts", "1")
	require.NoError(t, err)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"title":"hello"}`, string(raw))
}

func TestCreate_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(context.Background(), "posts", Document{"id": "x"})
	require.NoError(t, err)
	_, err = s.Create(context.Background(), "posts", Document{"id": "x"})
	assert.ErrorIs(t, err, ErrConflict)

	// Same id in another collection is fine.
	_, err = s.Create(context.Background(), "comments", Document{"id": "x"})
	assert.NoError(t, err)
}

func TestList_InsertionOrderAndIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Create(ctx, "posts", Document{"id": id})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "other", Document{"id": "z"})
	require.NoError(t, err)

	docs, err := s.List(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{docs[0].ID(), docs[1].ID(), docs[2].ID()})

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "posts", Document{"id": "p1", "title": "old", "tags": "x"})
	require.NoError(t, err)

	doc, err := s.Replace(ctx, "posts", "p1", Document{"id": "ignored", "title": "new"})
	require.NoError(t, err)
	assert.Equal(t, "p1", doc.ID())

	got, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "p1", "title": "new"}, got)

	_, err = s.Replace(ctx, "posts", "missing", Document{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "posts", Document{"id": "p1", "title": "old", "tags": "x"})
	require.NoError(t, err)

	doc, err := s.Patch(ctx, "posts", "p1", Document{"id": "nope", "title": "new"})
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "p1", "title": "new", "tags": "x"}, doc)

	_, err = s.Patch(ctx, "posts", "missing", Document{"a": "b"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "posts", Document{"id": "p1"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "posts", "p1"))
	_, err = s.Get(ctx, "posts", "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "posts", "p1"), ErrNotFound)
}

func TestInvalidCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"", "a/b", "../etc", "has space"} {
		_, err := s.List(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidCollection, name)
		_, err = s.Create(ctx, name, Document{})
		assert.ErrorIs(t, err, ErrInvalidCollection, name)
	}
}
