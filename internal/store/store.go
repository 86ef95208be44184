package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// migrate is executed every time Open is called, so it must be idempotent.
//
//go:embed sql/migrate.sql
var migrate string

const queryTimeout = 2 * time.Second

var (
	ErrNotFound          = errors.New("document not found")
	ErrConflict          = errors.New("document id already exists")
	ErrInvalidDocument   = errors.New("document must be a JSON object")
	ErrInvalidCollection = errors.New("invalid collection name")
	ErrQueryFailed       = errors.New("query failed")
)

var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Document is a free-form JSON object. Its "id" member identifies it within
// its collection.
type Document map[string]any

// ID returns the document id as a string, or "" if absent.
func (d Document) ID() string {
	switch v := d["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Store is a JSON document store on top of SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the database at filePath.
func Open(filePath string) (*Store, error) {
	const connectionParams = "?_pragma=busy_timeout(1000)&_pragma=journal_mode(WAL)"

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dataSourceName := fmt.Sprintf("%s%s", filePath, connectionParams)
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open connection: %q: %w", dataSourceName, err)
	}

	if _, err := db.Exec(migrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec migration: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DecodeDocument parses a JSON object, keeping numbers exact.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc == nil {
		return nil, ErrInvalidDocument
	}
	return doc, nil
}

func checkCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// List returns all documents of a collection in insertion order.
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	const fn = "Store:List"
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT Body
		FROM documents
		WHERE Collection = ?
		ORDER BY Seq ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
		}
		doc, err := DecodeDocument([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("%s: corrupt document: %w", fn, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	return docs, nil
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	const fn = "Store:Get"
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT Body
		FROM documents
		WHERE Collection = ? AND Id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	return DecodeDocument([]byte(body))
}

// Create inserts doc. A missing id is generated.
func (s *Store) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	const fn = "Store:Create"
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrInvalidDocument
	}

	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
		doc["id"] = id
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", fn, err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (Collection, Id, Body, CreatedAt, UpdatedAt)
		VALUES (?, ?, ?, ?, ?)`, collection, id, string(body), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%s: %q: %w", fn, id, ErrConflict)
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	return doc, nil
}

// Replace overwrites a document. The id always stays the one in the path.
func (s *Store) Replace(ctx context.Context, collection, id string, doc Document) (Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrInvalidDocument
	}
	if _, err := s.Get(ctx, collection, id); err != nil {
		return nil, err
	}
	doc["id"] = id
	return s.update(ctx, "Store:Replace", collection, id, doc)
}

// Patch merges the top-level members of patch into a document.
func (s *Store) Patch(ctx context.Context, collection, id string, patch Document) (Document, error) {
	if patch == nil {
		return nil, ErrInvalidDocument
	}
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	originalID := doc["id"]
	for k, v := range patch {
		doc[k] = v
	}
	doc["id"] = originalID
	return s.update(ctx, "Store:Patch", collection, id, doc)
}

func (s *Store) update(ctx context.Context, fn, collection, id string, doc Document) (Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", fn, err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET Body = ?, UpdatedAt = ?
		WHERE Collection = ? AND Id = ?`, string(body), s.now().Unix(), collection, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	const fn = "Store:Delete"
	if err := checkCollection(collection); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE Collection = ? AND Id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrQueryFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
