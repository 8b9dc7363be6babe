// Package directory is the document store holding user profiles and pending
// registrations. Documents are flat JSON objects addressed by collection and id.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("directory: document not found")
	ErrInvalidField   = errors.New("directory: invalid field name")
	ErrInvalidKey     = errors.New("directory: collection and id are required")
	ErrEncodeDocument = errors.New("directory: document not encodable")
)

// Document is a JSON object.
type Document map[string]any

// Snapshot is a stored document with its id.
type Snapshot struct {
	ID   string
	Data Document
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced by the store's clock
// at write time.
var ServerTimestamp = serverTimestamp{}

// Store is the document store contract.
type Store interface {
	// Put creates or replaces a document.
	Put(ctx context.Context, collection, id string, doc Document) error
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	// Query returns documents matching every filter, ordered by id.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Document) error
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
}

// EncodeDocument resolves ServerTimestamp sentinels against now and returns
// the canonical JSON encoding of doc.
func EncodeDocument(doc Document, now time.Time) ([]byte, error) {
	resolved := make(Document, len(doc))
	for k, v := range doc {
		if err := CheckField(k); err != nil {
			return nil, err
		}
		if _, ok := v.(serverTimestamp); ok {
			v = now.UTC().Format(time.RFC3339Nano)
		}
		resolved[k] = v
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeDocument, err)
	}
	return data, nil
}

// DecodeDocument parses a stored document.
func DecodeDocument(data []byte) (Document, error) {
	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// EncodeValue returns the canonical JSON form used to compare filter values.
func EncodeValue(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeDocument, err)
	}
	return data, nil
}

// CheckField rejects field names that cannot be addressed in a filter.
func CheckField(name string) error {
	if name == "" || strings.ContainsAny(name, ".'\"\\") {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

func checkKey(collection, id string) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidKey
	}
	return nil
}

// timeField reads a timestamp written by EncodeDocument.
func timeField(doc Document, key string) time.Time {
	s, _ := doc[key].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringField(doc Document, key string) string {
	s, _ := doc[key].(string)
	return s
}
