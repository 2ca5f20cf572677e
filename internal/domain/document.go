package domain

import (
	"encoding/json"
)

// Document wraps a string that must contain syntactically valid JSON.
// Mode and memory payloads travel through the system as opaque text;
// Document is the boundary type that gets validated on write and
// decoded lazily on read.
type Document string

// Valid reports whether the document parses as JSON.
func (d Document) Valid() bool {
	return json.Valid([]byte(d))
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal([]byte(d), v)
}

// String returns the raw JSON text.
func (d Document) String() string {
	return string(d)
}
