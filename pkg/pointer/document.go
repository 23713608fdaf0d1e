package pointer

import (
	"encoding/json"
	"fmt"
)

// documentSchema is bumped whenever the document layout changes incompatibly.
const documentSchema = 1

type document struct {
	Schema int `json:"schema"`
	Pointer
}

// EncodeDocument serializes a pointer for storage. Equal pointers encode to identical bytes.
func EncodeDocument(p Pointer) ([]byte, error) {
	data, err := json.Marshal(document{Schema: documentSchema, Pointer: p})
	if err != nil {
		return nil, fmt.Errorf("encode pointer %s/%s: %w", p.GroupId, p.HangoutId, err)
	}
	return data, nil
}

// DecodeDocument parses a stored document, rejecting unknown schemas and documents missing their keys.
func DecodeDocument(data []byte) (Pointer, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if doc.Schema != documentSchema {
		return Pointer{}, fmt.Errorf("%w: unsupported schema %d", ErrMalformedDocument, doc.Schema)
	}
	if doc.GroupId == "" || doc.HangoutId == "" {
		return Pointer{}, fmt.Errorf("%w: missing key", ErrMalformedDocument)
	}
	return doc.Pointer, nil
}
