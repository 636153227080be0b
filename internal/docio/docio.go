// Package docio encodes documents for storage.
//
// A stored document is its JSON encoding compressed with snappy. The
// murmur3 fingerprint of the uncompressed JSON is kept next to it so a
// reader can detect a payload that does not match what was written.
package docio

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

const (
	// Extension is the suffix of a stored document key.
	Extension = ".json.sz"

	// FingerprintExtension is appended to a document key for its fingerprint.
	FingerprintExtension = ".fp"
)

// DocumentKey returns the storage key for database name.
func DocumentKey(name string) string {
	return name + Extension
}

// FingerprintKey returns the storage key of the fingerprint for database name.
func FingerprintKey(name string) string {
	return DocumentKey(name) + FingerprintExtension
}

// Stored describes a document written to storage.
type Stored struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	Bytes       int    `json:"bytes"`
}

// Encode returns the JSON encoding of doc.
func Encode(doc *types.Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidDocument, "document is nil")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidDocument, "failed to encode document", err)
	}
	return data, nil
}

// Indent re-encodes raw JSON with two-space indentation.
func Indent(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidDocument, "failed to indent document", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses a JSON document. Numbers are kept as json.Number so
// integers survive without passing through float64.
func Decode(data []byte) (*types.Document, error) {
	return DecodeReader(bytes.NewReader(data))
}

// DecodeReader parses a single JSON document from r.
func DecodeReader(r io.Reader) (*types.Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc types.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidDocument, "failed to decode document", err)
	}
	if dec.More() {
		return nil, errors.NewValidationError(errors.CodeInvalidDocument, "unexpected data after document")
	}
	return &doc, nil
}

// Compress snappy-encodes raw.
func Compress(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeChecksumMismatch, "snappy decompress failed", err)
	}
	return raw, nil
}

// Fingerprint returns the hex murmur3 128-bit hash of raw.
func Fingerprint(raw []byte) string {
	h := murmur3.New128()
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}

// Pack encodes and compresses doc, returning the payload and the
// fingerprint of its JSON encoding.
func Pack(doc *types.Document) (payload []byte, fingerprint string, err error) {
	raw, err := Encode(doc)
	if err != nil {
		return nil, "", err
	}
	return Compress(raw), Fingerprint(raw), nil
}

// Unpack decompresses and decodes payload. A non-empty fingerprint must
// match the decompressed JSON.
func Unpack(payload []byte, fingerprint string) (*types.Document, error) {
	raw, err := Decompress(payload)
	if err != nil {
		return nil, err
	}
	if fingerprint != "" {
		if got := Fingerprint(raw); got != fingerprint {
			return nil, errors.NewStorageError(errors.CodeChecksumMismatch,
				fmt.Sprintf("fingerprint mismatch: stored %s, computed %s", fingerprint, got), nil)
		}
	}
	return Decode(raw)
}
