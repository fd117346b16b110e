package store

import (
	"bytes"
	"encoding/json"
	"strings"
)

// System properties added by backends to returned documents.
const (
	IDField   = "id"
	ETagField = "_etag"
)

// DecodeDocument parses a JSON object, keeping numbers as json.Number.
func DecodeDocument(doc Document) (map[string]any, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, invalidArgument("document is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, invalidArgument("document is not a JSON object: %v", err)
	}
	if m == nil {
		return nil, invalidArgument("document is null")
	}
	return m, nil
}

// DocumentID returns the "id" property of a document.
func DocumentID(doc Document) (string, error) {
	m, err := DecodeDocument(doc)
	if err != nil {
		return "", err
	}
	id, ok := m[IDField].(string)
	if !ok || id == "" {
		return "", invalidArgument("document has no string %q property", IDField)
	}
	return id, nil
}

// LookupPath resolves a partition key path such as "/customer/id" in a decoded document.
func LookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// PartitionKeyValue returns the partition key of a decoded document as a string.
// Strings are returned as is; numbers and booleans use their JSON text.
func PartitionKeyValue(m map[string]any, path string) (string, error) {
	v, ok := LookupPath(m, path)
	if !ok || v == nil {
		return "", invalidArgument("document has no partition key at %q", path)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	}
	return "", invalidArgument("partition key at %q must be a string, number or boolean", path)
}

// ETagOf returns the "_etag" property of a document, or "" when absent.
func ETagOf(doc Document) string {
	var sys struct {
		ETag string `json:"_etag"`
	}
	if err := json.Unmarshal(doc, &sys); err != nil {
		return ""
	}
	return sys.ETag
}

// UniqueKeyValues returns the JSON text of each path's value in a decoded document.
// A missing path yields "null", so documents lacking the property still collide.
func UniqueKeyValues(m map[string]any, paths []string) []string {
	values := make([]string, len(paths))
	for i, p := range paths {
		v, ok := LookupPath(m, p)
		if !ok {
			values[i] = "null"
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			values[i] = "null"
			continue
		}
		values[i] = string(b)
	}
	return values
}
