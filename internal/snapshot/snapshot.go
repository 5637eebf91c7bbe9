// Package snapshot canonicalizes JSON values so that an editable model can be
// compared against the last state known to match the remote resource.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Snapshot is the last raw value known to match the remote resource.
type Snapshot struct {
	Raw        any
	Serialized string
}

// PendingEdit is a materialized edit waiting to be flushed.
type PendingEdit struct {
	Raw        any
	Serialized string
}

// New clones raw and records its serialized form.
func New(raw any) (Snapshot, error) {
	c, err := Clone(raw)
	if err != nil {
		return Snapshot{}, err
	}
	s, err := Serialize(c)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Raw: c, Serialized: s}, nil
}

// Clone returns a deep copy of a JSON-shaped value. Numbers come back as
// json.Number so that integers round-trip without float conversion.
func Clone(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clone: marshal: %w", err)
	}
	return Decode(data)
}

// Decode parses a JSON document into a generic value using json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// Serialize renders v as two-space indented JSON. Map keys are emitted in
// sorted order, so the output does not depend on insertion order.
func Serialize(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Equal reports whether two serialized forms are identical.
func Equal(a, b string) bool {
	return a == b
}

// StructurallyEqual compares two serialized documents ignoring formatting.
func StructurallyEqual(a, b string) bool {
	return jsonpatch.Equal([]byte(a), []byte(b))
}

// MergePatch returns the RFC 7386 merge patch turning from into to.
func MergePatch(from, to any) ([]byte, error) {
	a, err := json.Marshal(from)
	if err != nil {
		return nil, fmt.Errorf("merge patch: marshal original: %w", err)
	}
	b, err := json.Marshal(to)
	if err != nil {
		return nil, fmt.Errorf("merge patch: marshal modified: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(a, b)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	return patch, nil
}

// TextDiff returns a line-oriented diff of two serialized documents.
// Removed lines are prefixed with "-", added lines with "+", and unchanged
// lines with a space.
func TextDiff(from, to string) string {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffpatch.DiffDelete:
			prefix = "-"
		case diffpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}
