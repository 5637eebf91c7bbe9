// Package lesson maps lesson and exercise documents onto an editable model.
//
// Documents are JSON objects with a "title" and a "blocks" array. Every other
// top-level field is carried along untouched so saving a lesson never drops
// data the editor does not understand.
package lesson

import (
	"errors"
	"fmt"

	"lessonsync/internal/blockkey"
)

// Document field names.
const (
	FieldTitle  = "title"
	FieldBlocks = "blocks"
)

// ErrNotObject is returned when a document is not a JSON object.
var ErrNotObject = errors.New("lesson: document is not an object")

// Lesson is the editable form of a lesson document. Values are treated as
// immutable; the editing helpers return modified copies.
type Lesson struct {
	Title  string
	Blocks blockkey.List
	// Extra holds the top-level fields other than title and blocks. When nil,
	// ToRaw keeps whatever the persisted document had.
	Extra map[string]any
}

// FromRaw builds a Lesson from a decoded document.
func FromRaw(raw any) (*Lesson, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	l := &Lesson{Extra: make(map[string]any, len(doc))}
	for k, v := range doc {
		switch k {
		case FieldTitle:
			if v == nil {
				continue
			}
			title, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("lesson: title is %T, want string", v)
			}
			l.Title = title
		case FieldBlocks:
			blocks, err := blocksFrom(v)
			if err != nil {
				return nil, err
			}
			l.Blocks = blockkey.Wrap(blocks)
		default:
			l.Extra[k] = v
		}
	}
	if l.Blocks == nil {
		l.Blocks = blockkey.List{}
	}
	return l, nil
}

func blocksFrom(v any) ([]blockkey.Block, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("lesson: blocks is %T, want array", v)
	}
	out := make([]blockkey.Block, len(items))
	for i, item := range items {
		b, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lesson: block %d is %T, want object", i, item)
		}
		out[i] = b
	}
	return out, nil
}

// ToRaw flattens l into a document. base is the last persisted document and
// supplies the extra fields when l has none. Block keys are never written.
func ToRaw(l *Lesson, base any) (any, error) {
	if l == nil {
		return base, nil
	}

	extra := l.Extra
	if extra == nil {
		if m, ok := base.(map[string]any); ok {
			extra = m
		}
	}

	out := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		if k == FieldTitle || k == FieldBlocks {
			continue
		}
		out[k] = v
	}
	out[FieldTitle] = l.Title

	blocks := l.Blocks.Unwrap()
	items := make([]any, len(blocks))
	for i, b := range blocks {
		items[i] = b
	}
	out[FieldBlocks] = items
	return out, nil
}

func (l *Lesson) with(blocks blockkey.List) *Lesson {
	return &Lesson{Title: l.Title, Blocks: blocks, Extra: l.Extra}
}

// WithTitle returns a copy of l with a new title.
func (l *Lesson) WithTitle(title string) *Lesson {
	return &Lesson{Title: title, Blocks: l.Blocks, Extra: l.Extra}
}

// MoveBlock moves the block at from to position to. The block keeps its key.
func (l *Lesson) MoveBlock(from, to int) (*Lesson, error) {
	blocks, err := l.Blocks.Move(from, to)
	if err != nil {
		return nil, err
	}
	return l.with(blocks), nil
}

// InsertBlock inserts block at position at and returns its new key.
func (l *Lesson) InsertBlock(at int, block blockkey.Block) (*Lesson, string, error) {
	blocks, key, err := l.Blocks.Insert(at, block)
	if err != nil {
		return nil, "", err
	}
	return l.with(blocks), key, nil
}

// DuplicateBlock copies the block at i below itself and returns the key of
// the copy.
func (l *Lesson) DuplicateBlock(i int) (*Lesson, string, error) {
	blocks, key, err := l.Blocks.Duplicate(i)
	if err != nil {
		return nil, "", err
	}
	return l.with(blocks), key, nil
}

// UpdateBlock replaces the content of the block at i, keeping its key.
func (l *Lesson) UpdateBlock(i int, block blockkey.Block) (*Lesson, error) {
	blocks, err := l.Blocks.Replace(i, block)
	if err != nil {
		return nil, err
	}
	return l.with(blocks), nil
}

// RemoveBlock deletes the block at i.
func (l *Lesson) RemoveBlock(i int) (*Lesson, error) {
	blocks, err := l.Blocks.Remove(i)
	if err != nil {
		return nil, err
	}
	return l.with(blocks), nil
}
