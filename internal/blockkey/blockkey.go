// Package blockkey assigns durable identity keys to authoring blocks.
//
// A key follows its block through moves and reorders, so a UI card bound to
// a block keeps pointing at the same data after the block array is spliced.
// Keys never belong in persisted documents: use Strip on map-shaped blocks,
// or keep blocks in a List, whose Unwrap output is key-free.
package blockkey

import (
	"github.com/google/uuid"

	"lessonsync/internal/snapshot"
)

// Field is the name of the key field mixed into map-shaped blocks.
const Field = "__uiKey"

// Block is a content block in its JSON object form.
type Block = map[string]any

// NewKey mints a random opaque key.
func NewKey() string {
	return "block-" + uuid.NewString()
}

// KeyOf returns the block's key, if any.
func KeyOf(block Block) (string, bool) {
	k, ok := block[Field].(string)
	if !ok || k == "" {
		return "", false
	}
	return k, true
}

// Ensure returns a block carrying a key. An existing key is kept unless
// inherited is non-empty and different, in which case a copy carrying
// inherited is returned. A block without any key gets a fresh one.
// The input block is never modified.
func Ensure(block Block, inherited string) Block {
	existing, has := KeyOf(block)
	switch {
	case has && (inherited == "" || inherited == existing):
		return block
	case inherited != "":
		return with(block, inherited)
	default:
		return with(block, NewKey())
	}
}

// Apply ensures every block in blocks carries a key.
func Apply(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = Ensure(b, "")
	}
	return out
}

// Strip returns a copy of block without its key.
func Strip(block Block) Block {
	if _, ok := block[Field]; !ok {
		return block
	}
	out := make(Block, len(block))
	for k, v := range block {
		if k != Field {
			out[k] = v
		}
	}
	return out
}

// StripAll strips the key from every block.
func StripAll(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = Strip(b)
	}
	return out
}

// CloneWith returns a deep copy of block carrying a fresh key.
func CloneWith(block Block) Block {
	c := deepCopy(Strip(block))
	c[Field] = NewKey()
	return c
}

// Inherit returns a copy of block carrying the key of from. When from has no
// key, block is returned with a key ensured.
func Inherit(block, from Block) Block {
	k, ok := KeyOf(from)
	if !ok {
		return Ensure(block, "")
	}
	return Ensure(block, k)
}

func with(block Block, key string) Block {
	out := shallow(block)
	out[Field] = key
	return out
}

func shallow(block Block) Block {
	out := make(Block, len(block)+1)
	for k, v := range block {
		out[k] = v
	}
	return out
}

// deepCopy copies block through snapshot.Clone, which keeps numbers as
// json.Number so large integers survive.
func deepCopy(block Block) Block {
	v, err := snapshot.Clone(block)
	if err != nil {
		return shallow(block)
	}
	out, ok := v.(Block)
	if !ok {
		return shallow(block)
	}
	return out
}
