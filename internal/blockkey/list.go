package blockkey

import "fmt"

// Keyed pairs a block with its identity key, keeping the key out of the
// block itself.
type Keyed struct {
	Key   string
	Block Block
}

// List is an ordered sequence of keyed blocks.
type List []Keyed

// Wrap converts map-shaped blocks into a List. Keys already present in the
// blocks are adopted; blocks without one get a fresh key. Keys are removed
// from the wrapped blocks.
func Wrap(blocks []Block) List {
	out := make(List, len(blocks))
	seen := make(map[string]bool, len(blocks))
	for i, b := range blocks {
		b = Ensure(b, "")
		k, _ := KeyOf(b)
		if seen[k] {
			k = NewKey()
		}
		seen[k] = true
		out[i] = Keyed{Key: k, Block: Strip(b)}
	}
	return out
}

// Unwrap returns the blocks without any identity keys, ready to persist.
func (l List) Unwrap() []Block {
	out := make([]Block, len(l))
	for i, kb := range l {
		out[i] = Strip(kb.Block)
	}
	return out
}

// Keys returns the keys in list order.
func (l List) Keys() []string {
	out := make([]string, len(l))
	for i, kb := range l {
		out[i] = kb.Key
	}
	return out
}

// Index returns the position of key, or -1.
func (l List) Index(key string) int {
	for i, kb := range l {
		if kb.Key == key {
			return i
		}
	}
	return -1
}

// Move returns a new list with the block at from moved to position to.
func (l List) Move(from, to int) (List, error) {
	if err := l.check(from); err != nil {
		return nil, err
	}
	if err := l.check(to); err != nil {
		return nil, err
	}
	out := append(List{}, l...)
	kb := out[from]
	out = append(out[:from], out[from+1:]...)
	out = append(out[:to], append(List{kb}, out[to:]...)...)
	return out, nil
}

// Insert returns a new list with block inserted at position at under a
// fresh key, along with that key.
func (l List) Insert(at int, block Block) (List, string, error) {
	if at < 0 || at > len(l) {
		return nil, "", fmt.Errorf("blockkey: insert position %d out of range [0,%d]", at, len(l))
	}
	kb := Keyed{Key: NewKey(), Block: Strip(block)}
	out := make(List, 0, len(l)+1)
	out = append(out, l[:at]...)
	out = append(out, kb)
	out = append(out, l[at:]...)
	return out, kb.Key, nil
}

// Duplicate inserts a deep copy of the block at i directly below it. The
// copy gets a fresh key; the original keeps its own.
func (l List) Duplicate(i int) (List, string, error) {
	if err := l.check(i); err != nil {
		return nil, "", err
	}
	return l.Insert(i+1, deepCopy(l[i].Block))
}

// Replace swaps the block at i for block, keeping the key at i.
func (l List) Replace(i int, block Block) (List, error) {
	if err := l.check(i); err != nil {
		return nil, err
	}
	out := append(List{}, l...)
	out[i] = Keyed{Key: l[i].Key, Block: Strip(block)}
	return out, nil
}

// Remove returns a new list without the block at i.
func (l List) Remove(i int) (List, error) {
	if err := l.check(i); err != nil {
		return nil, err
	}
	out := make(List, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...), nil
}

func (l List) check(i int) error {
	if i < 0 || i >= len(l) {
		return fmt.Errorf("blockkey: index %d out of range [0,%d)", i, len(l))
	}
	return nil
}
