package node

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Resolve walks the address from root and returns a pointer to the
// addressed node. Index slots resolve into arrays only; resolving into a
// string's graphemes is a mutation concern handled by Insert, Remove and
// Replace. The returned pointer stays valid until the tree is mutated.
func Resolve(root *Node, addr Address) (*Node, error) {
	cur := root
	for i, slot := range addr {
		switch {
		case slot.IsIndex():
			if cur.Kind() != KindArray {
				return nil, typeMismatch(addr, i)
			}
			if slot.Index() >= len(cur.arr) {
				return nil, notFound(addr, i)
			}
			cur = &cur.arr[slot.Index()]
		default:
			if cur.Kind() != KindObject {
				return nil, typeMismatch(addr, i)
			}
			v, ok := cur.obj.Props[slot.Name()]
			if !ok {
				return nil, notFound(addr, i)
			}
			cur = v
		}
	}
	return cur, nil
}

// resolveParent resolves all but the last slot and returns the parent node
// together with the final slot. An empty address has no parent.
func resolveParent(root *Node, addr Address) (*Node, Slot, error) {
	if len(addr) == 0 {
		return nil, Slot{}, typeMismatch(addr, 0)
	}
	parent, err := Resolve(root, addr[:len(addr)-1])
	if err != nil {
		return nil, Slot{}, err
	}
	return parent, addr[len(addr)-1], nil
}

// Insert adds a value at the addressed position:
//   - object property: the property must not already exist;
//   - array index: insert-before semantics, index == length appends;
//   - string index: the value must be a string, inserted before the
//     grapheme cluster at that offset (offset == cluster count appends).
func Insert(root *Node, addr Address, v Node) error {
	parent, last, err := resolveParent(root, addr)
	if err != nil {
		return err
	}
	lastIdx := len(addr) - 1
	switch parent.Kind() {
	case KindArray:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		i := last.Index()
		if i > len(parent.arr) {
			return notFound(addr, lastIdx)
		}
		elems := make([]Node, 0, len(parent.arr)+1)
		elems = append(elems, parent.arr[:i]...)
		elems = append(elems, v)
		elems = append(elems, parent.arr[i:]...)
		parent.setElems(elems)
		return nil
	case KindObject:
		if last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		if _, exists := parent.obj.Props[last.Name()]; exists {
			return typeMismatch(addr, lastIdx)
		}
		parent.obj.Props[last.Name()] = &v
		return nil
	case KindString:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		if v.Kind() != KindString {
			return typeMismatch(addr, lastIdx)
		}
		g := Graphemes(parent.s)
		i := last.Index()
		if i > len(g) {
			return notFound(addr, lastIdx)
		}
		parent.setStr(strings.Join(g[:i], "") + v.s + strings.Join(g[i:], ""))
		return nil
	}
	return typeMismatch(addr, lastIdx)
}

// Remove deletes the addressed value: an object property, an array element
// (later elements shift down), or a single grapheme cluster of a string.
func Remove(root *Node, addr Address) error {
	parent, last, err := resolveParent(root, addr)
	if err != nil {
		return err
	}
	lastIdx := len(addr) - 1
	switch parent.Kind() {
	case KindArray:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		i := last.Index()
		if i >= len(parent.arr) {
			return notFound(addr, lastIdx)
		}
		parent.setElems(append(parent.arr[:i:i], parent.arr[i+1:]...))
		return nil
	case KindObject:
		if last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		if _, exists := parent.obj.Props[last.Name()]; !exists {
			return notFound(addr, lastIdx)
		}
		delete(parent.obj.Props, last.Name())
		return nil
	case KindString:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		g := Graphemes(parent.s)
		i := last.Index()
		if i >= len(g) {
			return notFound(addr, lastIdx)
		}
		parent.setStr(strings.Join(g[:i], "") + strings.Join(g[i+1:], ""))
		return nil
	}
	return typeMismatch(addr, lastIdx)
}

// Replace overwrites the addressed value. The new value's kind need not
// match the old one. A string-offset address replaces a single grapheme
// cluster with the given string value.
func Replace(root *Node, addr Address, v Node) error {
	if len(addr) == 0 {
		*root = v
		return nil
	}
	parent, last, err := resolveParent(root, addr)
	if err != nil {
		return err
	}
	lastIdx := len(addr) - 1
	switch parent.Kind() {
	case KindArray:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		i := last.Index()
		if i >= len(parent.arr) {
			return notFound(addr, lastIdx)
		}
		parent.arr[i] = v
		return nil
	case KindObject:
		if last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		existing, ok := parent.obj.Props[last.Name()]
		if !ok {
			return notFound(addr, lastIdx)
		}
		*existing = v
		return nil
	case KindString:
		if !last.IsIndex() {
			return typeMismatch(addr, lastIdx)
		}
		if v.Kind() != KindString {
			return typeMismatch(addr, lastIdx)
		}
		g := Graphemes(parent.s)
		i := last.Index()
		if i >= len(g) {
			return notFound(addr, lastIdx)
		}
		parent.setStr(strings.Join(g[:i], "") + v.s + strings.Join(g[i+1:], ""))
		return nil
	}
	return typeMismatch(addr, lastIdx)
}

// Graphemes splits a string into grapheme clusters. Diffing and patching
// operate on these, never on bytes or runes, so multi-byte clusters are
// never split.
func Graphemes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	state := -1
	for len(s) > 0 {
		var cluster string
		cluster, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		out = append(out, cluster)
	}
	return out
}
