// Package node provides the document node tree and the address scheme used
// to locate any sub-node within it.
//
// A Node is a closed tagged union over the primitive kinds (null, boolean,
// integer, number, string), arrays, and typed objects. Typed objects carry
// a type tag, an optional stable id, and a property map whose iteration
// order is fixed by the schema registry.
package node

import (
	"fmt"
	"sort"

	"weave/internal/schema"
)

// Kind identifies the variant a Node holds.
type Kind string

const (
	KindNull    Kind = "Null"
	KindBool    Kind = "Boolean"
	KindInteger Kind = "Integer"
	KindNumber  Kind = "Number"
	KindString  Kind = "String"
	KindArray   Kind = "Array"
	KindObject  Kind = "Object"
)

// Node is one node in a document tree. The zero value is Null.
type Node struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Node
	obj  *Object
}

// Object is the payload of a typed object node. Properties are stored as
// pointers so that address resolution can hand out stable, mutable
// references into the tree.
type Object struct {
	// Type is the node type tag, e.g. "Paragraph" or "CodeChunk".
	Type string
	// ID is an optional stable identifier used for addressing stability
	// across edits that are not simple replacements.
	ID string
	// Props maps property names to values.
	Props map[string]*Node
}

// Null returns a null node.
func Null() Node {
	return Node{kind: KindNull}
}

// Bool returns a boolean node.
func Bool(v bool) Node {
	return Node{kind: KindBool, b: v}
}

// Int returns an integer node.
func Int(v int64) Node {
	return Node{kind: KindInteger, i: v}
}

// Num returns a floating-point number node.
func Num(v float64) Node {
	return Node{kind: KindNumber, f: v}
}

// Str returns a string node.
func Str(v string) Node {
	return Node{kind: KindString, s: v}
}

// Arr returns an array node holding the given elements.
func Arr(elems ...Node) Node {
	return Node{kind: KindArray, arr: elems}
}

// Obj returns a typed object node.
func Obj(typeName string, props map[string]Node) Node {
	boxed := make(map[string]*Node, len(props))
	for k, v := range props {
		v := v
		boxed[k] = &v
	}
	return Node{kind: KindObject, obj: &Object{Type: typeName, Props: boxed}}
}

// ObjWithID returns a typed object node carrying a stable id.
func ObjWithID(typeName, id string, props map[string]Node) Node {
	n := Obj(typeName, props)
	n.obj.ID = id
	return n
}

// Kind returns the variant this node holds.
func (n Node) Kind() Kind {
	if n.kind == "" {
		return KindNull
	}
	return n.kind
}

// IsNull reports whether the node is null.
func (n Node) IsNull() bool { return n.Kind() == KindNull }

// Bool returns the boolean value. Valid only when Kind() == KindBool.
func (n Node) Bool() bool { return n.b }

// Int returns the integer value. Valid only when Kind() == KindInteger.
func (n Node) Int() int64 { return n.i }

// Num returns the number value. Valid only when Kind() == KindNumber.
func (n Node) Num() float64 { return n.f }

// Str returns the string value. Valid only when Kind() == KindString.
func (n Node) Str() string { return n.s }

// Len returns the element count for arrays and the property count for
// objects; zero for everything else.
func (n Node) Len() int {
	switch n.Kind() {
	case KindArray:
		return len(n.arr)
	case KindObject:
		return len(n.obj.Props)
	}
	return 0
}

// Elems returns the array elements. Valid only when Kind() == KindArray.
// The returned slice aliases the node's storage.
func (n Node) Elems() []Node { return n.arr }

// Type returns the object type tag, or "" for non-objects.
func (n Node) Type() string {
	if n.Kind() != KindObject {
		return ""
	}
	return n.obj.Type
}

// ID returns the object's stable id, or "" when absent or not an object.
func (n Node) ID() string {
	if n.Kind() != KindObject {
		return ""
	}
	return n.obj.ID
}

// Prop returns the named property value and whether it exists.
func (n Node) Prop(name string) (Node, bool) {
	if n.Kind() != KindObject {
		return Node{}, false
	}
	v, ok := n.obj.Props[name]
	if !ok {
		return Node{}, false
	}
	return *v, true
}

// PropNames returns the object's property names in diff order: the schema
// registry's declared order for known types with any extra properties
// appended sorted, or plain sorted order for unknown types.
func (n Node) PropNames() []string {
	if n.Kind() != KindObject {
		return nil
	}
	declared := schema.PropertyOrder(n.obj.Type)
	seen := make(map[string]bool, len(declared))
	var names []string
	for _, name := range declared {
		if _, ok := n.obj.Props[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range n.obj.Props {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Equal reports deep structural equality. Object ids participate: two
// objects with different ids are not equal.
func Equal(a, b Node) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInteger:
		return a.i == b.i
	case KindNumber:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj.Type != b.obj.Type || a.obj.ID != b.obj.ID {
			return false
		}
		if len(a.obj.Props) != len(b.obj.Props) {
			return false
		}
		for k, av := range a.obj.Props {
			bv, ok := b.obj.Props[k]
			if !ok || !Equal(*av, *bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy that shares no mutable storage with n.
func (n Node) Clone() Node {
	switch n.Kind() {
	case KindArray:
		elems := make([]Node, len(n.arr))
		for i, e := range n.arr {
			elems[i] = e.Clone()
		}
		return Node{kind: KindArray, arr: elems}
	case KindObject:
		props := make(map[string]*Node, len(n.obj.Props))
		for k, v := range n.obj.Props {
			c := v.Clone()
			props[k] = &c
		}
		return Node{kind: KindObject, obj: &Object{Type: n.obj.Type, ID: n.obj.ID, Props: props}}
	default:
		return n
	}
}

// String returns a compact debug representation.
func (n Node) String() string {
	switch n.Kind() {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", n.b)
	case KindInteger:
		return fmt.Sprintf("%d", n.i)
	case KindNumber:
		return fmt.Sprintf("%g", n.f)
	case KindString:
		return fmt.Sprintf("%q", n.s)
	case KindArray:
		return fmt.Sprintf("Array(%d)", len(n.arr))
	case KindObject:
		return fmt.Sprintf("%s(%d props)", n.obj.Type, len(n.obj.Props))
	}
	return string(n.Kind())
}

// setStr replaces the payload with a string value in place.
func (n *Node) setStr(s string) {
	*n = Node{kind: KindString, s: s}
}

// setElems replaces the payload with an array value in place.
func (n *Node) setElems(elems []Node) {
	*n = Node{kind: KindArray, arr: elems}
}
