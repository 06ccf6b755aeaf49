// Package patch defines the operations that transform one document tree
// into another, and applies them.
//
// A Patch is an ordered list of operations. Application is sequential:
// each operation's address resolves against the tree as mutated by all
// prior operations in the same patch, never against the original tree.
package patch

import (
	"encoding/json"
	"fmt"

	"weave/internal/node"
)

// OpType identifies an operation.
type OpType string

const (
	OpAdd       OpType = "Add"
	OpRemove    OpType = "Remove"
	OpReplace   OpType = "Replace"
	OpMove      OpType = "Move"
	OpTransform OpType = "Transform"
)

// Operation is a single tree edit. Address is used by Add, Remove, Replace
// and Transform; From/To by Move; FromType/ToType by Transform.
type Operation struct {
	Type     OpType       `json:"type"`
	Address  node.Address `json:"address,omitempty"`
	Value    *node.Node   `json:"value,omitempty"`
	From     node.Address `json:"from,omitempty"`
	To       node.Address `json:"to,omitempty"`
	FromType string       `json:"fromType,omitempty"`
	ToType   string       `json:"toType,omitempty"`
}

// Add builds an Add operation.
func Add(addr node.Address, v node.Node) Operation {
	return Operation{Type: OpAdd, Address: addr, Value: &v}
}

// Remove builds a Remove operation.
func Remove(addr node.Address) Operation {
	return Operation{Type: OpRemove, Address: addr}
}

// Replace builds a Replace operation.
func Replace(addr node.Address, v node.Node) Operation {
	return Operation{Type: OpReplace, Address: addr, Value: &v}
}

// Move builds a Move operation. To is interpreted relative to the array
// state after the removal at From; see Apply.
func Move(from, to node.Address) Operation {
	return Operation{Type: OpMove, From: from, To: to}
}

// Transform builds a Transform operation coercing the node at addr from
// one type to another in place.
func Transform(addr node.Address, fromType, toType string) Operation {
	return Operation{Type: OpTransform, Address: addr, FromType: fromType, ToType: toType}
}

func (op Operation) String() string {
	switch op.Type {
	case OpMove:
		return fmt.Sprintf("Move(%s -> %s)", op.From, op.To)
	case OpTransform:
		return fmt.Sprintf("Transform(%s, %s -> %s)", op.Address, op.FromType, op.ToType)
	case OpAdd, OpReplace:
		return fmt.Sprintf("%s(%s, %s)", op.Type, op.Address, op.Value)
	default:
		return fmt.Sprintf("%s(%s)", op.Type, op.Address)
	}
}

// Patch is an ordered sequence of operations, with optional metadata
// naming the node the patch applies to (for out-of-band application).
type Patch struct {
	// Target is the stable id of the node this patch is relative to,
	// when not the document root.
	Target string `json:"target,omitempty"`
	// Address locates the target relative to the root, when known.
	Address node.Address `json:"address,omitempty"`
	// Ops are applied in order.
	Ops []Operation `json:"ops"`
}

// IsEmpty reports whether the patch has no operations.
func (p Patch) IsEmpty() bool {
	return len(p.Ops) == 0
}

// Merge concatenates patches in order. The result is equivalent to
// applying them sequentially, which is valid only when each patch was
// computed against the tree state produced by its predecessors; no
// conflict resolution is attempted.
func Merge(patches ...Patch) Patch {
	var out Patch
	for _, p := range patches {
		if out.Target == "" {
			out.Target = p.Target
		}
		if out.Address == nil {
			out.Address = p.Address
		}
		out.Ops = append(out.Ops, p.Ops...)
	}
	return out
}

// FromJSON decodes a serialized patch.
func FromJSON(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("decoding patch: %w", err)
	}
	return p, nil
}

// ToJSON serializes a patch for transport.
func (p Patch) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
