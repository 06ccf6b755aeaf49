// Package diff computes the patch that transforms one document tree into
// another. Strategies are dispatched by node kind: scalars replace,
// strings diff at grapheme level, vectors align by longest common
// subsequence with move detection, and typed objects compare property by
// property in schema order.
package diff

import (
	"time"

	"weave/internal/node"
	"weave/internal/patch"
)

// Options bound the work a single diff may do. When a budget is exceeded
// the affected subtree falls back to a whole-value Replace instead of a
// fine-grained edit script.
type Options struct {
	// MaxStringGraphemes is the largest string (in grapheme clusters)
	// diffed at grapheme level.
	MaxStringGraphemes int
	// MaxStringOps caps the number of operations a string diff may emit
	// before collapsing to a Replace.
	MaxStringOps int
	// StringTimeout bounds the wall-clock time of one string diff.
	StringTimeout time.Duration
	// MaxVectorProduct is the largest len(old)*len(new) diffed with the
	// quadratic alignment.
	MaxVectorProduct int
}

// DefaultOptions returns the budgets used by Diff.
func DefaultOptions() Options {
	return Options{
		MaxStringGraphemes: 4096,
		MaxStringOps:       16,
		StringTimeout:      time.Second,
		MaxVectorProduct:   250000,
	}
}

// Diff computes a patch p such that applying p to old yields a tree equal
// to new. Diffing identical trees yields an empty patch.
func Diff(old, new node.Node) patch.Patch {
	return DiffWith(old, new, DefaultOptions())
}

// DiffWith is Diff with explicit budgets.
func DiffWith(old, new node.Node, opts Options) patch.Patch {
	d := &differ{opts: opts}
	return patch.Patch{Ops: d.diffNode(old, new, node.Address{})}
}

type differ struct {
	opts Options
}

func (d *differ) diffNode(old, new node.Node, addr node.Address) []patch.Operation {
	if node.Equal(old, new) {
		return nil
	}
	if old.Kind() != new.Kind() {
		return []patch.Operation{patch.Replace(addr, new.Clone())}
	}
	switch old.Kind() {
	case node.KindString:
		return d.diffString(old.Str(), new.Str(), addr)
	case node.KindArray:
		return d.diffVector(old.Elems(), new.Elems(), addr)
	case node.KindObject:
		return d.diffObject(old, new, addr)
	default:
		// Unequal scalars replace in one operation.
		return []patch.Operation{patch.Replace(addr, new)}
	}
}

// diffObject compares typed objects property by property. A type or
// identity change forces a whole-node Replace; Move semantics depend on
// node identity surviving only same-type replacements.
func (d *differ) diffObject(old, new node.Node, addr node.Address) []patch.Operation {
	if old.Type() != new.Type() || old.ID() != new.ID() {
		return []patch.Operation{patch.Replace(addr, new.Clone())}
	}
	var ops []patch.Operation
	for _, name := range new.PropNames() {
		newVal, _ := new.Prop(name)
		oldVal, ok := old.Prop(name)
		if !ok {
			ops = append(ops, patch.Add(addr.Append(node.Prop(name)), newVal.Clone()))
			continue
		}
		ops = append(ops, d.diffNode(oldVal, newVal, addr.Append(node.Prop(name)))...)
	}
	for _, name := range old.PropNames() {
		if _, ok := new.Prop(name); !ok {
			ops = append(ops, patch.Remove(addr.Append(node.Prop(name))))
		}
	}
	return ops
}
