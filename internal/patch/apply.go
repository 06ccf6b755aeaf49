package patch

import (
	"errors"
	"fmt"

	"weave/internal/node"
	"weave/internal/schema"
)

// ErrorKind classifies patch application failures.
type ErrorKind string

const (
	// KindInvalidOperation means the operation itself was malformed
	// (missing value, mismatched Move parents, unknown op type).
	KindInvalidOperation ErrorKind = "InvalidOperation"
	// KindAddress means an address failed to resolve.
	KindAddress ErrorKind = "AddressError"
	// KindSchemaViolation means the value is invalid for the
	// schema-declared property type.
	KindSchemaViolation ErrorKind = "SchemaViolation"
)

// Error reports a failed operation. Application is atomic per operation
// only: operations before OpIndex have already been applied when an Error
// is returned.
type Error struct {
	Kind    ErrorKind
	OpIndex int
	Address node.Address
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("op %d at %s: %s: %v", e.OpIndex, e.Address, e.Kind, e.Err)
	}
	return fmt.Sprintf("op %d at %s: %s", e.OpIndex, e.Address, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Apply applies the patch's operations to the tree in order. On failure the
// returned *Error identifies the failing operation; earlier operations
// remain applied. Callers needing whole-patch atomicity clone first and
// discard on error.
func Apply(root *node.Node, p Patch) error {
	for i, op := range p.Ops {
		if err := applyOp(root, op); err != nil {
			return opError(i, op, err)
		}
	}
	return nil
}

func opError(i int, op Operation, err error) *Error {
	addr := op.Address
	if op.Type == OpMove {
		addr = op.From
	}
	kind := KindInvalidOperation
	var addrErr *node.AddressError
	switch {
	case errors.As(err, &addrErr):
		kind = KindAddress
	case errors.Is(err, errSchema):
		kind = KindSchemaViolation
	}
	return &Error{Kind: kind, OpIndex: i, Address: addr, Err: err}
}

var errSchema = errors.New("schema violation")

func applyOp(root *node.Node, op Operation) error {
	switch op.Type {
	case OpAdd:
		if op.Value == nil {
			return fmt.Errorf("add without value")
		}
		if err := checkSchema(root, op.Address, *op.Value); err != nil {
			return err
		}
		return node.Insert(root, op.Address, op.Value.Clone())
	case OpRemove:
		return node.Remove(root, op.Address)
	case OpReplace:
		if op.Value == nil {
			return fmt.Errorf("replace without value")
		}
		if err := checkSchema(root, op.Address, *op.Value); err != nil {
			return err
		}
		return node.Replace(root, op.Address, op.Value.Clone())
	case OpMove:
		return applyMove(root, op)
	case OpTransform:
		return applyTransform(root, op)
	}
	return fmt.Errorf("unknown operation type %q", op.Type)
}

// applyMove moves an array element. Both addresses must point into the
// same parent array. The move is remove-then-insert: To is interpreted
// against the array state after the removal, so moving element 0 to
// position 2 of a 3-element array lands it at index 2 of the remaining
// 2-element array, i.e. at the end.
func applyMove(root *node.Node, op Operation) error {
	if len(op.From) == 0 || len(op.To) == 0 {
		return fmt.Errorf("move requires non-root from and to addresses")
	}
	fromParent := op.From[:len(op.From)-1]
	toParent := op.To[:len(op.To)-1]
	if !fromParent.Equal(toParent) {
		return fmt.Errorf("move endpoints must share a parent: %s vs %s", op.From, op.To)
	}
	if !op.From[len(op.From)-1].IsIndex() || !op.To[len(op.To)-1].IsIndex() {
		return fmt.Errorf("move endpoints must be array indices")
	}
	parent, err := node.Resolve(root, fromParent)
	if err != nil {
		return err
	}
	if parent.Kind() != node.KindArray {
		return fmt.Errorf("move parent %s is not an array", fromParent)
	}
	src, err := node.Resolve(root, op.From)
	if err != nil {
		return err
	}
	moved := *src
	if err := node.Remove(root, op.From); err != nil {
		return err
	}
	return node.Insert(root, op.To, moved)
}

// applyTransform coerces the addressed node's type in place. Supported
// coercions: object type retag (properties unknown to the target schema
// are dropped), string to typed object (into the target's primary string
// property), and typed object to string (from its primary string
// property).
func applyTransform(root *node.Node, op Operation) error {
	target, err := node.Resolve(root, op.Address)
	if err != nil {
		return err
	}
	switch {
	case target.Kind() == node.KindString:
		if op.FromType != "String" {
			return fmt.Errorf("transform from %q but node is a string", op.FromType)
		}
		prop := schema.PrimaryString(op.ToType)
		if prop == "" {
			return fmt.Errorf("type %q has no primary string property", op.ToType)
		}
		*target = node.Obj(op.ToType, map[string]node.Node{prop: *target})
		return nil
	case target.Kind() == node.KindObject:
		if target.Type() != op.FromType {
			return fmt.Errorf("transform from %q but node is %q", op.FromType, target.Type())
		}
		if op.ToType == "String" {
			prop := schema.PrimaryString(op.FromType)
			if prop == "" {
				return fmt.Errorf("type %q has no primary string property", op.FromType)
			}
			v, ok := target.Prop(prop)
			if !ok || v.Kind() != node.KindString {
				return fmt.Errorf("node has no string property %q", prop)
			}
			*target = v
			return nil
		}
		props := make(map[string]node.Node)
		for _, name := range target.PropNames() {
			if schema.Has(op.ToType) && schema.PropertyOf(op.ToType, name) == nil {
				continue
			}
			v, _ := target.Prop(name)
			props[name] = v
		}
		retagged := node.Obj(op.ToType, props)
		if target.ID() != "" {
			retagged = node.ObjWithID(op.ToType, target.ID(), props)
		}
		*target = retagged
		return nil
	}
	return fmt.Errorf("transform target %s is neither string nor object", op.Address)
}

// checkSchema validates a value against the schema-declared kind of the
// property it is being written into. Only addresses whose parent is a
// typed object with a known schema are checked; everything else passes.
func checkSchema(root *node.Node, addr node.Address, v node.Node) error {
	if len(addr) == 0 {
		return nil
	}
	last := addr[len(addr)-1]
	if last.IsIndex() {
		return nil
	}
	parent, err := node.Resolve(root, addr[:len(addr)-1])
	if err != nil {
		// Resolution errors surface from the mutation itself.
		return nil
	}
	if parent.Kind() != node.KindObject {
		return nil
	}
	prop := schema.PropertyOf(parent.Type(), last.Name())
	if prop == nil {
		return nil
	}
	if !kindAllowed(prop.Kind, v.Kind()) {
		return fmt.Errorf("%w: property %q of %s requires %s, got %s",
			errSchema, last.Name(), parent.Type(), prop.Kind, v.Kind())
	}
	return nil
}

func kindAllowed(declared schema.ValueKind, actual node.Kind) bool {
	switch declared {
	case schema.KindAny:
		return true
	case schema.KindScalar:
		return actual == node.KindNull || actual == node.KindBool ||
			actual == node.KindInteger || actual == node.KindNumber
	case schema.KindString:
		return actual == node.KindString
	case schema.KindVector:
		return actual == node.KindArray
	case schema.KindObject:
		return actual == node.KindObject
	}
	return true
}
