package node

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Slot is one step in an Address: either a property name (object
// navigation) or a non-negative index (array or string navigation).
type Slot struct {
	name  string
	index int
}

// Prop returns a property-name slot.
func Prop(name string) Slot {
	return Slot{name: name, index: -1}
}

// Idx returns an index slot.
func Idx(i int) Slot {
	return Slot{index: i}
}

// IsIndex reports whether the slot is an index slot.
func (s Slot) IsIndex() bool { return s.index >= 0 }

// Name returns the property name. Valid only for name slots.
func (s Slot) Name() string { return s.name }

// Index returns the index. Valid only for index slots.
func (s Slot) Index() int { return s.index }

func (s Slot) String() string {
	if s.IsIndex() {
		return fmt.Sprintf("%d", s.index)
	}
	return s.name
}

// Address locates one sub-node within a tree. The empty address denotes
// the root.
type Address []Slot

// Addr builds an address from a mix of string (property) and int (index)
// slots. It panics on other slot types; addresses from external input go
// through UnmarshalJSON instead.
func Addr(slots ...interface{}) Address {
	addr := make(Address, 0, len(slots))
	for _, s := range slots {
		switch v := s.(type) {
		case string:
			addr = append(addr, Prop(v))
		case int:
			addr = append(addr, Idx(v))
		case Slot:
			addr = append(addr, v)
		default:
			panic(fmt.Sprintf("address slot must be string or int, got %T", s))
		}
	}
	return addr
}

// Append returns a new address extended with the given slot. The receiver
// is not modified and the result does not alias its storage.
func (a Address) Append(s Slot) Address {
	out := make(Address, len(a)+1)
	copy(out, a)
	out[len(a)] = s
	return out
}

// Equal reports slot-by-slot equality.
func (a Address) Equal(b Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether a is a (possibly equal) prefix of b, i.e.
// whether a addresses an ancestor of, or the same node as, b.
func (a Address) IsPrefixOf(b Address) bool {
	if len(a) > len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a Address) String() string {
	if len(a) == 0 {
		return "/"
	}
	parts := make([]string, len(a))
	for i, s := range a {
		parts[i] = s.String()
	}
	return "/" + strings.Join(parts, "/")
}

// MarshalJSON serializes the address as a mixed array of strings and
// integers, the wire form used by the patch transport.
func (a Address) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, len(a))
	for i, s := range a {
		if s.IsIndex() {
			out[i] = s.index
		} else {
			out[i] = s.name
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the mixed array wire form.
func (a *Address) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	addr := make(Address, 0, len(raw))
	for i, v := range raw {
		switch s := v.(type) {
		case string:
			addr = append(addr, Prop(s))
		case float64:
			if s != float64(int(s)) || s < 0 {
				return fmt.Errorf("address slot %d: index must be a non-negative integer, got %v", i, s)
			}
			addr = append(addr, Idx(int(s)))
		default:
			return fmt.Errorf("address slot %d: must be string or integer, got %T", i, v)
		}
	}
	*a = addr
	return nil
}

// AddressErrorKind classifies address resolution failures.
type AddressErrorKind string

const (
	// NotFound means a property or index was absent.
	NotFound AddressErrorKind = "NotFound"
	// TypeMismatch means a slot kind disagreed with the node kind
	// encountered, e.g. indexing into a non-array.
	TypeMismatch AddressErrorKind = "TypeMismatch"
)

// AddressError reports a failed address resolution.
type AddressError struct {
	Kind    AddressErrorKind
	Address Address
	// Slot is the index of the failing slot within Address.
	Slot int
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s at slot %d of %s", e.Kind, e.Slot, e.Address)
}

func notFound(addr Address, slot int) *AddressError {
	return &AddressError{Kind: NotFound, Address: addr, Slot: slot}
}

func typeMismatch(addr Address, slot int) *AddressError {
	return &AddressError{Kind: TypeMismatch, Address: addr, Slot: slot}
}
