// Package schema provides the static node type registry: for each document
// node type, the ordered list of properties and their declared value kinds.
// The tables are generated-style data; nothing here is computed at runtime.
package schema

// ValueKind classifies what a property may hold.
type ValueKind string

const (
	KindScalar ValueKind = "scalar" // null, boolean, integer, number
	KindString ValueKind = "string"
	KindVector ValueKind = "vector"
	KindObject ValueKind = "object"
	KindAny    ValueKind = "any"
)

// Property describes one property of a node type.
type Property struct {
	Name     string
	Kind     ValueKind
	Required bool
}

// Type describes a node type: its name and ordered property list.
type Type struct {
	Name       string
	Properties []Property
}

// registry maps type names to their definitions. Property order here fixes
// the iteration order used by the diff engine, so it must stay stable.
var registry = map[string]*Type{
	"Article": {
		Name: "Article",
		Properties: []Property{
			{Name: "title", Kind: KindString},
			{Name: "authors", Kind: KindVector},
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"Paragraph": {
		Name: "Paragraph",
		Properties: []Property{
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"Heading": {
		Name: "Heading",
		Properties: []Property{
			{Name: "depth", Kind: KindScalar, Required: true},
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"Emphasis": {
		Name: "Emphasis",
		Properties: []Property{
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"Strong": {
		Name: "Strong",
		Properties: []Property{
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"Link": {
		Name: "Link",
		Properties: []Property{
			{Name: "target", Kind: KindString, Required: true},
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"List": {
		Name: "List",
		Properties: []Property{
			{Name: "order", Kind: KindString},
			{Name: "items", Kind: KindVector, Required: true},
		},
	},
	"ListItem": {
		Name: "ListItem",
		Properties: []Property{
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"CodeBlock": {
		Name: "CodeBlock",
		Properties: []Property{
			{Name: "programmingLanguage", Kind: KindString},
			{Name: "text", Kind: KindString, Required: true},
		},
	},
	"CodeFragment": {
		Name: "CodeFragment",
		Properties: []Property{
			{Name: "programmingLanguage", Kind: KindString},
			{Name: "text", Kind: KindString, Required: true},
		},
	},
	"CodeChunk": {
		Name: "CodeChunk",
		Properties: []Property{
			{Name: "programmingLanguage", Kind: KindString, Required: true},
			{Name: "text", Kind: KindString, Required: true},
			{Name: "outputs", Kind: KindVector},
			{Name: "errors", Kind: KindVector},
			{Name: "executeStatus", Kind: KindString},
			{Name: "executeDigest", Kind: KindString},
		},
	},
	"CodeExpression": {
		Name: "CodeExpression",
		Properties: []Property{
			{Name: "programmingLanguage", Kind: KindString, Required: true},
			{Name: "text", Kind: KindString, Required: true},
			{Name: "output", Kind: KindAny},
			{Name: "errors", Kind: KindVector},
			{Name: "executeStatus", Kind: KindString},
			{Name: "executeDigest", Kind: KindString},
		},
	},
	"CodeError": {
		Name: "CodeError",
		Properties: []Property{
			{Name: "errorType", Kind: KindString},
			{Name: "errorMessage", Kind: KindString, Required: true},
		},
	},
	"QuoteBlock": {
		Name: "QuoteBlock",
		Properties: []Property{
			{Name: "content", Kind: KindVector, Required: true},
		},
	},
	"ThematicBreak": {
		Name:       "ThematicBreak",
		Properties: []Property{},
	},
}

// Lookup returns the type definition for a name, or nil for unknown types.
func Lookup(name string) *Type {
	return registry[name]
}

// Has reports whether the registry knows the given type name.
func Has(name string) bool {
	_, ok := registry[name]
	return ok
}

// PropertyOf returns the property definition for a type's property, or nil
// if the type or property is unknown.
func PropertyOf(typeName, propName string) *Property {
	t := registry[typeName]
	if t == nil {
		return nil
	}
	for i := range t.Properties {
		if t.Properties[i].Name == propName {
			return &t.Properties[i]
		}
	}
	return nil
}

// PropertyOrder returns the declared property names of a type in order.
// Unknown types return nil; callers fall back to sorted property names so
// diffs stay deterministic either way.
func PropertyOrder(typeName string) []string {
	t := registry[typeName]
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Properties))
	for i, p := range t.Properties {
		names[i] = p.Name
	}
	return names
}

// PrimaryString returns the name of the first required string property of a
// type, used when coercing a plain string into a typed node. Empty when the
// type has none.
func PrimaryString(typeName string) string {
	t := registry[typeName]
	if t == nil {
		return ""
	}
	for _, p := range t.Properties {
		if p.Kind == KindString && p.Required {
			return p.Name
		}
	}
	return ""
}

// Executable reports whether nodes of this type carry executable code.
func Executable(typeName string) bool {
	return typeName == "CodeChunk" || typeName == "CodeExpression"
}
