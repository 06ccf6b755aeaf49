package patch

import (
	"errors"
	"testing"

	"weave/internal/node"
)

func para(text string) node.Node {
	return node.Obj("Paragraph", map[string]node.Node{
		"content": node.Arr(node.Str(text)),
	})
}

func article(blocks ...node.Node) node.Node {
	return node.Obj("Article", map[string]node.Node{"content": node.Arr(blocks...)})
}

func textAt(t *testing.T, root node.Node, addr node.Address) string {
	t.Helper()
	got, err := node.Resolve(&root, addr)
	if err != nil {
		t.Fatalf("Resolve %s: %v", addr, err)
	}
	return got.Str()
}

func TestAddIntoArray(t *testing.T) {
	root := article(para("a"), para("c"))
	p := Patch{Ops: []Operation{
		Add(node.Addr("content", 1), para("b")),
		Add(node.Addr("content", 3), para("d")),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	content, _ := root.Prop("content")
	if content.Len() != 4 {
		t.Fatalf("length = %d, want 4", content.Len())
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if got := textAt(t, root, node.Addr("content", i, "content", 0)); got != want {
			t.Errorf("element %d = %q, want %q", i, got, want)
		}
	}
}

func TestRemoveShiftsSiblings(t *testing.T) {
	root := article(para("a"), para("b"), para("c"))
	// Two removals at the same index take out a then b, since the
	// second resolves against the already-shifted array.
	p := Patch{Ops: []Operation{
		Remove(node.Addr("content", 0)),
		Remove(node.Addr("content", 0)),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	content, _ := root.Prop("content")
	if content.Len() != 1 {
		t.Fatalf("length = %d, want 1", content.Len())
	}
	if got := textAt(t, root, node.Addr("content", 0, "content", 0)); got != "c" {
		t.Errorf("remaining element = %q, want c", got)
	}
}

func TestReplaceWholeRoot(t *testing.T) {
	root := para("old")
	p := Patch{Ops: []Operation{Replace(node.Address{}, node.Str("new"))}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if root.Kind() != node.KindString || root.Str() != "new" {
		t.Errorf("root = %v, want the string new", root)
	}
}

func TestMoveWithinArray(t *testing.T) {
	root := article(para("a"), para("b"), para("c"))
	// To is resolved after the removal, so 2 means the end of the
	// remaining two elements.
	p := Patch{Ops: []Operation{
		Move(node.Addr("content", 0), node.Addr("content", 2)),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i, want := range []string{"b", "c", "a"} {
		if got := textAt(t, root, node.Addr("content", i, "content", 0)); got != want {
			t.Errorf("element %d = %q, want %q", i, got, want)
		}
	}
}

func TestMoveAcrossParentsIsRejected(t *testing.T) {
	root := article(
		node.Obj("Article", map[string]node.Node{"content": node.Arr(para("a"))}),
		node.Obj("Article", map[string]node.Node{"content": node.Arr()}),
	)
	p := Patch{Ops: []Operation{
		Move(node.Addr("content", 0, "content", 0), node.Addr("content", 1, "content", 0)),
	}}
	err := Apply(&root, p)
	if err == nil {
		t.Fatal("cross-parent move succeeded")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindInvalidOperation {
		t.Errorf("error = %v, want InvalidOperation", err)
	}
}

func TestTransformStringToObjectAndBack(t *testing.T) {
	root := article(para("plain"))

	p := Patch{Ops: []Operation{
		Transform(node.Addr("content", 0, "content", 0), "String", "CodeFragment"),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply to object: %v", err)
	}
	got, err := node.Resolve(&root, node.Addr("content", 0, "content", 0))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type() != "CodeFragment" {
		t.Fatalf("transformed node is %q, want CodeFragment", got.Type())
	}
	if text, ok := got.Prop("text"); !ok || text.Str() != "plain" {
		t.Errorf("text property = %v, want plain", text)
	}

	back := Patch{Ops: []Operation{
		Transform(node.Addr("content", 0, "content", 0), "CodeFragment", "String"),
	}}
	if err := Apply(&root, back); err != nil {
		t.Fatalf("Apply to string: %v", err)
	}
	if s := textAt(t, root, node.Addr("content", 0, "content", 0)); s != "plain" {
		t.Errorf("round-tripped string = %q, want plain", s)
	}
}

func TestTransformRetagsObject(t *testing.T) {
	root := article(node.ObjWithID("Paragraph", "p1", map[string]node.Node{
		"content": node.Arr(node.Str("title")),
	}))
	p := Patch{Ops: []Operation{
		Transform(node.Addr("content", 0), "Paragraph", "Heading"),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := node.Resolve(&root, node.Addr("content", 0))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type() != "Heading" {
		t.Errorf("type = %q, want Heading", got.Type())
	}
	if got.ID() != "p1" {
		t.Errorf("id = %q, want p1", got.ID())
	}
	if _, ok := got.Prop("content"); !ok {
		t.Error("shared property content was dropped")
	}
}

func TestFailureReportsOpIndexAndKeepsPrefix(t *testing.T) {
	root := article(para("a"))
	p := Patch{Ops: []Operation{
		Add(node.Addr("content", 1), para("b")),
		Remove(node.Addr("content", 9)),
	}}
	err := Apply(&root, p)
	if err == nil {
		t.Fatal("Apply succeeded past a bad address")
	}
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *Error", err)
	}
	if pe.Kind != KindAddress || pe.OpIndex != 1 {
		t.Errorf("error = %+v, want AddressError at op 1", pe)
	}
	// The first operation stays applied.
	content, _ := root.Prop("content")
	if content.Len() != 2 {
		t.Errorf("length after partial apply = %d, want 2", content.Len())
	}
}

func TestSchemaViolation(t *testing.T) {
	root := node.Obj("CodeChunk", map[string]node.Node{
		"programmingLanguage": node.Str("python"),
		"text":                node.Str("x = 1"),
	})
	p := Patch{Ops: []Operation{
		Replace(node.Addr("text"), node.Int(3)),
	}}
	err := Apply(&root, p)
	if err == nil {
		t.Fatal("integer accepted for a string property")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindSchemaViolation {
		t.Errorf("error = %v, want SchemaViolation", err)
	}
}

func TestStringOperations(t *testing.T) {
	root := para("Hello")
	p := Patch{Ops: []Operation{
		Add(node.Addr("content", 0, 5), node.Str(" world")),
		Remove(node.Addr("content", 0, 0)),
		Add(node.Addr("content", 0, 0), node.Str("Y")),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := textAt(t, root, node.Addr("content", 0)); got != "Yello world" {
		t.Errorf("string = %q, want Yello world", got)
	}
}

func TestReplaceIsIdempotent(t *testing.T) {
	op := Replace(node.Addr("content", 0, "content", 0), node.Str("Hi"))

	once := article(para("a"))
	if err := Apply(&once, Patch{Ops: []Operation{op}}); err != nil {
		t.Fatalf("Apply once: %v", err)
	}
	twice := article(para("a"))
	if err := Apply(&twice, Patch{Ops: []Operation{op, op}}); err != nil {
		t.Fatalf("Apply twice: %v", err)
	}
	if !node.Equal(once, twice) {
		t.Errorf("double Replace diverged:\n once:  %s\n twice: %s", once, twice)
	}
}

func TestSiblingEditsDoNotDisturbEachOther(t *testing.T) {
	root := article(para("a"), para("b"))
	// An edit under content[0] leaves content[1] resolving to the same
	// node as before.
	before, err := node.Resolve(&root, node.Addr("content", 1))
	if err != nil {
		t.Fatalf("Resolve before: %v", err)
	}
	want := before.Clone()

	p := Patch{Ops: []Operation{
		Replace(node.Addr("content", 0, "content", 0), node.Str("changed")),
		Replace(node.Addr("content", 1, "content", 0), node.Str("b")),
	}}
	if err := Apply(&root, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	after, err := node.Resolve(&root, node.Addr("content", 1))
	if err != nil {
		t.Fatalf("Resolve after: %v", err)
	}
	if !node.Equal(*after, want) {
		t.Errorf("sibling drifted: %s, want %s", after, want)
	}
}

func TestMergeConcatenates(t *testing.T) {
	a := Patch{Target: "p1", Ops: []Operation{Remove(node.Addr("content", 0))}}
	b := Patch{Ops: []Operation{Add(node.Addr("content", 0), node.Str("x"))}}
	merged := Merge(a, b)
	if merged.Target != "p1" {
		t.Errorf("Target = %q, want p1", merged.Target)
	}
	if len(merged.Ops) != 2 || merged.Ops[0].Type != OpRemove || merged.Ops[1].Type != OpAdd {
		t.Errorf("Ops = %v", merged.Ops)
	}
}

func TestPatchJSONRoundTrip(t *testing.T) {
	p := Patch{Ops: []Operation{
		Add(node.Addr("content", 1), para("b")),
		Move(node.Addr("content", 0), node.Addr("content", 1)),
		Transform(node.Addr("content", 1), "Paragraph", "Heading"),
	}}
	data, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(back.Ops) != len(p.Ops) {
		t.Fatalf("round trip changed op count: %d != %d", len(back.Ops), len(p.Ops))
	}
	for i := range p.Ops {
		if back.Ops[i].Type != p.Ops[i].Type {
			t.Errorf("op %d type = %s, want %s", i, back.Ops[i].Type, p.Ops[i].Type)
		}
	}
	if !back.Ops[1].From.Equal(p.Ops[1].From) || !back.Ops[1].To.Equal(p.Ops[1].To) {
		t.Errorf("move addresses changed: %v", back.Ops[1])
	}

	root := article(para("a"))
	if err := Apply(&root, back); err != nil {
		t.Fatalf("Apply decoded patch: %v", err)
	}
}
