package diff

import (
	"testing"

	"weave/internal/node"
	"weave/internal/patch"
)

func para(id, text string) node.Node {
	props := map[string]node.Node{"content": node.Arr(node.Str(text))}
	if id == "" {
		return node.Obj("Paragraph", props)
	}
	return node.ObjWithID("Paragraph", id, props)
}

func article(blocks ...node.Node) node.Node {
	return node.Obj("Article", map[string]node.Node{"content": node.Arr(blocks...)})
}

// applyTo applies the diff of old and new to a copy of old and fails the
// test unless the result equals new.
func applyTo(t *testing.T, old, new node.Node) patch.Patch {
	t.Helper()
	p := Diff(old, new)
	got := old.Clone()
	if err := patch.Apply(&got, p); err != nil {
		t.Fatalf("applying diff: %v\npatch: %v", err, p.Ops)
	}
	if !node.Equal(got, new) {
		t.Fatalf("diff then apply did not reproduce the target\npatch: %v\ngot:  %s\nwant: %s", p.Ops, got, new)
	}
	return p
}

func TestDiffIdenticalTreesIsEmpty(t *testing.T) {
	doc := article(para("p1", "Hello"), para("p2", "World"))
	if p := Diff(doc, doc.Clone()); !p.IsEmpty() {
		t.Errorf("identical trees produced ops: %v", p.Ops)
	}
}

func TestDiffRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		old, new node.Node
	}{
		{"scalar change", node.Int(1), node.Int(2)},
		{"kind change", node.Int(1), node.Str("one")},
		{"string edit", para("p1", "Hello"), para("p1", "Hello world")},
		{"string emoji insert", para("p1", "hi there"), para("p1", "hi \U0001F44B there")},
		{
			"vector insert and remove",
			article(para("a", "a"), para("b", "b"), para("c", "c")),
			article(para("a", "a"), para("d", "d"), para("c", "c")),
		},
		{
			"vector reorder with edits",
			article(para("a", "one"), para("b", "two"), para("c", "three")),
			article(para("c", "three!"), para("a", "one"), para("b", "two")),
		},
		{
			"property add and remove",
			node.Obj("Article", map[string]node.Node{"title": node.Str("T"), "content": node.Arr()}),
			node.Obj("Article", map[string]node.Node{"authors": node.Arr(node.Str("A")), "content": node.Arr()}),
		},
		{
			"nested block change",
			article(para("p1", "Hello")),
			article(node.Obj("QuoteBlock", map[string]node.Node{"content": node.Arr(para("p1", "Hello"))})),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyTo(t, tt.old, tt.new)
		})
	}
}

func TestScalarChangeIsOneReplace(t *testing.T) {
	p := applyTo(t, node.Bool(false), node.Bool(true))
	if len(p.Ops) != 1 || p.Ops[0].Type != patch.OpReplace {
		t.Errorf("ops = %v, want one Replace", p.Ops)
	}
}

func TestStringAppendIsOneAdd(t *testing.T) {
	p := applyTo(t, node.Str("Hello"), node.Str("Hello world"))
	if len(p.Ops) != 1 {
		t.Fatalf("ops = %v, want one Add", p.Ops)
	}
	op := p.Ops[0]
	if op.Type != patch.OpAdd || op.Value.Str() != " world" {
		t.Errorf("op = %v, want Add of \" world\"", op)
	}
	if len(op.Address) != 1 || op.Address[0].Index() != 5 {
		t.Errorf("address = %s, want [5]", op.Address)
	}
}

func TestStringDeleteIsRepeatedRemoves(t *testing.T) {
	p := applyTo(t, node.Str("abXYc"), node.Str("abc"))
	if len(p.Ops) != 2 {
		t.Fatalf("ops = %v, want two Removes", p.Ops)
	}
	for _, op := range p.Ops {
		if op.Type != patch.OpRemove {
			t.Errorf("op = %v, want Remove", op)
		}
		if len(op.Address) != 1 || op.Address[0].Index() != 2 {
			t.Errorf("address = %s, want [2]", op.Address)
		}
	}
}

func TestVectorReorderIsOneMove(t *testing.T) {
	old := article(para("a", "one"), para("b", "two"), para("c", "three"))
	new := article(para("b", "two"), para("c", "three"), para("a", "one"))
	p := applyTo(t, old, new)
	if len(p.Ops) != 1 {
		t.Fatalf("ops = %v, want one Move", p.Ops)
	}
	op := p.Ops[0]
	if op.Type != patch.OpMove {
		t.Fatalf("op = %v, want Move", op)
	}
	if op.From[len(op.From)-1].Index() != 0 || op.To[len(op.To)-1].Index() != 2 {
		t.Errorf("move = %s -> %s, want 0 -> 2", op.From, op.To)
	}
}

func TestVectorAppendIsOneAdd(t *testing.T) {
	old := node.Obj("Paragraph", map[string]node.Node{
		"content": node.Arr(node.Str("Hello")),
	})
	new := node.Obj("Paragraph", map[string]node.Node{
		"content": node.Arr(node.Str("Hello"), node.Str(" world")),
	})
	p := applyTo(t, old, new)
	if len(p.Ops) != 1 {
		t.Fatalf("ops = %v, want one Add", p.Ops)
	}
	op := p.Ops[0]
	if op.Type != patch.OpAdd || op.Value.Str() != " world" {
		t.Errorf("op = %v, want Add of \" world\"", op)
	}
	want := node.Addr("content", 1)
	if !op.Address.Equal(want) {
		t.Errorf("address = %s, want %s", op.Address, want)
	}
}

func TestTypeChangeReplacesWholeNode(t *testing.T) {
	old := article(para("p1", "Hello"))
	new := article(node.ObjWithID("Heading", "p1", map[string]node.Node{
		"depth":   node.Int(1),
		"content": node.Arr(node.Str("Hello")),
	}))
	p := applyTo(t, old, new)
	if len(p.Ops) != 1 {
		t.Fatalf("ops = %v, want one Replace", p.Ops)
	}
	op := p.Ops[0]
	if op.Type != patch.OpReplace || op.Value == nil || op.Value.Type() != "Heading" {
		t.Fatalf("op = %v, want Replace with a Heading", op)
	}
	if want := node.Addr("content", 0); !op.Address.Equal(want) {
		t.Errorf("address = %s, want %s", op.Address, want)
	}
}

func TestIDChangeReplacesWholeNode(t *testing.T) {
	p := applyTo(t, para("a", "same text"), para("b", "same text"))
	if len(p.Ops) != 1 || p.Ops[0].Type != patch.OpReplace {
		t.Errorf("ops = %v, want one whole-node Replace", p.Ops)
	}
}

func TestStringOverBudgetFallsBackToReplace(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxStringOps = 2

	old := node.Str("abcdefgh")
	new := node.Str("azczezgz")
	p := DiffWith(old, new, opts)
	if len(p.Ops) != 1 || p.Ops[0].Type != patch.OpReplace {
		t.Fatalf("ops = %v, want one Replace", p.Ops)
	}
	got := old.Clone()
	if err := patch.Apply(&got, p); err != nil {
		t.Fatalf("applying fallback: %v", err)
	}
	if !node.Equal(got, new) {
		t.Errorf("fallback did not reproduce the target")
	}

	opts = DefaultOptions()
	opts.MaxStringGraphemes = 4
	p = DiffWith(node.Str("abcdef"), node.Str("abcxef"), opts)
	if len(p.Ops) != 1 || p.Ops[0].Type != patch.OpReplace {
		t.Errorf("oversized string ops = %v, want one Replace", p.Ops)
	}
}

func TestVectorOverBudgetFallsBackToReplace(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxVectorProduct = 4

	old := node.Arr(node.Int(1), node.Int(2), node.Int(3))
	new := node.Arr(node.Int(3), node.Int(2), node.Int(1))
	p := DiffWith(old, new, opts)
	if len(p.Ops) != 1 || p.Ops[0].Type != patch.OpReplace {
		t.Fatalf("ops = %v, want one Replace", p.Ops)
	}
	got := old.Clone()
	if err := patch.Apply(&got, p); err != nil {
		t.Fatalf("applying fallback: %v", err)
	}
	if !node.Equal(got, new) {
		t.Errorf("fallback did not reproduce the target")
	}
}

func TestMatchedElementsDiffInPlace(t *testing.T) {
	old := article(para("a", "one"), para("b", "two"))
	new := article(para("a", "one"), para("b", "two!"))
	p := applyTo(t, old, new)
	for _, op := range p.Ops {
		if op.Type == patch.OpReplace && op.Value != nil && op.Value.Kind() == node.KindObject {
			t.Errorf("edit inside a matched element replaced the whole node: %v", op)
		}
	}
}
