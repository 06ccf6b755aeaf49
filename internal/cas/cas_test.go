package cas

import (
	"testing"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1, "c": []interface{}{map[string]interface{}{"y": 0, "x": 0}}}
	got, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"a":1,"b":2,"c":[{"x":0,"y":0}]}`
	if string(got) != want {
		t.Errorf("CanonicalJSON = %s, want %s", got, want)
	}
}

func TestCanonicalJSONIsStable(t *testing.T) {
	type payload struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
	v := payload{Name: "n", Items: []string{"a", "b"}}
	first, err := CanonicalJSON(v)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CanonicalJSON(v)
		if err != nil {
			t.Fatalf("CanonicalJSON: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("run %d differs: %s vs %s", i, again, first)
		}
	}
}

func TestHashHex(t *testing.T) {
	a := HashHex([]byte("hello"))
	b := HashHex([]byte("hello"))
	c := HashHex([]byte("hello!"))
	if a != b {
		t.Error("same input hashed differently")
	}
	if a == c {
		t.Error("different inputs collided")
	}
	if len(a) != 64 {
		t.Errorf("hex digest length = %d, want 64", len(a))
	}
}

func TestSemanticDigestIgnoresFormatting(t *testing.T) {
	base := SemanticDigest("x = 1\ny = x + 1")
	tests := []struct {
		name string
		code string
		same bool
	}{
		{"identical", "x = 1\ny = x + 1", true},
		{"extra spaces", "x  =  1\n  y = x  +  1", true},
		{"blank lines", "x = 1\n\n\ny = x + 1\n", true},
		{"hash comment", "x = 1  # init\ny = x + 1", true},
		{"slash comment", "x = 1  // init\ny = x + 1", true},
		{"real change", "x = 2\ny = x + 1", false},
		{"statement added", "x = 1\ny = x + 1\nz = 3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SemanticDigest(tt.code)
			if (got == base) != tt.same {
				t.Errorf("SemanticDigest(%q) same=%v, want %v", tt.code, got == base, tt.same)
			}
		})
	}
}

func TestNodeIDDependsOnKindAndPayload(t *testing.T) {
	p := map[string]interface{}{"a": 1}
	id1, err := NodeIDHex("snapshot", p)
	if err != nil {
		t.Fatalf("NodeIDHex: %v", err)
	}
	id2, err := NodeIDHex("patch", p)
	if err != nil {
		t.Fatalf("NodeIDHex: %v", err)
	}
	if id1 == id2 {
		t.Error("different kinds produced the same id")
	}
	id3, err := NodeIDHex("snapshot", map[string]interface{}{"a": 2})
	if err != nil {
		t.Fatalf("NodeIDHex: %v", err)
	}
	if id1 == id3 {
		t.Error("different payloads produced the same id")
	}
	again, err := NodeIDHex("snapshot", p)
	if err != nil {
		t.Fatalf("NodeIDHex: %v", err)
	}
	if id1 != again {
		t.Error("same input produced different ids")
	}
}
