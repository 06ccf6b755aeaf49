package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"weave/internal/node"
	"weave/internal/patch"
)

// diffString computes grapheme-level edits between two strings. The Myers
// diff runs over placeholder runes, one per distinct grapheme cluster, so
// multi-byte clusters are never split. Oversized inputs and edit scripts
// that blow the operation budget collapse to a single Replace of the whole
// string value.
func (d *differ) diffString(old, new string, addr node.Address) []patch.Operation {
	wholeReplace := []patch.Operation{patch.Replace(addr, node.Str(new))}

	oldG := node.Graphemes(old)
	newG := node.Graphemes(new)
	if max := d.opts.MaxStringGraphemes; max > 0 && (len(oldG) > max || len(newG) > max) {
		return wholeReplace
	}

	oldRunes, newRunes, table := graphemesToRunes(oldG, newG)
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = d.opts.StringTimeout
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)

	var ops []patch.Operation
	pos := 0 // grapheme offset into the string as patched so far
	for _, df := range diffs {
		runes := []rune(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			pos += len(runes)
		case diffmatchpatch.DiffDelete:
			// Removing at a fixed offset repeatedly consumes the run.
			for range runes {
				ops = append(ops, patch.Remove(addr.Append(node.Idx(pos))))
			}
		case diffmatchpatch.DiffInsert:
			var text string
			for _, r := range runes {
				text += table[r]
			}
			ops = append(ops, patch.Add(addr.Append(node.Idx(pos)), node.Str(text)))
			pos += len(runes)
		}
		if max := d.opts.MaxStringOps; max > 0 && len(ops) > max {
			return wholeReplace
		}
	}
	return ops
}

// graphemesToRunes assigns each distinct grapheme cluster a private
// placeholder rune and encodes both inputs with it. The reverse table maps
// placeholders back to cluster text. Placeholders start at 1 and stay well
// below the surrogate range given the grapheme budget.
func graphemesToRunes(old, new []string) ([]rune, []rune, map[rune]string) {
	codes := make(map[string]rune)
	table := make(map[rune]string)
	next := rune(1)
	encode := func(gs []string) []rune {
		out := make([]rune, len(gs))
		for i, g := range gs {
			code, ok := codes[g]
			if !ok {
				code = next
				next++
				codes[g] = code
				table[code] = g
			}
			out[i] = code
		}
		return out
	}
	return encode(old), encode(new), table
}
