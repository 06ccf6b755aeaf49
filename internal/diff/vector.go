package diff

import (
	"sort"

	"weave/internal/node"
	"weave/internal/patch"
)

// diffVector aligns two element sequences and emits Remove, Move, Add and
// nested operations, in that order, each addressed against the array as
// mutated by the operations before it.
//
// Alignment: a longest common subsequence over alignable pairs (deep
// equality, or same type and equal non-empty stable id) anchors elements
// in place. Unanchored elements present on both sides pair up as Moves;
// Move is always preferred over a Remove+Add pair when an alignment
// exists. Anchored or moved pairs that are alignable but not deeply equal
// recurse into nested diffs at their final index. Leftovers on both sides
// pair positionally and diff in place, which turns a changed type or kind
// into a whole-element Replace rather than a Remove+Add pair.
func (d *differ) diffVector(old, new []node.Node, addr node.Address) []patch.Operation {
	if max := d.opts.MaxVectorProduct; max > 0 && len(old)*len(new) > max {
		return []patch.Operation{patch.Replace(addr, node.Arr(new...).Clone())}
	}

	pairs := lcsPairs(old, new)
	oldMatch := make(map[int]int, len(pairs)) // old index -> new index
	newMatched := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		oldMatch[p.oldIdx] = p.newIdx
		newMatched[p.newIdx] = true
	}

	// Pair leftover elements as moves when alignable, in order.
	var freeNew []int
	for j := range new {
		if !newMatched[j] {
			freeNew = append(freeNew, j)
		}
	}
	var unpaired []int
	for i := range old {
		if _, ok := oldMatch[i]; ok {
			continue
		}
		moved := false
		for k, j := range freeNew {
			if j >= 0 && alignable(old[i], new[j]) {
				oldMatch[i] = j
				newMatched[j] = true
				freeNew[k] = -1
				moved = true
				break
			}
		}
		if !moved {
			unpaired = append(unpaired, i)
		}
	}

	// Remaining leftovers pair positionally: an element whose type or
	// kind changed in place becomes a Replace at its final index, never
	// a Remove+Add pair. Only truly surplus elements are removed.
	var removes []int
	for _, i := range unpaired {
		paired := false
		for k, j := range freeNew {
			if j >= 0 {
				oldMatch[i] = j
				newMatched[j] = true
				freeNew[k] = -1
				paired = true
				break
			}
		}
		if !paired {
			removes = append(removes, i)
		}
	}

	// work simulates the array as operations apply. Entries hold the
	// final (new) index of each surviving element, or -1 for removals
	// still pending.
	work := make([]int, len(old))
	for i := range old {
		if j, ok := oldMatch[i]; ok {
			work[i] = j
		} else {
			work[i] = -1
		}
	}

	var ops []patch.Operation

	// Removes first, lowest current position each time.
	for range removes {
		for pos, target := range work {
			if target == -1 {
				ops = append(ops, patch.Remove(addr.Append(node.Idx(pos))))
				work = append(work[:pos:pos], work[pos+1:]...)
				break
			}
		}
	}

	// Moves: elements outside the longest increasing run of final indices
	// relocate; the run itself stays put. To-indices follow the
	// remove-then-insert convention of the patch engine.
	stable := longestIncreasingRun(work)
	var moving []int // final indices of elements to move, ascending
	for pos, target := range work {
		if !stable[pos] {
			moving = append(moving, target)
		}
	}
	sort.Ints(moving)
	for _, target := range moving {
		from := indexOf(work, target)
		work = append(work[:from:from], work[from+1:]...)
		to := 0
		for _, t := range work {
			if t < target {
				to++
			}
		}
		ops = append(ops, patch.Move(addr.Append(node.Idx(from)), addr.Append(node.Idx(to))))
		work = append(work[:to], append([]int{target}, work[to:]...)...)
	}

	// Adds, ascending by final index.
	for j := range new {
		if newMatched[j] {
			continue
		}
		ops = append(ops, patch.Add(addr.Append(node.Idx(j)), new[j].Clone()))
		work = append(work[:j], append([]int{j}, work[j:]...)...)
	}

	// Nested diffs for matched-but-unequal pairs, at their final index,
	// in index order so output is deterministic.
	var nested []pair
	for i, j := range oldMatch {
		if !node.Equal(old[i], new[j]) {
			nested = append(nested, pair{oldIdx: i, newIdx: j})
		}
	}
	sort.Slice(nested, func(a, b int) bool { return nested[a].newIdx < nested[b].newIdx })
	for _, p := range nested {
		ops = append(ops, d.diffNode(old[p.oldIdx], new[p.newIdx], addr.Append(node.Idx(p.newIdx)))...)
	}
	return ops
}

// alignable reports whether two elements may anchor or move as a pair:
// deep equality, or typed objects of the same type sharing a non-empty
// stable id. A kind or type mismatch is never alignable, forcing a
// whole-element replacement via Remove+Add.
func alignable(a, b node.Node) bool {
	if node.Equal(a, b) {
		return true
	}
	return a.Kind() == node.KindObject && b.Kind() == node.KindObject &&
		a.Type() == b.Type() && a.ID() != "" && a.ID() == b.ID()
}

type pair struct {
	oldIdx, newIdx int
}

// lcsPairs returns a longest common subsequence of alignable element
// pairs, by classic dynamic programming.
func lcsPairs(old, new []node.Node) []pair {
	n, m := len(old), len(new)
	if n == 0 || m == 0 {
		return nil
	}
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if alignable(old[i], new[j]) {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}
	var pairs []pair
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case alignable(old[i], new[j]) && table[i][j] == table[i+1][j+1]+1:
			pairs = append(pairs, pair{oldIdx: i, newIdx: j})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}

// longestIncreasingRun marks the positions forming a longest strictly
// increasing subsequence of targets; everything else must move.
func longestIncreasingRun(targets []int) []bool {
	n := len(targets)
	stable := make([]bool, n)
	if n == 0 {
		return stable
	}
	length := make([]int, n)
	prev := make([]int, n)
	best := 0
	for i := 0; i < n; i++ {
		length[i] = 1
		prev[i] = -1
		for j := 0; j < i; j++ {
			if targets[j] < targets[i] && length[j]+1 > length[i] {
				length[i] = length[j] + 1
				prev[i] = j
			}
		}
		if length[i] > length[best] {
			best = i
		}
	}
	for i := best; i >= 0; i = prev[i] {
		stable[i] = true
		if prev[i] == -1 {
			break
		}
	}
	return stable
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
