package psb

import (
	"fmt"
	"sort"
	"strings"
)

// NameTrie is the three-array trie storing every distinct name of a container.
//
// Node ids index Offsets and Tree. Tree[n] is the parent of node n, and a
// child of node p with character ch has id Offsets[p]+ch. Leaf[i] is the id of
// the terminator node of name i, whose parent is the node of the last
// character. The root is node 0.
type NameTrie struct {
	Offsets []uint64
	Tree    []uint64
	Leaf    []uint64
}

// ReadNameTrie reads the three arrays of the names section.
func ReadNameTrie(c *Cursor) (*NameTrie, error) {
	t := &NameTrie{}
	var err error
	if t.Offsets, err = ReadVarArray(c); err != nil {
		return nil, fmt.Errorf("failed to read name offsets: %w", err)
	}
	if t.Tree, err = ReadVarArray(c); err != nil {
		return nil, fmt.Errorf("failed to read name tree: %w", err)
	}
	if t.Leaf, err = ReadVarArray(c); err != nil {
		return nil, fmt.Errorf("failed to read name leaves: %w", err)
	}
	return t, nil
}

// Append appends the encoded arrays to dst.
func (t *NameTrie) Append(dst []byte) []byte {
	dst = AppendVarArray(dst, t.Offsets)
	dst = AppendVarArray(dst, t.Tree)
	return AppendVarArray(dst, t.Leaf)
}

// Len returns the number of names stored in the trie.
func (t *NameTrie) Len() int { return len(t.Leaf) }

// Name reconstructs the name at index by walking from its terminator node
// back to the root.
func (t *NameTrie) Name(index int) (string, error) {
	if index < 0 || index >= len(t.Leaf) {
		return "", t.errorf(index, fmt.Sprintf("leaf index below %d", len(t.Leaf)), fmt.Sprintf("%d", index))
	}

	a := t.Leaf[index]
	b, err := t.parent(index, a)
	if err != nil {
		return "", err
	}

	var rev []byte
	// every step moves to a distinct ancestor, so a well-formed walk is
	// never longer than the tree itself
	for steps := 0; b != 0; steps++ {
		if steps > len(t.Tree) {
			return "", t.errorf(index, "acyclic parent chain", "cycle")
		}
		c, err := t.parent(index, b)
		if err != nil {
			return "", err
		}
		if c >= uint64(len(t.Offsets)) {
			return "", t.errorf(index, fmt.Sprintf("node id below %d", len(t.Offsets)), fmt.Sprintf("%d", c))
		}
		d := t.Offsets[c]
		if b < d || b-d > 0xFF {
			return "", t.errorf(index, "character code 0-255", fmt.Sprintf("%d-%d", b, d))
		}
		rev = append(rev, byte(b-d))
		b = c
	}

	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return string(rev), nil
}

// Names decodes every name in index order. Leaves must be distinct and
// must decode to distinct names.
func (t *NameTrie) Names() ([]string, error) {
	leaves := make(map[uint64]int, len(t.Leaf))
	for i, id := range t.Leaf {
		if j, ok := leaves[id]; ok {
			return nil, t.errorf(i, "distinct leaf ids", fmt.Sprintf("node %d shared with name %d", id, j))
		}
		leaves[id] = i
	}

	names := make([]string, len(t.Leaf))
	seen := make(map[string]int, len(t.Leaf))
	for i := range names {
		s, err := t.Name(i)
		if err != nil {
			return nil, fmt.Errorf("failed to decode name %d: %w", i, err)
		}
		if j, ok := seen[s]; ok {
			return nil, t.errorf(i, "distinct names", fmt.Sprintf("%q repeating name %d", s, j))
		}
		seen[s] = i
		names[i] = s
	}
	return names, nil
}

func (t *NameTrie) parent(index int, n uint64) (uint64, error) {
	if n >= uint64(len(t.Tree)) {
		return 0, t.errorf(index, fmt.Sprintf("node id below %d", len(t.Tree)), fmt.Sprintf("%d", n))
	}
	return t.Tree[n], nil
}

func (t *NameTrie) errorf(index int, expected, found string) *DecodeError {
	return &DecodeError{
		Section:  fmt.Sprintf("names[%d]", index),
		Expected: expected,
		Found:    found,
	}
}

// trieNode is a node of the plain trie built before id assignment.
type trieNode struct {
	children map[byte]*trieNode
	terminal bool
	id       uint64
}

// BuildNameTrie builds a trie whose Leaf[i] decodes to names[i].
//
// A plain trie is built first and then laid out breadth-first as a double
// array: each node gets the smallest base such that base+ch is free for all of
// its child characters, where the terminator uses character 0. Names must be
// distinct and must not contain NUL.
func BuildNameTrie(names []string) (*NameTrie, error) {
	root := &trieNode{}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate name %q", name)
		}
		seen[name] = struct{}{}
		if strings.IndexByte(name, 0) >= 0 {
			return nil, fmt.Errorf("name %q contains NUL", name)
		}

		n := root
		for i := 0; i < len(name); i++ {
			if n.children == nil {
				n.children = make(map[byte]*trieNode)
			}
			child, ok := n.children[name[i]]
			if !ok {
				child = &trieNode{}
				n.children[name[i]] = child
			}
			n = child
		}
		n.terminal = true
	}

	t := &NameTrie{}
	used := []bool{true} // the root owns id 0
	firstFree := 1
	terminators := make(map[*trieNode]uint64)

	grow := func(n int) {
		for len(used) < n {
			used = append(used, false)
		}
	}

	queue := []*trieNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		labels := make([]int, 0, len(n.children)+1)
		if n.terminal {
			labels = append(labels, 0)
		}
		for ch := range n.children {
			labels = append(labels, int(ch))
		}
		if len(labels) == 0 {
			continue
		}
		sort.Ints(labels)

		base := findBase(used, firstFree, labels)
		grow(base + labels[len(labels)-1] + 1)
		for _, l := range labels {
			used[base+l] = true
		}
		for firstFree < len(used) && used[firstFree] {
			firstFree++
		}

		t.setNode(n.id, uint64(base), -1)
		if n.terminal {
			terminators[n] = uint64(base)
			t.setNode(uint64(base), 0, int64(n.id))
		}
		for _, l := range labels {
			if l == 0 {
				continue
			}
			child := n.children[byte(l)]
			child.id = uint64(base + l)
			t.setNode(child.id, 0, int64(n.id))
			queue = append(queue, child)
		}
	}

	t.Leaf = make([]uint64, len(names))
	for i, name := range names {
		n := root
		for j := 0; j < len(name); j++ {
			n = n.children[name[j]]
		}
		t.Leaf[i] = terminators[n]
	}
	return t, nil
}

// findBase returns the smallest base >= 1 such that base+l is free for every
// label. Labels are sorted, so no base below firstFree-labels[0] can work.
func findBase(used []bool, firstFree int, labels []int) int {
	for base := max(1, firstFree-labels[0]); ; base++ {
		ok := true
		for _, l := range labels {
			if base+l < len(used) && used[base+l] {
				ok = false
				break
			}
		}
		if ok {
			return base
		}
	}
}

// setNode grows the arrays to cover id and records its base and parent.
// A negative parent leaves the parent link untouched.
func (t *NameTrie) setNode(id, base uint64, parent int64) {
	for uint64(len(t.Offsets)) <= id {
		t.Offsets = append(t.Offsets, 0)
		t.Tree = append(t.Tree, 0)
	}
	if base != 0 {
		t.Offsets[id] = base
	}
	if parent >= 0 {
		t.Tree[id] = uint64(parent)
	}
}
