package index

import "bytes"

// In-memory B+tree mapping encoded keys to posting lists. Internal nodes
// route, leaves hold keys and lists and are linked for range scans. Keys
// are only ever added; entry removal happens inside posting lists, and
// vacuum rebuilds the tree when lists empty out. Callers synchronize: the
// Index wraps every tree access in its own RWMutex.
const maxKeys = 32

type nodeType int

const (
	nodeInternal nodeType = iota
	nodeLeaf
)

type node struct {
	typ      nodeType
	keys     [][]byte
	children []*node        // internal: len(keys)+1
	lists    []*postingList // leaf: len(keys)
	next     *node          // leaf chain
}

type btree struct {
	root *node
	size int // distinct keys
}

func newBtree() *btree {
	return &btree{root: &node{typ: nodeLeaf}}
}

func (t *btree) keyCount() int { return t.size }

// findLeaf descends to the leaf that owns key.
func (t *btree) findLeaf(key []byte) *node {
	n := t.root
	for n.typ == nodeInternal {
		i := upperBound(n.keys, key)
		n = n.children[i]
	}
	return n
}

// getOrCreate returns the posting list for key, creating it if absent.
func (t *btree) getOrCreate(key []byte) *postingList {
	leaf := t.findLeaf(key)
	i := lowerBound(leaf.keys, key)
	if i < len(leaf.keys) && bytes.Equal(leaf.keys[i], key) {
		return leaf.lists[i]
	}
	list := &postingList{}
	leaf.keys = insertKey(leaf.keys, i, key)
	leaf.lists = insertList(leaf.lists, i, list)
	t.size++
	if len(leaf.keys) > maxKeys {
		t.splitLeaf(leaf)
	}
	return list
}

// put binds key to an existing posting list, for tree rebuilds.
func (t *btree) put(key []byte, list *postingList) {
	leaf := t.findLeaf(key)
	i := lowerBound(leaf.keys, key)
	if i < len(leaf.keys) && bytes.Equal(leaf.keys[i], key) {
		leaf.lists[i] = list
		return
	}
	leaf.keys = insertKey(leaf.keys, i, key)
	leaf.lists = insertList(leaf.lists, i, list)
	t.size++
	if len(leaf.keys) > maxKeys {
		t.splitLeaf(leaf)
	}
}

// get returns the posting list for key, or nil.
func (t *btree) get(key []byte) *postingList {
	leaf := t.findLeaf(key)
	i := lowerBound(leaf.keys, key)
	if i < len(leaf.keys) && bytes.Equal(leaf.keys[i], key) {
		return leaf.lists[i]
	}
	return nil
}

// seek returns the leaf and position of the first key >= target.
func (t *btree) seek(target []byte) (*node, int) {
	leaf := t.findLeaf(target)
	i := lowerBound(leaf.keys, target)
	for leaf != nil && i >= len(leaf.keys) {
		leaf = leaf.next
		i = 0
	}
	return leaf, i
}

// first returns the leftmost leaf.
func (t *btree) first() *node {
	n := t.root
	for n.typ == nodeInternal {
		n = n.children[0]
	}
	return n
}

func (t *btree) splitLeaf(leaf *node) {
	mid := len(leaf.keys) / 2
	right := &node{
		typ:   nodeLeaf,
		keys:  append([][]byte{}, leaf.keys[mid:]...),
		lists: append([]*postingList{}, leaf.lists[mid:]...),
		next:  leaf.next,
	}
	leaf.keys = leaf.keys[:mid:mid]
	leaf.lists = leaf.lists[:mid:mid]
	leaf.next = right
	t.insertIntoParent(leaf, right.keys[0], right)
}

func (t *btree) splitInternal(n *node) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]
	right := &node{
		typ:      nodeInternal,
		keys:     append([][]byte{}, n.keys[mid+1:]...),
		children: append([]*node{}, n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid:mid]
	n.children = n.children[: mid+1 : mid+1]
	t.insertIntoParent(n, sep, right)
}

// insertIntoParent links right as the sibling of left under left's parent,
// walking from the root since nodes carry no parent pointers.
func (t *btree) insertIntoParent(left *node, sep []byte, right *node) {
	if t.root == left {
		t.root = &node{
			typ:      nodeInternal,
			keys:     [][]byte{sep},
			children: []*node{left, right},
		}
		return
	}
	parent := t.parentOf(t.root, left)
	i := upperBound(parent.keys, sep)
	parent.keys = insertKey(parent.keys, i, sep)
	parent.children = insertChild(parent.children, i+1, right)
	if len(parent.keys) > maxKeys {
		t.splitInternal(parent)
	}
}

func (t *btree) parentOf(n, target *node) *node {
	if n.typ == nodeLeaf {
		return nil
	}
	for _, c := range n.children {
		if c == target {
			return n
		}
	}
	var key []byte
	if target.typ == nodeLeaf {
		key = target.keys[0]
	} else {
		key = leftmostKey(target)
	}
	i := upperBound(n.keys, key)
	return t.parentOf(n.children[i], target)
}

func leftmostKey(n *node) []byte {
	for n.typ == nodeInternal {
		n = n.children[0]
	}
	return n.keys[0]
}

// lowerBound returns the first index with keys[i] >= key.
func lowerBound(keys [][]byte, key []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the child slot for key in an internal node: the count
// of separators <= key.
func upperBound(keys [][]byte, key []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertKey(s [][]byte, i int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertList(s []*postingList, i int, v *postingList) []*postingList {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertChild(s []*node, i int, v *node) []*node {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
