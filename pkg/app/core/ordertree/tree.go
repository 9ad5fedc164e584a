// Package ordertree is a self-balancing (AVL) binary search tree ordered by a
// caller-supplied comparator. It knows nothing about trading.
//
// Nodes own their children and keep no parent link. Operations that need the
// ancestors of a node collect them with a top-down search, and rotations swap
// values in place so the collected path stays valid while it is rebalanced.
package ordertree

import (
	"fmt"
	"strings"
)

// Comparator orders two values. It must return 0 only when a and b are the
// same value, a positive number when a sorts after b and a negative number
// otherwise.
type Comparator[T any] func(a, b T) int

type node[T any] struct {
	value  T
	left   *node[T]
	right  *node[T]
	height int
}

// Tree is not safe for concurrent use.
type Tree[T any] struct {
	root *node[T]
	cmp  Comparator[T]
	size int
}

func New[T any](cmp Comparator[T]) *Tree[T] {
	return &Tree[T]{cmp: cmp}
}

// Len returns the number of stored values.
func (t *Tree[T]) Len() int { return t.size }

// Height returns the height of the root (0 for an empty tree).
func (t *Tree[T]) Height() int { return height(t.root) }

// Insert adds v. It returns false, leaving the tree untouched, when the
// comparator reports a value identical to v is already stored.
func (t *Tree[T]) Insert(v T) bool {
	if t.root == nil {
		t.root = &node[T]{value: v, height: 1}
		t.size++
		return true
	}

	path := make([]*node[T], 0, t.root.height+1)
	n := t.root
	for {
		c := t.cmp(n.value, v)
		if c == 0 {
			return false
		}
		path = append(path, n)
		if c > 0 {
			if n.left == nil {
				n.left = &node[T]{value: v, height: 1}
				break
			}
			n = n.left
		} else {
			if n.right == nil {
				n.right = &node[T]{value: v, height: 1}
				break
			}
			n = n.right
		}
	}

	t.size++
	rebalancePath(path)
	return true
}

// Find returns the stored value the comparator reports as identical to v.
func (t *Tree[T]) Find(v T) (T, bool) {
	n := t.root
	for n != nil {
		c := t.cmp(n.value, v)
		switch {
		case c == 0:
			return n.value, true
		case c > 0:
			n = n.left
		default:
			n = n.right
		}
	}
	var zero T
	return zero, false
}

// Remove deletes the value identical to v and reports whether one was found.
func (t *Tree[T]) Remove(v T) bool {
	path, n := t.search(v)
	if n == nil {
		return false
	}
	t.size--

	var parent *node[T]
	if len(path) > 0 {
		parent = path[len(path)-1]
	}

	switch {
	case n.left == nil && n.right == nil:
		if parent == nil {
			t.root = nil
			return true
		}
		replaceChild(parent, n, nil)

	case n.left == nil || n.right == nil:
		child := n.left
		if child == nil {
			child = n.right
		}
		if parent == nil {
			// The root keeps its identity and takes over the child's contents.
			*n = *child
			return true
		}
		replaceChild(parent, n, child)

	default:
		// In-order predecessor: rightmost node of the left subtree.
		donorPath := []*node[T]{n}
		donor := n.left
		for donor.right != nil {
			donorPath = append(donorPath, donor)
			donor = donor.right
		}
		n.value = donor.value
		donorParent := donorPath[len(donorPath)-1]
		if donorParent == n {
			n.left = donor.left
		} else {
			donorParent.right = donor.left
		}
		rebalancePath(donorPath)
	}

	rebalancePath(path)
	return true
}

// Min returns the leftmost value.
func (t *Tree[T]) Min() (T, bool) {
	if t.root == nil {
		var zero T
		return zero, false
	}
	n := t.root
	for n.left != nil {
		n = n.left
	}
	return n.value, true
}

// Max returns the rightmost value.
func (t *Tree[T]) Max() (T, bool) {
	if t.root == nil {
		var zero T
		return zero, false
	}
	n := t.root
	for n.right != nil {
		n = n.right
	}
	return n.value, true
}

// Walk returns every value in order, or in reverse order when reversed is set.
// The result is a snapshot; it is built eagerly.
func (t *Tree[T]) Walk(reversed bool) []T {
	out := make([]T, 0, t.size)
	var visit func(n *node[T])
	visit = func(n *node[T]) {
		if n == nil {
			return
		}
		first, second := n.left, n.right
		if reversed {
			first, second = second, first
		}
		visit(first)
		out = append(out, n.value)
		visit(second)
	}
	visit(t.root)
	return out
}

// String dumps the tree structure with heights and balance factors.
func (t *Tree[T]) String() string {
	var sb strings.Builder
	var dump func(n *node[T], depth int)
	dump = func(n *node[T], depth int) {
		if n == nil {
			return
		}
		dump(n.right, depth+1)
		fmt.Fprintf(&sb, "%s%v (h=%d b=%d)\n", strings.Repeat("  ", depth), n.value, n.height, n.balance())
		dump(n.left, depth+1)
	}
	dump(t.root, 0)
	return sb.String()
}

// search returns the node identical to v together with its ancestors,
// root first. The node is nil when v is not stored.
func (t *Tree[T]) search(v T) ([]*node[T], *node[T]) {
	var path []*node[T]
	n := t.root
	for n != nil {
		c := t.cmp(n.value, v)
		if c == 0 {
			return path, n
		}
		path = append(path, n)
		if c > 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return path, nil
}

func replaceChild[T any](parent, old, repl *node[T]) {
	if parent.left == old {
		parent.left = repl
	} else {
		parent.right = repl
	}
}

// rebalancePath updates the nodes of path bottom-up. path is root first.
func rebalancePath[T any](path []*node[T]) {
	for i := len(path) - 1; i >= 0; i-- {
		path[i].update()
	}
}

func height[T any](n *node[T]) int {
	if n == nil {
		return 0
	}
	return n.height
}

func (n *node[T]) balance() int {
	return height(n.left) - height(n.right)
}

func (n *node[T]) updateHeight() {
	n.height = max(height(n.left), height(n.right)) + 1
}

func (n *node[T]) update() {
	n.updateHeight()
	switch b := n.balance(); {
	case b > 1:
		if n.left.balance() < 0 {
			n.left.rotateLeft()
		}
		n.rotateRight()
	case b < -1:
		if n.right.balance() > 0 {
			n.right.rotateRight()
		}
		n.rotateLeft()
	}
}

// rotateRight lifts the left child into n's position. n keeps its identity
// and takes the left child's value; the old left node moves to the right.
func (n *node[T]) rotateRight() {
	l := n.left
	n.value, l.value = l.value, n.value
	n.left = l.left
	l.left = l.right
	l.right = n.right
	n.right = l
	l.updateHeight()
	n.updateHeight()
}

// rotateLeft is the mirror of rotateRight.
func (n *node[T]) rotateLeft() {
	r := n.right
	n.value, r.value = r.value, n.value
	n.right = r.right
	r.right = r.left
	r.left = n.left
	n.left = r
	r.updateHeight()
	n.updateHeight()
}
