package itemcache

import "fmt"

// Context describes where a flat index lands in the cache tree.
type Context[T any] struct {
	// Handle is the node owning the row.
	Handle Handle
	// Index is the row's position inside that node.
	Index int
	// Level is the nesting depth of the row.
	Level int
	// Item is the cached row, valid only when Loaded is true.
	Item T
	// Loaded is false while the row is still a placeholder.
	Loaded bool
}

// GetFlatIndexContext resolves flat index i to its node, local index and
// nesting level. Sibling sub-trees are walked in ascending parent order and
// skipped by subtracting their flat size.
func (c *Cache[T]) GetFlatIndexContext(i int) (Context[T], error) {
	root := &c.nodes[RootHandle]
	if i < 0 || i >= root.flatSize {
		return Context[T]{}, fmt.Errorf("%w: %d not in [0, %d)", ErrFlatIndexOutOfRange, i, root.flatSize)
	}
	return c.resolve(RootHandle, i), nil
}

func (c *Cache[T]) resolve(h Handle, i int) Context[T] {
	for {
		n := &c.nodes[h]
		descended := false
		for _, parentIndex := range sortedChildren(n) {
			child := n.children[parentIndex]
			childFlat := c.nodes[child].flatSize
			if childFlat == 0 {
				continue
			}
			if i <= parentIndex {
				break
			}
			if i <= parentIndex+childFlat {
				i = i - parentIndex - 1
				h = child
				descended = true
				break
			}
			i -= childFlat
		}
		if descended {
			continue
		}
		item, ok := n.items[i]
		return Context[T]{Handle: h, Index: i, Level: n.level, Item: item, Loaded: ok}
	}
}

// FlatIndexOf is the inverse of GetFlatIndexContext: it returns the flat
// index of local row idx in node h.
func (c *Cache[T]) FlatIndexOf(h Handle, idx int) (int, error) {
	n, err := c.node(h)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= n.size {
		return 0, fmt.Errorf("%w: local index %d outside node size %d", ErrInvalidPath, idx, n.size)
	}
	flat := idx
	for parentIndex, child := range n.children {
		if parentIndex < idx {
			flat += c.nodes[child].flatSize
		}
	}
	if n.parent == NoHandle {
		return flat, nil
	}
	if c.nodes[h].flatSize == 0 {
		return 0, fmt.Errorf("%w: node %d is collapsed", ErrInvalidPath, h)
	}
	parentFlat, err := c.FlatIndexOf(n.parent, n.parentIndex)
	if err != nil {
		return 0, err
	}
	return parentFlat + 1 + flat, nil
}

// PathOf returns the per-level local indices leading to row idx of node h.
func (c *Cache[T]) PathOf(h Handle, idx int) ([]int, error) {
	if !c.Valid(h) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	path := []int{idx}
	for {
		parent, parentIndex := c.Parent(h)
		if parent == NoHandle {
			break
		}
		path = append(path, parentIndex)
		h = parent
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path, nil
}

// GetFlatIndexByPath converts per-level local indices into a flat index by
// walking down expanded sub-trees. Indices are clamped to the node size. When
// the path continues below a row that is collapsed or has no child node, the
// flat index of that row is returned.
func (c *Cache[T]) GetFlatIndexByPath(path ...int) (int, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	h := RootHandle
	flat := 0
	for level, idx := range path {
		n := &c.nodes[h]
		if idx < 0 {
			return 0, fmt.Errorf("%w: negative index %d at level %d", ErrInvalidPath, idx, level)
		}
		if n.size == 0 {
			return flat, nil
		}
		if idx >= n.size {
			idx = n.size - 1
		}
		flat += idx
		for parentIndex, child := range n.children {
			if parentIndex < idx {
				flat += c.nodes[child].flatSize
			}
		}
		if level == len(path)-1 {
			return flat, nil
		}
		child, ok := n.children[idx]
		if !ok || c.nodes[child].flatSize == 0 {
			return flat, nil
		}
		flat++
		h = child
	}
	return flat, nil
}
