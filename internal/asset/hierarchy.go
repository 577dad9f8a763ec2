package asset

import "fmt"

// linkParents validates the child lists of nodes and fills in Parent. Every
// node may have at most one parent and following parents must terminate.
func linkParents(nodes []Node) error {
	for i := range nodes {
		nodes[i].Parent = -1
	}
	for i := range nodes {
		for _, c := range nodes[i].Children {
			if c < 0 || c >= len(nodes) {
				return fmt.Errorf("node %d: child %d out of range: %w", i, c, ErrInvalidHierarchy)
			}
			if c == i {
				return fmt.Errorf("node %d is its own child: %w", i, ErrInvalidHierarchy)
			}
			if p := nodes[c].Parent; p != -1 {
				return fmt.Errorf("node %d has parents %d and %d: %w", c, p, i, ErrInvalidHierarchy)
			}
			nodes[c].Parent = i
		}
	}

	// With single parents, a cycle is a parent chain longer than the node count.
	for i := range nodes {
		steps := 0
		for p := nodes[i].Parent; p != -1; p = nodes[p].Parent {
			if steps++; steps > len(nodes) {
				return fmt.Errorf("node %d is part of a cycle: %w", i, ErrInvalidHierarchy)
			}
		}
	}
	return nil
}

// linearize returns every node reachable from roots in depth-first pre-order,
// so each parent precedes its children.
func linearize(nodes []Node, roots []int) ([]int, error) {
	order := make([]int, 0, len(nodes))
	seen := make([]bool, len(nodes))
	stack := make([]int, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n < 0 || n >= len(nodes) {
			return nil, fmt.Errorf("scene node %d out of range: %w", n, ErrInvalidHierarchy)
		}
		if seen[n] {
			return nil, fmt.Errorf("node %d reached twice: %w", n, ErrInvalidHierarchy)
		}
		seen[n] = true
		order = append(order, n)
		ch := nodes[n].Children
		for i := len(ch) - 1; i >= 0; i-- {
			stack = append(stack, ch[i])
		}
	}
	return order, nil
}

func buildScene(nodes []Node, cameras []Camera, src SceneSource) (Scene, error) {
	for _, r := range src.Roots {
		if r >= 0 && r < len(nodes) && nodes[r].Parent != -1 {
			return Scene{}, fmt.Errorf("scene %q: root %d has parent %d: %w", src.Name, r, nodes[r].Parent, ErrInvalidHierarchy)
		}
	}
	linear, err := linearize(nodes, src.Roots)
	if err != nil {
		return Scene{}, fmt.Errorf("scene %q: %w", src.Name, err)
	}
	s := Scene{Name: src.Name, Roots: append([]int(nil), src.Roots...), Linear: linear}
	for _, n := range linear {
		if c := nodes[n].Camera; c >= 0 && c < len(cameras) && cameras[c].Projection == Perspective {
			s.Cameras = append(s.Cameras, n)
		}
	}
	return s, nil
}
