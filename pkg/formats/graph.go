package formats

import (
	"fmt"
	"slices"
)

// checkForest validates a parent-index array: every parent is -1 or a
// valid index and following parents always reaches a root. When
// singleRoot is set, exactly one root is required for a non-empty graph.
// It returns the offending index and a reason, or -1 and "".
func checkForest(parents []int, singleRoot bool) (int, string) {
	n := len(parents)
	for i, p := range parents {
		if p < -1 || p >= n {
			return i, fmt.Sprintf("parent index %d out of range [0,%d)", p, n)
		}
		if p == i {
			return i, "parent refers to itself"
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]uint8, n)
	path := make([]int, 0, 16)
	for i := range parents {
		path = path[:0]
		j := i
		for j >= 0 && state[j] == unvisited {
			state[j] = visiting
			path = append(path, j)
			j = parents[j]
		}
		if j >= 0 && state[j] == visiting {
			return j, "cycle in parent chain"
		}
		for _, k := range path {
			state[k] = done
		}
	}

	if singleRoot && n > 0 {
		roots := 0
		for i, p := range parents {
			if p == -1 {
				roots++
				if roots > 1 {
					return i, "more than one root"
				}
			}
		}
		if roots == 0 {
			return 0, "no root"
		}
	}
	return -1, ""
}

// childrenOf returns the child lists implied by a parent array, in index order.
func childrenOf(parents []int) [][]int {
	children := make([][]int, len(parents))
	for i, p := range parents {
		if p >= 0 && p < len(parents) {
			children[p] = append(children[p], i)
		}
	}
	return children
}

// sameChildren compares a stored child list against the derived one,
// ignoring order.
func sameChildren(stored []int32, derived []int) bool {
	if len(stored) != len(derived) {
		return false
	}
	got := make([]int, len(stored))
	for i, c := range stored {
		got[i] = int(c)
	}
	slices.Sort(got)
	return slices.Equal(got, derived)
}
