package schedule

import (
	"fmt"
	"strings"

	"prodline/internal/domain"
)

// CycleError reports the nodes left unresolved when the edge set is not a DAG.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving: %s", strings.Join(e.Nodes, ", "))
}

// Sort orders nodes so every predecessor precedes its dependents (Kahn's
// algorithm). Nodes that become ready at the same step keep their original
// list order; downstream greedy resource choices are sensitive to this.
func Sort(nodes []domain.Node, edges []domain.Edge) ([]domain.Node, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	inDegree := make([]int, len(nodes))
	successors := make(map[int][]int)
	for _, e := range edges {
		ni, ok := index[e.NodeID]
		if !ok {
			continue
		}
		pi, ok := index[e.PredecessorID]
		if !ok {
			continue
		}
		inDegree[ni]++
		successors[pi] = append(successors[pi], ni)
	}

	var queue []int
	for i := range nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	ordered := make([]domain.Node, 0, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		ordered = append(ordered, nodes[i])
		for _, s := range successors[i] {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(ordered) < len(nodes) {
		var unresolved []string
		for i, n := range nodes {
			if inDegree[i] > 0 {
				unresolved = append(unresolved, n.Name)
			}
		}
		return nil, &CycleError{Nodes: unresolved}
	}
	return ordered, nil
}

// StartNodes returns the ids of nodes with no predecessors.
func StartNodes(nodes []domain.Node, edges []domain.Edge) map[string]bool {
	hasPred := map[string]bool{}
	for _, e := range edges {
		hasPred[e.NodeID] = true
	}
	out := map[string]bool{}
	for _, n := range nodes {
		if !hasPred[n.ID] {
			out[n.ID] = true
		}
	}
	return out
}
