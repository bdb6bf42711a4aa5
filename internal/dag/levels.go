package dag

import (
	"fmt"
	"sort"
)

// CycleError reports a dependency cycle. A cyclic graph is rejected outright;
// nothing is dispatched.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in dependency graph: %d unresolvable nodes", len(e.Remaining))
}

// PlanLevels orders graph nodes into execution levels via Kahn's algorithm.
// Every node in a level has all of its dependencies satisfied by earlier
// levels, so nodes within a level may run in parallel. Returns a *CycleError
// if the graph contains a cycle.
func PlanLevels(g Graph) ([][]string, error) {
	adj := g.Adjacency()

	// Unresolved-dependency count per node, and the reverse edge set so that
	// finishing a node unlocks its dependents.
	unresolved := make(map[string]int, len(adj))
	dependents := make(map[string][]string, len(adj))
	for id, deps := range adj {
		count := 0
		for _, dep := range deps {
			if _, ok := adj[dep]; !ok {
				// References outside the graph were already dropped by the
				// builder; tolerate them here for raw adjacency inputs.
				continue
			}
			count++
			dependents[dep] = append(dependents[dep], id)
		}
		unresolved[id] = count
	}

	ready := make([]string, 0, len(adj))
	for id, count := range unresolved {
		if count == 0 {
			ready = append(ready, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(ready) > 0 {
		// Deterministic order within a level.
		sort.Strings(ready)
		levels = append(levels, ready)
		processed += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range dependents[id] {
				unresolved[dep]--
				if unresolved[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if processed != len(adj) {
		var remaining []string
		for id, count := range unresolved {
			if count > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}

	return levels, nil
}
