package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphFromAdjacency(adj map[string][]string) Graph {
	g := make(Graph, len(adj))
	for id, deps := range adj {
		g[id] = &Node{ID: id, DependsOn: deps}
	}
	return g
}

func TestPlanLevelsHierarchy(t *testing.T) {
	g := Build(fixtureProduction(), BranchAll)
	levels, err := PlanLevels(g)
	require.NoError(t, err)

	// Characters and the episode are independent; scenes and the character
	// asset unlock next; then the storyboard; the clip waits for its sibling.
	require.Len(t, levels, 4)
	assert.Equal(t, []string{"char_c1", "char_c2", "ep_e1"}, levels[0])
	assert.Equal(t, []string{"charAsset_c2_ca1", "scene_e1_s1", "scene_e1_s2"}, levels[1])
	assert.Equal(t, []string{"sceneAsset_e1_s1_board1"}, levels[2])
	assert.Equal(t, []string{"sceneAsset_e1_s1_clip1"}, levels[3])
}

func TestPlanLevelsDependenciesAlwaysEarlier(t *testing.T) {
	g := Build(fixtureProduction(), BranchAll)
	levels, err := PlanLevels(g)
	require.NoError(t, err)

	levelOf := map[string]int{}
	for i, level := range levels {
		for _, id := range level {
			levelOf[id] = i
		}
	}

	for id, n := range g {
		for _, dep := range n.DependsOn {
			assert.Less(t, levelOf[dep], levelOf[id],
				"dependency %s of %s must be in an earlier level", dep, id)
		}
	}
}

func TestPlanLevelsCycle(t *testing.T) {
	g := graphFromAdjacency(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
		"d": {},
	})

	_, err := PlanLevels(g)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Remaining)
}

func TestPlanLevelsToleratesExternalRefs(t *testing.T) {
	g := graphFromAdjacency(map[string][]string{
		"a": {"outside"},
		"b": {"a"},
	})

	levels, err := PlanLevels(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, levels)
}

func TestPlanLevelsEmpty(t *testing.T) {
	levels, err := PlanLevels(Graph{})
	require.NoError(t, err)
	assert.Empty(t, levels)
}
