// Package dag converts a production's content tree into a dependency graph of
// generatable units and computes a level-ordered execution plan.
package dag

// Kind identifies the hierarchy position of a graph node.
type Kind string

const (
	KindCharacter      Kind = "character"       // level 1: character portrait
	KindEpisode        Kind = "episode"         // level 1: structural placeholder
	KindCharacterAsset Kind = "character_asset" // level 2: character image/video
	KindScene          Kind = "scene"           // level 2: scene storyboard
	KindSceneAsset     Kind = "scene_asset"     // level 3: scene image/video clip
)

// Level returns the hierarchy level for the kind (1-3).
func (k Kind) Level() int {
	switch k {
	case KindCharacter, KindEpisode:
		return 1
	case KindCharacterAsset, KindScene:
		return 2
	case KindSceneAsset:
		return 3
	}
	return 0
}

// Branch is a bitmask selecting which parts of the tree to build nodes for.
// Scoped sub-graphs allow partial regeneration of one branch.
type Branch uint8

const (
	BranchCharacter Branch = 1 << iota
	BranchEpisode

	BranchAll = BranchCharacter | BranchEpisode
)

// branchOf maps node kinds to their branch.
func branchOf(k Kind) Branch {
	switch k {
	case KindCharacter, KindCharacterAsset:
		return BranchCharacter
	default:
		return BranchEpisode
	}
}

// Contains reports whether the branch selection includes the given kind.
func (b Branch) Contains(k Kind) bool {
	return b&branchOf(k) != 0
}

// Node is one schedulable unit of generation work.
type Node struct {
	ID       string
	Kind     Kind
	Level    int
	EntityID string
	// ParentID is the structurally enclosing node, empty for level-1 nodes.
	ParentID string
	Prompt   string
	Metadata map[string]any
	// DependsOn lists node ids that must be resolved before this node runs.
	// The structural parent is always first.
	DependsOn []string
}

// Graph maps node id to node.
type Graph map[string]*Node

// Adjacency returns the nodeID -> dependency ids mapping consumed by PlanLevels.
func (g Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(g))
	for id, n := range g {
		adj[id] = n.DependsOn
	}
	return adj
}
