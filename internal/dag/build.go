package dag

import (
	"fmt"
	"log/slog"

	"showrunner/internal/models"
)

// Node id prefixes, namespaced by kind and parent.
func characterNodeID(charID string) string { return "char_" + charID }
func episodeNodeID(epID string) string     { return "ep_" + epID }
func characterAssetNodeID(charID, assetID string) string {
	return fmt.Sprintf("charAsset_%s_%s", charID, assetID)
}
func sceneNodeID(epID, sceneID string) string { return fmt.Sprintf("scene_%s_%s", epID, sceneID) }
func sceneAssetNodeID(epID, sceneID, assetID string) string {
	return fmt.Sprintf("sceneAsset_%s_%s_%s", epID, sceneID, assetID)
}

// Build walks the content tree and emits one graph node per generatable unit,
// restricted to the requested branch. Dependency lists are resolved to node
// ids present in the resulting graph; asset cross-references that resolve to
// nothing in scope are dropped with a warning.
func Build(p *models.Production, scope Branch) Graph {
	g := make(Graph)

	// Level 1: characters and episodes, no dependencies.
	if scope.Contains(KindCharacter) {
		for _, c := range p.Characters {
			id := characterNodeID(c.ID)
			g[id] = &Node{
				ID:       id,
				Kind:     KindCharacter,
				Level:    1,
				EntityID: c.ID,
				Prompt:   c.Description,
				Metadata: map[string]any{"name": c.Name, "gender": c.Gender},
			}
		}
	}
	if scope.Contains(KindEpisode) {
		for _, ep := range p.Episodes {
			id := episodeNodeID(ep.ID)
			g[id] = &Node{
				ID:       id,
				Kind:     KindEpisode,
				Level:    1,
				EntityID: ep.ID,
				Prompt:   ep.Description,
				Metadata: map[string]any{"title": ep.Title},
			}
		}
	}

	// Level 2: character assets depend on their character, scenes on their episode.
	if scope.Contains(KindCharacterAsset) {
		for _, c := range p.Characters {
			parent := characterNodeID(c.ID)
			for _, a := range c.Assets {
				id := characterAssetNodeID(c.ID, a.ID)
				g[id] = &Node{
					ID:       id,
					Kind:     KindCharacterAsset,
					Level:    2,
					EntityID: a.ID,
					ParentID: parent,
					Prompt:   a.Prompt,
					Metadata: map[string]any{
						"character_id": c.ID,
						"asset_kind":   string(a.Kind),
						"duration":     a.Duration,
					},
					DependsOn: []string{parent},
				}
			}
		}
	}
	if scope.Contains(KindScene) {
		for _, ep := range p.Episodes {
			parent := episodeNodeID(ep.ID)
			for _, s := range ep.Scenes {
				id := sceneNodeID(ep.ID, s.ID)
				g[id] = &Node{
					ID:        id,
					Kind:      KindScene,
					Level:     2,
					EntityID:  s.ID,
					ParentID:  parent,
					Prompt:    s.Description,
					Metadata:  map[string]any{"episode_id": ep.ID},
					DependsOn: []string{parent},
				}
			}
		}
	}

	// Level 3: scene assets depend on their scene plus any declared
	// cross-references that resolve within the graph.
	if scope.Contains(KindSceneAsset) {
		for _, ep := range p.Episodes {
			for _, s := range ep.Scenes {
				parent := sceneNodeID(ep.ID, s.ID)
				for _, a := range s.Assets {
					id := sceneAssetNodeID(ep.ID, s.ID, a.ID)
					deps := []string{parent}
					for _, depID := range a.DependsOn {
						if resolved, ok := resolveAssetRef(g, p, ep.ID, s.ID, depID); ok {
							deps = append(deps, resolved)
						} else {
							// Legitimately out of scope, e.g. a character
							// reference while regenerating only the episode
							// branch. Degrade, never fail.
							slog.Warn("dropping unresolvable asset reference",
								"asset", a.ID, "ref", depID, "scene", s.ID)
						}
					}
					g[id] = &Node{
						ID:       id,
						Kind:     KindSceneAsset,
						Level:    3,
						EntityID: a.ID,
						ParentID: parent,
						Prompt:   a.Prompt,
						Metadata: map[string]any{
							"episode_id": ep.ID,
							"scene_id":   s.ID,
							"asset_kind": string(a.Kind),
							"duration":   a.Duration,
							"depends_on": a.DependsOn,
						},
						DependsOn: deps,
					}
				}
			}
		}
	}

	return g
}

// resolveAssetRef maps an entity id declared in an asset's depends_on to a
// node id: either a character node or another scene-asset node in the same
// scene.
func resolveAssetRef(g Graph, p *models.Production, epID, sceneID, depID string) (string, bool) {
	if p.Character(depID) != nil {
		if id := characterNodeID(depID); g[id] != nil {
			return id, true
		}
		return "", false
	}
	if id := sceneAssetNodeID(epID, sceneID, depID); g[id] != nil {
		return id, true
	}
	// Sibling asset declared later in the same scene: the node does not exist
	// yet while we build in order, so check the tree directly.
	if s := p.Scene(sceneID); s != nil {
		for _, a := range s.Assets {
			if a.ID == depID {
				return sceneAssetNodeID(epID, sceneID, depID), true
			}
		}
	}
	return "", false
}
