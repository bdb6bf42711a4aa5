// Package models defines the content tree for a production: the root
// Production plus its characters, episodes, scenes and leaf assets.
package models

// AssetKind distinguishes generatable asset types.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// Asset is a leaf generation unit. DependsOn lists entity ids (characters or
// sibling assets) whose results should be fed into this asset's generation as
// references.
type Asset struct {
	ID        string         `json:"id"`
	Kind      AssetKind      `json:"kind"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Prompt    string         `json:"prompt"`
	Duration  int            `json:"duration,omitempty"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Scene belongs to an episode and owns its leaf assets (typically a storyboard
// image and a video clip).
type Scene struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	ImageURL    string         `json:"image_url,omitempty"`
	VideoURL    string         `json:"video_url,omitempty"`
	Assets      []Asset        `json:"assets,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Episode groups scenes. Episodes carry no generation prompt of their own;
// their graph node is a structural placeholder.
type Episode struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Premise     string         `json:"premise,omitempty"`
	URL         string         `json:"url,omitempty"`
	Scenes      []Scene        `json:"scenes,omitempty"`
	Assets      []Asset        `json:"assets,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Character is a level-1 entity; its portrait is generated from Description.
type Character struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Gender      string         `json:"gender"`
	Main        bool           `json:"main"`
	URL         string         `json:"url,omitempty"`
	Assets      []Asset        `json:"assets,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Production is the root of the content tree.
type Production struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Premise     string         `json:"premise"`
	URL         string         `json:"url,omitempty"`
	Characters  []Character    `json:"characters,omitempty"`
	Episodes    []Episode      `json:"episodes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Character returns the character with the given id, or nil.
func (p *Production) Character(id string) *Character {
	for i := range p.Characters {
		if p.Characters[i].ID == id {
			return &p.Characters[i]
		}
	}
	return nil
}

// Episode returns the episode with the given id, or nil.
func (p *Production) Episode(id string) *Episode {
	for i := range p.Episodes {
		if p.Episodes[i].ID == id {
			return &p.Episodes[i]
		}
	}
	return nil
}

// Asset returns the asset with the given id from anywhere in the tree
// (character assets, episode assets, scene assets), or nil.
func (p *Production) Asset(id string) *Asset {
	for i := range p.Characters {
		for j := range p.Characters[i].Assets {
			if p.Characters[i].Assets[j].ID == id {
				return &p.Characters[i].Assets[j]
			}
		}
	}
	for i := range p.Episodes {
		ep := &p.Episodes[i]
		for j := range ep.Assets {
			if ep.Assets[j].ID == id {
				return &ep.Assets[j]
			}
		}
		for j := range ep.Scenes {
			for k := range ep.Scenes[j].Assets {
				if ep.Scenes[j].Assets[k].ID == id {
					return &ep.Scenes[j].Assets[k]
				}
			}
		}
	}
	return nil
}

// Scene returns the scene with the given id from any episode, or nil.
func (p *Production) Scene(id string) *Scene {
	for i := range p.Episodes {
		for j := range p.Episodes[i].Scenes {
			if p.Episodes[i].Scenes[j].ID == id {
				return &p.Episodes[i].Scenes[j]
			}
		}
	}
	return nil
}
