// Package service provides the production lifecycle operations: create a
// production structure from a premise, improve it from feedback, run the
// generation graph, and delete everything a production left behind.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"showrunner/internal/dag"
	"showrunner/internal/engine"
	"showrunner/internal/jobstore"
	"showrunner/internal/models"
	"showrunner/internal/provider"
	"showrunner/internal/storage"
)

// DefaultClipDuration is the seconds per scene clip when the structure does
// not specify one.
const DefaultClipDuration = 5

// ProductionService coordinates the repository, the job store, the text
// provider and the executor.
type ProductionService struct {
	repo  *storage.ProductionRepository
	store jobstore.Store
	text  provider.TextGenerator
	eng   *engine.Engine
}

// NewProductionService wires the service.
func NewProductionService(repo *storage.ProductionRepository, store jobstore.Store, text provider.TextGenerator, eng *engine.Engine) *ProductionService {
	return &ProductionService{repo: repo, store: store, text: text, eng: eng}
}

const structureSystemPrompt = `You are a short-form drama showrunner. Given a premise,
design a vertical-video production: a small cast and one or more episodes broken
into visually concrete scenes. Respond with JSON only, no prose, matching:

{
  "title": string,
  "description": string,
  "characters": [
    {"name": string, "description": string, "gender": string, "main": bool}
  ],
  "episodes": [
    {
      "title": string,
      "description": string,
      "scenes": [
        {"description": string, "characters": [string]}
      ]
    }
  ]
}

Character descriptions must be detailed enough to generate a consistent
portrait. Scene descriptions must be single shots, visually concrete, and name
the characters appearing in them.`

// Lite structure the text model returns; expanded into a full tree below.
type liteProduction struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Characters  []liteCharacter `json:"characters"`
	Episodes    []liteEpisode   `json:"episodes"`
}

type liteCharacter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
	Main        bool   `json:"main"`
}

type liteEpisode struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Scenes      []liteScene `json:"scenes"`
}

type liteScene struct {
	Description string   `json:"description"`
	Characters  []string `json:"characters"`
}

// CreateFromPremise asks the text model for a production structure, expands it
// into a full content tree and saves it. Returns the tree and its first
// concurrency token.
func (s *ProductionService) CreateFromPremise(ctx context.Context, premise, id string) (*models.Production, string, error) {
	var lite liteProduction
	if err := s.text.GenerateText(ctx, structureSystemPrompt, premise, &lite); err != nil {
		return nil, "", fmt.Errorf("generate production structure: %w", err)
	}
	if len(lite.Episodes) == 0 {
		return nil, "", fmt.Errorf("generated structure has no episodes")
	}

	if id == "" {
		id = "prod_" + shortUUID()
	}
	p := expandStructure(&lite, id, premise, nil)

	token, err := s.repo.Save(ctx, p, "")
	if err != nil {
		return nil, "", err
	}
	slog.Info("production created", "production_id", p.ID, "title", p.Title,
		"characters", len(p.Characters), "episodes", len(p.Episodes))
	return p, token, nil
}

// Improve regenerates the structure from the existing tree plus feedback,
// preserving entity ids (and generated URLs) where names still match. The save
// is guarded by the loaded tree's token.
func (s *ProductionService) Improve(ctx context.Context, id, feedback string) (*models.Production, string, error) {
	existing, token, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	current, err := json.Marshal(existing)
	if err != nil {
		return nil, "", fmt.Errorf("marshal current structure: %w", err)
	}
	user := fmt.Sprintf("Current production:\n%s\n\nFeedback to apply:\n%s", current, feedback)

	var lite liteProduction
	if err := s.text.GenerateText(ctx, structureSystemPrompt, user, &lite); err != nil {
		return nil, "", fmt.Errorf("regenerate production structure: %w", err)
	}
	if len(lite.Episodes) == 0 {
		return nil, "", fmt.Errorf("regenerated structure has no episodes")
	}

	p := expandStructure(&lite, id, existing.Premise, existing)
	newToken, err := s.repo.Save(ctx, p, token)
	if err != nil {
		return nil, "", err
	}
	slog.Info("production improved", "production_id", id)
	return p, newToken, nil
}

// RunOptions scope a generation run.
type RunOptions struct {
	Scope  dag.Branch
	Resume bool
}

// Run loads the tree, plans the graph and executes it, then saves the patched
// tree with the loaded token. The returned token reflects the saved tree so
// callers can chain further guarded writes.
func (s *ProductionService) Run(ctx context.Context, id string, opts RunOptions) (*engine.RunStatus, string, error) {
	p, token, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	scope := opts.Scope
	if scope == 0 {
		scope = dag.BranchAll
	}
	g := dag.Build(p, scope)
	if len(g) == 0 {
		return nil, "", fmt.Errorf("production %s has nothing to generate in scope", id)
	}
	levels, err := dag.PlanLevels(g)
	if err != nil {
		return nil, "", err
	}

	status, err := s.eng.Run(ctx, p, g, levels, opts.Resume)
	if err != nil {
		return nil, "", err
	}

	newToken, err := s.repo.Save(ctx, p, token)
	if err != nil {
		return status, "", fmt.Errorf("save generated results: %w", err)
	}
	return status, newToken, nil
}

// Status reports the persisted run state without executing anything.
func (s *ProductionService) Status(ctx context.Context, id string) (*engine.RunStatus, error) {
	return s.eng.ResumeStatus(ctx, id)
}

// Get loads a production tree with its token.
func (s *ProductionService) Get(ctx context.Context, id string) (*models.Production, string, error) {
	return s.repo.Get(ctx, id)
}

// Delete removes the stored tree, every artifact under the production prefix
// and all job records.
func (s *ProductionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteProductionJobs(ctx, id)
	if err != nil {
		return fmt.Errorf("delete jobs for production %s: %w", id, err)
	}
	slog.Info("production deleted", "production_id", id, "jobs_deleted", deleted)
	return nil
}

// expandStructure turns a lite structure into a full tree: ids for every
// entity and one auto-derived clip asset per scene, referencing the characters
// appearing in it. When prev is non-nil, ids and generated URLs of entities
// whose names still match are preserved.
func expandStructure(lite *liteProduction, id, premise string, prev *models.Production) *models.Production {
	p := &models.Production{
		ID:          id,
		Title:       lite.Title,
		Description: lite.Description,
		Premise:     premise,
	}

	charIDByName := make(map[string]string, len(lite.Characters))
	for _, lc := range lite.Characters {
		c := models.Character{
			ID:          "c_" + shortUUID(),
			Name:        lc.Name,
			Description: lc.Description,
			Gender:      lc.Gender,
			Main:        lc.Main,
		}
		if prevChar := findCharacterByName(prev, lc.Name); prevChar != nil {
			c.ID = prevChar.ID
			if prevChar.Description == lc.Description {
				c.URL = prevChar.URL
				c.Assets = prevChar.Assets
			}
		}
		charIDByName[normalizeName(lc.Name)] = c.ID
		p.Characters = append(p.Characters, c)
	}

	for _, le := range lite.Episodes {
		ep := models.Episode{
			ID:          "ep_" + shortUUID(),
			Title:       le.Title,
			Description: le.Description,
		}
		if prevEp := findEpisodeByTitle(prev, le.Title); prevEp != nil {
			ep.ID = prevEp.ID
		}
		for _, ls := range le.Scenes {
			scene := models.Scene{
				ID:          "s_" + shortUUID(),
				Description: ls.Description,
			}
			var deps []string
			for _, name := range ls.Characters {
				if charID, ok := charIDByName[normalizeName(name)]; ok {
					deps = append(deps, charID)
				} else {
					slog.Warn("scene references unknown character", "scene", scene.ID, "character", name)
				}
			}
			scene.Assets = []models.Asset{{
				ID:        "a_" + shortUUID(),
				Kind:      models.AssetVideo,
				Prompt:    ls.Description,
				Duration:  DefaultClipDuration,
				DependsOn: deps,
			}}
			ep.Scenes = append(ep.Scenes, scene)
		}
		p.Episodes = append(p.Episodes, ep)
	}

	return p
}

func findCharacterByName(p *models.Production, name string) *models.Character {
	if p == nil {
		return nil
	}
	for i := range p.Characters {
		if normalizeName(p.Characters[i].Name) == normalizeName(name) {
			return &p.Characters[i]
		}
	}
	return nil
}

func findEpisodeByTitle(p *models.Production, title string) *models.Episode {
	if p == nil {
		return nil
	}
	for i := range p.Episodes {
		if normalizeName(p.Episodes[i].Title) == normalizeName(title) {
			return &p.Episodes[i]
		}
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func shortUUID() string {
	return uuid.New().String()[:8]
}
