package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showrunner/internal/engine"
	"showrunner/internal/jobstore"
	"showrunner/internal/models"
	"showrunner/internal/provider"
	"showrunner/internal/storage"
)

// scriptedText returns canned structures and records prompts.
type scriptedText struct {
	structure   liteProduction
	err         error
	lastUser    string
	invocations int
}

func (s *scriptedText) GenerateText(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	s.invocations++
	s.lastUser = userPrompt
	if s.err != nil {
		return s.err
	}
	data, _ := json.Marshal(s.structure)
	return json.Unmarshal(data, out)
}

// stubProvider satisfies the full provider contract for run tests.
type stubProvider struct {
	scriptedText
}

func (s *stubProvider) GenerateImage(ctx context.Context, prompt string, refs []string) ([]byte, error) {
	return []byte("png"), nil
}

func (s *stubProvider) SubmitVideoJob(ctx context.Context, req provider.VideoRequest) (string, error) {
	return "t", nil
}

func (s *stubProvider) PollVideoJob(ctx context.Context, taskID string) (provider.VideoTaskStatus, error) {
	return provider.VideoTaskStatus{State: provider.VideoCompleted, URL: "u"}, nil
}

func (s *stubProvider) DownloadVideo(ctx context.Context, url, destPath string) (string, error) {
	return destPath, nil
}

func (s *stubProvider) Generate(ctx context.Context, req provider.VideoRequest, destPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return destPath, nil
}

func sampleStructure() liteProduction {
	return liteProduction{
		Title:       "Neon Harbor",
		Description: "a dockside noir",
		Characters: []liteCharacter{
			{Name: "Mara", Description: "a weathered harbor detective", Gender: "female", Main: true},
			{Name: "Theo", Description: "a nervous dock clerk", Gender: "male"},
		},
		Episodes: []liteEpisode{{
			Title:       "Pilot",
			Description: "the first body washes ashore",
			Scenes: []liteScene{
				{Description: "Mara examines the body on the rainy dock", Characters: []string{"Mara"}},
				{Description: "Theo confronts Mara in the harbor office", Characters: []string{"Theo", "mara"}},
			},
		}},
	}
}

func newTestService(t *testing.T, text *stubProvider) *ProductionService {
	t.Helper()
	objects := storage.NewMemStore("https://cdn.test")
	repo := storage.NewProductionRepository(objects)
	store, err := jobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	eng := engine.New(store, text, objects, engine.Options{
		Workers:    2,
		MaxRetries: -1,
		RetryDelay: time.Millisecond,
		OutputDir:  t.TempDir(),
	})
	return NewProductionService(repo, store, text, eng)
}

func TestCreateFromPremise(t *testing.T) {
	text := &stubProvider{scriptedText{structure: sampleStructure()}}
	svc := newTestService(t, text)

	p, token, err := svc.CreateFromPremise(context.Background(), "noir on the docks", "")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.Equal(t, "Neon Harbor", p.Title)
	assert.Equal(t, "noir on the docks", p.Premise)
	assert.Len(t, p.Characters, 2)
	assert.Len(t, p.Episodes, 1)
	require.Len(t, p.Episodes[0].Scenes, 2)

	// Each scene carries one auto-derived clip asset, wired to the characters
	// appearing in it (case-insensitive name match).
	mara := p.Characters[0]
	theo := p.Characters[1]
	s1 := p.Episodes[0].Scenes[0]
	require.Len(t, s1.Assets, 1)
	assert.Equal(t, models.AssetVideo, s1.Assets[0].Kind)
	assert.Equal(t, DefaultClipDuration, s1.Assets[0].Duration)
	assert.Equal(t, []string{mara.ID}, s1.Assets[0].DependsOn)

	s2 := p.Episodes[0].Scenes[1]
	assert.Equal(t, []string{theo.ID, mara.ID}, s2.Assets[0].DependsOn)

	// The saved tree round-trips with the same token.
	loaded, loadedToken, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, token, loadedToken)
	assert.Equal(t, p.ID, loaded.ID)
}

func TestCreateFromPremiseRejectsEmptyStructure(t *testing.T) {
	text := &stubProvider{scriptedText{structure: liteProduction{Title: "empty"}}}
	svc := newTestService(t, text)

	_, _, err := svc.CreateFromPremise(context.Background(), "premise", "")
	require.ErrorContains(t, err, "no episodes")
}

func TestImprovePreservesMatchingEntities(t *testing.T) {
	text := &stubProvider{scriptedText{structure: sampleStructure()}}
	svc := newTestService(t, text)

	p, _, err := svc.CreateFromPremise(context.Background(), "noir on the docks", "")
	require.NoError(t, err)
	maraID := p.Characters[0].ID

	// Pretend the portrait was generated before the improvement.
	p.Characters[0].URL = "https://cdn.test/mara.png"
	_, err = svc.repo.Save(context.Background(), p, "")
	require.NoError(t, err)

	improved := sampleStructure()
	improved.Characters[1].Description = "a twitchy dock clerk hiding a ledger"
	text.structure = improved

	p2, token, err := svc.Improve(context.Background(), p.ID, "make Theo more suspicious")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Contains(t, text.lastUser, "make Theo more suspicious")

	// Mara is unchanged: same id, portrait kept. Theo changed: id kept, no
	// stale portrait to carry.
	assert.Equal(t, maraID, p2.Characters[0].ID)
	assert.Equal(t, "https://cdn.test/mara.png", p2.Characters[0].URL)
	assert.Equal(t, p.Characters[1].ID, p2.Characters[1].ID)
	assert.Empty(t, p2.Characters[1].URL)
}

func TestRunGeneratesAndChainsToken(t *testing.T) {
	text := &stubProvider{scriptedText{structure: sampleStructure()}}
	svc := newTestService(t, text)

	p, token, err := svc.CreateFromPremise(context.Background(), "noir on the docks", "")
	require.NoError(t, err)

	status, newToken, err := svc.Run(context.Background(), p.ID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, status.Status)
	assert.NotEqual(t, token, newToken)

	loaded, loadedToken, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, newToken, loadedToken)
	assert.NotEmpty(t, loaded.Characters[0].URL)
	assert.NotEmpty(t, loaded.Episodes[0].Scenes[0].VideoURL)
}

func TestRunNothingInScope(t *testing.T) {
	text := &stubProvider{scriptedText{structure: sampleStructure()}}
	svc := newTestService(t, text)

	p := &models.Production{ID: "bare", Title: "Bare"}
	_, err := svc.repo.Save(context.Background(), p, "")
	require.NoError(t, err)

	_, _, err = svc.Run(context.Background(), "bare", RunOptions{})
	require.ErrorContains(t, err, "nothing to generate")
}

func TestDeleteRemovesEverything(t *testing.T) {
	text := &stubProvider{scriptedText{structure: sampleStructure()}}
	svc := newTestService(t, text)

	p, _, err := svc.CreateFromPremise(context.Background(), "noir on the docks", "")
	require.NoError(t, err)
	_, _, err = svc.Run(context.Background(), p.ID, RunOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), p.ID))

	_, _, err = svc.Get(context.Background(), p.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	jobs, err := svc.store.ListJobs(context.Background(), jobstore.Filter{ProductionID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateFromPremiseProviderError(t *testing.T) {
	text := &stubProvider{scriptedText{err: fmt.Errorf("model unavailable")}}
	svc := newTestService(t, text)

	_, _, err := svc.CreateFromPremise(context.Background(), "premise", "")
	require.ErrorContains(t, err, "model unavailable")
}
