// Package engine executes a production's dependency graph level by level: a
// bounded worker pool per level, durable job records per node, bounded retry,
// and failure isolation so one failed node never aborts its siblings.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"showrunner/internal/dag"
	"showrunner/internal/jobstore"
	"showrunner/internal/models"
	"showrunner/internal/provider"
	"showrunner/internal/storage"
)

// Options tune the executor. Zero values use the defaults.
type Options struct {
	// Workers bounds the per-level fan-out.
	Workers int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// OutputDir is where downloaded video files land.
	OutputDir string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.MaxRetries < 0 {
		// Negative disables retries explicitly.
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 3 * time.Second
	}
	if o.OutputDir == "" {
		o.OutputDir = "output"
	}
	return o
}

// Engine runs generation graphs against a job store, a provider suite and an
// object store.
type Engine struct {
	store   jobstore.Store
	prov    provider.Provider
	objects storage.ObjectStore
	opts    Options
}

// New wires the executor. Dependencies are injected so tests can script
// provider behavior.
func New(store jobstore.Store, prov provider.Provider, objects storage.ObjectStore, opts Options) *Engine {
	return &Engine{
		store:   store,
		prov:    prov,
		objects: objects,
		opts:    opts.withDefaults(),
	}
}

// Run executes the planned levels for the production. With resume=true,
// previously completed jobs are reused without a provider call and previously
// failed jobs are re-dispatched; with resume=false all prior job records for
// the production are cleared first.
//
// Run mutates p in place (result URLs on the tree entities); persisting the
// tree is the caller's responsibility so it can chain concurrency tokens.
func (e *Engine) Run(ctx context.Context, p *models.Production, g dag.Graph, levels [][]string, resume bool) (*RunStatus, error) {
	if !resume {
		if n, err := e.store.DeleteProductionJobs(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("reset jobs for production %s: %w", p.ID, err)
		} else if n > 0 {
			slog.Info("cleared prior job records", "production_id", p.ID, "deleted", n)
		}
	}

	parent, err := e.store.CreateParentJob(ctx, p.ID, p.Title, map[string]any{
		"nodes":  len(g),
		"levels": len(levels),
		"resume": resume,
	})
	if err != nil {
		return nil, fmt.Errorf("create parent job: %w", err)
	}

	// One durable record per node, idempotent per (production, node id).
	jobIDs := make(map[string]string, len(g))
	childIDs := make([]string, 0, len(g))
	for _, level := range levels {
		for _, nodeID := range level {
			n := g[nodeID]
			rec, created, err := e.store.GetOrCreateJob(ctx, jobstore.JobRecord{
				ParentJobID:  parent.JobID,
				ProductionID: p.ID,
				EntityID:     n.ID,
				Type:         jobType(n),
				Prompt:       n.Prompt,
				DependsOn:    n.DependsOn,
				Metadata:     n.Metadata,
			})
			if err != nil {
				return nil, fmt.Errorf("create job for node %s: %w", n.ID, err)
			}
			if !created {
				if rec.Status == jobstore.StatusCompleted {
					slog.Info("reusing completed job", "node", n.ID, "job_id", rec.JobID)
				}
				// A reused record belongs to this run's parent from now on.
				if rec.ParentJobID != parent.JobID {
					rec, err = e.store.UpdateJob(ctx, rec.JobID, jobstore.Patch{ParentJobID: &parent.JobID})
					if err != nil {
						return nil, fmt.Errorf("reparent job for node %s: %w", n.ID, err)
					}
				}
			}
			jobIDs[nodeID] = rec.JobID
			childIDs = append(childIDs, rec.JobID)
		}
	}
	if err := e.store.SetParentChildren(ctx, parent.JobID, childIDs); err != nil {
		return nil, fmt.Errorf("attach children to parent job: %w", err)
	}
	if _, err := e.store.RecomputeParentStats(ctx, parent.JobID); err != nil {
		return nil, fmt.Errorf("recompute parent stats: %w", err)
	}

	var treeMu sync.Mutex
	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Info("executing level", "production_id", p.ID, "level", i+1, "nodes", len(level))
		e.executeLevel(ctx, p, g, jobIDs, parent.JobID, level, &treeMu)
	}

	if err := e.uploadSummary(ctx, p.ID, parent.JobID); err != nil {
		// The run itself succeeded; a missing audit snapshot is not fatal.
		slog.Warn("upload run summary failed", "parent_job_id", parent.JobID, "error", err)
	}

	return e.statusFor(ctx, parent.JobID)
}

// executeLevel fans the level's nodes out over the worker pool and waits for
// all of them. Node failures are recorded on the job, never returned: siblings
// and later levels still run.
func (e *Engine) executeLevel(ctx context.Context, p *models.Production, g dag.Graph, jobIDs map[string]string, parentJobID string, level []string, treeMu *sync.Mutex) {
	work := make(chan string)
	var wg sync.WaitGroup
	for range e.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for nodeID := range work {
				e.executeNode(ctx, p, g[nodeID], jobIDs, parentJobID, treeMu)
			}
		}()
	}
	for _, nodeID := range level {
		work <- nodeID
	}
	close(work)
	wg.Wait()
}

// executeNode runs one node end to end: mark running, gather upstream
// references, dispatch with retry, upload the artifact, patch the tree entity
// and mark the terminal status. Parent stats are recomputed on every
// transition.
func (e *Engine) executeNode(ctx context.Context, p *models.Production, n *dag.Node, jobIDs map[string]string, parentJobID string, treeMu *sync.Mutex) {
	jobID := jobIDs[n.ID]
	rec, err := e.store.GetJob(ctx, jobID)
	if err != nil || rec == nil {
		slog.Error("job record missing", "node", n.ID, "job_id", jobID, "error", err)
		return
	}

	if rec.Status == jobstore.StatusCompleted {
		treeMu.Lock()
		e.applyResult(p, n, rec.ResultURL)
		treeMu.Unlock()
		return
	}

	now := time.Now().UTC()
	running := jobstore.StatusRunning
	if _, err := e.store.UpdateJob(ctx, jobID, jobstore.Patch{Status: &running, StartedAt: &now}); err != nil {
		slog.Error("mark job running failed", "job_id", jobID, "error", err)
		return
	}
	e.recompute(ctx, parentJobID)

	refs := e.gatherRefs(ctx, n, jobIDs)
	resultURL, resultPath, genErr := e.dispatch(ctx, p, n, refs)

	done := time.Now().UTC()
	if genErr != nil {
		failed := jobstore.StatusFailed
		msg := genErr.Error()
		if _, err := e.store.UpdateJob(ctx, jobID, jobstore.Patch{Status: &failed, Error: &msg, CompletedAt: &done}); err != nil {
			slog.Error("mark job failed failed", "job_id", jobID, "error", err)
		}
		slog.Error("node failed", "node", n.ID, "kind", n.Kind, "error", genErr)
	} else {
		treeMu.Lock()
		e.applyResult(p, n, resultURL)
		treeMu.Unlock()

		completed := jobstore.StatusCompleted
		if _, err := e.store.UpdateJob(ctx, jobID, jobstore.Patch{
			Status:      &completed,
			ResultURL:   &resultURL,
			ResultPath:  &resultPath,
			CompletedAt: &done,
		}); err != nil {
			slog.Error("mark job completed failed", "job_id", jobID, "error", err)
		}
		slog.Info("node completed", "node", n.ID, "kind", n.Kind, "url", resultURL)
	}
	e.recompute(ctx, parentJobID)
}

func (e *Engine) recompute(ctx context.Context, parentJobID string) {
	if _, err := e.store.RecomputeParentStats(ctx, parentJobID); err != nil {
		slog.Error("recompute parent stats failed", "parent_job_id", parentJobID, "error", err)
	}
}

// gatherRefs collects result URLs of the node's dependencies. A failed or
// missing upstream result is skipped with a warning: the node still runs,
// degraded, rather than failing the whole branch.
func (e *Engine) gatherRefs(ctx context.Context, n *dag.Node, jobIDs map[string]string) []string {
	var refs []string
	for _, depNodeID := range n.DependsOn {
		jobID, ok := jobIDs[depNodeID]
		if !ok {
			slog.Warn("dependency not in run", "node", n.ID, "dep", depNodeID)
			continue
		}
		dep, err := e.store.GetJob(ctx, jobID)
		if err != nil || dep == nil {
			slog.Warn("dependency job unreadable", "node", n.ID, "dep", depNodeID, "error", err)
			continue
		}
		if dep.Status != jobstore.StatusCompleted || dep.ResultURL == "" {
			slog.Warn("dependency result unavailable, continuing without it",
				"node", n.ID, "dep", depNodeID, "dep_status", dep.Status)
			continue
		}
		refs = append(refs, dep.ResultURL)
	}
	return refs
}

// dispatch invokes the provider for the node with bounded fixed-delay retry.
// Episode nodes are structural placeholders and complete without a call.
func (e *Engine) dispatch(ctx context.Context, p *models.Production, n *dag.Node, refs []string) (resultURL, resultPath string, err error) {
	if n.Kind == dag.KindEpisode {
		return "", "", nil
	}

	attempts := e.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resultURL, resultPath, err = e.generate(ctx, p, n, refs)
		if err == nil {
			return resultURL, resultPath, nil
		}
		if attempt < attempts {
			slog.Warn("generation attempt failed, retrying",
				"node", n.ID, "attempt", attempt, "of", attempts, "error", err)
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(e.opts.RetryDelay):
			}
		}
	}
	return "", "", fmt.Errorf("after %d attempts: %w", attempts, err)
}

// generate performs one provider attempt and uploads the artifact.
func (e *Engine) generate(ctx context.Context, p *models.Production, n *dag.Node, refs []string) (string, string, error) {
	if isVideo(n) {
		dest := filepath.Join(e.opts.OutputDir, p.ID, n.ID+".mp4")
		path, err := e.prov.Generate(ctx, provider.VideoRequest{
			Prompt:        n.Prompt,
			Duration:      durationOf(n),
			ReferenceURLs: refs,
		}, dest)
		if err != nil {
			return "", "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read downloaded video: %w", err)
		}
		url, err := e.objects.Put(ctx, artifactKey(p.ID, n.ID, ".mp4"), data, "video/mp4")
		if err != nil {
			return "", "", fmt.Errorf("upload video: %w", err)
		}
		return url, path, nil
	}

	img, err := e.prov.GenerateImage(ctx, n.Prompt, refs)
	if err != nil {
		return "", "", err
	}
	url, err := e.objects.Put(ctx, artifactKey(p.ID, n.ID, ".png"), img, "image/png")
	if err != nil {
		return "", "", fmt.Errorf("upload image: %w", err)
	}
	return url, "", nil
}

// applyResult patches the tree entity the node was generated for. Callers hold
// the tree mutex.
func (e *Engine) applyResult(p *models.Production, n *dag.Node, url string) {
	if url == "" {
		return
	}
	switch n.Kind {
	case dag.KindCharacter:
		if c := p.Character(n.EntityID); c != nil {
			c.URL = url
		}
	case dag.KindScene:
		if s := p.Scene(n.EntityID); s != nil {
			s.ImageURL = url
		}
	case dag.KindCharacterAsset:
		if a := p.Asset(n.EntityID); a != nil {
			a.URL = url
		}
	case dag.KindSceneAsset:
		if a := p.Asset(n.EntityID); a != nil {
			a.URL = url
		}
		if isVideo(n) {
			if sceneID, ok := n.Metadata["scene_id"].(string); ok {
				if s := p.Scene(sceneID); s != nil {
					s.VideoURL = url
				}
			}
		}
	}
}

// uploadSummary writes the run's audit snapshot (parent job plus child
// records) to the object store and records its URL on the parent.
func (e *Engine) uploadSummary(ctx context.Context, productionID, parentJobID string) error {
	parent, err := e.store.GetParentJob(ctx, parentJobID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("parent job not found: %s", parentJobID)
	}
	jobs := make([]*jobstore.JobRecord, 0, len(parent.ChildJobIDs))
	for _, id := range parent.ChildJobIDs {
		rec, err := e.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if rec != nil {
			jobs = append(jobs, rec)
		}
	}

	summary := struct {
		Parent *jobstore.ParentJob   `json:"parent"`
		Jobs   []*jobstore.JobRecord `json:"jobs"`
	}{Parent: parent, Jobs: jobs}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	key := fmt.Sprintf("productions/%s/jobs/%s.json", productionID, parentJobID)
	url, err := e.objects.Put(ctx, key, data, "application/json")
	if err != nil {
		return err
	}
	return e.store.SetParentSummary(ctx, parentJobID, url)
}

func artifactKey(productionID, nodeID, ext string) string {
	return fmt.Sprintf("productions/%s/assets/%s%s", productionID, nodeID, ext)
}

// jobType classifies the node for job records and progress display.
func jobType(n *dag.Node) string {
	switch {
	case n.Kind == dag.KindEpisode:
		return "episode"
	case isVideo(n):
		return "video"
	default:
		return "image"
	}
}

func isVideo(n *dag.Node) bool {
	kind, _ := n.Metadata["asset_kind"].(string)
	return kind == string(models.AssetVideo)
}

func durationOf(n *dag.Node) int {
	switch v := n.Metadata["duration"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
