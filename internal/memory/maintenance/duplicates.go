package maintenance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/memory-mcp/internal/memory/model"
	"github.com/kart-io/memory-mcp/internal/memory/vector"
)

// runCleanupLoop runs cleanupPass every CheckInterval until ctx is
// cancelled; it returns at once when cleanup is disabled.
func (w *Workers) runCleanupLoop(ctx context.Context) {
	if !w.Cleanup.Enabled {
		return
	}
	ticker := time.NewTicker(w.Cleanup.CheckInterval)
	defer ticker.Stop()

	lastRun := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanupPass(ctx, lastRun)
		}
	}
}

func (w *Workers) cleanupPass(ctx context.Context, lastRun map[string]time.Time) {
	now := w.Now()
	for _, name := range w.Registry.Personas() {
		st := w.Engine.StateSnapshot(name)
		if now.Sub(st.LastWrite) < w.Cleanup.IdleMinutes {
			continue
		}
		if last, ok := lastRun[name]; ok && now.Sub(last) < w.Cleanup.CheckInterval {
			continue
		}
		if err := w.detectDuplicates(ctx, name); err != nil {
			logger.Warnf("maintenance: duplicate detection failed for persona %s: %v", name, err)
			continue
		}
		lastRun[name] = now
	}
}

// detectDuplicates computes pairwise cosine similarity over a persona's
// vectors and emits CleanupSuggestion clusters per spec.md §4.9. It never
// deletes or merges anything — only proposes.
func (w *Workers) detectDuplicates(ctx context.Context, personaName string) (err error) {
	defer func() { w.observeDuplicateRun(personaName, err) }()

	h, err := w.Registry.Get(ctx, personaName)
	if err != nil {
		return err
	}

	points, err := h.Vector.AllVectors(ctx)
	if err != nil {
		return err
	}
	if len(points) < 2 {
		return nil
	}

	clusters := clusterBySimilarity(points, w.Cleanup.DuplicateThreshold)

	suggestions := make([]model.CleanupSuggestion, 0, len(clusters))
	now := w.Now()
	for _, c := range clusters {
		if c.minSimilarity < w.Cleanup.MinSimilarityToReport {
			continue
		}
		sortKeysLexicographic(c.keys)
		suggestions = append(suggestions, model.CleanupSuggestion{
			ID:         uuid.New().String(),
			Keys:       c.keys,
			Similarity: c.minSimilarity,
			Priority:   model.PriorityFor(c.minSimilarity),
			CreatedAt:  now,
		})
		if len(suggestions) >= w.Cleanup.MaxSuggestionsPerRun {
			break
		}
	}

	if len(suggestions) == 0 || w.Sink == nil {
		return nil
	}
	return w.Sink.WriteSuggestions(ctx, personaName, suggestions)
}

func (w *Workers) observeDuplicateRun(personaName string, err error) {
	if w.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	w.Metrics.DuplicateRunTotal.WithLabelValues(personaName, outcome).Inc()
}

type cluster struct {
	keys          []string
	minSimilarity float64
}

// clusterBySimilarity groups points into cliques where every pairwise
// similarity is >= threshold, using a simple greedy union: a point joins the
// first cluster it is above-threshold-similar to every existing member of,
// else starts a new one. O(n^2) — acceptable at the dataset scale this
// service targets (see relational.Stats).
func clusterBySimilarity(points []vector.Point, threshold float64) []cluster {
	var clusters []cluster
	memberVec := make(map[string][]float32, len(points))
	for _, p := range points {
		memberVec[p.Key] = p.Vector
	}

	for _, p := range points {
		placed := false
		for ci := range clusters {
			minSim := 1.0
			fits := true
			for _, memberKey := range clusters[ci].keys {
				sim := float64(vector.CosineSimilarity(p.Vector, memberVec[memberKey]))
				if sim < threshold {
					fits = false
					break
				}
				if sim < minSim {
					minSim = sim
				}
			}
			if fits {
				clusters[ci].keys = append(clusters[ci].keys, p.Key)
				if minSim < clusters[ci].minSimilarity || clusters[ci].minSimilarity == 0 {
					clusters[ci].minSimilarity = minSim
				}
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{keys: []string{p.Key}, minSimilarity: 1})
		}
	}

	out := make([]cluster, 0, len(clusters))
	for _, c := range clusters {
		if len(c.keys) >= 2 {
			out = append(out, c)
		}
	}
	return out
}
