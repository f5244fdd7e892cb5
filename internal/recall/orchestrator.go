package recall

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/recall-engine/internal/quality"
	"github.com/nidhogg/recall-engine/internal/selector"
	"go.uber.org/zap"
)

// Defaults for per-call knobs.
const (
	DefaultK         = 5
	MaxK             = 100
	defaultLayerWait = 3 * time.Second
)

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	LayerTimeout time.Duration
	DefaultK     int
}

// Orchestrator executes the cascading recall pipeline: decide depth, fan
// out over layers, reweight, enrich with session context, and optionally
// synthesize. It holds no per-call state and is safe for concurrent use.
type Orchestrator struct {
	layers     map[string]Layer
	selector   *selector.Selector
	reweighter *quality.Reweighter
	sessions   SessionManager // optional
	synth      Synthesizer    // optional
	cfg        Config
	logger     *zap.Logger
}

// NewOrchestrator wires the recall pipeline. sessions and synth may be nil;
// the corresponding enrichment then degrades silently.
func NewOrchestrator(layers []Layer, sel *selector.Selector, rw *quality.Reweighter, sessions SessionManager, synth Synthesizer, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.LayerTimeout <= 0 {
		cfg.LayerTimeout = defaultLayerWait
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	byName := make(map[string]Layer, len(layers))
	for _, l := range layers {
		byName[l.Name()] = l
	}
	return &Orchestrator{
		layers:     byName,
		selector:   sel,
		reweighter: rw,
		sessions:   sessions,
		synth:      synth,
		cfg:        cfg,
		logger:     logger,
	}
}

// Recall runs the cascade for one query. It always returns a structurally
// valid Result: collaborator failures degrade the affected layer or tier
// and are logged, never propagated. Cancel ctx to abandon outstanding
// layer fetches and the synthesis call.
func (o *Orchestrator) Recall(ctx context.Context, query string, opts Options) *Result {
	k := opts.K
	if k <= 0 {
		k = o.cfg.DefaultK
	}
	if k > MaxK {
		k = MaxK
	}

	taskContext := opts.Context
	if taskContext == nil {
		taskContext = o.loadSessionContext(ctx)
	}

	depth, depthReason := o.resolveDepth(query, opts, taskContext)

	// Tier 1: keyword-routed parallel fan-out.
	layerNames := routeLayers(query)
	tier1 := o.queryLayers(ctx, layerNames, query, opts.ProjectID, k)
	tier1, layerQuality := o.reweighter.Reweight(ctx, tier1)

	result := &Result{
		Tier1:        tier1,
		CascadeDepth: depth,
	}
	if opts.IncludeScores {
		result.LayerQuality = layerQuality
	}

	// Tier 2: same layers plus session-derived context.
	if depth >= 2 {
		result.Tier2 = &Tier2Result{Layers: tier1}
		if sess := o.currentSession(ctx); sess != nil {
			result.Tier2.SessionEvents = sess.RecentEvents
		}
	}

	// Tier 3: narrative synthesis over Tier 2's merged output. A missing
	// synthesizer is a supported configuration: the field stays nil.
	if depth >= 3 && o.synth != nil {
		merged := tier1
		if result.Tier2 != nil {
			merged = result.Tier2.Layers
		}
		narrative, err := o.synth.Synthesize(ctx, merged, query)
		if err != nil {
			o.logger.Warn("synthesis failed, omitting tier 3", zap.Error(err))
		} else {
			result.Tier3 = &Synthesis{Narrative: narrative}
		}
	}

	if opts.ExplainReasoning {
		result.Explanation = &Explanation{
			Query:       query,
			Depth:       depth,
			DepthReason: depthReason,
			ContextKeys: sortedKeys(taskContext),
			Layers:      layerNames,
		}
	}

	o.logger.Debug("recall complete",
		zap.String("query", query),
		zap.Int("depth", depth),
		zap.Int("layers", len(layerNames)))
	return result
}

// resolveDepth clamps an explicit depth into [1,3] or derives one from the
// query and available quality estimates.
func (o *Orchestrator) resolveDepth(query string, opts Options, taskContext map[string]string) (int, string) {
	if opts.CascadeDepth != nil {
		d := *opts.CascadeDepth
		if d < selector.MinDepth {
			d = selector.MinDepth
		}
		if d > selector.MaxDepth {
			d = selector.MaxDepth
		}
		decision := o.selector.SelectDepth(query, d, opts.LayerQuality, taskContext)
		return decision.Depth, decision.Explanation
	}
	decision := o.selector.SelectDepth(query, 0, opts.LayerQuality, taskContext)
	return decision.Depth, decision.Explanation
}

// queryLayers fans out over the named layers concurrently, each under its
// own timeout. A slow or failing layer contributes nothing; the rest still
// return.
func (o *Orchestrator) queryLayers(ctx context.Context, names []string, query, projectID string, k int) TierResult {
	out := make(TierResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		layer, ok := o.layers[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, layer Layer) {
			defer wg.Done()
			layerCtx, cancel := context.WithTimeout(ctx, o.cfg.LayerTimeout)
			defer cancel()

			items, err := layer.Search(layerCtx, query, projectID, k)
			if err != nil {
				o.logger.Warn("layer query failed",
					zap.String("layer", name),
					zap.Error(err))
				return
			}
			mu.Lock()
			out[name] = items
			mu.Unlock()
		}(name, layer)
	}
	wg.Wait()
	return out
}

// loadSessionContext derives the task-context map from the active session.
// No session, or a session manager failure, means no context.
func (o *Orchestrator) loadSessionContext(ctx context.Context) map[string]string {
	sess := o.currentSession(ctx)
	if sess == nil {
		return nil
	}
	m := map[string]string{}
	if sess.Task != "" {
		m["current_task"] = sess.Task
	}
	if sess.Phase != "" {
		m["phase"] = sess.Phase
	}
	if sess.ProjectID != "" {
		m["project_id"] = sess.ProjectID
	}
	for k, v := range sess.Extra {
		m[k] = v
	}
	return m
}

func (o *Orchestrator) currentSession(ctx context.Context) *SessionContext {
	if o.sessions == nil {
		return nil
	}
	sess, err := o.sessions.CurrentSession(ctx)
	if err != nil {
		o.logger.Warn("session context unavailable", zap.Error(err))
		return nil
	}
	return sess
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
