package cmd

import (
	"context"
	"fmt"

	"github.com/rand/chatbattery/internal/config"
	"github.com/rand/chatbattery/internal/decision"
	"github.com/rand/chatbattery/internal/generate"
	"github.com/rand/chatbattery/internal/novelty"
	"github.com/rand/chatbattery/internal/observability"
	"github.com/rand/chatbattery/internal/oracle"
	"github.com/rand/chatbattery/internal/reference"
	"github.com/rand/chatbattery/internal/retrieval"
)

// startOracle launches the Python domain agent described by cfg.
func startOracle(ctx context.Context, e *env) (*oracle.PythonBridge, error) {
	oc := e.cfg.Oracle
	bridge, err := oracle.NewPythonBridge(oracle.BridgeOptions{
		PythonPath: oc.Python,
		Module:     oc.Module,
		Attr:       oc.Attr,
		WorkDir:    oc.WorkDir,
		Timeout:    oc.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create domain bridge: %w", err)
	}
	bridge.SetLogger(e.logger.With("component", "oracle"))

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("start domain agent: %w", err)
	}
	return bridge, nil
}

// loadReference loads the configured reference collection.
func loadReference(ctx context.Context, e *env) (*reference.Collection, error) {
	coll, err := reference.Load(ctx, e.cfg.Reference.Path)
	if err != nil {
		return nil, fmt.Errorf("load reference collection: %w", err)
	}
	e.logger.Debug("reference collection loaded", "path", e.cfg.Reference.Path, "formulas", coll.Len())
	return coll, nil
}

func newEngine(cfg config.Config, o oracle.Oracle) *decision.Engine {
	return decision.NewEngine(o, decision.Config{
		Threshold: cfg.Decision.Threshold,
		Workers:   cfg.Session.Workers,
	})
}

func newRepairer(e *env, o oracle.Oracle, engine *decision.Engine) *retrieval.Repairer {
	r := retrieval.NewRepairer(o, engine)
	r.SetLogger(e.logger.With("component", "retrieval"))
	return r
}

// newLookups builds the reference lookup and, when enabled, the Materials
// Project lookup.
func newLookups(e *env, coll *reference.Collection, o oracle.Oracle, metrics *observability.Metrics) ([]novelty.Lookup, error) {
	matcher, _ := o.(oracle.RangeMatcher)
	ref := novelty.NewReferenceLookup(coll, matcher, metrics)
	ref.SetLogger(e.logger.With("component", "novelty"))
	lookups := []novelty.Lookup{ref}

	rc := e.cfg.Registry
	if !rc.Enabled {
		return lookups, nil
	}

	source, err := novelty.NewRegistrySource(
		novelty.WithBaseURL(rc.BaseURL),
		novelty.WithAPIKey(rc.APIKey),
		novelty.WithRateLimit(rc.RPS),
		novelty.WithTimeout(rc.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("materials project: %w", err)
	}
	breaker := novelty.NewBreaker(novelty.DefaultBreakerConfig())
	breaker.SetLogger(e.logger.With("component", "registry-breaker"))

	reg := novelty.NewRegistryLookup(source, breaker, metrics)
	reg.SetLogger(e.logger.With("component", "novelty"))
	return append(lookups, reg), nil
}

// newGenerationLoop builds the LLM-backed retry loop.
func newGenerationLoop(e *env, metrics *observability.Metrics) (*generate.Loop, error) {
	lc := e.cfg.LLM
	provider, err := generate.NewProvider(generate.ProviderConfig{
		Name:    lc.Provider,
		APIKey:  lc.APIKey,
		BaseURL: lc.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	gen, err := generate.NewFantasyGenerator(generate.FantasyConfig{
		Provider:  provider,
		Model:     lc.Model,
		MaxTokens: lc.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	loop := generate.NewLoop(gen,
		generate.WithPolicy(e.cfg.Retry),
		generate.WithTemperature(lc.Temperature),
		generate.WithMetrics(metrics),
	)
	loop.SetLogger(e.logger.With("component", "generate"))
	return loop, nil
}
