// Package registry hosts the named scoring engines declared in
// configuration. Each model name routes to its own independent engine with
// its own tokenizer, store, and boundaries.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/phrasewatch/phrasewatch/internal/scorer/engine"
	"github.com/phrasewatch/phrasewatch/pkg/config"
	apperrors "github.com/phrasewatch/phrasewatch/pkg/errors"
)

// Registry maps model names to their scoring engines. The engine set is
// fixed at construction; lookups are read-only and safe for concurrent use.
type Registry struct {
	engines map[string]*engine.Engine
	logger  *slog.Logger
}

// New builds one engine per declared model. An empty model list falls back
// to the default model so the scorer always has something to route to.
func New(models []config.ModelConfig) (*Registry, error) {
	if len(models) == 0 {
		models = []config.ModelConfig{config.DefaultModel()}
	}
	r := &Registry{
		engines: make(map[string]*engine.Engine, len(models)),
		logger:  slog.Default().With("component", "engine-registry"),
	}
	for _, m := range models {
		if m.Name == "" {
			return nil, fmt.Errorf("model with empty name in configuration")
		}
		if _, dup := r.engines[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %q in configuration", m.Name)
		}
		e, err := engine.New(m)
		if err != nil {
			return nil, fmt.Errorf("creating engine: %w", err)
		}
		r.engines[m.Name] = e
		r.logger.Info("engine initialized",
			"model", m.Name,
			"strategy", e.Strategy(),
			"n_min", m.NMin,
			"n_max", m.NMax,
		)
	}
	r.logger.Info("engine registry ready", "models", len(r.engines))
	return r, nil
}

// Get returns the engine for the named model. An empty name routes to
// "default".
func (r *Registry) Get(name string) (*engine.Engine, error) {
	if name == "" {
		name = "default"
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrModelNotFound, name)
	}
	return e, nil
}

// Names returns the configured model names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a snapshot map of every engine.
func (r *Registry) All() map[string]*engine.Engine {
	out := make(map[string]*engine.Engine, len(r.engines))
	for name, e := range r.engines {
		out[name] = e
	}
	return out
}

// Len returns the number of hosted engines.
func (r *Registry) Len() int {
	return len(r.engines)
}
