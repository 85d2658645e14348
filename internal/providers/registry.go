package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds named generators. It supports config-driven registration
// and thread-safe lookup; the pipeline resolves its generators by name at
// claim time, so a hot-reloaded registration takes effect on the next job.
type Registry struct {
	mu          sync.RWMutex
	storyboards map[string]StoryboardGenerator
	images      map[string]ImageGenerator
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		storyboards: make(map[string]StoryboardGenerator),
		images:      make(map[string]ImageGenerator),
		logger:      logger.With("component", "providers"),
	}
}

// RegisterStoryboard registers a storyboard generator by name.
func (r *Registry) RegisterStoryboard(name string, g StoryboardGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storyboards[name] = g
	r.logger.Info("registered storyboard generator", "name", name)
}

// RegisterImage registers an image generator by name.
func (r *Registry) RegisterImage(name string, g ImageGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[name] = g
	r.logger.Info("registered image generator", "name", name)
}

// Storyboard returns a storyboard generator by name.
func (r *Registry) Storyboard(name string) (StoryboardGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.storyboards[name]
	if !ok {
		return nil, fmt.Errorf("%w: storyboard generator %q", ErrProviderNotFound, name)
	}
	return g, nil
}

// Image returns an image generator by name.
func (r *Registry) Image(name string) (ImageGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.images[name]
	if !ok {
		return nil, fmt.Errorf("%w: image generator %q", ErrProviderNotFound, name)
	}
	return g, nil
}

// StoryboardNames lists registered storyboard generators.
func (r *Registry) StoryboardNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.storyboards))
	for name := range r.storyboards {
		names = append(names, name)
	}
	return names
}
