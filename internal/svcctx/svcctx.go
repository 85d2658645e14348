// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/blob"
	"github.com/jackzampolin/easel/internal/config"
	"github.com/jackzampolin/easel/internal/home"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/novels"
	"github.com/jackzampolin/easel/internal/panels"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/tasks"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Jobs        *jobs.Manager
	Tasks       *tasks.Store
	Queue       *queue.Queue
	Bibles      *bible.Store
	Novels      *novels.Store
	Panels      *panels.Store
	Blobs       *blob.Store
	Registry    *providers.Registry
	Metrics     *metrics.Recorder
	ConfigStore config.Store
	Config      *config.Manager
	Logger      *slog.Logger
	Home        *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobsFrom extracts the job manager from context.
func JobsFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Jobs
	}
	return nil
}

// TasksFrom extracts the panel task store from context.
func TasksFrom(ctx context.Context) *tasks.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Tasks
	}
	return nil
}

// QueueFrom extracts the message queue from context.
func QueueFrom(ctx context.Context) *queue.Queue {
	if s := ServicesFrom(ctx); s != nil {
		return s.Queue
	}
	return nil
}

// BiblesFrom extracts the continuity bible store from context.
func BiblesFrom(ctx context.Context) *bible.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bibles
	}
	return nil
}

// NovelsFrom extracts the novel store from context.
func NovelsFrom(ctx context.Context) *novels.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Novels
	}
	return nil
}

// PanelsFrom extracts the storyboard and panel store from context.
func PanelsFrom(ctx context.Context) *panels.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Panels
	}
	return nil
}

// BlobsFrom extracts the blob store from context.
func BlobsFrom(ctx context.Context) *blob.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blobs
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// MetricsFrom extracts the generation call recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// ConfigStoreFrom extracts the settings store from context.
func ConfigStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigStore
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
