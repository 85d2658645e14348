// Package endpoints defines the HTTP API surface. Every endpoint doubles
// as a CLI command against a running server.
package endpoints

import (
	"github.com/jackzampolin/easel/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Novel endpoints
		&UploadNovelEndpoint{},
		&ListNovelsEndpoint{},
		&GetNovelEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},
		&RetryJobEndpoint{},

		// Bible endpoints
		&GetBibleEndpoint{},
		&BibleHistoryEndpoint{},
		&UpdateCharacterEndpoint{},
		&UpdateSceneEndpoint{},
		&AddCharacterImageEndpoint{},
		&AddSceneImageEndpoint{},

		// Storyboard endpoints
		&GetStoryboardEndpoint{},
		&GeneratePanelsEndpoint{},
		&EditPanelEndpoint{},
		&PanelImageEndpoint{},

		// Settings endpoints
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},

		// Metrics endpoints
		&ListMetricsEndpoint{},
		&MetricsSummaryEndpoint{},
	}
}
