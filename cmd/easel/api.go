package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Easel server via HTTP.

These commands require a running server (easel serve).
Use --server to specify a custom server URL.

Examples:
  easel api health                       # Check server health
  easel api novels upload book.txt       # Upload a novel for analysis
  easel api jobs list                    # List jobs`,
}

var novelsCmd = &cobra.Command{
	Use:   "novels",
	Short: "Novel management commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var biblesCmd = &cobra.Command{
	Use:   "bibles",
	Short: "Continuity bible commands",
}

var storyboardsCmd = &cobra.Command{
	Use:   "storyboards",
	Short: "Storyboard and panel commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Runtime settings commands",
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Generation call accounting commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8780", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Novels as subcommand group
	novelsCmd.AddCommand((&endpoints.UploadNovelEndpoint{}).Command(getServerURL))
	novelsCmd.AddCommand((&endpoints.ListNovelsEndpoint{}).Command(getServerURL))
	novelsCmd.AddCommand((&endpoints.GetNovelEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.ListJobsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.CancelJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.RetryJobEndpoint{}).Command(getServerURL))

	// Bibles as subcommand group
	biblesCmd.AddCommand((&endpoints.GetBibleEndpoint{}).Command(getServerURL))
	biblesCmd.AddCommand((&endpoints.BibleHistoryEndpoint{}).Command(getServerURL))
	biblesCmd.AddCommand((&endpoints.UpdateCharacterEndpoint{}).Command(getServerURL))
	biblesCmd.AddCommand((&endpoints.UpdateSceneEndpoint{}).Command(getServerURL))
	biblesCmd.AddCommand((&endpoints.AddCharacterImageEndpoint{}).Command(getServerURL))
	biblesCmd.AddCommand((&endpoints.AddSceneImageEndpoint{}).Command(getServerURL))

	// Storyboards as subcommand group
	storyboardsCmd.AddCommand((&endpoints.GetStoryboardEndpoint{}).Command(getServerURL))
	storyboardsCmd.AddCommand((&endpoints.GeneratePanelsEndpoint{}).Command(getServerURL))
	storyboardsCmd.AddCommand((&endpoints.EditPanelEndpoint{}).Command(getServerURL))
	storyboardsCmd.AddCommand((&endpoints.PanelImageEndpoint{}).Command(getServerURL))

	// Settings as subcommand group
	settingsCmd.AddCommand((&endpoints.ListSettingsEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.GetSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.UpdateSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.ResetSettingEndpoint{}).Command(getServerURL))

	// Metrics as subcommand group
	metricsCmd.AddCommand((&endpoints.ListMetricsEndpoint{}).Command(getServerURL))
	metricsCmd.AddCommand((&endpoints.MetricsSummaryEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(novelsCmd)
	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(biblesCmd)
	apiCmd.AddCommand(storyboardsCmd)
	apiCmd.AddCommand(settingsCmd)
	apiCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(apiCmd)
}
