package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/server/endpoints"
)

var (
	analyzeServer string
	analyzeTitle  string
	analyzeAuthor string
)

// analyzeCmd is a development shortcut: upload a local text file to a
// running server and queue its storyboard analysis in one step.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <text-file>",
	Short: "Upload a local novel and queue its analysis",
	Long: `Analyze reads a text file from disk, uploads it to a running Easel
server, and queues the storyboard analysis job. Shorthand for
"easel api novels upload".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		title := analyzeTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		client := api.NewClient(analyzeServer)
		var resp endpoints.UploadNovelResponse
		req := endpoints.UploadNovelRequest{Title: title, Author: analyzeAuthor, Text: string(text)}
		if err := client.Post(cmd.Context(), "/api/novels", req, &resp); err != nil {
			return err
		}
		fmt.Printf("Novel: %s (%s)\n", resp.Novel.Title, resp.Novel.ID)
		fmt.Printf("Job:   %s (%s)\n", resp.Job.ID, resp.Job.Status)
		fmt.Printf("Watch: easel api jobs job %s --server %s\n", resp.Job.ID, analyzeServer)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeServer, "server", "http://localhost:8780", "Server URL")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "Novel title (defaults to the file name)")
	analyzeCmd.Flags().StringVar(&analyzeAuthor, "author", "", "Novel author")
	rootCmd.AddCommand(analyzeCmd)
}
