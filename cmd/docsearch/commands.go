package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkhuynh/docsearch/internal/config"
	"github.com/mkhuynh/docsearch/internal/indexer"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed documents",
	Long: `Search the indexed documents semantically.

Examples:
  docsearch search "how do I configure the GPIO pins"
  docsearch search --k 10 "boot sequence"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"query": query}
		if k > 0 {
			body["k"] = k
		}
		resp, err := client.post("/search", body)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				ID     string  `json:"id"`
				Text   string  `json:"text"`
				Page   int     `json:"page"`
				Source string  `json:"source"`
				Score  float32 `json:"score"`
			} `json:"results"`
			TotalResults int `json:"total_results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.TotalResults == 0 {
			printWarning("No results. Is the index built? Try: docsearch index build")
			return nil
		}

		for i, r := range result.Results {
			header := fmt.Sprintf("%d. %s (page %d, score %.3f)", i+1, r.Source, r.Page, r.Score)
			fmt.Println(colorize(colorBold, header))
			fmt.Println(snippet(r.Text, 300))
			fmt.Println()
		}
		return nil
	},
}

// snippet trims text to at most n runes on a word boundary.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func init() {
	searchCmd.Flags().Int("k", 0, "number of results to return")
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage source documents",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in the source directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/files")
		if err != nil {
			return err
		}

		var result struct {
			Files []struct {
				Filename string `json:"filename"`
				Size     int64  `json:"size"`
			} `json:"files"`
			TotalFiles int `json:"total_files"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.TotalFiles == 0 {
			printWarning("No documents. Add one with: docsearch files upload <path>")
			return nil
		}
		for _, f := range result.Files {
			fmt.Printf("  %s (%s)\n", f.Filename, humanSize(f.Size))
		}
		return nil
	},
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a document and index it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s...", args[0])
		resp, err := client.upload(args[0])
		if err != nil {
			return err
		}

		var result struct {
			Filename string `json:"filename"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded as %s; indexing started in the background", result.Filename)
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <filename>",
	Short: "Delete a document from the source directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/files/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s (rebuild the index to drop its chunks)", result["filename"])
		return nil
	},
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesUploadCmd)
	filesCmd.AddCommand(filesDeleteCmd)
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the search index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the search index from the source directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if !wait {
			resp, err := client.post("/index/build", nil)
			if err != nil {
				return err
			}
			var result map[string]any
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Build started; check progress with: docsearch index status")
			return nil
		}

		printStep("Building index (this may take a while)...")
		resp, err := client.post("/index/build/sync", nil)
		if err != nil {
			return err
		}
		var result indexer.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !result.Success {
			printError("Build failed: %s", result.Message)
			if result.Error != "" {
				printStatus("Error", "%s", result.Error)
			}
			return fmt.Errorf("index build failed")
		}

		printSuccess("%s", result.Message)
		printStatus("Collection", "%s", result.CollectionName)
		printStatus("Model", "%s", result.EmbeddingModel)
		printStatus("Chunks", "%d (was %d)", result.TotalChunks, result.PreviousChunks)
		for _, f := range result.FilesProcessed {
			if f.Error != "" {
				printWarning("%s skipped: %s", f.Filename, f.Error)
				continue
			}
			printStatus(f.Filename, "%d pages, %d chunks", f.Pages, f.Chunks)
		}
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the last or current index build",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/index/status")
		if err != nil {
			return err
		}

		var status indexer.Status
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		if status.IsRunning {
			if p := status.Progress; p != nil {
				printStatus("Build", "running (%d/%d: %s)", p.Current, p.Total, p.Filename)
			} else {
				printStatus("Build", "running")
			}
			return nil
		}
		if status.LastResult == nil {
			printStatus("Build", "never run")
			return nil
		}
		if status.LastResult.Success {
			printStatus("Build", "succeeded — %s", status.LastResult.Message)
		} else {
			printStatus("Build", "failed — %s", status.LastResult.Message)
		}
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().Bool("wait", false, "build synchronously and report the full result")
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
