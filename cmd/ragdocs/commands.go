package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/ragdocs/internal/api"
	"github.com/kalambet/ragdocs/internal/config"
	"github.com/kalambet/ragdocs/internal/pipeline"
)

// submitted prints the outcome of a submission and its track ID.
func submitted(resp pipeline.Response) {
	switch resp.Status {
	case "success", "scanning_started", "reprocessing_started":
		printSuccess("%s", resp.Message)
	default:
		printWarning("%s (%s)", resp.Message, resp.Status)
	}
	if resp.TrackID != "" {
		printStatus("Track ID", "%s", resp.TrackID)
	}
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index new files found in the input directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/scan", nil)
		if err != nil {
			return err
		}
		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		submitted(result)
		return nil
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files into the input directory and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var failed int
		for _, path := range args {
			if err := uploadFile(cmd, client, path); err != nil {
				printError("%s: %v", path, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(args))
		}
		return nil
	},
}

func uploadFile(cmd *cobra.Command, client *apiClient, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := client.upload(cmd.Context(), "/documents/upload", filepath.Base(path), f)
	if err != nil {
		return err
	}
	var result pipeline.Response
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	submitted(result)
	return nil
}

// --- insert ---

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert text directly into the index",
	Long: `Insert text directly into the index.

Examples:
  ragdocs insert --text "Badger is an LSM key-value store" --source notes
  ragdocs insert --file ./summary.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
			if source == "" {
				source = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/text", api.InsertTextRequest{
			Text:       text,
			FileSource: source,
		})
		if err != nil {
			return err
		}
		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		submitted(result)
		return nil
	},
}

func init() {
	insertCmd.Flags().String("text", "", "text content to insert")
	insertCmd.Flags().String("file", "", "read the text from a file")
	insertCmd.Flags().String("source", "", "source name recorded for the document")
}

// --- pipeline ---

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Show the pipeline job and its recent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/pipeline_status")
		if err != nil {
			return err
		}
		var v api.PipelineStatusResponse
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(v)
		}

		if v.Busy {
			printStatus("Pipeline", "%s", colorize(colorYellow, "busy"))
			printStatus("Job", "%s (started %s)", v.JobName, v.JobStart)
			printStatus("Progress", "batch %d of %d, %d docs", v.CurBatch, v.Batchs, v.Docs)
		} else {
			printStatus("Pipeline", "%s", colorize(colorGreen, "idle"))
		}
		if v.RequestPending {
			printStatus("Pending", "another run is queued")
		}
		if v.CancellationRequested {
			printStatus("Cancel", "requested")
		}
		if v.LatestMessage != "" {
			printStatus("Latest", "%s", v.LatestMessage)
		}
		history, _ := cmd.Flags().GetInt("history")
		msgs := v.HistoryMessages
		if len(msgs) > history {
			msgs = msgs[len(msgs)-history:]
		}
		for _, m := range msgs {
			fmt.Printf("    %s\n", m)
		}
		return nil
	},
}

func init() {
	pipelineCmd.Flags().Bool("json", false, "print the raw status JSON")
	pipelineCmd.Flags().Int("history", 10, "number of history messages to show")
}

// --- track ---

var trackCmd = &cobra.Command{
	Use:   "track <track-id>",
	Short: "Show the documents submitted under a track ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/track_status/"+args[0])
		if err != nil {
			return err
		}
		var ts pipeline.TrackStatus
		if err := decodeJSON(resp, &ts); err != nil {
			return err
		}
		if len(ts.Documents) == 0 {
			fmt.Println("No documents found for this track ID.")
			return nil
		}
		for _, d := range ts.Documents {
			line := fmt.Sprintf("%s  %-12s  %s", colorize(colorCyan, d.ID), d.Status, d.FilePath)
			if d.ErrorMsg != "" {
				line += "  " + colorize(colorRed, d.ErrorMsg)
			}
			fmt.Println(line)
		}
		printStatus("Total", "%d %s", ts.TotalCount, summary(ts.StatusSummary))
		return nil
	},
}

func summary(counts map[string]int) string {
	var parts []string
	for _, s := range []string{"pending", "processing", "preprocessed", "processed", "failed"} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents page by page",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req pipeline.PageRequest
		req.StatusFilter, _ = cmd.Flags().GetString("status")
		req.Page, _ = cmd.Flags().GetInt("page")
		req.PageSize, _ = cmd.Flags().GetInt("page-size")
		req.SortField, _ = cmd.Flags().GetString("sort")
		req.SortDirection, _ = cmd.Flags().GetString("order")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/paginated", req)
		if err != nil {
			return err
		}
		var page pipeline.DocumentsPage
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(page)
		}
		if len(page.Documents) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range page.Documents {
			fmt.Printf("%s  %-12s  %s  %s\n",
				colorize(colorCyan, d.ID),
				d.Status,
				d.UpdatedAt.Format("2006-01-02 15:04:05"),
				d.FilePath,
			)
		}
		p := page.Pagination
		printStatus("Page", "%d of %d (%d documents)", p.Page, p.TotalPages, p.TotalCount)
		return nil
	},
}

func init() {
	docsCmd.Flags().String("status", "", "only list documents with this status")
	docsCmd.Flags().Int("page", 1, "page number")
	docsCmd.Flags().Int("page-size", 50, "documents per page (10-200)")
	docsCmd.Flags().String("sort", "updated_at", "sort field: created_at, updated_at, id or file_path")
	docsCmd.Flags().String("order", "desc", "sort direction: asc or desc")
	docsCmd.Flags().Bool("json", false, "print the raw page JSON")
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>...",
	Short: "Delete documents by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deleteFile, _ := cmd.Flags().GetBool("delete-file")
		deleteCache, _ := cmd.Flags().GetBool("delete-llm-cache")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/delete_document", api.DeleteDocRequest{
			DocIDs:         args,
			DeleteFile:     deleteFile,
			DeleteLLMCache: deleteCache,
		})
		if err != nil {
			return err
		}
		var result pipeline.DeleteResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Status == "deletion_started" {
			printSuccess("%s", result.Message)
		} else {
			printWarning("%s (%s)", result.Message, result.Status)
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().Bool("delete-file", false, "also delete the source files")
	deleteCmd.Flags().Bool("delete-llm-cache", false, "also delete cached LLM results")
}

// --- cancel ---

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Ask the running pipeline job to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/cancel_pipeline", nil)
		if err != nil {
			return err
		}
		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Status == "cancellation_requested" {
			printSuccess("%s", result.Message)
		} else {
			printWarning("%s", result.Message)
		}
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every document, index entry and input file",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL documents and input files. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents", nil)
		if err != nil {
			return err
		}
		var result pipeline.ClearResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		switch result.Status {
		case pipeline.ClearSuccess:
			printSuccess("%s", result.Message)
		case pipeline.ClearFail:
			printError("%s", result.Message)
			return fmt.Errorf("clear failed")
		default:
			printWarning("%s", result.Message)
		}
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deleting everything")
}

// --- clear-cache ---

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop all cached LLM results",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/clear_cache", nil)
		if err != nil {
			return err
		}
		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

// --- reprocess ---

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Retry failed and unfinished documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/documents/reprocess_failed", nil)
		if err != nil {
			return err
		}
		var result pipeline.Response
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		submitted(result)
		return nil
	},
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		if err := cfg.Validate(); err != nil {
			printWarning("configuration is invalid: %v", err)
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
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (secret keys: %s)", err, strings.Join(config.SecretKeys(), ", "))
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
