package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/config"
	"github.com/kalambet/recall/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into the archive",
	Long: `Ingest content into the archive.

Examples:
  recall ingest --text "Meeting notes from the deploy review" --source-type note
  recall ingest --url https://example.com/article
  recall ingest --file ./thesis.pdf --title "Thesis draft"
  recall ingest --dir ~/notes --source-type note`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		dir, _ := cmd.Flags().GetString("dir")
		title, _ := cmd.Flags().GetString("title")
		sourceType, _ := cmd.Flags().GetString("source-type")
		authorRole, _ := cmd.Flags().GetString("author-role")

		if text == "" && url == "" && file == "" && dir == "" {
			return fmt.Errorf("one of --text, --url, --file, or --dir is required")
		}

		if dir != "" {
			return ingestDir(dir, sourceType, authorRole)
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}
		if sourceType != "" {
			req["source_type"] = sourceType
		}
		if authorRole != "" {
			req["author_role"] = authorRole
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			content, err := ingest.ExtractFile(file)
			if err != nil {
				return err
			}
			req["type"] = "text"
			req["content"] = content
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s", result["id"])
		return nil
	},
}

func ingestDir(dir, sourceType, authorRole string) error {
	req := map[string]any{"path": dir}
	if sourceType != "" {
		req["source_type"] = sourceType
	}
	if authorRole != "" {
		req["author_role"] = authorRole
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post("/ingest/dir", req)
	if err != nil {
		return err
	}

	var body struct {
		Queued  int `json:"queued"`
		Results []struct {
			Path  string `json:"path"`
			ID    string `json:"id"`
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}

	for _, r := range body.Results {
		if r.Error != "" {
			printError("%s: %s", r.Path, r.Error)
			continue
		}
		fmt.Printf("  %s  %s\n", r.ID, r.Path)
	}
	printSuccess("Queued %d of %d documents", body.Queued, len(body.Results))
	return nil
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (pdf, html, or plain text)")
	ingestCmd.Flags().String("dir", "", "directory to ingest recursively")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("source-type", "", "origin of the content: chat, email, document, or note")
	ingestCmd.Flags().String("author-role", "", "author role recorded for the content")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		level, _ := cmd.Flags().GetString("level")
		mode, _ := cmd.Flags().GetString("mode")
		sessionID, _ := cmd.Flags().GetString("session")

		req := map[string]any{
			"query": query,
			"limit": limit,
			"level": level,
			"mode":  mode,
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		type result struct {
			ID    string  `json:"id"`
			Level string  `json:"level"`
			Title string  `json:"title"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}

		var results []result
		if sessionID != "" {
			resp, err := client.post("/sessions/"+sessionID+"/search", req)
			if err != nil {
				return err
			}
			var body struct {
				Session struct {
					Results []result `json:"results"`
				} `json:"session"`
			}
			if err := decodeJSON(resp, &body); err != nil {
				return err
			}
			results = body.Session.Results
		} else {
			resp, err := client.post("/search", req)
			if err != nil {
				return err
			}
			var body struct {
				Results []result `json:"results"`
			}
			if err := decodeJSON(resp, &body); err != nil {
				return err
			}
			results = body.Results
		}

		if len(results) == 0 {
			printWarning("No results")
			return nil
		}
		for i, r := range results {
			title := r.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%2d. [%.3f] %s %s\n", i+1, r.Score, colorize(colorBold, title), colorize(colorCyan, "("+r.Level+" "+r.ID+")"))
			fmt.Printf("    %s\n", excerpt(r.Text, 200))
		}
		return nil
	},
}

func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("level", "", "restrict to a pyramid level: L0, L1, or apex")
	searchCmd.Flags().String("mode", "", "retrieval mode: hybrid, dense, or sparse")
	searchCmd.Flags().String("session", "", "run inside an existing session")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage refinement sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/sessions")
		if err != nil {
			return err
		}

		var infos []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			ResultCount int    `json:"result_count"`
			LastActive  string `json:"last_active"`
		}
		if err := decodeJSON(resp, &infos); err != nil {
			return err
		}

		if len(infos) == 0 {
			printWarning("No active sessions")
			return nil
		}
		for _, info := range infos {
			name := info.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("  %s  %s  %d results  last active %s\n", info.ID, colorize(colorBold, name), info.ResultCount, info.LastActive)
		}
		return nil
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/sessions", map[string]string{"name": name})
		if err != nil {
			return err
		}

		var s struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}

		printSuccess("Created session %s", s.ID)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/sessions/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

func init() {
	sessionsCreateCmd.Flags().String("name", "", "session name")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
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
