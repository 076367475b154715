package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/recall/internal/api"
	"github.com/kalambet/recall/internal/cluster"
	"github.com/kalambet/recall/internal/config"
	"github.com/kalambet/recall/internal/engine"
	"github.com/kalambet/recall/internal/hierarchy"
	"github.com/kalambet/recall/internal/ingest"
	"github.com/kalambet/recall/internal/pyramid"
	"github.com/kalambet/recall/internal/refine"
	"github.com/kalambet/recall/internal/retrieval"
	"github.com/kalambet/recall/internal/session"
	"github.com/kalambet/recall/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recall server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recall server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "recall.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("recall is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("recall is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local inference engine readiness.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.SummaryModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the retrieval and refinement stack.
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	searcher := retrieval.NewSearcher(embedder, store, retrieval.FusionConfig{
		DenseWeight:  float32(cfg.Retrieval.DenseWeight),
		SparseWeight: float32(cfg.Retrieval.SparseWeight),
		CandidateK:   cfg.Retrieval.CandidateK,
	})
	summarizer := engine.NewSummarizer(eng, cfg.Ollama.SummaryModel)
	builder := pyramid.NewBuilder(
		pyramid.NewWordChunker(cfg.Pyramid.ChunkWords),
		pyramid.Config{
			MinWords:        cfg.Pyramid.MinWords,
			ChunkWords:      cfg.Pyramid.ChunkWords,
			BucketSize:      cfg.Pyramid.BucketSize,
			L1TargetWords:   cfg.Pyramid.L1TargetWords,
			ApexTargetWords: cfg.Pyramid.ApexTargetWords,
		},
		pyramid.WithSummarizer(summarizer),
	)

	sessions := session.NewManager(
		session.WithIdleTTL(time.Duration(cfg.Session.IdleTTLMinutes) * time.Minute),
	)
	go sessions.Run(ctx)

	refineEngine := refine.NewEngine(sessions, searcher, refine.Config{
		AnchorWeight:    float32(cfg.Refine.AnchorWeight),
		AnchorThreshold: float32(cfg.Refine.AnchorThreshold),
	})
	clusterEngine := cluster.NewEngine(sessions, summarizer)
	navigator := hierarchy.NewNavigator(store)
	intake := ingest.NewIntake(store)

	// Start the indexing worker.
	worker := ingest.NewWorker(store, builder, embedder, 500*time.Millisecond)
	go worker.Run(ctx)

	deps := api.AppDeps{
		Store:      store,
		Searcher:   searcher,
		Sessions:   sessions,
		Refine:     refineEngine,
		Clusters:   clusterEngine,
		Navigator:  navigator,
		Intake:     intake,
		Token:      apiToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	handler := api.NewAppHandler(deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{AppDeps: deps})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("recall is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop recall (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to recall (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Summary model", "%s", cfg.Ollama.SummaryModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show document and session counts if the server is running.
	if running {
		if apiCli, err := newAPIClient(); err == nil {
			var docs []struct {
				ID string `json:"id"`
			}
			if resp, err := apiCli.get("/documents?limit=100"); err == nil {
				if decodeJSON(resp, &docs) == nil {
					printStatus("Documents", "%s", countLabel(len(docs), 100))
				}
			}
			var sessions []struct {
				ID string `json:"id"`
			}
			if resp, err := apiCli.get("/sessions"); err == nil {
				if decodeJSON(resp, &sessions) == nil {
					printStatus("Sessions", "%d", len(sessions))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
