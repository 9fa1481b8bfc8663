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

	"github.com/kalambet/newsdesk/internal/ai"
	"github.com/kalambet/newsdesk/internal/api"
	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/cms"
	"github.com/kalambet/newsdesk/internal/config"
	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/pipeline"
	"github.com/kalambet/newsdesk/internal/publish"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
	"github.com/kalambet/newsdesk/internal/schedule"
	"github.com/kalambet/newsdesk/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the newsdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running newsdesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show newsdesk system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "newsdesk.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// durationOr parses value, logging and returning fallback when it is invalid.
func durationOr(name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", name, "value", value, "default", fallback, "error", err)
		return fallback
	}
	return d
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "newsdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("newsdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("newsdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	var q queue.Queue = queue.NewSQLite(store)
	if cfg.Queue.Backend == config.QueueNone {
		slog.Warn("queue backend disabled, running degraded")
		q = queue.NewNoop()
	}

	aiClient := ai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
	if !aiClient.Configured() {
		slog.Warn("AI API key not set, pipeline stages will fail", "key", "ai.api_key")
	}

	var publisher cms.Publisher = cms.Disabled{}
	cmsReady := cfg.CMS.APIKey != "" && cfg.CMS.DatabaseID != ""
	if cmsReady {
		publisher = cms.NewNotionClient(cfg.CMS.APIKey, cfg.CMS.BaseURL, cfg.CMS.DatabaseID)
	} else {
		slog.Warn("CMS not configured, processed items will not be forwarded")
	}

	auditLog := audit.New(store)
	reviews := review.NewService(store, auditLog, review.Options{RequireFullChecklist: cfg.Review.RequireFullChecklist})
	gate := publish.NewGate(reviews, store, publisher, auditLog)
	guard := ledger.NewGuard(store, auditLog, cfg.Ledger.MonthlyCapUSD)

	processor := pipeline.NewProcessor(q, aiClient, publisher, reviews, pipeline.Options{
		StageTimeout: durationOr("pipeline.stage_timeout", cfg.Pipeline.StageTimeout, 60*time.Second),
		MaxBatch:     cfg.Pipeline.MaxBatch,
	})

	feeds, err := ingest.LoadFeeds(cfg.Feeds.Path)
	if err != nil {
		return fmt.Errorf("loading feeds: %w", err)
	}
	fetcher := ingest.NewFetcher(feeds, q, store)

	runner := schedule.NewRunner(fetcher, processor, durationOr("pipeline.interval", cfg.Pipeline.Interval, 0), cfg.Pipeline.BatchSize)
	go runner.Run(ctx)

	deps := api.Deps{
		Token:        apiToken,
		Queue:        q,
		QueueBackend: cfg.Queue.Backend,
		Processor:    processor,
		Feeder:       fetcher,
		Reviews:      reviews,
		Gate:         gate,
		Ledger:       guard,
		Audit:        auditLog,
		AIReady:      aiClient.Configured(),
		CMSReady:     cmsReady,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "newsdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

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
		printError("newsdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop newsdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to newsdesk (PID %d)", pid)
	return nil
}

type healthReport struct {
	Status       string      `json:"status"`
	QueueBackend string      `json:"queueBackend"`
	AI           string      `json:"ai"`
	CMS          string      `json:"cms"`
	Queue        queue.Stats `json:"queue"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthReport
		decodeErr := decodeJSON(resp, &h)
		switch {
		case decodeErr != nil:
			printStatus("Server", "error (%v)", decodeErr)
		default:
			printStatus("Server", "%s on port %d", h.Status, cfg.Server.Port)
			printStatus("Queue", "%s (%d pending, %d processed, %d failed)", h.QueueBackend, h.Queue.Pending, h.Queue.Processed, h.Queue.Failed)
			printStatus("AI", "%s", h.AI)
			printStatus("CMS", "%s", h.CMS)
		}
	}

	printStatus("Model", "%s", cfg.AI.Model)
	printStatus("Monthly cap", "%s", formatUSD(cfg.Ledger.MonthlyCapUSD))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func formatUSD(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}
