package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ragdocs/internal/api"
	"github.com/kalambet/ragdocs/internal/config"
	"github.com/kalambet/ragdocs/internal/documents"
	"github.com/kalambet/ragdocs/internal/engine/local"
	"github.com/kalambet/ragdocs/internal/extract"
	"github.com/kalambet/ragdocs/internal/ingest"
	"github.com/kalambet/ragdocs/internal/kvstore"
	"github.com/kalambet/ragdocs/internal/pipeline"
	"github.com/kalambet/ragdocs/internal/status"
	"github.com/kalambet/ragdocs/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragdocs server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ragdocs server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ragdocs server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ragdocs.pid")
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

// app is the wired server stack for one workspace.
type app struct {
	store   *storage.Store
	kv      *kvstore.Store
	ex      *extract.Registry
	docs    *documents.Manager
	svc     *pipeline.Service
	handler http.Handler
	mcp     *server.MCPServer
	// watcher is nil unless periodic scanning is enabled.
	watcher *ingest.Worker
}

// dataDir scopes the data directory to the workspace.
func dataDir(cfg config.Config) string {
	if cfg.Input.Workspace == "" {
		return cfg.Storage.DataDir
	}
	return filepath.Join(cfg.Storage.DataDir, cfg.Input.Workspace)
}

// newApp opens storage and builds the pipeline and its transports.
// Background work started by the service runs under ctx.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	dir := dataDir(cfg)
	if a.store, err = storage.Open(dir); err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if a.kv, err = kvstore.Open(filepath.Join(dir, "kv"), false); err != nil {
		return nil, fmt.Errorf("opening kv store: %w", err)
	}

	statuses := status.NewRegistry(func(workspace string) (status.Store, error) {
		if cfg.Pipeline.StatusBackend == config.StatusSQLite {
			return status.NewSQLiteStore(a.store.DB(), workspace), nil
		}
		return status.NewMemoryStore(), nil
	})
	st, err := statuses.Workspace(cfg.Input.Workspace)
	if err != nil {
		return nil, fmt.Errorf("opening pipeline status: %w", err)
	}

	if a.ex, err = extract.NewRegistry(extract.Options{
		Engine:      cfg.Extract.Engine,
		PDFPassword: cfg.Extract.PDFPassword,
		Workers:     cfg.Extract.Workers,
		Logger:      logger.With("component", "extract"),
	}); err != nil {
		return nil, err
	}

	if a.docs, err = documents.New(cfg.Input.Dir, cfg.Input.Workspace); err != nil {
		return nil, err
	}

	eng := local.New(a.store, a.kv, st,
		local.WithChunking(cfg.Engine.ChunkSize, cfg.Engine.ChunkOverlap),
		local.WithLogger(logger.With("component", "engine")),
	)
	p := pipeline.New(eng, a.ex, a.docs, st, pipeline.WithLogger(logger.With("component", "pipeline")))
	a.svc = pipeline.NewService(ctx, p)

	a.handler = api.NewAppHandler(api.AppDeps{Service: a.svc, Token: cfg.Server.APIKey})
	a.mcp = api.NewMCPServer(api.MCPDeps{Service: a.svc, Version: version})

	if cfg.Input.ScanInterval > 0 {
		a.watcher = ingest.NewWorker(a.docs, a.svc, cfg.Input.ScanInterval)
	}
	return a, nil
}

// Close waits for background tasks and releases storage.
func (a *app) Close() error {
	if a.svc != nil {
		a.svc.Wait()
	}
	if a.ex != nil {
		a.ex.Close()
	}
	var errs []error
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing kv store: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ragdocs version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize structured logging.
	logLevel, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.Server.APIKey == "" {
		slog.Warn("no API key configured, /documents endpoints are unauthenticated")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(dataDir(cfg))
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ragdocs is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ragdocs is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ragdocs listening", "addr", ln.Addr().String(), "input_dir", a.docs.InputDir())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Server.MCPEnabled {
		g.Go(func() error {
			stdioSrv := server.NewStdioServer(a.mcp)
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(gctx)
			return nil
		})
		slog.Info("watching input directory", "interval", cfg.Input.ScanInterval)
	}

	if cfg.Input.AutoScan {
		if started, err := a.svc.AutoScan(ctx); err != nil {
			slog.Error("auto scan failed", "error", err)
		} else if started {
			slog.Info("auto scan started")
		}
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(dataDir(cfg))
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("ragdocs is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ragdocs (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ragdocs (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    serverURL(cfg),
		token:      cfg.Server.APIKey,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		if resp, err := client.get(ctx, "/documents/status_counts"); err == nil {
			var body struct {
				StatusCounts map[string]int `json:"status_counts"`
			}
			if decodeJSON(resp, &body) == nil {
				printStatus("Documents", "%d %s", body.StatusCounts["all"], summary(body.StatusCounts))
			}
		}
		if resp, err := client.get(ctx, "/documents/pipeline_status"); err == nil {
			var v api.PipelineStatusResponse
			if decodeJSON(resp, &v) == nil {
				if v.Busy {
					printStatus("Pipeline", "busy: %s", v.JobName)
				} else {
					printStatus("Pipeline", "idle")
				}
			}
		}
	}

	printStatus("Input dir", "%s", cfg.Input.Dir)
	if cfg.Input.Workspace != "" {
		printStatus("Workspace", "%s", cfg.Input.Workspace)
	}
	printStatus("Data dir", "%s", dataDir(cfg))
	return nil
}
