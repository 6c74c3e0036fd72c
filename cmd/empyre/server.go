package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/empyre-fit/empyre/internal/api"
	"github.com/empyre-fit/empyre/internal/coach"
	"github.com/empyre-fit/empyre/internal/config"
	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/laurel"
	"github.com/empyre-fit/empyre/internal/profile"
	"github.com/empyre-fit/empyre/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the empyre server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running empyre server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show empyre system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the coach as an MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "empyre.pid")
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

func setupLogging(level string, w io.Writer) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})))
}

// app holds the long-lived components shared by the HTTP and MCP servers.
type app struct {
	store  *storage.Store
	coach  *coach.Coach
	engine engine.Engine
	worker *laurel.Worker
}

// buildApp detects the text generation backend, makes sure the model is
// available, and opens storage. The caller must close app.store.
func buildApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Backend:          cfg.LLM.Backend,
		OllamaBaseURL:    cfg.LLM.OllamaBaseURL,
		OpenRouterAPIKey: cfg.LLM.OpenRouterAPIKey,
		GeminiAPIKey:     cfg.LLM.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting text generation backend: %w", err)
	}
	llm := engine.WithTimeout(eng, cfg.LLM.Timeout)
	if err := engine.EnsureReady(ctx, llm, cfg.LLM.Model, progress); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	c := coach.New(profile.NewManager(store), store, llm, coach.Config{
		Model:           cfg.LLM.Model,
		MinAuxFields:    cfg.Coach.MinAuxFields,
		MaxPlanAttempts: cfg.Coach.MaxPlanAttempts,
		ActivityFactor:  cfg.Coach.ActivityFactor,
	})

	return &app{
		store:  store,
		coach:  c,
		engine: llm,
		worker: laurel.NewWorker(store, cfg.Laurel.PollInterval),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func (a *app) healthChecks() map[string]api.HealthCheck {
	return map[string]api.HealthCheck{
		"storage": a.store.Ping,
		"llm": func(ctx context.Context) error {
			if !a.engine.IsRunning(ctx) {
				return fmt.Errorf("%s backend not reachable", a.engine.Name())
			}
			return nil
		},
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "empyre version %s\n", version)

	// Fails fast on missing credentials.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("empyre is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("empyre is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	handler := api.NewAppHandler(api.AppDeps{
		Coach:  a.coach,
		Store:  a.store,
		Checks: a.healthChecks(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go a.worker.Run(ctx)
	slog.Info("laurel worker started", "poll_interval", cfg.Laurel.PollInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("empyre listening", "addr", addr, "backend", a.engine.Name(), "model", cfg.LLM.Model)
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

// runMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they
// never corrupt the protocol stream.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	go a.worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{Coach: a.coach, Store: a.store})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
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
		printError("empyre is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop empyre (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to empyre (PID %d)", pid)
	return nil
}

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 6 * time.Second},
	}
	h, err := fetchHealth(context.Background(), client)
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case h.Status == "ok":
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "%s on port %d", h.Status, cfg.Server.Port)
	}
	if h != nil {
		for _, name := range []string{"storage", "llm"} {
			if v, ok := h.Checks[name]; ok {
				printStatus("  "+name, "%s", v)
			}
		}
	}

	printStatus("Backend", "%s", cfg.LLM.Backend)
	printStatus("Model", "%s", cfg.LLM.Model)
	if cfg.LLM.Backend == config.BackendOllama {
		printStatus("Ollama", "%s", cfg.LLM.OllamaBaseURL)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// fetchHealth returns the server's health report. A degraded server still
// answers, with a 503.
func fetchHealth(ctx context.Context, c *apiClient) (*healthBody, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var h healthBody
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("reading health: %w", err)
	}
	return &h, nil
}
