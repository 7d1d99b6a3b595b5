package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/quizdoc/quizdoc/internal/api"
	"github.com/quizdoc/quizdoc/internal/chat"
	"github.com/quizdoc/quizdoc/internal/chunker"
	"github.com/quizdoc/quizdoc/internal/config"
	"github.com/quizdoc/quizdoc/internal/ollama"
	"github.com/quizdoc/quizdoc/internal/proxy"
	"github.com/quizdoc/quizdoc/internal/quiz"
	"github.com/quizdoc/quizdoc/internal/reranking"
	"github.com/quizdoc/quizdoc/internal/retrieval"
	"github.com/quizdoc/quizdoc/internal/session"
	"github.com/quizdoc/quizdoc/internal/storage"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quizdoc server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the quizdoc server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startDetached()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running quizdoc server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quizdoc system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "quizdoc.pid")
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

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// completer is the LLM completion call both providers implement.
type completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (string, error)
}

// ensureEmbedModel checks Ollama is up and the embedding model is present,
// pulling it when missing. Used when chat goes through OpenRouter and only
// embeddings run locally.
func ensureEmbedModel(ctx context.Context, c *ollama.Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}
	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := c.PullModel(ctx, model, func(p ollama.PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}

// buildDeps assembles the service stack shared by the HTTP and MCP servers:
// LLM provider, vector index backend, embedder, session store, answerer,
// quiz generator, and pending-quiz manager. Readiness output goes to w.
// The returned cleanup releases the sqlite handle when that backend is active.
func buildDeps(ctx context.Context, cfg config.Config, w io.Writer) (api.Deps, func(), error) {
	ollamaClient := ollama.New(cfg.Ollama.Endpoint)

	var (
		llm       completer
		chatModel string
	)
	switch cfg.LLM.Provider {
	case "openrouter":
		llm = proxy.NewClient(cfg.LLM.OpenRouterKey)
		chatModel = cfg.LLM.OpenRouterModel
		// Embeddings still run locally.
		if err := ensureEmbedModel(ctx, ollamaClient, cfg.LLM.EmbedModel, w); err != nil {
			return api.Deps{}, nil, err
		}
	default:
		llm = ollamaClient
		chatModel = cfg.LLM.ChatModel
		if err := ollama.EnsureReady(ctx, ollamaClient, cfg.LLM.ChatModel, cfg.LLM.EmbedModel, w); err != nil {
			return api.Deps{}, nil, err
		}
	}

	cleanup := func() {}
	var index vectorindex.Index
	switch cfg.Index.Backend {
	case "qdrant":
		index = vectorindex.NewQdrantIndex(cfg.Index.QdrantURL, cfg.Index.QdrantKey)
	default:
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return api.Deps{}, nil, fmt.Errorf("opening storage: %w", err)
		}
		cleanup = func() {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
			}
		}
		index = vectorindex.NewSQLiteIndex(store.DB())
	}

	embedder := retrieval.NewEmbedder(ollamaClient, cfg.LLM.EmbedModel)
	splitter := chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	sessions := session.NewStore(index, embedder, splitter, cfg.Index.Dimension)

	var reranker reranking.Reranker
	if cfg.Retrieval.Rerank {
		timeout, err := time.ParseDuration(cfg.Retrieval.RerankTimeout)
		if err != nil {
			slog.Warn("invalid rerank timeout, using default 10s",
				"value", cfg.Retrieval.RerankTimeout, "error", err)
			timeout = 10 * time.Second
		}
		reranker = reranking.NewReranker(llm, chatModel, true, timeout,
			cfg.Retrieval.RerankThreshold, cfg.Retrieval.TopK)
	}

	return api.Deps{
		Sessions:       sessions,
		Answerer:       chat.NewAnswerer(sessions, llm, chatModel, cfg.Retrieval.TopK, reranker),
		Generator:      quiz.NewGenerator(llm, chatModel),
		Quizzes:        quiz.NewManager(time.Duration(cfg.Quiz.KeyTTLMinutes)*time.Minute, cfg.Quiz.MaxPending),
		MaxUploadBytes: int64(cfg.Upload.MaxBytes),
	}, cleanup, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "quizdoc version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	// Refuse to start twice. The health endpoint is the source of truth,
	// the PID file only names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	// Expired answer keys are reaped in the background.
	sweeper := quiz.NewSweeper(deps.Quizzes, time.Minute)
	go sweeper.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{Handler: api.NewHandler(deps)}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "quizdoc listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

func startDetached() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("quizdoc is already running on port %d", cfg.Server.Port)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	logPath := filepath.Join(cfg.Storage.DataDir, "quizdoc.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve")
	child.Stdout = logFile
	child.Stderr = logFile
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	pid := child.Process.Pid
	if err := child.Process.Release(); err != nil {
		return err
	}

	// Model pulls can take a while on first start; poll long enough to
	// catch the common case and point at the log otherwise.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := healthClient.Get(healthURL); err == nil {
			resp.Body.Close()
			printSuccess("quizdoc started (PID %d), log: %s", pid, logPath)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	printWarning("quizdoc (PID %d) is not answering yet, check %s", pid, logPath)
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
		printError("quizdoc is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop quizdoc (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to quizdoc (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	serverURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	switch cfg.LLM.Provider {
	case "openrouter":
		printStatus("Provider", "openrouter (%s)", cfg.LLM.OpenRouterModel)
	default:
		printStatus("Provider", "ollama (%s)", cfg.LLM.ChatModel)
	}
	printStatus("Embed model", "%s", cfg.LLM.EmbedModel)

	ollamaResp, err := client.Get(cfg.Ollama.Endpoint + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.Endpoint)
	}

	switch cfg.Index.Backend {
	case "qdrant":
		printStatus("Index", "qdrant at %s", cfg.Index.QdrantURL)
	default:
		printStatus("Index", "sqlite")
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout belongs to the MCP transport, so everything else goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	sweeper := quiz.NewSweeper(deps.Quizzes, time.Minute)
	go sweeper.Run(ctx)

	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
