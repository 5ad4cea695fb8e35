package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/emilemassie/gemini-receipts/internal/batch"
	"github.com/emilemassie/gemini-receipts/internal/receipt"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
	"github.com/emilemassie/gemini-receipts/internal/settings"
	"github.com/emilemassie/gemini-receipts/internal/shell"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()

	fs := ff.NewFlagSet("gemini-receipts")
	var (
		addr         = fs.StringLong("addr", "127.0.0.1:8765", "HTTP listen address")
		settingsPath = fs.StringLong("settings", "", "Settings file path (default: per-user config directory)")
		scannerType  = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiModel  = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		timeout      = fs.DurationLong("timeout", 2*time.Minute, "Timeout for each model request")
		csvBOM       = fs.BoolLong("csv-bom", "Start the CSV with a UTF-8 byte order mark")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_            = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GEMINI_RECEIPTS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	path := *settingsPath
	var fallbacks []string
	if path == "" {
		var err error
		path, err = settings.DefaultPath()
		if err != nil {
			slog.Error("Failed to locate settings file", "error", err)
			os.Exit(1)
		}
		if legacy, err := settings.LegacyPath(); err == nil {
			fallbacks = append(fallbacks, legacy)
		}
	}
	store := settings.New(path, fallbacks...)
	slog.Info("Using settings file", "path", path)

	// Seed the stored key from the environment on first use
	if _, ok := store.Load(); !ok {
		if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			if err := store.Save(key); err != nil {
				slog.Warn("Failed to save GEMINI_API_KEY to settings", "error", err)
			}
		}
	}

	var newScanner shell.ScannerFactory
	switch *scannerType {
	case "gemini":
		slog.Info("Using Gemini scanner", "model", *geminiModel)
		newScanner = func(key string) (scanning.Scanner, error) {
			g, err := scanning.NewGemini(key, *geminiModel, *timeout)
			if err != nil {
				return nil, err
			}
			return g, nil
		}
	case "ollama":
		slog.Info("Using Ollama scanner", "url", *ollamaURL, "model", *ollamaModel)
		newScanner = func(string) (scanning.Scanner, error) {
			o, err := scanning.NewOllama(*ollamaURL, *ollamaModel, *timeout)
			if err != nil {
				return nil, err
			}
			return o, nil
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}

	runner := batch.NewRunner(receipt.NewCSVWriter(*csvBOM))
	basicAuth := shell.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := shell.NewServer(runner, store, newScanner, basicAuth)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Open the interface", "url", "http://"+*addr)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, *addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
