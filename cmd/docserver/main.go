package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/docstore"
	"github.com/mark3labs/mcp-go/server"
)

// docserver serves the document store over MCP on stdio. Logs go to stderr;
// stdout carries the protocol.
func main() {
	_ = godotenv.Load()

	level := slog.LevelError
	if os.Getenv("DOCSERVER_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	store := docstore.NewStore(docstore.SeedDocuments())
	n, err := store.LoadFiles(cfg.Documents, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading documents: %+v\n", err)
		os.Exit(1)
	}
	logger.Debug("document store ready", "loaded", n, "total", len(store.IDs()))

	s := docstore.NewServer(store, logger)
	if err := server.ServeStdio(s, server.WithErrorLogger(slog.NewLogLogger(handler, slog.LevelError))); err != nil {
		fmt.Fprintf(os.Stderr, "docserver stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}
