package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mrwolf/adventure-server/internal/app"
	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/tui"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to bubbletea, so logs go to a file
	logFile, err := os.OpenFile("adventure-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Printf("Error starting game: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := tui.Run(a.Sessions, cfg.Slot); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
