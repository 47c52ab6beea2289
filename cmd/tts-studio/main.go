// main package for tts-studio
package main

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/config"
	"github.com/book-expert/tts-studio/internal/settings"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "tts-studio.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to create working directories: %v", err)

		return err
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	exec, err := settings.LoadExec(cfg.Paths.ExecSettingsPath())
	if err != nil {
		finalLog.Error("Failed to load execution settings: %v", err)

		return err
	}

	last, err := settings.LoadLastGeneration(cfg.Paths.LastGenerationPath())
	if err != nil {
		finalLog.Error("Failed to load last generation settings: %v", err)

		return err
	}

	finalLog.System("tts-studio initialized. Voices: %s, results: %s", cfg.Paths.VoicesDir, cfg.Paths.ResultsDir)

	return newRootCmd(newApp(cfg, exec, last, finalLog)).Execute()
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tts-studio exited with error: %v\n", err)
		os.Exit(1)
	}
}
