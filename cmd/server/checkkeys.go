package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"multimodal-backend/internal/config"
	"multimodal-backend/internal/services"
)

const checkKeysTimeout = 2 * time.Minute

func runCheckKeys(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkKeysTimeout)
	defer cancel()

	check := &services.KeyCheck{
		Out:            cmd.OutOrStdout(),
		GoogleAPIKey:   cfg.GoogleAPIKey,
		ReplicateToken: cfg.ReplicateAPIToken,
		Predictor:      services.NewReplicatePredictor(),
		ReplicateModel: cfg.ReplicateModel,
	}

	if cfg.GoogleAPIKey != "" {
		gemini, err := services.NewGeminiService(ctx, cfg.GoogleAPIKey, cfg.VisionModel, cfg.LanguageModel)
		if err != nil {
			return fmt.Errorf("gemini client initialization failed: %w", err)
		}
		defer gemini.Close()
		check.Gemini = gemini
	}

	if err := check.Run(ctx); err != nil {
		return fmt.Errorf("key check failed: %w", err)
	}
	return nil
}
