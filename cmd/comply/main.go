// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command comply runs the compliance question-answering service, either as
// the HTTP server (serve) or as a one-shot question from the terminal (ask).
//
// # Environment Variables
//
//   - COMPLY_PORT: HTTP server port (default: 12310)
//   - COMPLY_PROFILE: tenant profile YAML path (default: ./profiles/default.yaml)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianComply/pkg/logging"
	"github.com/AleutianAI/AleutianComply/services/compliance"
	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/engine"
)

var (
	profilePath  string
	watchProfile bool
	tenantID     string
	collectionID string

	rootCmd = &cobra.Command{
		Use:   "comply",
		Short: "A compliance question-answering service over standards evidence",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the compliance HTTP server",
		RunE:  runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one compliance question and print the structured result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "comply",
		JSON:    true,
		LogDir:  os.Getenv("COMPLY_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile",
		getEnvString("COMPLY_PROFILE", "./profiles/default.yaml"),
		"path to the tenant profile YAML")
	serveCmd.Flags().BoolVar(&watchProfile, "watch", false,
		"hot-reload the profile file on change")
	askCmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant id")
	askCmd.Flags().StringVar(&collectionID, "collection", "", "collection id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := compliance.New(serviceConfig())
	if err != nil {
		return fmt.Errorf("failed to create compliance service: %w", err)
	}
	return svc.Run()
}

func runAsk(cmd *cobra.Command, args []string) error {
	svc, err := compliance.New(serviceConfig())
	if err != nil {
		return fmt.Errorf("failed to create compliance service: %w", err)
	}

	result := svc.Engine().Handle(context.Background(), engine.Command{
		Query: datatypes.Query{
			Text:         strings.Join(args, " "),
			TenantID:     tenantID,
			CollectionID: collectionID,
		},
		RequestID: uuid.NewString(),
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func serviceConfig() compliance.Config {
	return compliance.Config{
		Port:         getEnvInt("COMPLY_PORT", 12310),
		ProfilePath:  profilePath,
		WatchProfile: watchProfile,
		LLMBackend:   getEnvString("LLM_BACKEND_TYPE", "ollama"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("Invalid integer in environment variable, using default",
			"key", key, "default", defaultValue)
	}
	return defaultValue
}
