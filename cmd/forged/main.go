// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// forged is the combination service daemon. Configuration comes from
// the environment (FORGE_PORT, FORGE_DATA_DIR, FORGE_GENERATOR_BACKEND,
// FORGE_LOG_LEVEL, FORGE_LOG_DIR, OTEL_EXPORTER_OTLP_ENDPOINT).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AlchemyLocal/services/forge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := forge.New(ctx, forge.ConfigFromEnv())
	if err != nil {
		log.Fatalf("failed to assemble the forge service: %v", err)
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("forge service exited: %v", err)
	}
}
