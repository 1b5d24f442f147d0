/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/tqdaoinfo108/dev-tools/pkg/adb"
	"github.com/tqdaoinfo108/dev-tools/pkg/api"
	"github.com/tqdaoinfo108/dev-tools/pkg/config"
	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
	"github.com/tqdaoinfo108/dev-tools/pkg/registry"
	"github.com/tqdaoinfo108/dev-tools/pkg/relay"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to relay config file")
	listenAddr := flag.String("listen", ":3000", "Listen address (used when no config file is given)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := models.RelayConfig{
		ListenAddr: *listenAddr,
		BufferSize: relay.DefaultBufferSize,
	}

	if *configPath != "" {
		loader := config.NewConfig(nil)
		if err := loader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	relayLogger, err := logger.NewComponent("relay", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	deviceRegistry := registry.NewDeviceRegistry(relayLogger)
	rel := relay.New(cfg.BufferSize, deviceRegistry, relayLogger)

	adbBinary := cfg.ADBPath
	if adbBinary == "" {
		adbBinary = "adb"
	}

	var adbClient *adb.Client
	if _, lookErr := exec.LookPath(adbBinary); lookErr == nil {
		adbClient = adb.NewClient(adbBinary, relayLogger)
	} else {
		relayLogger.Warn().Str("binary", adbBinary).Msg("adb not found, direct-adb endpoints disabled")
	}

	server := api.NewAPIServer(rel, adbClient, cfg.CORS, relayLogger)

	relayLogger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Int("buffer_size", cfg.BufferSize).
		Msg("Starting logcat relay")

	if err := server.Start(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
