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

// The logcat agent runs on the machine with physical USB access to
// Android devices and forwards their logcat streams to the relay.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tqdaoinfo108/dev-tools/pkg/agent"
	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	envFile := flag.String("env-file", "", "Optional .env file with LOGCAT_* settings")
	serverURL := flag.String("server-url", "", "Relay WebSocket URL (overrides LOGCAT_SERVER_URL)")
	agentID := flag.String("agent-id", "", "Agent identity (overrides LOGCAT_AGENT_ID)")
	agentName := flag.String("agent-name", "", "Agent display name (overrides LOGCAT_AGENT_NAME)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return err
		}
	} else {
		// Best effort: a .env next to the binary is common on developer
		// workstations.
		_ = godotenv.Load()
	}

	cfg := agent.DefaultConfig()

	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	if *agentID != "" {
		cfg.AgentID = *agentID
		if *agentName == "" {
			cfg.AgentName = *agentID
		}
	}

	if *agentName != "" {
		cfg.AgentName = *agentName
	}

	logConfig := logger.DefaultConfig()
	logConfig.Debug = logConfig.Debug || *debug

	agentLogger, err := logger.NewComponent("logcat-agent", logConfig)
	if err != nil {
		return err
	}

	a, err := agent.New(cfg, agentLogger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentLogger.Info().
		Str("server_url", cfg.ServerURL).
		Str("agent_id", cfg.AgentID).
		Msg("Starting logcat agent")

	return a.Run(ctx)
}
