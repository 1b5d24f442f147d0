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

// Package api provides the HTTP and WebSocket surface of the dev-tools
// logcat relay.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tqdaoinfo108/dev-tools/pkg/adb"
	srhttp "github.com/tqdaoinfo108/dev-tools/pkg/http"
	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
	"github.com/tqdaoinfo108/dev-tools/pkg/relay"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// APIServer serves the relay WebSocket endpoint, the device query
// endpoint and the direct-adb polling endpoints.
type APIServer struct {
	router     *mux.Router
	relay      *relay.Relay
	adb        *adb.Client
	corsConfig models.CORSConfig
	logger     logger.Logger
	httpServer *http.Server
}

// NewAPIServer wires the routes. The adb client is optional; when nil
// the direct-adb endpoints report their unavailability instead of
// shelling out.
func NewAPIServer(rel *relay.Relay, adbClient *adb.Client, cors models.CORSConfig, log logger.Logger) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		relay:      rel,
		adb:        adbClient,
		corsConfig: cors,
		logger:     log,
	}

	s.setupRoutes()

	return s
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srhttp.CommonMiddleware(s.logger, next)
	})

	s.router.HandleFunc("/api/android-logcat/ws", s.handleRelayWS)
	s.router.HandleFunc("/api/android-logcat/devices", s.getRelayDevices).Methods("GET")
	s.router.HandleFunc("/api/adb/devices", s.getADBDevices).Methods("GET")
	s.router.HandleFunc("/api/adb/logcat", s.getADBLogcat).Methods("GET")
}

// Router exposes the handler for tests and embedding.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Start starts the API server on the specified address and blocks until
// the context is cancelled or the listener fails.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info().Str("addr", addr).Msg("API server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
