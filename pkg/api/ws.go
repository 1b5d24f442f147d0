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

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tqdaoinfo108/dev-tools/pkg/models"
	"github.com/tqdaoinfo108/dev-tools/pkg/relay"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleRelayWS upgrades the connection and binds it to the relay. Every
// connection starts as a watcher; an identify frame promotes it to the
// agent role inside the relay.
func (s *APIServer) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkWebSocketOrigin(r)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Relay connection established")

	client := relay.NewClient(0)
	s.relay.Register(client)

	go s.writePump(conn, client)
	go s.readPump(conn, client, r.RemoteAddr)
}

// readPump feeds inbound frames to the relay until the transport signals
// disconnect, then triggers the relay's atomic cleanup for this
// connection.
func (s *APIServer) readPump(conn *websocket.Conn, client *relay.Client, remoteAddr string) {
	defer func() {
		s.relay.Unregister(client)

		_ = conn.Close()
	}()

	for {
		var msg models.AgentMessage

		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().
					Err(err).
					Str("remote_addr", remoteAddr).
					Str("role", string(client.Role())).
					Msg("Relay connection read error")
			} else {
				s.logger.Info().
					Str("remote_addr", remoteAddr).
					Str("role", string(client.Role())).
					Msg("Relay connection closed")
			}

			return
		}

		s.relay.HandleMessage(client, &msg)
	}
}

// writePump drains the client's send queue onto the socket. The queue
// channel is closed by the relay once the connection's state has been
// cleaned up.
func (s *APIServer) writePump(conn *websocket.Conn, client *relay.Client) {
	ticker := time.NewTicker(wsPingInterval)

	defer func() {
		ticker.Stop()

		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send():
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))

				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkWebSocketOrigin validates the Origin header against the CORS
// configuration. Requests without an Origin header (agents, CLI tools)
// are always allowed.
func (s *APIServer) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.corsConfig.AllowedOrigins) == 0 {
		return true
	}

	for _, allowed := range s.corsConfig.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	s.logger.Warn().
		Str("origin", origin).
		Msg("WebSocket origin not allowed")

	return false
}
