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

package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

const (
	reconnectInitialDelay = time.Second
	clientWriteTimeout    = 10 * time.Second
)

// RelayClient maintains exactly one WebSocket connection to the relay at
// a time. On disconnect it retries with capped exponential backoff,
// indefinitely, and replays its identity plus the current device list on
// every successful (re)connection so the relay registry self-heals after
// an agent restart or network blip.
type RelayClient struct {
	cfg    *Config
	logger logger.Logger

	// deviceList snapshots the currently tracked devices for the
	// identify message sent on every (re)connect.
	deviceList func() []models.AgentDevice

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []*models.AgentEventPayload
	dropped int
}

// NewRelayClient creates a client. deviceList is consulted whenever the
// identify message has to be resent.
func NewRelayClient(cfg *Config, deviceList func() []models.AgentDevice, log logger.Logger) *RelayClient {
	return &RelayClient{
		cfg:        cfg,
		logger:     log,
		deviceList: deviceList,
	}
}

// Run connects and reconnects until the context is cancelled.
func (c *RelayClient) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}

		c.logger.Info().Str("server_url", c.cfg.ServerURL).Msg("Connected to relay")

		c.mu.Lock()
		c.conn = conn
		identifyErr := c.writeLocked(models.AgentMessage{
			Type:      models.MessageTypeIdentify,
			AgentID:   c.cfg.AgentID,
			AgentName: c.cfg.AgentName,
			Devices:   c.deviceList(),
		})

		if identifyErr == nil {
			c.flushPendingLocked()
		}
		c.mu.Unlock()

		if identifyErr != nil {
			c.disconnect(conn)
			continue
		}

		c.readLoop(ctx, conn)
		c.disconnect(conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn().Msg("Relay connection lost, reconnecting")
	}
}

// QueueEvent sends one event immediately when connected, otherwise
// queues it in memory for in-order delivery after reconnect. The queue
// is bounded; the oldest events are discarded once the limit is hit.
func (c *RelayClient) QueueEvent(event *models.AgentEventPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.writeEventsLocked([]*models.AgentEventPayload{event}); err == nil {
			return
		}
	}

	c.pending = append(c.pending, event)

	if over := len(c.pending) - c.cfg.QueueLimit; over > 0 {
		c.pending = append(c.pending[:0], c.pending[over:]...)
		c.dropped += over
	}
}

// SendDevices pushes a full device-list replacement. Device updates are
// not queued while disconnected: the identify message sent on reconnect
// carries the then-current list.
func (c *RelayClient) SendDevices(devices []models.AgentDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	_ = c.writeLocked(models.AgentMessage{
		Type:    models.MessageTypeDevices,
		Devices: devices,
	})
}

func (c *RelayClient) dial(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialDelay
	bo.MaxInterval = c.cfg.ReconnectMaxDelay

	operation := func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
		defer cancel()

		conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.ServerURL, nil)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}

			c.logger.Warn().
				Err(err).
				Int("status", status).
				Str("server_url", c.cfg.ServerURL).
				Msg("Relay dial failed, backing off")

			return nil, err
		}

		return conn, nil
	}

	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo))
}

// readLoop consumes server frames until the connection breaks. The agent
// only reacts to the identify ack and relay errors; everything else is
// watcher traffic it does not subscribe to.
func (c *RelayClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg models.ServerMessage

		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Relay read error")
			}

			return
		}

		switch msg.Type {
		case models.MessageTypeIdentifyAck:
			c.logger.Info().
				Str("agent_id", msg.AgentID).
				Str("agent_name", msg.AgentName).
				Msg("Relay acknowledged agent")
		case models.MessageTypeRelayError:
			c.logger.Warn().Str("message", msg.Message).Msg("Relay reported error")
		}
	}
}

func (c *RelayClient) disconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	_ = conn.Close()
}

// flushPendingLocked replays queued events in arrival order.
func (c *RelayClient) flushPendingLocked() {
	if len(c.pending) == 0 {
		return
	}

	count := len(c.pending)

	if err := c.writeEventsLocked(c.pending); err != nil {
		return
	}

	if c.dropped > 0 {
		c.logger.Warn().
			Int("dropped", c.dropped).
			Msg("Events were dropped from the offline queue")

		c.dropped = 0
	}

	c.pending = c.pending[:0]

	c.logger.Info().Int("count", count).Msg("Flushed pending events")
}

func (c *RelayClient) writeEventsLocked(events []*models.AgentEventPayload) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}

	return c.writeLocked(models.AgentMessage{
		Type:   models.MessageTypeLogEvent,
		Events: json.RawMessage(raw),
	})
}

func (c *RelayClient) writeLocked(msg models.AgentMessage) error {
	if c.conn == nil {
		return websocket.ErrCloseSent
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))

	if err := c.conn.WriteJSON(msg); err != nil {
		c.conn = nil
		return err
	}

	return nil
}

// PendingCount reports the number of queued events, used by tests and
// shutdown logging.
func (c *RelayClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}
