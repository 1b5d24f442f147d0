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

// Package relay implements the logcat relay core: the bounded event
// buffer, the event normalizer and the connection router that fans agent
// traffic out to watcher connections.
package relay

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
	"github.com/tqdaoinfo108/dev-tools/pkg/registry"
)

// Role is the classification of a relay connection. Connections start as
// watchers and may transition to the agent role exactly once, via an
// identify message. There is no transition back.
type Role string

const (
	RoleWatcher Role = "watcher"
	RoleAgent   Role = "agent"
)

// defaultSendQueueSize bounds the per-connection outbound queue. A
// watcher that cannot drain its queue is disconnected rather than being
// allowed to stall fan-out to other watchers.
const defaultSendQueueSize = 256

// Client is the transport-agnostic handle for one duplex connection. The
// transport layer feeds inbound frames to Relay.HandleMessage and drains
// the Send channel; the channel is closed by the relay when the
// connection's state has been cleaned up.
type Client struct {
	send      chan models.ServerMessage
	role      Role
	agentID   string
	agentName string
	closed    bool
}

// NewClient creates an unclassified connection handle. queueSize <= 0
// uses the default outbound queue bound.
func NewClient(queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}

	return &Client{
		send: make(chan models.ServerMessage, queueSize),
		role: RoleWatcher,
	}
}

// Send returns the channel the transport drains for outbound messages.
func (c *Client) Send() <-chan models.ServerMessage {
	return c.send
}

// Role reports the connection's current classification.
func (c *Client) Role() Role {
	return c.role
}

// AgentID returns the resolved agent identity, set once the connection
// has identified as an agent.
func (c *Client) AgentID() string {
	return c.agentID
}

// Relay is the connection router. It owns the device registry and the
// event buffer; every mutation happens while holding mu, which preserves
// the single-writer invariant the original event-loop design relied on.
type Relay struct {
	mu         sync.Mutex
	logger     logger.Logger
	registry   *registry.DeviceRegistry
	buffer     *EventBuffer
	normalizer *Normalizer
	watchers   map[*Client]struct{}
	agents     map[*Client]struct{}
	nowFunc    func() time.Time
}

// New creates a Relay with the given replay buffer capacity.
func New(bufferSize int, reg *registry.DeviceRegistry, log logger.Logger) *Relay {
	return &Relay{
		logger:     log,
		registry:   reg,
		buffer:     NewEventBuffer(bufferSize),
		normalizer: NewNormalizer(),
		watchers:   make(map[*Client]struct{}),
		agents:     make(map[*Client]struct{}),
		nowFunc:    time.Now,
	}
}

// Register adds a new connection as a watcher and immediately queues the
// snapshot message so a freshly opened dashboard can render full current
// state without waiting for new events.
func (r *Relay) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.watchers[c] = struct{}{}

	r.enqueueLocked(c, models.ServerMessage{
		Type:    models.MessageTypeSnapshot,
		Devices: r.registry.Snapshot(),
		Events:  r.buffer.Recent(),
	})
}

// Unregister cleans up all state contributed by a connection. For agents
// this purges every owned device in one step and broadcasts a single
// fresh device snapshot; this is how watchers learn a device went
// offline.
func (r *Relay) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked(c)
}

// HandleMessage routes one inbound frame from a connection. Per-message
// errors are contained here and never propagate to other connections.
func (r *Relay) HandleMessage(c *Client, msg *models.AgentMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return
	}

	switch msg.Type {
	case models.MessageTypeIdentify:
		r.identifyLocked(c, msg)
	case models.MessageTypeDevices:
		if c.role != RoleAgent {
			return
		}

		r.updateDevicesLocked(c, msg.Devices)
	case models.MessageTypeLogEvent:
		if c.role != RoleAgent {
			return
		}

		r.handleEventsLocked(c, msg.Events)
	default:
		r.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown message type")
	}
}

// DeviceSnapshot returns the registry view exposed to polling HTTP
// clients.
func (r *Relay) DeviceSnapshot() []models.DeviceSummary {
	return r.registry.Snapshot()
}

// AgentCount reports the number of currently connected agent
// connections. Zero is a normal, expected condition when no local agent
// process is running, not an error.
func (r *Relay) AgentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.agents)
}

func (r *Relay) identifyLocked(c *Client, msg *models.AgentMessage) {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	agentName := msg.AgentName
	if agentName == "" {
		agentName = agentID
	}

	c.role = RoleAgent
	c.agentID = agentID
	c.agentName = agentName

	delete(r.watchers, c)
	r.agents[c] = struct{}{}

	r.logger.Info().
		Str("agent_id", agentID).
		Str("agent_name", agentName).
		Int("device_count", len(msg.Devices)).
		Msg("Agent identified")

	snapshot := r.registry.UpsertDevices(agentID, agentName, msg.Devices)

	// The resolved identity is echoed back so an agent that generated its
	// own ID can persist it for reconnection consistency.
	r.enqueueLocked(c, models.ServerMessage{
		Type:      models.MessageTypeIdentifyAck,
		AgentID:   agentID,
		AgentName: agentName,
	})

	r.broadcastLocked(models.ServerMessage{
		Type:    models.MessageTypeDeviceList,
		Devices: snapshot,
	})
}

func (r *Relay) updateDevicesLocked(c *Client, devices []models.AgentDevice) {
	snapshot := r.registry.UpsertDevices(c.agentID, c.agentName, devices)

	r.broadcastLocked(models.ServerMessage{
		Type:    models.MessageTypeDeviceList,
		Devices: snapshot,
	})
}

func (r *Relay) handleEventsLocked(c *Client, raw json.RawMessage) {
	payloads, err := decodeEventPayloads(raw)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("agent_id", c.agentID).
			Msg("Undecodable log-event payload")

		r.enqueueLocked(c, models.ServerMessage{
			Type:    models.MessageTypeRelayError,
			Message: "undecodable log-event payload",
		})

		return
	}

	for _, payload := range payloads {
		event := r.normalizer.Normalize(c.agentID, c.agentName, func(serial string) string {
			return r.registry.DeviceName(c.agentID, serial)
		}, payload, r.nowFunc())

		if event == nil {
			// Missing raw log text. Garbled lines are expected noise from
			// live log streams, dropped per-event and never
			// connection-fatal.
			continue
		}

		r.buffer.Append(*event)

		snapshot := r.registry.Touch(c.agentID, c.agentName, event.Device, event.DeviceName)

		r.broadcastLocked(models.ServerMessage{
			Type:    models.MessageTypeDeviceList,
			Devices: snapshot,
		})

		r.broadcastLocked(models.ServerMessage{
			Type:  models.MessageTypeNewEvent,
			Event: event,
		})
	}
}

// broadcastLocked fans one message out to every watcher. A watcher whose
// send queue is full is dropped so a single slow consumer cannot stall
// the rest.
func (r *Relay) broadcastLocked(msg models.ServerMessage) {
	for c := range r.watchers {
		if !r.enqueueLocked(c, msg) {
			r.logger.Warn().Msg("Watcher send queue full, dropping connection")
			r.dropLocked(c)
		}
	}
}

func (r *Relay) enqueueLocked(c *Client, msg models.ServerMessage) bool {
	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (r *Relay) dropLocked(c *Client) {
	if c.closed {
		return
	}

	c.closed = true
	close(c.send)

	delete(r.watchers, c)

	if _, isAgent := r.agents[c]; isAgent {
		delete(r.agents, c)

		r.logger.Info().
			Str("agent_id", c.agentID).
			Msg("Agent disconnected, purging devices")

		snapshot := r.registry.RemoveAgent(c.agentID)

		r.broadcastLocked(models.ServerMessage{
			Type:    models.MessageTypeDeviceList,
			Devices: snapshot,
		})
	}
}

// decodeEventPayloads accepts both shapes the protocol allows for
// log-event frames: a single event object or an array of them.
func decodeEventPayloads(raw json.RawMessage) ([]*models.AgentEventPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []*models.AgentEventPayload
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}

		return list, nil
	}

	var single models.AgentEventPayload
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}

	return []*models.AgentEventPayload{&single}, nil
}
