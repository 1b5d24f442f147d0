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

package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
	"github.com/tqdaoinfo108/dev-tools/pkg/registry"
)

func newTestRelay() *Relay {
	log := logger.NewTestLogger()
	return New(DefaultBufferSize, registry.NewDeviceRegistry(log), log)
}

// drain collects every message currently queued for a client. The relay
// processes messages synchronously, so after HandleMessage returns all
// fan-out for that frame has been enqueued.
func drain(c *Client) []models.ServerMessage {
	var out []models.ServerMessage

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}

			out = append(out, msg)
		default:
			return out
		}
	}
}

func identify(r *Relay, c *Client, agentID string, devices ...models.AgentDevice) {
	r.HandleMessage(c, &models.AgentMessage{
		Type:    models.MessageTypeIdentify,
		AgentID: agentID,
		Devices: devices,
	})
}

func sendEvent(r *Relay, c *Client, payload map[string]interface{}) {
	raw, _ := json.Marshal(payload)

	r.HandleMessage(c, &models.AgentMessage{
		Type:   models.MessageTypeLogEvent,
		Events: raw,
	})
}

func TestWatcherReceivesSnapshotOnConnect(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)

	messages := drain(watcher)

	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageTypeSnapshot, messages[0].Type)
	assert.Empty(t, messages[0].Devices)
	assert.Empty(t, messages[0].Events)
}

func TestIdentifyPromotesAndAcks(t *testing.T) {
	rel := newTestRelay()

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)

	identify(rel, agent, "a1", models.AgentDevice{Serial: "X1", Name: "Pixel"})

	require.Equal(t, RoleAgent, agent.Role())
	assert.Equal(t, "a1", agent.AgentID())
	assert.Equal(t, 1, rel.AgentCount())

	messages := drain(agent)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageTypeIdentifyAck, messages[0].Type)
	assert.Equal(t, "a1", messages[0].AgentID)
	// agentName defaults to agentId when omitted.
	assert.Equal(t, "a1", messages[0].AgentName)
}

func TestIdentifyWithoutIDGeneratesOne(t *testing.T) {
	rel := newTestRelay()

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)

	identify(rel, agent, "")

	messages := drain(agent)
	require.Len(t, messages, 1)
	assert.NotEmpty(t, messages[0].AgentID)
	assert.Equal(t, messages[0].AgentID, messages[0].AgentName)
}

func TestWatcherMessagesAreIgnored(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)
	drain(watcher)

	rel.HandleMessage(watcher, &models.AgentMessage{
		Type:    models.MessageTypeDevices,
		Devices: []models.AgentDevice{{Serial: "X1"}},
	})
	sendEvent(rel, watcher, map[string]interface{}{"raw_log": "hello"})

	assert.Equal(t, RoleWatcher, watcher.Role())
	assert.Empty(t, rel.DeviceSnapshot())
	assert.Empty(t, drain(watcher))
}

func TestEventFanOutToWatchers(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)
	drain(watcher)

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1", models.AgentDevice{Serial: "X1", Name: "Pixel"})
	drain(agent)
	drain(watcher)

	sendEvent(rel, agent, map[string]interface{}{"device": "X1", "raw_log": "hello"})

	messages := drain(watcher)

	var newEvents []models.ServerMessage

	for _, msg := range messages {
		if msg.Type == models.MessageTypeNewEvent {
			newEvents = append(newEvents, msg)
		}
	}

	require.Len(t, newEvents, 1)
	require.NotNil(t, newEvents[0].Event)
	assert.Equal(t, "X1", newEvents[0].Event.Device)
	assert.Equal(t, "Pixel", newEvents[0].Event.DeviceName)
	assert.Equal(t, "hello", newEvents[0].Event.RawLog)
	assert.False(t, newEvents[0].Event.IsAd)
	assert.Equal(t, "a1", newEvents[0].Event.AgentID)
}

func TestBatchedEventsAreAccepted(t *testing.T) {
	rel := newTestRelay()

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1")
	drain(agent)

	batch := []map[string]interface{}{
		{"device": "X1", "raw_log": "one"},
		{"device": "X1", "raw_log": "two"},
		{"device": "X1", "raw_log": "three"},
	}
	raw, err := json.Marshal(batch)
	require.NoError(t, err)

	rel.HandleMessage(agent, &models.AgentMessage{
		Type:   models.MessageTypeLogEvent,
		Events: raw,
	})

	events := rel.buffer.Recent()

	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].RawLog)
	assert.Equal(t, "two", events[1].RawLog)
	assert.Equal(t, "three", events[2].RawLog)
}

func TestMalformedEventIsDroppedNotFatal(t *testing.T) {
	rel := newTestRelay()

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1")
	drain(agent)

	// No raw log text: dropped silently, connection stays usable.
	sendEvent(rel, agent, map[string]interface{}{"device": "X1"})
	assert.Zero(t, rel.buffer.Len())

	sendEvent(rel, agent, map[string]interface{}{"device": "X1", "raw_log": "ok"})
	assert.Equal(t, 1, rel.buffer.Len())
}

func TestUndecodableEventFrameReportsRelayError(t *testing.T) {
	rel := newTestRelay()

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1")
	drain(agent)

	rel.HandleMessage(agent, &models.AgentMessage{
		Type:   models.MessageTypeLogEvent,
		Events: json.RawMessage(`"not an event"`),
	})

	messages := drain(agent)

	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageTypeRelayError, messages[0].Type)
	assert.NotEmpty(t, messages[0].Message)
}

func TestAgentDisconnectPurgesDevicesWithSingleBroadcast(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)
	drain(watcher)

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1",
		models.AgentDevice{Serial: "X1"},
		models.AgentDevice{Serial: "X2"},
		models.AgentDevice{Serial: "X3"},
	)
	drain(agent)
	drain(watcher)

	rel.Unregister(agent)

	snapshot := rel.DeviceSnapshot()
	assert.Empty(t, snapshot)
	assert.Zero(t, rel.AgentCount())

	messages := drain(watcher)

	var deviceBroadcasts int

	for _, msg := range messages {
		if msg.Type == models.MessageTypeDeviceList {
			deviceBroadcasts++
			assert.Empty(t, msg.Devices)
		}
	}

	// One broadcast for the disconnect, not one per device.
	assert.Equal(t, 1, deviceBroadcasts)
}

func TestNewWatcherSnapshotIsComplete(t *testing.T) {
	rel := newTestRelay()

	early := NewClient(0)
	rel.Register(early)
	drain(early)

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1",
		models.AgentDevice{Serial: "X1", Name: "Pixel"},
		models.AgentDevice{Serial: "X2", Name: "Galaxy"},
	)
	drain(agent)

	for i := 0; i < 10; i++ {
		sendEvent(rel, agent, map[string]interface{}{
			"device":  "X1",
			"raw_log": fmt.Sprintf("line-%d", i),
		})
	}

	var earlyEvents []models.LogEvent

	for _, msg := range drain(early) {
		if msg.Type == models.MessageTypeNewEvent {
			earlyEvents = append(earlyEvents, *msg.Event)
		}
	}

	late := NewClient(0)
	rel.Register(late)

	messages := drain(late)
	require.Len(t, messages, 1)
	require.Equal(t, models.MessageTypeSnapshot, messages[0].Type)

	// The late watcher misses nothing relative to one connected from the
	// start, and events arrive oldest first.
	require.Len(t, messages[0].Events, len(earlyEvents))

	for i, event := range messages[0].Events {
		assert.Equal(t, earlyEvents[i].ID, event.ID)
		assert.Equal(t, fmt.Sprintf("line-%d", i), event.RawLog)
	}

	require.Len(t, messages[0].Devices, 2)
	assert.Equal(t, "X1", messages[0].Devices[0].Serial)
	assert.Equal(t, "X2", messages[0].Devices[1].Serial)
}

func TestDeviceListReplaceBroadcasts(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)
	drain(watcher)

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1", models.AgentDevice{Serial: "X1"}, models.AgentDevice{Serial: "X2"})
	drain(agent)
	drain(watcher)

	rel.HandleMessage(agent, &models.AgentMessage{
		Type:    models.MessageTypeDevices,
		Devices: []models.AgentDevice{{Serial: "X2"}},
	})

	messages := drain(watcher)

	require.Len(t, messages, 1)
	require.Equal(t, models.MessageTypeDeviceList, messages[0].Type)
	require.Len(t, messages[0].Devices, 1)
	assert.Equal(t, "X2", messages[0].Devices[0].Serial)
}

// TestEndToEndScenario walks the full protocol exchange: identify, ack,
// event fan-out, then a fresh watcher catching up from the snapshot.
func TestEndToEndScenario(t *testing.T) {
	rel := newTestRelay()

	watcher := NewClient(0)
	rel.Register(watcher)
	drain(watcher)

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)

	identify(rel, agent, "a1", models.AgentDevice{Serial: "X1", Name: "Pixel"})

	acks := drain(agent)
	require.Len(t, acks, 1)
	assert.Equal(t, models.MessageTypeIdentifyAck, acks[0].Type)
	assert.Equal(t, "a1", acks[0].AgentID)
	assert.Equal(t, "a1", acks[0].AgentName)

	drain(watcher)

	sendEvent(rel, agent, map[string]interface{}{"device": "X1", "raw_log": "hello"})

	var newEvent *models.LogEvent

	for _, msg := range drain(watcher) {
		if msg.Type == models.MessageTypeNewEvent {
			newEvent = msg.Event
		}
	}

	require.NotNil(t, newEvent)
	assert.Equal(t, "X1", newEvent.Device)
	assert.Equal(t, "hello", newEvent.RawLog)
	assert.False(t, newEvent.IsAd)

	fresh := NewClient(0)
	rel.Register(fresh)

	messages := drain(fresh)
	require.Len(t, messages, 1)
	require.Equal(t, models.MessageTypeSnapshot, messages[0].Type)

	require.Len(t, messages[0].Devices, 1)
	assert.Equal(t, "X1", messages[0].Devices[0].Serial)
	assert.Equal(t, "a1", messages[0].Devices[0].AgentID)

	require.Len(t, messages[0].Events, 1)
	assert.Equal(t, "hello", messages[0].Events[0].RawLog)
}

func TestSlowWatcherIsDroppedNotBlocking(t *testing.T) {
	rel := newTestRelay()

	slow := NewClient(1)
	rel.Register(slow) // snapshot fills the queue

	agent := NewClient(0)
	rel.Register(agent)
	drain(agent)
	identify(rel, agent, "a1", models.AgentDevice{Serial: "X1"})

	// The device broadcast cannot be queued; the slow watcher must have
	// been dropped instead of stalling the relay.
	_, open := <-slow.send
	for open {
		_, open = <-slow.send
	}

	healthy := NewClient(0)
	rel.Register(healthy)
	messages := drain(healthy)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageTypeSnapshot, messages[0].Type)
}
