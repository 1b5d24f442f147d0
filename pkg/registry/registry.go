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

// Package registry tracks which Android devices are currently reachable
// and through which agent.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

// DeviceRegistry is the single source of truth for reachable devices.
// Devices are keyed by (agentID, serial): two agents reporting the same
// serial are distinct entries. All operations are idempotent upserts or
// removals over an in-memory map.
type DeviceRegistry struct {
	mu      sync.Mutex
	agents  map[string]map[string]*models.DeviceSummary // agentID -> serial -> summary
	logger  logger.Logger
	nowFunc func() time.Time
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry(log logger.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		agents:  make(map[string]map[string]*models.DeviceSummary),
		logger:  log,
		nowFunc: time.Now,
	}
}

// UpsertDevices replaces the full device set for an agent. Any serial the
// agent previously reported that is missing from devices is removed,
// which models device unplug and agent resync.
func (r *DeviceRegistry) UpsertDevices(agentID, agentName string, devices []models.AgentDevice) []models.DeviceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	owned := r.agents[agentID]

	if owned == nil {
		owned = make(map[string]*models.DeviceSummary)
		r.agents[agentID] = owned
	}

	incoming := make(map[string]struct{}, len(devices))

	for _, device := range devices {
		if device.Serial == "" {
			continue
		}

		incoming[device.Serial] = struct{}{}
		owned[device.Serial] = newSummary(agentID, agentName, device.Serial, device.Name, now)
	}

	for serial := range owned {
		if _, ok := incoming[serial]; !ok {
			delete(owned, serial)
		}
	}

	if len(owned) == 0 {
		delete(r.agents, agentID)
	}

	r.logger.Debug().
		Str("agent_id", agentID).
		Int("device_count", len(owned)).
		Msg("Replaced agent device set")

	return r.snapshotLocked()
}

// Touch upserts a single device, keeping lastSeen and registry membership
// current on every event arrival even between device-list refreshes.
func (r *DeviceRegistry) Touch(agentID, agentName, serial, name string) []models.DeviceSummary {
	if serial == "" {
		return r.Snapshot()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.agents[agentID]
	if owned == nil {
		owned = make(map[string]*models.DeviceSummary)
		r.agents[agentID] = owned
	}

	owned[serial] = newSummary(agentID, agentName, serial, name, r.nowFunc())

	return r.snapshotLocked()
}

// RemoveAgent purges all devices owned by an agent in one atomic step.
func (r *DeviceRegistry) RemoveAgent(agentID string) []models.DeviceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := len(r.agents[agentID])
	delete(r.agents, agentID)

	r.logger.Debug().
		Str("agent_id", agentID).
		Int("device_count", removed).
		Msg("Removed agent devices")

	return r.snapshotLocked()
}

// DeviceName returns the known human-readable name for a device, or the
// empty string when the device is unknown.
func (r *DeviceRegistry) DeviceName(agentID, serial string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if summary, ok := r.agents[agentID][serial]; ok {
		return summary.Name
	}

	return ""
}

// Snapshot returns all devices sorted by (agentName, serial) ascending.
// The ordering is deterministic for UI diffing and testability.
func (r *DeviceRegistry) Snapshot() []models.DeviceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *DeviceRegistry) snapshotLocked() []models.DeviceSummary {
	summaries := make([]models.DeviceSummary, 0, len(r.agents))

	for _, owned := range r.agents {
		for _, summary := range owned {
			summaries = append(summaries, *summary)
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].AgentName != summaries[j].AgentName {
			return summaries[i].AgentName < summaries[j].AgentName
		}

		return summaries[i].Serial < summaries[j].Serial
	})

	return summaries
}

func newSummary(agentID, agentName, serial, name string, now time.Time) *models.DeviceSummary {
	if name == "" {
		name = serial
	}

	return &models.DeviceSummary{
		Serial:    serial,
		Name:      name,
		AgentID:   agentID,
		AgentName: agentName,
		LastSeen:  now,
	}
}
